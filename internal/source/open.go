package source

import (
	"strings"

	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
)

// FlowSource is a flow.Source that also knows whether the input carries
// reverse-direction counters.
type FlowSource interface {
	flow.Source
	HasBiflow() bool
}

// Open creates a flow source from a specification string:
//
//	tcp:host:port  - record channel over TCP
//	unix:path      - record channel over a UNIX socket
//	pcap:path      - capture file replay
func Open(spec string, required []string, log *logger.Logger) (FlowSource, error) {
	if path, ok := strings.CutPrefix(spec, "pcap:"); ok {
		return NewPcapSource(path, log)
	}
	return NewSocketSource(spec, required, log)
}
