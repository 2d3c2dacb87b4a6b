package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/metrics"
)

// WriterSink writes data-point lists as JSON lines to a file or stdout. It
// serves both as the trap-style output of the flow modules and as the
// debugging path when no server URL is configured.
type WriterSink struct {
	out    io.Writer
	file   *os.File
	indent int

	// srcTag, when non-empty, overwrites the "src" field of every
	// data-point passing through.
	srcTag string
}

// NewWriterSink creates a writer sink. An empty path or "-" writes to
// stdout. indent > 0 pretty-prints with that many spaces.
func NewWriterSink(path string, indent int, srcTag string) (*WriterSink, error) {
	w := &WriterSink{out: os.Stdout, indent: indent, srcTag: srcTag}
	if path != "" && path != "-" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("failed to open output file: %w", err)
		}
		w.file = f
		w.out = f
	}
	return w, nil
}

// Send writes one JSON list per call.
func (w *WriterSink) Send(datapoints []datapoint.DataPoint) error {
	if len(datapoints) == 0 {
		return nil
	}
	if w.srcTag != "" {
		for i := range datapoints {
			datapoints[i].Src = w.srcTag
		}
	}

	var (
		data []byte
		err  error
	)
	if w.indent > 0 {
		data, err = json.MarshalIndent(datapoints, "", fmt.Sprintf("%*s", w.indent, ""))
	} else {
		data, err = json.Marshal(datapoints)
	}
	if err != nil {
		return fmt.Errorf("failed to encode datapoints: %w", err)
	}
	if _, err := fmt.Fprintf(w.out, "%s\n", data); err != nil {
		metrics.DatapointsFailed.Add(float64(len(datapoints)))
		return fmt.Errorf("failed to write datapoints: %w", err)
	}
	metrics.DatapointsSent.Add(float64(len(datapoints)))
	return nil
}

// Close closes the underlying file, if any.
func (w *WriterSink) Close() error {
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
