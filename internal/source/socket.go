package source

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/unirec"
)

// SocketSource receives template-encoded flow records from the record
// channel. Not safe for concurrent Recv.
type SocketSource struct {
	conn     net.Conn
	required []string
	tmpl     *unirec.Template
	logger   *logger.Logger
}

// NewSocketSource connects to spec ("tcp:host:port" or "unix:path").
// required lists the field names the module cannot work without; a
// negotiated template missing any of them makes Recv fail with
// flow.ErrFormatMismatch.
func NewSocketSource(spec string, required []string, log *logger.Logger) (*SocketSource, error) {
	conn, err := dial(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to record source: %w", err)
	}
	return &SocketSource{
		conn:     conn,
		required: required,
		logger:   log,
	}, nil
}

// HasBiflow reports whether the current template carries reverse-direction
// counters. Re-check after flow.ErrFormatChanged.
func (s *SocketSource) HasBiflow() bool {
	return s.tmpl != nil && s.tmpl.HasAll("BYTES_REV", "PACKETS_REV")
}

// Recv returns the next record, or nil with one of the flow sentinel
// errors. Decoding failures of a single record are returned as ordinary
// errors; the caller logs and skips.
func (s *SocketSource) Recv() (*flow.Record, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	frameType, payload, err := readFrame(s.conn)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, flow.ErrTimeout
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, flow.ErrTimeout
		}
		return nil, flow.ErrEndOfStream
	}

	switch frameType {
	case frameFormat:
		tmpl, err := unirec.ParseTemplate(string(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", flow.ErrFormatMismatch, err)
		}
		for _, name := range s.required {
			if !tmpl.Has(name) {
				return nil, fmt.Errorf("%w: template lacks required field %s", flow.ErrFormatMismatch, name)
			}
		}
		s.tmpl = tmpl
		s.logger.Debug("Record format negotiated", "template", tmpl.Spec())
		return nil, flow.ErrFormatChanged
	case frameData:
		// a record of at most 1 byte terminates the stream
		if len(payload) <= 1 {
			return nil, flow.ErrEndOfStream
		}
		if s.tmpl == nil {
			return nil, fmt.Errorf("%w: data before format negotiation", flow.ErrFormatMismatch)
		}
		return decodeRecord(s.tmpl, payload)
	default:
		return nil, fmt.Errorf("unknown frame type %#x", frameType)
	}
}

// Close closes the connection.
func (s *SocketSource) Close() error {
	return s.conn.Close()
}
