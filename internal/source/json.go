package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
)

// DatapointSource receives JSON-encoded data-point lists from the record
// channel (the input of the aggregator module).
type DatapointSource struct {
	conn   net.Conn
	logger *logger.Logger
}

// NewDatapointSource connects to spec ("tcp:host:port" or "unix:path").
func NewDatapointSource(spec string, log *logger.Logger) (*DatapointSource, error) {
	conn, err := dial(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to record source: %w", err)
	}
	return &DatapointSource{conn: conn, logger: log}, nil
}

// Recv returns the next list of data-points. Uses the same sentinel errors
// as flow sources; a malformed JSON payload is an ordinary error and the
// caller skips the message.
func (s *DatapointSource) Recv() ([]datapoint.DataPoint, error) {
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
		// JSON channels have no binary template, just note the change
		s.logger.Debug("Record format changed", "format", string(payload))
		return nil, flow.ErrFormatChanged
	case frameData:
		if len(payload) <= 1 {
			return nil, flow.ErrEndOfStream
		}
		var datapoints []datapoint.DataPoint
		if err := json.Unmarshal(payload, &datapoints); err != nil {
			return nil, fmt.Errorf("cannot decode received data: %w", err)
		}
		return datapoints, nil
	default:
		return nil, fmt.Errorf("unknown frame type %#x", frameType)
	}
}

// Close closes the connection.
func (s *DatapointSource) Close() error {
	return s.conn.Close()
}
