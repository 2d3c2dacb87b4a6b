package flow

import "errors"

// Sentinel errors returned by Source implementations. ErrTimeout and
// ErrFormatChanged are recoverable, the ingest loop continues; ErrEndOfStream
// ends the loop normally.
var (
	// ErrTimeout means no record arrived within the read deadline. The loop
	// should check its stop flag and try again.
	ErrTimeout = errors.New("source: receive timed out")

	// ErrEndOfStream means the peer sent a terminating record (one of at
	// most 1 byte) or closed the channel.
	ErrEndOfStream = errors.New("source: end of stream")

	// ErrFormatChanged means the record template was re-negotiated.
	// Callers must re-detect optional fields (biflow support) before the
	// next record.
	ErrFormatChanged = errors.New("source: record format changed")

	// ErrFormatMismatch means the negotiated template lacks fields the
	// module requires. Fatal for the ingest loop.
	ErrFormatMismatch = errors.New("source: record format mismatch")
)

// Source delivers flow records from an opaque transport. Recv blocks for at
// most the source's read deadline and returns one record, or a nil record
// with one of the sentinel errors above, or a decoding error (the record is
// skipped by the caller). Implementations are not safe for concurrent Recv.
type Source interface {
	Recv() (*Record, error)
	Close() error
}
