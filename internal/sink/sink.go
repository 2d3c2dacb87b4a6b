// Package sink delivers data-points to the downstream collector, either via
// the ADiCT HTTP API or a local JSON writer.
package sink

import "github.com/CESNET/Pandda-ADiCT/internal/datapoint"

// Sink accepts batches of data-points. Implementations log and drop on
// transient failure; the caller never retries.
type Sink interface {
	Send(datapoints []datapoint.DataPoint) error
	Close() error
}
