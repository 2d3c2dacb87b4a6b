package openports

import (
	"context"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/sink"
)

// Sender drains a registry on wall-clock-aligned ticks and ships the
// content to the sink.
type Sender struct {
	registry *Registry
	sink     sink.Sink
	attr     string
	srcTag   string
	interval time.Duration
	logger   *logger.Logger
}

// NewSender creates a periodic sender for one registry. attr names the
// data-point attribute (open_ports or open_ports_udp).
func NewSender(registry *Registry, s sink.Sink, attr, srcTag string, interval time.Duration, log *logger.Logger) *Sender {
	return &Sender{
		registry: registry,
		sink:     s,
		attr:     attr,
		srcTag:   srcTag,
		interval: interval,
		logger:   log,
	}
}

// Run drains the registry on every tick until ctx is cancelled, then
// performs a final drain so shutdown loses nothing. Ticks are aligned to
// wall-clock multiples of the interval.
func (s *Sender) Run(ctx context.Context) {
	// next = floor(now/interval)*interval + interval, on Unix seconds
	sec := int64(s.interval / time.Second)
	if sec < 1 {
		sec = 1
	}
	next := time.Unix(time.Now().Unix()/sec*sec+sec, 0)
	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-time.After(time.Until(next)):
		}

		start := time.Now()
		s.Flush()

		next = next.Add(s.interval)
		if !next.After(time.Now()) {
			s.logger.Warn("Sending took longer than the send interval",
				"attr", s.attr,
				"elapsed", time.Since(start).String())
			for !next.After(time.Now()) {
				next = next.Add(s.interval)
			}
		}
	}
}

// Flush drains the registry once and sends the content.
func (s *Sender) Flush() {
	snapshot := s.registry.Drain()
	if len(snapshot) == 0 {
		return
	}
	s.logger.Debug("Sending open ports", "attr", s.attr, "count", len(snapshot))

	datapoints := make([]datapoint.DataPoint, 0, len(snapshot))
	for key, rec := range snapshot {
		if rec.TimeLast.Before(rec.TimeFirst) {
			// shouldn't happen, unless a flow with wrong timestamps
			// was received
			s.logger.Warn("time_last < time_first, record dropped",
				"ip", key.IP.String(),
				"port", key.Port,
				"time_first", rec.TimeFirst.String(),
				"time_last", rec.TimeLast.String())
			continue
		}
		datapoints = append(datapoints, datapoint.DataPoint{
			Type:  datapoint.TypeIP,
			ID:    key.IP.String(),
			Attr:  s.attr,
			Value: key.Port,
			T1:    datapoint.Timestamp(rec.TimeFirst),
			T2:    datapoint.Timestamp(rec.TimeLast),
			Src:   s.srcTag,
		})
	}
	if err := s.sink.Send(datapoints); err != nil {
		s.logger.Error("Failed to send open ports", "attr", s.attr, "error", err)
	}
}
