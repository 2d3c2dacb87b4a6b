package activity

import (
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/sink"
)

// Sender consumes retired slots from the aggregator queue and ships them as
// activity data-points. Slots arrive and are emitted in ascending order.
type Sender struct {
	interval time.Duration
	srcTag   string
	sink     sink.Sink
	logger   *logger.Logger
}

// NewSender creates a sender for the given sink.
func NewSender(interval time.Duration, srcTag string, s sink.Sink, log *logger.Logger) *Sender {
	return &Sender{
		interval: interval,
		srcTag:   srcTag,
		sink:     s,
		logger:   log,
	}
}

// Run consumes the queue until it is closed. Meant to be run as a dedicated
// goroutine; it exits once the aggregator flushed.
func (s *Sender) Run(queue <-chan Slot) {
	for slot := range queue {
		s.sendSlot(slot)
	}
	s.logger.Debug("Slot queue closed, sender finished")
}

func (s *Sender) sendSlot(slot Slot) {
	if len(slot.Payload) == 0 {
		return
	}
	start := time.Unix(slot.Start, 0).UTC()
	end := start.Add(s.interval)
	s.logger.Debug("Sending slot",
		"start", start.Format(time.RFC3339),
		"ips", len(slot.Payload))

	datapoints := make([]datapoint.DataPoint, 0, len(slot.Payload))
	for ip, b := range slot.Payload {
		datapoints = append(datapoints, datapoint.DataPoint{
			Type: datapoint.TypeIP,
			ID:   ip.String(),
			Attr: datapoint.AttrActivity,
			Value: datapoint.ActivityValue{
				InFlows:    []float64{datapoint.Round4(b.InFlows)},
				InPackets:  []float64{datapoint.Round4(b.InPackets)},
				InBytes:    []float64{datapoint.Round4(b.InBytes)},
				OutFlows:   []float64{datapoint.Round4(b.OutFlows)},
				OutPackets: []float64{datapoint.Round4(b.OutPackets)},
				OutBytes:   []float64{datapoint.Round4(b.OutBytes)},
			},
			T1:  datapoint.Timestamp(start),
			T2:  datapoint.Timestamp(end),
			Src: s.srcTag,
		})
	}
	if err := s.sink.Send(datapoints); err != nil {
		s.logger.Error("Failed to send slot", "start", start.Format(time.RFC3339), "error", err)
	}
}
