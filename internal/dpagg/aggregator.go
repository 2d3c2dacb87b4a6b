// Package dpagg aggregates already-formed data-points: structurally equal
// data-points are merged into one, widening the time range and uniting the
// source tags.
package dpagg

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/sink"
)

// DefaultSendInterval is the tick period when none is configured.
const DefaultSendInterval = 900 * time.Second

// key groups data-points that aggregate into one record. The value is part
// of the key as stable, key-sorted JSON.
type key struct {
	Type  string
	ID    string
	Attr  string
	Value string
}

type record struct {
	t1         time.Time
	t2         time.Time
	confidence float64
	src        map[string]struct{}
}

// Aggregator groups incoming data-points by (type, id, attr, canonical
// value) and emits one merged data-point per group on every tick.
type Aggregator struct {
	mu   sync.Mutex
	recs map[key]*record

	interval time.Duration
	sink     sink.Sink
	logger   *logger.Logger
}

// New creates an aggregator emitting into s every interval.
func New(interval time.Duration, s sink.Sink, log *logger.Logger) *Aggregator {
	return &Aggregator{
		recs:     make(map[key]*record),
		interval: interval,
		sink:     s,
		logger:   log,
	}
}

// Process merges a list of received data-points into the current window.
// Data-points whose value cannot be canonicalized are logged and skipped.
func (a *Aggregator) Process(datapoints []datapoint.DataPoint) {
	for i := range datapoints {
		dp := &datapoints[i]
		canonical, err := datapoint.CanonicalValue(dp.Value)
		if err != nil {
			a.logger.Error("Cannot canonicalize data-point value", "error", err)
			continue
		}
		k := key{dp.Type, dp.ID, dp.Attr, canonical}

		confidence := 1.0
		if dp.Confidence != nil {
			confidence = *dp.Confidence
		}

		t1 := dp.T1.Time().UTC()
		t2 := dp.T2.Time().UTC()

		a.mu.Lock()
		rec := a.recs[k]
		if rec == nil {
			rec = &record{
				t1:         t1,
				t2:         t2,
				confidence: confidence,
				src:        make(map[string]struct{}),
			}
			a.recs[k] = rec
		} else {
			if t1.Before(rec.t1) {
				rec.t1 = t1
			}
			if t2.After(rec.t2) {
				rec.t2 = t2
			}
			if confidence > rec.confidence {
				rec.confidence = confidence
			}
		}
		if dp.Src != "" {
			rec.src[dp.Src] = struct{}{}
		}
		a.mu.Unlock()
	}
}

// Run emits the aggregated window on every wall-clock-aligned tick until
// ctx is cancelled, then emits the remaining window.
func (a *Aggregator) Run(ctx context.Context) {
	sec := int64(a.interval / time.Second)
	if sec < 1 {
		sec = 1
	}
	for {
		next := time.Unix(time.Now().Unix()/sec*sec+sec, 0)
		select {
		case <-ctx.Done():
			a.Flush()
			return
		case <-time.After(time.Until(next)):
			a.Flush()
		}
	}
}

// Flush swaps the window out and emits one merged data-point per group.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	window := a.recs
	a.recs = make(map[key]*record)
	a.mu.Unlock()

	if len(window) == 0 {
		return
	}
	a.logger.Debug("Sending aggregated datapoints", "count", len(window))

	datapoints := make([]datapoint.DataPoint, 0, len(window))
	for k, rec := range window {
		confidence := rec.confidence
		datapoints = append(datapoints, datapoint.DataPoint{
			Type:       k.Type,
			ID:         k.ID,
			Attr:       k.Attr,
			Value:      rawValue(k.Value),
			T1:         datapoint.Timestamp(rec.t1),
			T2:         datapoint.Timestamp(rec.t2),
			Confidence: &confidence,
			Src:        joinSrc(rec.src),
		})
	}
	if err := a.sink.Send(datapoints); err != nil {
		a.logger.Error("Failed to send aggregated datapoints", "error", err)
	}
}

// Len returns the number of groups in the current window.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recs)
}

// rawValue re-emits the canonical JSON verbatim as the value field.
func rawValue(canonical string) any {
	return json.RawMessage(canonical)
}

func joinSrc(src map[string]struct{}) string {
	tags := make([]string, 0, len(src))
	for tag := range src {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return strings.Join(tags, ",")
}
