// Package activity counts flows, packets and bytes sent and received by
// each IP address per fixed wall-clock time slot. Flows spanning several
// slots are split proportionally so that a single long flow contributes to
// each slot without being double-counted across the timeline.
package activity

import (
	"net/netip"
	"sort"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/metrics"
	"github.com/CESNET/Pandda-ADiCT/internal/netfilter"
)

// CounterBundle holds the per-IP counters of one slot. Flow counts are
// fractional: a flow spanning k slots contributes its per-slot time fraction
// to each, in the directions that carried packets.
type CounterBundle struct {
	InBytes    float64
	InPackets  float64
	InFlows    float64
	OutBytes   float64
	OutPackets float64
	OutFlows   float64
}

// SlotPayload maps IP addresses to their counters within one slot.
type SlotPayload map[netip.Addr]*CounterBundle

// Slot is one retired slot handed to the sender.
type Slot struct {
	Start   int64 // Unix seconds of the slot beginning
	Payload SlotPayload
}

// queueCapacity bounds the hand-off to the sender; producers block when the
// sender falls behind, backpressuring the ingest loop.
const queueCapacity = 5

// Config parameterizes the aggregator.
type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
	Filter   *netfilter.Set
	Logger   *logger.Logger
}

// Aggregator owns the slot table. It is single-writer: only the ingest
// goroutine calls Observe/Advance/Flush; retired slots travel to the sender
// through the queue, after which the aggregator never touches them again.
type Aggregator struct {
	interval int64
	maxage   int64
	filter   *netfilter.Set
	logger   *logger.Logger

	slots       map[int64]SlotPayload
	newest      int64
	currentTime time.Time
	initialized bool

	queue chan Slot

	// lateWarned rate-limits the insufficient-maxage warning to once per
	// slot creation.
	lateWarned bool
}

// New creates an aggregator. The caller consumes Queue() from a dedicated
// sender goroutine.
func New(cfg Config) *Aggregator {
	return &Aggregator{
		interval: int64(cfg.Interval / time.Second),
		maxage:   int64(cfg.MaxAge / time.Second),
		filter:   cfg.Filter,
		logger:   cfg.Logger,
		slots:    make(map[int64]SlotPayload),
		queue:    make(chan Slot, queueCapacity),
	}
}

// Queue returns the channel of retired slots, closed by Flush.
func (a *Aggregator) Queue() <-chan Slot {
	return a.queue
}

func (a *Aggregator) floorTime(t time.Time) int64 {
	return t.Unix() / a.interval * a.interval
}

func unixF(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Advance moves the current time to tLast if it is newer, retires every
// slot older than maxage to the queue (in ascending order) and creates the
// missing slots up to the current one. Must be called before Observe for
// each record.
func (a *Aggregator) Advance(tLast time.Time) {
	if !a.initialized {
		a.currentTime = tLast
		a.initialized = true
		start := a.floorTime(tLast.Add(-time.Duration(a.maxage) * time.Second))
		a.slots[start] = make(SlotPayload)
		a.newest = start
		a.fillSlots()
		return
	}
	if !tLast.After(a.currentTime) {
		return
	}
	a.currentTime = tLast

	for _, start := range a.sortedStarts() {
		if a.currentTime.Unix()-start > a.maxage {
			payload := a.slots[start]
			delete(a.slots, start)
			a.queue <- Slot{Start: start, Payload: payload}
		}
	}
	a.fillSlots()
}

// fillSlots appends new slots until the slot of the current time exists,
// keeping the table a contiguous run. When a time jump retired everything,
// slots that would be retired again immediately are not created at all.
func (a *Aggregator) fillSlots() {
	next := a.newest + a.interval
	if len(a.slots) == 0 {
		if lo := a.floorTime(a.currentTime.Add(-time.Duration(a.maxage) * time.Second)); lo > next {
			next = lo
		}
	}
	for ; next <= a.floorTime(a.currentTime); next += a.interval {
		a.slots[next] = make(SlotPayload)
		a.newest = next
		a.lateWarned = false
		a.logger.Debug("Creating slot",
			"start", time.Unix(next, 0).UTC().Format(time.RFC3339))
	}
}

// Observe attributes one flow record to the slot table. Records where
// neither endpoint passes the filter are counted and skipped.
func (a *Aggregator) Observe(rec *flow.Record) {
	srcOK := a.filter.Contains(rec.SrcIP)
	dstOK := a.filter.Contains(rec.DstIP)
	if !srcOK && !dstOK {
		metrics.RecordsFiltered.Inc()
		a.logger.Debug("Record skipped, no endpoint in watched networks",
			"src_ip", rec.SrcIP.String(), "dst_ip", rec.DstIP.String())
		return
	}

	bytes := float64(rec.Bytes)
	packets := float64(rec.Packets)
	var bytesRev, packetsRev float64
	if rec.HasRev {
		bytesRev = float64(rec.BytesRev)
		packetsRev = float64(rec.PacketsRev)
	}

	slot := a.floorTime(rec.TimeFirst)
	endF := unixF(rec.TimeLast)

	if endF-float64(slot) <= float64(a.interval) {
		// whole flow fits one slot (duration == 0 lands here too)
		slot = a.residentSlot(slot)
		if srcOK {
			a.insert(slot, rec.SrcIP, bytesRev, packetsRev, 1, bytes, packets, 1)
		}
		if dstOK {
			a.insert(slot, rec.DstIP, bytes, packets, 1, bytesRev, packetsRev, 1)
		}
		return
	}

	// flow spans multiple slots, divide it proportionally
	startF := unixF(rec.TimeFirst)
	duration := endF - startF
	for float64(slot) < endF {
		slotEnd := float64(slot) + float64(a.interval)
		if slotEnd > endF {
			slotEnd = endF
		}
		overlap := slotEnd - max64(float64(slot), startF)
		frac := overlap / duration

		target := a.residentSlot(slot)
		if srcOK {
			a.insert(target, rec.SrcIP,
				frac*bytesRev, frac*packetsRev, frac,
				frac*bytes, frac*packets, frac)
		}
		if dstOK {
			a.insert(target, rec.DstIP,
				frac*bytes, frac*packets, frac,
				frac*bytesRev, frac*packetsRev, frac)
		}
		slot += a.interval
	}
}

// residentSlot returns start if the slot is still in the table, otherwise
// the oldest resident slot. Folding late data into the oldest slot distorts
// it but loses nothing; persistent warnings mean maxage is too low.
func (a *Aggregator) residentSlot(start int64) int64 {
	if _, ok := a.slots[start]; ok {
		return start
	}
	oldest := a.oldestStart()
	metrics.LateFlows.Inc()
	if !a.lateWarned {
		a.lateWarned = true
		a.logger.Warn("Flow belongs to an already retired slot, folding into the oldest one. "+
			"The maxage parameter needs to be increased!",
			"flow_slot", time.Unix(start, 0).UTC().Format(time.RFC3339),
			"oldest_slot", time.Unix(oldest, 0).UTC().Format(time.RFC3339),
			"current_time", a.currentTime.UTC().Format(time.RFC3339))
	}
	return oldest
}

// insert increments the counters of ip in the given slot. A direction with
// zero packets contributes nothing to its flow count.
func (a *Aggregator) insert(slot int64, ip netip.Addr,
	inBytes, inPackets, inFlowFrac, outBytes, outPackets, outFlowFrac float64) {

	inFlows := 0.0
	if inPackets > 0 {
		inFlows = inFlowFrac
	}
	outFlows := 0.0
	if outPackets > 0 {
		outFlows = outFlowFrac
	}

	payload := a.slots[slot]
	b := payload[ip]
	if b == nil {
		b = &CounterBundle{}
		payload[ip] = b
	}
	b.InBytes += inBytes
	b.InPackets += inPackets
	b.InFlows += inFlows
	b.OutBytes += outBytes
	b.OutPackets += outPackets
	b.OutFlows += outFlows
}

// Flush retires every remaining slot in ascending order and closes the
// queue, terminating the sender.
func (a *Aggregator) Flush() {
	for _, start := range a.sortedStarts() {
		payload := a.slots[start]
		delete(a.slots, start)
		a.queue <- Slot{Start: start, Payload: payload}
	}
	close(a.queue)
}

// SlotStarts returns the resident slot starts in ascending order.
func (a *Aggregator) SlotStarts() []int64 {
	return a.sortedStarts()
}

func (a *Aggregator) sortedStarts() []int64 {
	starts := make([]int64, 0, len(a.slots))
	for s := range a.slots {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}

func (a *Aggregator) oldestStart() int64 {
	starts := a.sortedStarts()
	if len(starts) == 0 {
		return 0
	}
	return starts[0]
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
