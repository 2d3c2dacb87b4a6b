// Package biflow pairs the two unidirectional records of a TCP or UDP
// conversation into one biflow, using a rotating two-generation cache.
package biflow

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/metrics"
)

// Key identifies one flow direction.
type Key struct {
	SrcIP   netip.Addr
	SrcPort uint16
	DstIP   netip.Addr
	DstPort uint16
}

type entry struct {
	timeFirst time.Time
	timeLast  time.Time
	tcpFlags  uint8
}

// generations holds the current cache (reads and writes) and the previous
// one (reads only). Rotation publishes a fresh pair; the ingest goroutine
// observes either the pre- or post-rotation snapshot, which is safe because
// both generations are searched and reads pop.
type generations struct {
	current  map[Key]entry
	previous map[Key]entry
}

// Cache matches reverse-direction flows. Process must only be called from a
// single goroutine; rotation may run concurrently because it only swaps the
// generation pair, never touching map contents.
type Cache struct {
	gens atomic.Pointer[generations]

	// udp selects the UDP orientation rule (lower port is the server) and
	// ignores TCP flags.
	udp bool
}

// NewCache creates a pairing cache for TCP flows.
func NewCache() *Cache {
	c := &Cache{}
	c.gens.Store(&generations{
		current:  make(map[Key]entry),
		previous: make(map[Key]entry),
	})
	return c
}

// NewUDPCache creates a pairing cache for UDP flows.
func NewUDPCache() *Cache {
	c := NewCache()
	c.udp = true
	return c
}

// Rotate retires the previous generation: entries still unpaired there are
// dropped, the current generation becomes the previous one, and a fresh
// current map is published.
func (c *Cache) Rotate() {
	old := c.gens.Load()
	c.gens.Store(&generations{
		current:  make(map[Key]entry),
		previous: old.current,
	})
}

// StartRotation rotates the cache every interval until ctx is cancelled.
func (c *Cache) StartRotation(ctx context.Context, interval time.Duration) {
	go func() {
		next := time.Now().Add(interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(next)):
				c.Rotate()
				next = next.Add(interval)
			}
		}
	}()
}

// Process tries to pair rec with a cached record of the opposite direction.
// On a match the consumed entry is removed and the canonical biflow is
// returned; otherwise rec is cached (overwriting any stale entry for the
// same direction) and nil is returned.
func (c *Cache) Process(rec *flow.Record) *flow.Biflow {
	gens := c.gens.Load()

	revKey := Key{rec.DstIP, rec.DstPort, rec.SrcIP, rec.SrcPort}
	cached, ok := gens.current[revKey]
	if ok {
		delete(gens.current, revKey)
	} else {
		cached, ok = gens.previous[revKey]
		if ok {
			delete(gens.previous, revKey)
		}
	}

	if !ok {
		fwdKey := Key{rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DstPort}
		gens.current[fwdKey] = entry{
			timeFirst: rec.TimeFirst,
			timeLast:  rec.TimeLast,
			tcpFlags:  rec.TCPFlags,
		}
		return nil
	}

	metrics.FlowsPaired.Inc()

	bf := &flow.Biflow{
		TimeFirst: minTime(rec.TimeFirst, cached.timeFirst),
		TimeLast:  maxTime(rec.TimeLast, cached.timeLast),
	}
	if !c.udp {
		bf.TCPFlags = rec.TCPFlags | cached.tcpFlags
	}

	var clientIsCurrent bool
	if c.udp {
		// No usable timestamps for UDP, the lower port is the server.
		clientIsCurrent = rec.DstPort < rec.SrcPort
	} else {
		// The initiating side started earlier. On a tie, the side with the
		// larger port is the client (well-known ports are servers).
		clientIsCurrent = rec.TimeFirst.Before(cached.timeFirst) ||
			(rec.TimeFirst.Equal(cached.timeFirst) && rec.DstPort <= rec.SrcPort)
	}

	if clientIsCurrent {
		bf.SrcIP, bf.SrcPort = rec.SrcIP, rec.SrcPort
		bf.DstIP, bf.DstPort = rec.DstIP, rec.DstPort
	} else {
		bf.SrcIP, bf.SrcPort = rec.DstIP, rec.DstPort
		bf.DstIP, bf.DstPort = rec.SrcIP, rec.SrcPort
	}
	return bf
}

// OrientUDP returns the canonical orientation of an already-bidirectional
// UDP record (lower port is the server).
func OrientUDP(rec *flow.Record) *flow.Biflow {
	bf := &flow.Biflow{
		TimeFirst: rec.TimeFirst,
		TimeLast:  rec.TimeLast,
	}
	if rec.DstPort < rec.SrcPort {
		bf.SrcIP, bf.SrcPort = rec.SrcIP, rec.SrcPort
		bf.DstIP, bf.DstPort = rec.DstIP, rec.DstPort
	} else {
		bf.SrcIP, bf.SrcPort = rec.DstIP, rec.DstPort
		bf.DstIP, bf.DstPort = rec.SrcIP, rec.SrcPort
	}
	return bf
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
