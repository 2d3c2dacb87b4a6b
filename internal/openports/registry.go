// Package openports records confirmed successful connections per
// (address, port) and periodically reports them as data-points.
package openports

import (
	"net/netip"
	"sync"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/netfilter"
)

// PortKey identifies one open port.
type PortKey struct {
	IP   netip.Addr
	Port uint16
}

// PortRecord aggregates the connections observed towards one open port.
type PortRecord struct {
	TimeFirst time.Time
	TimeLast  time.Time
	Conns     uint64
}

// Registry is written by the ingest goroutine and drained by the sender
// tick. The lock is held only for the O(1) upsert and the snapshot swap;
// serialization happens on the detached snapshot.
type Registry struct {
	mu    sync.Mutex
	ports map[PortKey]*PortRecord

	filter *netfilter.Set

	// wellKnownFilter drops biflows from a well-known source port to a
	// high destination port. Flow-timestamp jitter sometimes inverts the
	// client and server sides; dropping these trades recall for precision.
	wellKnownFilter bool
}

// NewRegistry creates a registry. filter restricts which destination
// addresses are recorded; wellKnownFilter enables the client-port sanity
// check.
func NewRegistry(filter *netfilter.Set, wellKnownFilter bool) *Registry {
	return &Registry{
		ports:           make(map[PortKey]*PortRecord),
		filter:          filter,
		wellKnownFilter: wellKnownFilter,
	}
}

// ProcessBiflow records a successfully established connection. The biflow
// must already be in canonical client->server orientation.
func (r *Registry) ProcessBiflow(bf *flow.Biflow) {
	if !r.filter.Contains(bf.DstIP) {
		return
	}
	if r.wellKnownFilter && bf.SrcPort < 1024 && bf.DstPort > 1024 {
		return
	}

	key := PortKey{bf.DstIP, bf.DstPort}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.ports[key]
	if rec == nil {
		r.ports[key] = &PortRecord{
			TimeFirst: bf.TimeFirst,
			TimeLast:  bf.TimeLast,
			Conns:     1,
		}
		return
	}
	if bf.TimeFirst.Before(rec.TimeFirst) {
		rec.TimeFirst = bf.TimeFirst
	}
	if bf.TimeLast.After(rec.TimeLast) {
		rec.TimeLast = bf.TimeLast
	}
	rec.Conns++
}

// Drain atomically replaces the registry content with an empty map and
// returns the snapshot.
func (r *Registry) Drain() map[PortKey]*PortRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.ports
	r.ports = make(map[PortKey]*PortRecord)
	return snapshot
}

// Len returns the number of recorded ports.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ports)
}
