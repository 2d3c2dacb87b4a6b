package flow

import (
	"net/netip"
	"time"
)

// IP protocol numbers used by the ingest modules
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// TCP flag bits as carried in flow records
const (
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagPSH = 0x08
	FlagACK = 0x10
	FlagURG = 0x20
)

// Record is one unidirectional (or bidirectional, when the exporter merges
// both directions) summary of IP traffic between two endpoints.
type Record struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8

	Bytes   uint64
	Packets uint64

	// Reverse-direction counters, only meaningful when HasRev is true
	// (the input template carries BYTES_REV/PACKETS_REV).
	BytesRev   uint64
	PacketsRev uint64
	HasRev     bool

	TCPFlags uint8

	TimeFirst time.Time
	TimeLast  time.Time
}

// Duration returns the time the flow spans. Records with TimeLast before
// TimeFirst yield a negative duration; callers decide whether to drop them.
func (r *Record) Duration() time.Duration {
	return r.TimeLast.Sub(r.TimeFirst)
}

// IsBiflow reports whether the record already carries traffic in both
// directions, making uniflow pairing unnecessary.
func (r *Record) IsBiflow() bool {
	return r.HasRev && r.Packets > 0 && r.PacketsRev > 0
}

// Biflow is a paired conversation in canonical client->server orientation.
type Biflow struct {
	SrcIP    netip.Addr
	SrcPort  uint16
	DstIP    netip.Addr
	DstPort  uint16
	TCPFlags uint8

	TimeFirst time.Time
	TimeLast  time.Time
}
