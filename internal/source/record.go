package source

import (
	"fmt"

	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/unirec"
)

// Field names used on the record channel.
const (
	FieldSrcIP      = "SRC_IP"
	FieldDstIP      = "DST_IP"
	FieldSrcPort    = "SRC_PORT"
	FieldDstPort    = "DST_PORT"
	FieldProtocol   = "PROTOCOL"
	FieldBytes      = "BYTES"
	FieldPackets    = "PACKETS"
	FieldBytesRev   = "BYTES_REV"
	FieldPacketsRev = "PACKETS_REV"
	FieldTCPFlags   = "TCP_FLAGS"
	FieldTimeFirst  = "TIME_FIRST"
	FieldTimeLast   = "TIME_LAST"
)

// ActivityFields is the minimum template of the activity module.
var ActivityFields = []string{
	FieldSrcIP, FieldDstIP, FieldBytes, FieldPackets,
	FieldTimeFirst, FieldTimeLast,
}

// OpenPortsFields is the minimum template of the open-ports module.
var OpenPortsFields = []string{
	FieldSrcIP, FieldDstIP, FieldSrcPort, FieldDstPort,
	FieldProtocol, FieldTCPFlags, FieldPackets,
	FieldTimeFirst, FieldTimeLast,
}

// decodeRecord maps one template-encoded payload onto a flow record.
// Fields absent from the template stay zero.
func decodeRecord(tmpl *unirec.Template, payload []byte) (*flow.Record, error) {
	urec, err := tmpl.Decode(payload)
	if err != nil {
		return nil, err
	}

	rec := &flow.Record{}
	if rec.SrcIP, err = urec.IPAddr(FieldSrcIP); err != nil {
		return nil, fmt.Errorf("bad record: %w", err)
	}
	if rec.DstIP, err = urec.IPAddr(FieldDstIP); err != nil {
		return nil, fmt.Errorf("bad record: %w", err)
	}
	if rec.TimeFirst, err = urec.Time(FieldTimeFirst); err != nil {
		return nil, fmt.Errorf("bad record: %w", err)
	}
	if rec.TimeLast, err = urec.Time(FieldTimeLast); err != nil {
		return nil, fmt.Errorf("bad record: %w", err)
	}

	uintInto := func(name string, dst *uint64) {
		if tmpl.Has(name) {
			v, _ := urec.Uint64(name)
			*dst = v
		}
	}
	uintInto(FieldBytes, &rec.Bytes)
	uintInto(FieldPackets, &rec.Packets)

	if tmpl.HasAll(FieldBytesRev, FieldPacketsRev) {
		rec.HasRev = true
		uintInto(FieldBytesRev, &rec.BytesRev)
		uintInto(FieldPacketsRev, &rec.PacketsRev)
	}

	var v uint64
	if tmpl.Has(FieldSrcPort) {
		v, _ = urec.Uint64(FieldSrcPort)
		rec.SrcPort = uint16(v)
	}
	if tmpl.Has(FieldDstPort) {
		v, _ = urec.Uint64(FieldDstPort)
		rec.DstPort = uint16(v)
	}
	if tmpl.Has(FieldProtocol) {
		v, _ = urec.Uint64(FieldProtocol)
		rec.Protocol = uint8(v)
	}
	if tmpl.Has(FieldTCPFlags) {
		v, _ = urec.Uint64(FieldTCPFlags)
		rec.TCPFlags = uint8(v)
	}
	return rec, nil
}
