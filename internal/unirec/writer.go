package unirec

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
)

// Writer fills one record payload for a template, field by field. Fields may
// be set in any order; unset fields stay zero.
type Writer struct {
	tmpl *Template
	data []byte
}

// NewWriter returns a Writer with a zeroed payload.
func (t *Template) NewWriter() *Writer {
	return &Writer{tmpl: t, data: make([]byte, t.recSize)}
}

// SetIPAddr stores an ipaddr field, mapping IPv4 into the 16-byte slot.
func (w *Writer) SetIPAddr(name string, addr netip.Addr) error {
	f, ok := w.tmpl.field(name)
	if !ok || f.Type != TypeIPAddr {
		return fmt.Errorf("no ipaddr field %q", name)
	}
	b := addr.As16()
	copy(w.data[f.Offset:], b[:])
	return nil
}

// SetTime stores a time field as 32.32 fixed-point Unix seconds.
func (w *Writer) SetTime(name string, t time.Time) error {
	f, ok := w.tmpl.field(name)
	if !ok || f.Type != TypeTime {
		return fmt.Errorf("no time field %q", name)
	}
	sec := uint64(t.Unix())
	frac := uint64(t.Nanosecond()) << 32 / 1_000_000_000
	binary.BigEndian.PutUint64(w.data[f.Offset:], sec<<32|frac)
	return nil
}

// SetUint stores an unsigned integer field of any declared width.
func (w *Writer) SetUint(name string, v uint64) error {
	f, ok := w.tmpl.field(name)
	if !ok {
		return fmt.Errorf("no field %q", name)
	}
	switch f.Type {
	case TypeUint64:
		binary.BigEndian.PutUint64(w.data[f.Offset:], v)
	case TypeUint32:
		binary.BigEndian.PutUint32(w.data[f.Offset:], uint32(v))
	case TypeUint16:
		binary.BigEndian.PutUint16(w.data[f.Offset:], uint16(v))
	case TypeUint8:
		w.data[f.Offset] = byte(v)
	default:
		return fmt.Errorf("field %q is not an integer", name)
	}
	return nil
}

// Bytes returns the encoded payload.
func (w *Writer) Bytes() []byte {
	return w.data
}
