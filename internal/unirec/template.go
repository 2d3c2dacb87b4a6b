// Package unirec implements a fixed-width, template-driven binary codec for
// flow records. A template is negotiated as a comma-separated list of
// "type NAME" declarations; the record payload then carries the field values
// in template order, big-endian, with no padding.
package unirec

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Field types understood by the codec and their encoded widths.
const (
	TypeIPAddr = "ipaddr" // 16 bytes, IPv4 stored v4-mapped
	TypeTime   = "time"   // 8 bytes, 32.32 fixed-point Unix seconds
	TypeUint64 = "uint64"
	TypeUint32 = "uint32"
	TypeUint16 = "uint16"
	TypeUint8  = "uint8"
)

var fieldSizes = map[string]int{
	TypeIPAddr: 16,
	TypeTime:   8,
	TypeUint64: 8,
	TypeUint32: 4,
	TypeUint16: 2,
	TypeUint8:  1,
}

// Field is one declared record field.
type Field struct {
	Type   string
	Name   string
	Offset int
	Size   int
}

// Template describes the wire layout of one record.
type Template struct {
	spec    string
	fields  []Field
	byName  map[string]int
	recSize int
}

// ParseTemplate parses a template specification such as
// "ipaddr SRC_IP,ipaddr DST_IP,uint64 BYTES,time TIME_FIRST".
func ParseTemplate(spec string) (*Template, error) {
	t := &Template{
		spec:   spec,
		byName: make(map[string]int),
	}
	for _, decl := range strings.Split(spec, ",") {
		parts := strings.Fields(strings.TrimSpace(decl))
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid field declaration %q", decl)
		}
		typ, name := parts[0], parts[1]
		size, ok := fieldSizes[typ]
		if !ok {
			return nil, fmt.Errorf("unknown field type %q in %q", typ, decl)
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("duplicate field %q", name)
		}
		t.byName[name] = len(t.fields)
		t.fields = append(t.fields, Field{
			Type:   typ,
			Name:   name,
			Offset: t.recSize,
			Size:   size,
		})
		t.recSize += size
	}
	if len(t.fields) == 0 {
		return nil, fmt.Errorf("empty template specification")
	}
	return t, nil
}

// Spec returns the original specification string.
func (t *Template) Spec() string {
	return t.spec
}

// Size returns the encoded record size in bytes.
func (t *Template) Size() int {
	return t.recSize
}

// Has reports whether the template declares the named field.
func (t *Template) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// HasAll reports whether every named field is declared.
func (t *Template) HasAll(names ...string) bool {
	for _, n := range names {
		if !t.Has(n) {
			return false
		}
	}
	return true
}

func (t *Template) field(name string) (Field, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

// Record is one decoded record, a view over the payload bytes.
type Record struct {
	tmpl *Template
	data []byte
}

// Decode validates the payload length against the template and returns a
// decoded record view.
func (t *Template) Decode(data []byte) (*Record, error) {
	if len(data) != t.recSize {
		return nil, fmt.Errorf("record size mismatch: got %d bytes, template needs %d", len(data), t.recSize)
	}
	return &Record{tmpl: t, data: data}, nil
}

// IPAddr returns the named ipaddr field. IPv4 addresses come back unmapped.
func (r *Record) IPAddr(name string) (netip.Addr, error) {
	f, ok := r.tmpl.field(name)
	if !ok || f.Type != TypeIPAddr {
		return netip.Addr{}, fmt.Errorf("no ipaddr field %q", name)
	}
	addr := netip.AddrFrom16([16]byte(r.data[f.Offset : f.Offset+16]))
	return addr.Unmap(), nil
}

// Time returns the named time field. The wire value is 32.32 fixed-point
// Unix seconds.
func (r *Record) Time(name string) (time.Time, error) {
	f, ok := r.tmpl.field(name)
	if !ok || f.Type != TypeTime {
		return time.Time{}, fmt.Errorf("no time field %q", name)
	}
	v := binary.BigEndian.Uint64(r.data[f.Offset:])
	sec := int64(v >> 32)
	frac := v & 0xffffffff
	nsec := int64(frac * 1_000_000_000 >> 32)
	return time.Unix(sec, nsec).UTC(), nil
}

// Uint64 returns the named unsigned integer field, widening narrower types.
func (r *Record) Uint64(name string) (uint64, error) {
	f, ok := r.tmpl.field(name)
	if !ok {
		return 0, fmt.Errorf("no field %q", name)
	}
	switch f.Type {
	case TypeUint64:
		return binary.BigEndian.Uint64(r.data[f.Offset:]), nil
	case TypeUint32:
		return uint64(binary.BigEndian.Uint32(r.data[f.Offset:])), nil
	case TypeUint16:
		return uint64(binary.BigEndian.Uint16(r.data[f.Offset:])), nil
	case TypeUint8:
		return uint64(r.data[f.Offset]), nil
	default:
		return 0, fmt.Errorf("field %q is not an integer", name)
	}
}
