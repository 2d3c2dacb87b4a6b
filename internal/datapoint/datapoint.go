// Package datapoint defines the JSON record shape understood by the ADiCT
// server: one (entity, attribute, value, time-range, source-tag) tuple.
package datapoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// TypeIP is the entity type used by all flow-derived data-points.
const TypeIP = "ip"

// Attribute names emitted by the ingest modules.
const (
	AttrActivity     = "activity"
	AttrOpenPorts    = "open_ports"
	AttrOpenPortsUDP = "open_ports_udp"
)

// timeLayout is the ISO-8601 UTC shape the ADiCT API expects
// (YYYY-MM-DDThh:mm:ss[.fff]).
const timeLayout = "2006-01-02T15:04:05.000"

// Timestamp marshals as ISO-8601 UTC with millisecond precision.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(timeLayout))
}

// UnmarshalJSON implements json.Unmarshaler. It accepts second or
// millisecond precision, with or without a trailing Z.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range []string{
		timeLayout,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.000Z07:00",
		time.RFC3339,
	} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// Time returns the wrapped time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// DataPoint is one record sent to the downstream collector.
type DataPoint struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	Attr       string    `json:"attr"`
	Value      any       `json:"v"`
	T1         Timestamp `json:"t1"`
	T2         Timestamp `json:"t2"`
	Confidence *float64  `json:"c,omitempty"`
	Src        string    `json:"src"`
}

// ActivityValue is the value of an "activity" data-point. The attribute is a
// time-series on the server side, so each number is wrapped in a singleton
// list even though one slot carries one value per series.
type ActivityValue struct {
	InFlows    []float64 `json:"in_flows"`
	InPackets  []float64 `json:"in_packets"`
	InBytes    []float64 `json:"in_bytes"`
	OutFlows   []float64 `json:"out_flows"`
	OutPackets []float64 `json:"out_packets"`
	OutBytes   []float64 `json:"out_bytes"`
}

// CanonicalValue renders v as stable, key-sorted JSON so that structurally
// equal values always produce the same string. Used as part of aggregation
// map keys.
func CanonicalValue(v any) (string, error) {
	// Round-trip through generic containers: encoding/json serializes map
	// keys in sorted order, which gives the canonical form for free.
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize value: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("failed to canonicalize value: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize value: %w", err)
	}
	return string(canonical), nil
}

// Round4 rounds a counter to 4 decimal places for emission.
func Round4(v float64) float64 {
	const scale = 10000
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
