package datapoint

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimestampMarshal(t *testing.T) {
	ts := Timestamp(time.Date(2023, 5, 1, 12, 30, 45, 250_000_000, time.UTC))
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"2023-05-01T12:30:45.250"` {
		t.Errorf("unexpected timestamp encoding: %s", data)
	}
}

func TestTimestampUnmarshal(t *testing.T) {
	cases := []string{
		`"2023-05-01T12:30:45"`,
		`"2023-05-01T12:30:45.250"`,
		`"2023-05-01T12:30:45Z"`,
	}
	for _, c := range cases {
		var ts Timestamp
		if err := json.Unmarshal([]byte(c), &ts); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", c, err)
		}
		if ts.Time().Year() != 2023 {
			t.Errorf("Unmarshal(%s) produced %v", c, ts.Time())
		}
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("expected error for unparsable timestamp")
	}
}

func TestDataPointJSONShape(t *testing.T) {
	dp := DataPoint{
		Type:  TypeIP,
		ID:    "10.0.0.2",
		Attr:  AttrOpenPorts,
		Value: 22,
		T1:    Timestamp(time.Unix(1600000000, 0)),
		T2:    Timestamp(time.Unix(1600000001, 0)),
		Src:   "open_ports@collector-1",
	}
	data, err := json.Marshal(dp)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, key := range []string{`"type":"ip"`, `"attr":"open_ports"`, `"v":22`, `"src":"open_ports@collector-1"`} {
		if !strings.Contains(s, key) {
			t.Errorf("marshaled data-point missing %s: %s", key, s)
		}
	}
	if strings.Contains(s, `"c"`) {
		t.Errorf("confidence should be omitted when unset: %s", s)
	}
}

func TestCanonicalValue(t *testing.T) {
	a, err := CanonicalValue(map[string]any{"b": 1, "a": []int{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := CanonicalValue(map[string]any{"a": []int{1, 2}, "b": 1})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("canonical forms differ: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, `{"a"`) {
		t.Errorf("keys not sorted: %s", a)
	}

	// scalars stay scalars
	c, err := CanonicalValue(80)
	if err != nil {
		t.Fatal(err)
	}
	if c != "80" {
		t.Errorf("CanonicalValue(80) = %s", c)
	}
}

func TestRound4(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.123456, 0.1235},
		{1.0, 1.0},
		{0.00004, 0.0},
		{0.00005, 0.0001},
		{1000.0 / 3.0, 333.3333},
	}
	for _, c := range cases {
		if got := Round4(c.in); got != c.want {
			t.Errorf("Round4(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
