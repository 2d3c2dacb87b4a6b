package unirec

import (
	"net/netip"
	"testing"
	"time"
)

const testSpec = "ipaddr DST_IP,ipaddr SRC_IP,uint64 BYTES,time TIME_FIRST," +
	"time TIME_LAST,uint32 PACKETS,uint16 DST_PORT,uint16 SRC_PORT,uint8 PROTOCOL,uint8 TCP_FLAGS"

func TestParseTemplate(t *testing.T) {
	tmpl, err := ParseTemplate(testSpec)
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	if got, want := tmpl.Size(), 16+16+8+8+8+4+2+2+1+1; got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
	if !tmpl.HasAll("SRC_IP", "DST_IP", "TIME_FIRST", "TIME_LAST") {
		t.Error("expected template to declare the core fields")
	}
	if tmpl.Has("PACKETS_REV") {
		t.Error("template should not declare PACKETS_REV")
	}
}

func TestParseTemplateErrors(t *testing.T) {
	cases := []string{
		"",
		"ipaddr",
		"blob SRC_IP",
		"ipaddr SRC_IP,ipaddr SRC_IP",
	}
	for _, spec := range cases {
		if _, err := ParseTemplate(spec); err == nil {
			t.Errorf("ParseTemplate(%q) should fail", spec)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tmpl, err := ParseTemplate(testSpec)
	if err != nil {
		t.Fatal(err)
	}

	srcIP := netip.MustParseAddr("10.0.0.1")
	dstIP := netip.MustParseAddr("2001:db8::2")
	tFirst := time.Unix(1600000000, 500_000_000).UTC()
	tLast := time.Unix(1600000001, 0).UTC()

	w := tmpl.NewWriter()
	if err := w.SetIPAddr("SRC_IP", srcIP); err != nil {
		t.Fatal(err)
	}
	if err := w.SetIPAddr("DST_IP", dstIP); err != nil {
		t.Fatal(err)
	}
	if err := w.SetTime("TIME_FIRST", tFirst); err != nil {
		t.Fatal(err)
	}
	if err := w.SetTime("TIME_LAST", tLast); err != nil {
		t.Fatal(err)
	}
	for name, v := range map[string]uint64{
		"BYTES": 123456, "PACKETS": 42, "SRC_PORT": 54321,
		"DST_PORT": 80, "PROTOCOL": 6, "TCP_FLAGS": 0x12,
	} {
		if err := w.SetUint(name, v); err != nil {
			t.Fatalf("SetUint(%s): %v", name, err)
		}
	}

	rec, err := tmpl.Decode(w.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got, _ := rec.IPAddr("SRC_IP"); got != srcIP {
		t.Errorf("SRC_IP = %v, want %v", got, srcIP)
	}
	if got, _ := rec.IPAddr("DST_IP"); got != dstIP {
		t.Errorf("DST_IP = %v, want %v", got, dstIP)
	}
	if got, _ := rec.Uint64("BYTES"); got != 123456 {
		t.Errorf("BYTES = %d", got)
	}
	if got, _ := rec.Uint64("PROTOCOL"); got != 6 {
		t.Errorf("PROTOCOL = %d", got)
	}
	if got, _ := rec.Time("TIME_LAST"); !got.Equal(tLast) {
		t.Errorf("TIME_LAST = %v, want %v", got, tLast)
	}
	// 32.32 fixed point keeps ~quarter-nanosecond resolution, allow jitter
	if got, _ := rec.Time("TIME_FIRST"); got.Sub(tFirst).Abs() > time.Microsecond {
		t.Errorf("TIME_FIRST = %v, want %v", got, tFirst)
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	tmpl, err := ParseTemplate("uint16 SRC_PORT,uint16 DST_PORT")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpl.Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected size mismatch error")
	}
}
