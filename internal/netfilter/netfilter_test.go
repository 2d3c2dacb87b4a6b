package netfilter

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmptySetMatchesEverything(t *testing.T) {
	s, err := FromSpec("")
	if err != nil {
		t.Fatalf("FromSpec(\"\") failed: %v", err)
	}
	if !s.Empty() {
		t.Error("expected empty set")
	}
	for _, ip := range []string{"10.0.0.1", "192.168.1.1", "2001:db8::1"} {
		if !s.Contains(netip.MustParseAddr(ip)) {
			t.Errorf("empty set should contain %s", ip)
		}
	}
}

func TestContains(t *testing.T) {
	s, err := FromSpec("10.0.0.0/8, 2001:db8::/32")
	if err != nil {
		t.Fatalf("FromSpec failed: %v", err)
	}

	cases := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"10.255.255.255", true},
		{"11.0.0.1", false},
		{"2001:db8::42", true},
		{"2001:db9::42", false},
		// v4-mapped addresses must match v4 prefixes
		{"::ffff:10.1.2.3", true},
	}
	for _, c := range cases {
		if got := s.Contains(netip.MustParseAddr(c.ip)); got != c.want {
			t.Errorf("Contains(%s) = %v, want %v", c.ip, got, c.want)
		}
	}
}

func TestFromFile(t *testing.T) {
	content := "" +
		"# watched prefixes\n" +
		"10.0.0.0/8\n" +
		"\n" +
		"192.168.0.0/16 // lab\n" +
		"2001:db8::/32# doc range\n"
	path := filepath.Join(t.TempDir(), "networks.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}
	if s.Empty() {
		t.Fatal("expected non-empty set")
	}
	if !s.Contains(netip.MustParseAddr("192.168.3.4")) {
		t.Error("expected 192.168.3.4 to match")
	}
	if s.Contains(netip.MustParseAddr("172.16.0.1")) {
		t.Error("did not expect 172.16.0.1 to match")
	}
}

func TestFromFileBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.txt")
	if err := os.WriteFile(path, []byte("10.0.0.0/8\nnot-a-cidr\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := FromFile(path)
	if err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
	if got := err.Error(); !strings.Contains(got, "line 2") {
		t.Errorf("error should name line 2, got: %v", got)
	}
}

func TestFromSpecBadCIDR(t *testing.T) {
	if _, err := FromSpec("10.0.0.0/8 280.1.2.0/24"); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
}
