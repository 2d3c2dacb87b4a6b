package netfilter

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"
)

// Set is an immutable list of IP prefixes used to restrict which addresses
// the ingest modules report on. An empty Set matches every address ("no
// filter configured").
type Set struct {
	prefixes []netip.Prefix
}

// FromList builds a Set from CIDR strings (IPv4 or IPv6).
func FromList(cidrs []string) (*Set, error) {
	s := &Set{}
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(c))
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", c, err)
		}
		s.prefixes = append(s.prefixes, p.Masked())
	}
	return s, nil
}

// FromFile builds a Set from a file with one CIDR per line. Anything after
// '#' or '//' on a line is a comment; blank lines are skipped. Errors name
// the offending line number.
func FromFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open networks file: %w", err)
	}
	defer f.Close()

	s := &Set{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}
		p, err := netip.ParsePrefix(line)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q on line %d: %w", line, lineNo, err)
		}
		s.prefixes = append(s.prefixes, p.Masked())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read networks file: %w", err)
	}
	return s, nil
}

// FromSpec parses an inline comma/space separated CIDR list. An empty spec
// yields the match-all Set.
func FromSpec(spec string) (*Set, error) {
	fields := strings.Fields(strings.ReplaceAll(spec, ",", " "))
	return FromList(fields)
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// Contains reports whether ip belongs to any of the configured prefixes.
// The empty Set contains every address.
func (s *Set) Contains(ip netip.Addr) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	// Prefix.Contains never matches across IP versions, so unmap
	// v4-in-v6 addresses first.
	ip = ip.Unmap()
	for _, p := range s.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Empty reports whether no prefixes are configured.
func (s *Set) Empty() bool {
	return len(s.prefixes) == 0
}

// String lists the configured prefixes for logging.
func (s *Set) String() string {
	if len(s.prefixes) == 0 {
		return "all networks"
	}
	parts := make([]string, len(s.prefixes))
	for i, p := range s.prefixes {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}
