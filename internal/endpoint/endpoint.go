// Package endpoint models candidate relay endpoints (host:port pairs) and the
// extraction/deduplication steps that turn raw discovery text into a canonical
// candidate set.
package endpoint

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// hostPortPattern is intentionally permissive: anything shaped like an IPv4
// address and a port, embedded anywhere in arbitrary text. False positives are
// expected here; the geo and liveness stages filter them out.
var hostPortPattern = regexp.MustCompile(`\b(\d{1,3}(?:\.\d{1,3}){3}):(\d{1,5})\b`)

// Candidate is one discovered relay endpoint. Identity is the (host, port)
// pair; candidates are immutable once created.
type Candidate struct {
	Host string
	Port int
}

func (c Candidate) String() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Parse validates s as "ipv4:port" with port in 1-65535.
func Parse(s string) (Candidate, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Candidate{}, fmt.Errorf("endpoint %q: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return Candidate{}, fmt.Errorf("endpoint %q: not an IPv4 address", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Candidate{}, fmt.Errorf("endpoint %q: invalid port", s)
	}
	return Candidate{Host: host, Port: port}, nil
}

// Extract scans text for host:port substrings and returns the ones that parse
// as real IPv4 endpoints. Duplicates are preserved; callers run the result
// through DedupSort.
func Extract(text string) []string {
	matches := hostPortPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, err := Parse(m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// DedupSort merges raw host:port strings from all sources into a sorted unique
// set. Sort order is lexicographic on the string; this is what makes the
// change-detection comparison deterministic. Idempotent: DedupSort(DedupSort(x))
// equals DedupSort(x).
func DedupSort(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Host returns the host part of "host:port", or "" if s does not split.
func Host(s string) string {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return ""
	}
	return host
}
