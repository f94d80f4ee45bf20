package crawler

import (
	"slices"
	"strings"
)

// hostDenylist matches exact hosts and "*.suffix" / ".suffix" wildcards.
type hostDenylist struct {
	exact    map[string]struct{}
	suffixes []string
}

// newHostDenylist returns nil when no pattern survives trimming, so callers can skip matching.
func newHostDenylist(patterns []string) *hostDenylist {
	d := &hostDenylist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		suffix, wildcard := strings.CutPrefix(value, "*.")
		if !wildcard {
			suffix, wildcard = strings.CutPrefix(value, ".")
		}
		switch {
		case value == "" || (wildcard && suffix == ""):
		case wildcard:
			if !slices.Contains(d.suffixes, suffix) {
				d.suffixes = append(d.suffixes, suffix)
			}
		default:
			d.exact[value] = struct{}{}
		}
	}
	if len(d.exact) == 0 && len(d.suffixes) == 0 {
		return nil
	}
	return d
}

func (d *hostDenylist) Denies(host string) bool {
	if d == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := d.exact[host]; ok {
		return true
	}
	for _, suffix := range d.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
