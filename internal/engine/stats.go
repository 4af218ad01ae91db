package engine

import (
	"fmt"
	"sort"
)

// HostStats counts outcomes for one host over a run.
type HostStats struct {
	Ok          int `json:"ok"`
	Changed     int `json:"changed"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Unreachable int `json:"unreachable"`
	Ignored     int `json:"ignored"`
}

// Stats is the play recap of a run.
type Stats struct {
	Hosts map[string]*HostStats
}

func newStats() *Stats {
	return &Stats{Hosts: map[string]*HostStats{}}
}

func (s *Stats) host(name string) *HostStats {
	h, ok := s.Hosts[name]
	if !ok {
		h = &HostStats{}
		s.Hosts[name] = h
	}
	return h
}

// Failed reports whether any host failed without ignore_errors or was
// unreachable.
func (s *Stats) Failed() bool {
	for _, h := range s.Hosts {
		if h.Failed > 0 || h.Unreachable > 0 {
			return true
		}
	}
	return false
}

// Recap renders one line per host, sorted by host name.
func (s *Stats) Recap() []string {
	names := make([]string, 0, len(s.Hosts))
	for n := range s.Hosts {
		names = append(names, n)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, n := range names {
		h := s.Hosts[n]
		lines = append(lines, fmt.Sprintf("%s : ok=%d changed=%d unreachable=%d failed=%d skipped=%d ignored=%d",
			n, h.Ok, h.Changed, h.Unreachable, h.Failed, h.Skipped, h.Ignored))
	}
	return lines
}
