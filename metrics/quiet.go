package metrics

import (
	"errors"
	"math"
	"sort"
)

const (
	// QuietWindow is how long network and main thread must stay quiet for a page to count as
	// interactive, in ms.
	QuietWindow = 5000.0
	// MaxInflightRequests is the most requests a network quiet period may have in flight.
	MaxInflightRequests = 2
)

var ErrNoQuietWindow = errors.New("no quiet window found before the end of the timeline")

// Interval is a span of time in ms. an unfinished request ends at +Inf.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (i Interval) Duration() float64 {
	return i.End - i.Start
}

// QuietWindowResult is the pair of overlapping quiet periods that end the search.
type QuietWindowResult struct {
	CPU     Interval
	Network Interval
}

// NetworkQuietPeriods returns the periods between origin and end during which at most
// maxInflight requests were in flight.
func NetworkQuietPeriods(requests []Interval, maxInflight int, origin, end float64) []Interval {
	type boundary struct {
		at    float64
		start bool
	}
	boundaries := make([]boundary, 0, len(requests)*2)
	for _, r := range requests {
		if r.Start <= end {
			boundaries = append(boundaries, boundary{at: r.Start, start: true})
		}
		if r.End <= end {
			boundaries = append(boundaries, boundary{at: r.End})
		}
	}
	// at the same instant a finishing request frees its place before the next one takes it
	sort.SliceStable(boundaries, func(i, j int) bool {
		if boundaries[i].at != boundaries[j].at {
			return boundaries[i].at < boundaries[j].at
		}
		return !boundaries[i].start && boundaries[j].start
	})

	var periods []Interval
	inflight := 0
	quietStart := origin
	for _, b := range boundaries {
		if b.start {
			if inflight == maxInflight {
				periods = append(periods, Interval{Start: quietStart, End: b.at})
			}
			inflight++
			continue
		}
		inflight--
		if inflight == maxInflight {
			quietStart = b.at
		}
	}
	if inflight <= maxInflight {
		periods = append(periods, Interval{Start: quietStart, End: end})
	}

	kept := periods[:0]
	for _, p := range periods {
		if p.End > p.Start {
			kept = append(kept, p)
		}
	}
	return kept
}

// CPUQuietPeriods returns the gaps between long tasks, which must be ordered by start.
func CPUQuietPeriods(longTasks []Interval, origin, end float64) []Interval {
	if len(longTasks) == 0 {
		return []Interval{{Start: origin, End: end}}
	}
	periods := make([]Interval, 0, len(longTasks)+1)
	periods = append(periods, Interval{Start: origin, End: longTasks[0].Start})
	for i, t := range longTasks {
		next := end
		if i+1 < len(longTasks) {
			next = longTasks[i+1].Start
		}
		periods = append(periods, Interval{Start: t.End, End: next})
	}
	return periods
}

// FindQuietWindow finds the earliest CPU quiet period after `after` that overlaps a network
// quiet period for a full QuietWindow. the page is interactive at the returned CPU period's
// start.
func FindQuietWindow(after float64, cpu, network []Interval) (QuietWindowResult, error) {
	long := func(p Interval) bool {
		return p.End > after+QuietWindow && p.Duration() >= QuietWindow
	}
	cpuCandidates := filter(cpu, long)
	netCandidates := filter(network, long)

	for len(cpuCandidates) > 0 && len(netCandidates) > 0 {
		c, n := cpuCandidates[0], netCandidates[0]
		if c.Start >= n.Start {
			if n.End >= c.Start+QuietWindow {
				return QuietWindowResult{CPU: c, Network: n}, nil
			}
			netCandidates = netCandidates[1:]
			continue
		}
		if c.End >= n.Start+QuietWindow {
			return QuietWindowResult{CPU: c, Network: n}, nil
		}
		cpuCandidates = cpuCandidates[1:]
	}
	return QuietWindowResult{}, ErrNoQuietWindow
}

// interactiveAt runs the full quiet window search and returns the interactive time along with
// the index of the long task that ended the last busy period, or -1 when none precedes it.
// longTasks must be ordered by start.
func interactiveAt(after, origin, end float64, longTasks, requests []Interval) (float64, int, error) {
	cpu := CPUQuietPeriods(longTasks, origin, end)
	network := NetworkQuietPeriods(requests, MaxInflightRequests, origin, end)

	window, err := FindQuietWindow(after, cpu, network)
	if err != nil {
		return 0, -1, err
	}

	last := -1
	for i, t := range longTasks {
		if t.End <= window.CPU.Start {
			last = i
		}
	}
	return math.Max(window.CPU.Start, after), last, nil
}

func filter(periods []Interval, keep func(Interval) bool) []Interval {
	var out []Interval
	for _, p := range periods {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
