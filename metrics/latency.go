package metrics

import (
	"math"
	"sort"

	"github.com/pb33f/lantern/tracing"
)

const (
	// LatencyWindow is the rolling window over which input latency is estimated, in ms.
	LatencyWindow = 5000.0
	// BaseInputLatency is the latency of an idle main thread, in ms.
	BaseInputLatency  = 16.0
	latencyPercentile = 0.9
)

// QueueingTime returns the given percentile of the time an input arriving uniformly at random
// inside window would wait for the main thread. tasks must not overlap.
func QueueingTime(tasks []Interval, window Interval, percentile float64) float64 {
	length := window.Duration()
	if length <= 0 {
		return 0
	}

	durations := make([]float64, 0, len(tasks))
	for _, t := range tasks {
		d := math.Min(t.End, window.End) - math.Max(t.Start, window.Start)
		if d > 0 {
			durations = append(durations, d)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(durations)))

	// P(wait > x) = sum(max(d - x, 0)) / length, solve for P = 1 - percentile
	tail := (1 - percentile) * length
	sum := 0.0
	for k, d := range durations {
		sum += d
		next := 0.0
		if k+1 < len(durations) {
			next = durations[k+1]
		}
		x := (sum - tail) / float64(k+1)
		if x >= next {
			return math.Max(x, 0)
		}
	}
	return 0
}

// RollingInputLatency is the worst 90th percentile queueing time over windows starting at
// each long task after `after`, plus the base latency.
func RollingInputLatency(after float64, tasks []Interval) float64 {
	var clipped []Interval
	for _, t := range tasks {
		if t.End <= after {
			continue
		}
		clipped = append(clipped, Interval{Start: math.Max(t.Start, after), End: t.End})
	}

	worst := 0.0
	for _, t := range clipped {
		if t.Duration() <= tracing.LongTaskThreshold {
			continue
		}
		window := Interval{Start: t.Start, End: t.Start + LatencyWindow}
		worst = math.Max(worst, QueueingTime(clipped, window, latencyPercentile))
	}
	return worst + BaseInputLatency
}
