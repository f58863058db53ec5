package metrics

import (
	"errors"
	"math"
)

const (
	// tasks closer together than this belong to the same cluster
	clusterPadding = 1000.0
	// clusters starting this close to the paint always block idleness
	clusterPaintDistance = 5000.0
	maxClusterDuration   = 250.0
)

var ErrNoIdleWindow = errors.New("no cpu idle window found before the end of the timeline")

// IdleWindowSize is the quiet time required after a long task ending t ms after the paint.
// the requirement shrinks from 5s towards 1s as the load goes on.
func IdleWindowSize(t float64) float64 {
	return (4*math.Exp(-0.045*t/1000) + 1) * 1000
}

// FindIdleWindow returns the start of the first window after `after` in which the main thread
// is idle enough to respond to input. longTasks must be ordered by start; tasks ending
// before `after` are ignored. end bounds the timeline and may be +Inf.
func FindIdleWindow(after, end float64, longTasks []Interval) (float64, int, error) {
	tasks := make([]Interval, 0, len(longTasks))
	index := make([]int, 0, len(longTasks))
	for i, t := range longTasks {
		if t.End > after {
			tasks = append(tasks, t)
			index = append(index, i)
		}
	}

	if len(tasks) == 0 || tasks[0].Start > after+IdleWindowSize(0) {
		return after, -1, nil
	}

	for i, t := range tasks {
		windowStart := t.End
		windowEnd := windowStart + IdleWindowSize(windowStart-after)
		if windowEnd > end {
			return 0, -1, ErrNoIdleWindow
		}
		// the start of a cluster is never the end of one
		if i+1 < len(tasks) && tasks[i+1].Start-windowStart <= clusterPadding {
			continue
		}

		bad := false
		for _, c := range taskClusters(tasks, i+1, windowEnd) {
			if c.Start < after+clusterPaintDistance || c.Duration() > maxClusterDuration {
				bad = true
				break
			}
		}
		if !bad {
			return math.Max(windowStart, after), index[i], nil
		}
	}
	return 0, -1, ErrNoIdleWindow
}

// taskClusters groups the tasks from `from` on that start before windowEnd into clusters
// separated by more than clusterPadding of idle time.
func taskClusters(tasks []Interval, from int, windowEnd float64) []Interval {
	var clusters []Interval
	previousEnd := math.Inf(-1)
	for _, t := range tasks[from:] {
		if t.Start >= windowEnd+clusterPadding {
			break
		}
		if t.Start-previousEnd > clusterPadding {
			clusters = append(clusters, Interval{Start: t.Start, End: t.End})
		} else {
			clusters[len(clusters)-1].End = t.End
		}
		previousEnd = t.End
	}

	kept := clusters[:0]
	for _, c := range clusters {
		if c.Start < windowEnd {
			kept = append(kept, c)
		}
	}
	return kept
}
