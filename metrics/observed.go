package metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/pb33f/lantern/motor/model"
	"github.com/pb33f/lantern/tracing"
)

// Observed computes m from the recorded trace, and for interactive the recorded network
// records, without simulating anything.
func Observed(m Metric, tab *model.TraceOfTab, records []*model.NetworkRecord) (*Result, error) {
	if tab == nil {
		return nil, errors.New("observed metrics need a processed trace")
	}
	// recorded times are only meaningful relative to the navigation
	if tab.NavigationStartEvt == nil {
		return nil, tracing.MissingMarker(model.EventNavigationStart)
	}
	navStart := tab.Timestamps.NavigationStart
	timings := tab.Timings

	switch m {
	case FirstContentfulPaint:
		fcp, err := marker(model.EventFirstContentfulPaint, timings.FirstContentfulPaint)
		if err != nil {
			return nil, err
		}
		return observed(m, fcp, navStart), nil

	case FirstMeaningfulPaint:
		fmp, err := marker(model.EventFirstMeaningfulPaint, timings.FirstMeaningfulPaint)
		if err != nil {
			return nil, err
		}
		return observed(m, fmp, navStart), nil

	case Interactive:
		fmp, err := marker(model.EventFirstMeaningfulPaint, timings.FirstMeaningfulPaint)
		if err != nil {
			return nil, err
		}
		long := observedLongTasks(tab)
		at, _, err := interactiveAt(fmp, 0, timings.TraceEnd, long, observedRequests(records, navStart))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		return observed(m, afterDCL(at, timings), navStart), nil

	case FirstCPUIdle:
		fmp, err := marker(model.EventFirstMeaningfulPaint, timings.FirstMeaningfulPaint)
		if err != nil {
			return nil, err
		}
		at, _, err := FindIdleWindow(fmp, timings.TraceEnd, observedLongTasks(tab))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		return observed(m, afterDCL(at, timings), navStart), nil

	case SpeedIndex:
		fcp, err := marker(model.EventFirstContentfulPaint, timings.FirstContentfulPaint)
		if err != nil {
			return nil, err
		}
		var samples []LayoutSample
		for _, t := range tracing.TopLevelTasks(tab.MainThreadEvents) {
			if performsLayout(t) {
				samples = append(samples, NewLayoutSample(Interval{Start: t.Start - navStart, End: t.End - navStart}))
			}
		}
		return observed(m, LayoutSpeedIndex(samples, fcp), navStart), nil

	case EstimatedInputLatency:
		fmp, err := marker(model.EventFirstMeaningfulPaint, timings.FirstMeaningfulPaint)
		if err != nil {
			return nil, err
		}
		var tasks []Interval
		for _, t := range tracing.TopLevelTasks(tab.MainThreadEvents) {
			tasks = append(tasks, Interval{Start: t.Start - navStart, End: t.End - navStart})
		}
		return &Result{Metric: m, Method: MethodObserved, Timing: RollingInputLatency(fmp, tasks)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
}

func marker(name string, v *float64) (float64, error) {
	if v == nil {
		return 0, tracing.MissingMarker(name)
	}
	return *v, nil
}

func afterDCL(at float64, timings model.TraceTimes) float64 {
	if timings.DOMContentLoaded != nil {
		return math.Max(at, *timings.DOMContentLoaded)
	}
	return at
}

// observedLongTasks returns the long main-thread tasks relative to navigation start
func observedLongTasks(tab *model.TraceOfTab) []Interval {
	navStart := tab.Timestamps.NavigationStart
	var long []Interval
	for _, t := range tracing.LongTasks(tracing.TopLevelTasks(tab.MainThreadEvents), tracing.LongTaskThreshold) {
		long = append(long, Interval{Start: t.Start - navStart, End: t.End - navStart})
	}
	return long
}

// observedRequests keeps the requests that count towards network activity: finished,
// successful requests that went over the network.
func observedRequests(records []*model.NetworkRecord, navStart float64) []Interval {
	var requests []Interval
	for _, r := range records {
		if !r.Finished || r.Failed || r.StatusCode >= 400 || r.IsNonNetwork() {
			continue
		}
		requests = append(requests, Interval{Start: r.StartTime - navStart, End: r.EndTime - navStart})
	}
	return requests
}

func performsLayout(t *tracing.Task) bool {
	if t.Event.Name == model.EventLayout {
		return true
	}
	for i := range t.Children {
		if t.Children[i].Name == model.EventLayout {
			return true
		}
	}
	return false
}
