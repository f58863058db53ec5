package metrics

import (
	"math"
	"testing"

	"github.com/pb33f/lantern/motor/model"
	"github.com/pb33f/lantern/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const navStart = 1000.0

func ptr(v float64) *float64 { return &v }

func task(startMs, durMs float64, children ...string) []model.TraceEvent {
	events := []model.TraceEvent{{Name: "RunTask", Ph: "X", TS: (navStart + startMs) * 1000, Dur: durMs * 1000, PID: 1, TID: 1}}
	for i, name := range children {
		events = append(events, model.TraceEvent{Name: name, Ph: "X", TS: (navStart + startMs + float64(i)) * 1000, Dur: 500, PID: 1, TID: 1})
	}
	return events
}

// tabFixture paints at 400/500ms then keeps the main thread busy for 200ms
func tabFixture(traceEnd float64) *model.TraceOfTab {
	var events []model.TraceEvent
	events = append(events, task(100, 20, "Layout")...)
	events = append(events, task(500, 200, "Layout")...)

	return &model.TraceOfTab{
		Timings: model.TraceTimes{
			FirstPaint:           ptr(400),
			FirstContentfulPaint: ptr(400),
			FirstMeaningfulPaint: ptr(500),
			TraceEnd:             traceEnd,
		},
		Timestamps: model.TraceTimes{
			NavigationStart:      navStart,
			FirstContentfulPaint: ptr(navStart + 400),
			FirstMeaningfulPaint: ptr(navStart + 500),
			TraceEnd:             navStart + traceEnd,
		},
		MainThreadEvents:   events,
		NavigationStartEvt: &model.TraceEvent{Name: model.EventNavigationStart, Ph: "R", TS: navStart * 1000},
	}
}

func request(start, end float64) *model.NetworkRecord {
	return &model.NetworkRecord{
		URL:        "https://example.com/r",
		StartTime:  navStart + start,
		EndTime:    navStart + end,
		StatusCode: 200,
		Finished:   true,
	}
}

func TestObserved_Paints(t *testing.T) {
	tab := tabFixture(6000)

	fcp, err := Observed(FirstContentfulPaint, tab, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodObserved, fcp.Method)
	assert.InDelta(t, 400.0, fcp.Timing, 1e-9)
	assert.True(t, fcp.HasTimestamp)
	assert.InDelta(t, 1400.0, fcp.Timestamp, 1e-9)

	fmp, err := Observed(FirstMeaningfulPaint, tab, nil)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, fmp.Timing, 1e-9)
}

func TestObserved_MissingMarker(t *testing.T) {
	tab := tabFixture(6000)
	tab.Timings.FirstContentfulPaint = nil
	tab.Timings.FirstMeaningfulPaint = nil

	for _, m := range All() {
		_, err := Observed(m, tab, nil)
		require.Error(t, err, m)
		assert.ErrorIs(t, err, tracing.ErrMissingMarker, m)
	}
}

func TestObserved_NeedsNavigationStart(t *testing.T) {
	tab := tabFixture(6000)
	tab.NavigationStartEvt = nil

	for _, m := range All() {
		_, err := Observed(m, tab, nil)
		var mm *tracing.MissingMarkerError
		require.ErrorAs(t, err, &mm, m)
		assert.Equal(t, model.EventNavigationStart, mm.Marker)
	}
}

func TestObserved_InteractiveAfterQuietWindow(t *testing.T) {
	records := []*model.NetworkRecord{request(0, 300), request(350, 450)}

	tti, err := Observed(Interactive, tabFixture(6000), records)
	require.NoError(t, err)
	// paint at 500, busy for 200ms, then 5s of nothing
	assert.InDelta(t, 700.0, tti.Timing, 1e-9)
	assert.InDelta(t, 1700.0, tti.Timestamp, 1e-9)

	// content loaded late pushes interactive out
	tab := tabFixture(6000)
	tab.Timings.DOMContentLoaded = ptr(900)
	tti, err = Observed(Interactive, tab, records)
	require.NoError(t, err)
	assert.InDelta(t, 900.0, tti.Timing, 1e-9)
}

func TestObserved_InteractiveNeedsQuietNetwork(t *testing.T) {
	// three requests in flight until 5000ms leave less than 5s of quiet network
	records := []*model.NetworkRecord{request(600, 5000), request(600, 5000), request(600, 5000)}

	_, err := Observed(Interactive, tabFixture(9000), records)
	assert.ErrorIs(t, err, ErrNoQuietWindow)

	// a failed request does not count
	records[2].Failed = true
	tti, err := Observed(Interactive, tabFixture(9000), records)
	require.NoError(t, err)
	assert.InDelta(t, 700.0, tti.Timing, 1e-9)

	// neither does a trace that ends too early
	_, err = Observed(Interactive, tabFixture(5500), nil)
	assert.ErrorIs(t, err, ErrNoQuietWindow)
}

func TestObserved_FirstCPUIdle(t *testing.T) {
	idle, err := Observed(FirstCPUIdle, tabFixture(6000), nil)
	require.NoError(t, err)
	assert.InDelta(t, 700.0, idle.Timing, 1e-9)
}

func TestObserved_SpeedIndex(t *testing.T) {
	si, err := Observed(SpeedIndex, tabFixture(6000), nil)
	require.NoError(t, err)
	// layout at 100-120 is floored at the paint, layout at 500-700 counts at 700
	early, late := math.Log2(20), math.Log2(200)
	assert.InDelta(t, (early*400+late*700)/(early+late), si.Timing, 1e-6)
}

func TestObserved_EstimatedInputLatency(t *testing.T) {
	eil, err := Observed(EstimatedInputLatency, tabFixture(6000), nil)
	require.NoError(t, err)
	assert.False(t, eil.HasTimestamp)
	// one 200ms task in the 5s window is under the 10% tail
	assert.InDelta(t, BaseInputLatency, eil.Timing, 1e-6)
}

func TestObserved_Errors(t *testing.T) {
	_, err := Observed(Metric("bogus"), tabFixture(6000), nil)
	assert.ErrorIs(t, err, ErrUnknownMetric)

	_, err = Observed(FirstContentfulPaint, nil, nil)
	assert.Error(t, err)
}

func TestFindIdleWindow(t *testing.T) {
	at, last, err := FindIdleWindow(500, math.Inf(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 500.0, at)
	assert.Equal(t, -1, last)

	// the first long task starts a cluster, so idleness starts after the second
	tasks := []Interval{{500, 700}, {1200, 1300}}
	at, last, err = FindIdleWindow(500, 8000, tasks)
	require.NoError(t, err)
	assert.InDelta(t, 1300.0, at, 1e-9)
	assert.Equal(t, 1, last)

	_, _, err = FindIdleWindow(500, 6000, tasks)
	assert.ErrorIs(t, err, ErrNoIdleWindow)

	// a long cluster right after the paint blocks the window in front of it
	tasks = []Interval{{500, 560}, {2000, 2300}}
	at, last, err = FindIdleWindow(500, math.Inf(1), tasks)
	require.NoError(t, err)
	assert.InDelta(t, 2300.0, at, 1e-9)
	assert.Equal(t, 1, last)

	// tasks before the paint are ignored
	at, _, err = FindIdleWindow(500, math.Inf(1), []Interval{{100, 300}})
	require.NoError(t, err)
	assert.Equal(t, 500.0, at)
}

func TestIdleWindowSize(t *testing.T) {
	assert.InDelta(t, 5000.0, IdleWindowSize(0), 1e-9)
	assert.Less(t, IdleWindowSize(10_000), IdleWindowSize(1_000))
	assert.InDelta(t, 1000.0, IdleWindowSize(1e9), 1e-9)
}

func TestQueueingTime(t *testing.T) {
	window := Interval{Start: 0, End: 5000}

	assert.Zero(t, QueueingTime(nil, window, 0.9))
	// 8% of the window is busy: 90% of inputs wait for nothing
	assert.Zero(t, QueueingTime([]Interval{{0, 400}}, window, 0.9))
	assert.InDelta(t, 500.0, QueueingTime([]Interval{{0, 1000}}, window, 0.9), 1e-9)
	assert.InDelta(t, 500.0, QueueingTime([]Interval{{0, 1000}, {2000, 2500}}, window, 0.9), 1e-9)
	// clipped to the window
	assert.InDelta(t, 500.0, QueueingTime([]Interval{{-1000, 1000}}, window, 0.9), 1e-9)

	assert.InDelta(t, BaseInputLatency, RollingInputLatency(0, nil), 1e-9)
	assert.InDelta(t, BaseInputLatency+500, RollingInputLatency(0, []Interval{{1000, 2000}}), 1e-9)
}

func TestLayoutSpeedIndex(t *testing.T) {
	assert.Equal(t, 500.0, LayoutSpeedIndex(nil, 500))

	samples := []LayoutSample{
		NewLayoutSample(Interval{Start: 0, End: 256}),
		NewLayoutSample(Interval{Start: 1000, End: 1016}),
	}
	assert.InDelta(t, 8.0, samples[0].Weight, 1e-9)
	assert.InDelta(t, (8*500+4*1016)/12.0, LayoutSpeedIndex(samples, 500), 1e-9)
}

func TestNetworkQuietPeriods(t *testing.T) {
	requests := []Interval{{100, 300}, {100, 300}, {200, 400}, {300, 500}}
	periods := NetworkQuietPeriods(requests, 2, 0, 1000)
	// the third request makes it busy at 200; at 300 two finish and one starts
	assert.Equal(t, []Interval{{0, 200}, {300, 1000}}, periods)

	assert.Equal(t, []Interval{{0, 1000}}, NetworkQuietPeriods(nil, 2, 0, 1000))
}
