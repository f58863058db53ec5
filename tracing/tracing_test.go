package tracing

import (
	"errors"
	"testing"

	"github.com/pb33f/lantern/motor/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pid = 10
	tid = 20
)

func marker(name string, ms float64) model.TraceEvent {
	return model.TraceEvent{Name: name, Cat: "blink.user_timing", Ph: "R", TS: ms * 1000, PID: pid, TID: tid,
		Args: model.EventArgs{Frame: "F"}}
}

func task(name string, startMs, durMs float64) model.TraceEvent {
	return model.TraceEvent{Name: name, Cat: "toplevel", Ph: "X", TS: startMs * 1000, Dur: durMs * 1000, PID: pid, TID: tid}
}

func sampleTrace() *model.Trace {
	events := []model.TraceEvent{
		{Name: model.EventTracingStartedInPage, Ph: "I", TS: 900_000, PID: pid, TID: tid,
			Args: model.EventArgs{Data: &model.EventData{Page: "F"}}},
		// an earlier navigation in another frame must be ignored
		{Name: model.EventNavigationStart, Ph: "R", TS: 950_000, PID: pid, TID: tid, Args: model.EventArgs{Frame: "OTHER"}},
		marker(model.EventNavigationStart, 1000),
		task("RunTask", 1010, 30),
		{Name: "EvaluateScript", Ph: "X", TS: 1015_000, Dur: 10_000, PID: pid, TID: tid},
		task("RunTask", 1020, 5), // nested inside the previous task
		marker(model.EventFirstPaint, 1100),
		marker(model.EventFirstContentfulPaint, 1100),
		marker(model.EventFMPCandidate, 1150),
		marker(model.EventFMPCandidate, 1200),
		task("ThreadControllerImpl::RunTask", 1300, 80),
		marker(model.EventDOMContentLoaded, 1400),
		{Name: "RunTask", Ph: "X", TS: 1500_000, Dur: 60_000, PID: pid, TID: tid + 1},
		{Name: "other process", Ph: "X", TS: 1600_000, Dur: 400_000, PID: pid + 1, TID: 1},
	}
	return model.NewTrace(events, "")
}

func TestComputeTraceOfTab(t *testing.T) {
	tab, err := ComputeTraceOfTab(sampleTrace())
	require.NoError(t, err)

	assert.Equal(t, "F", tab.FrameID)
	assert.Equal(t, pid, tab.PID)
	assert.Equal(t, tid, tab.TID)
	assert.Len(t, tab.ProcessEvents, 13)
	assert.Len(t, tab.MainThreadEvents, 12)

	assert.InDelta(t, 1000.0, tab.Timestamps.NavigationStart, 1e-9)
	require.NotNil(t, tab.Timings.FirstContentfulPaint)
	assert.InDelta(t, 100.0, *tab.Timings.FirstContentfulPaint, 1e-9)
	require.NotNil(t, tab.Timings.FirstMeaningfulPaint)
	assert.InDelta(t, 200.0, *tab.Timings.FirstMeaningfulPaint, 1e-9)
	assert.True(t, tab.FMPFellBack)
	require.NotNil(t, tab.Timings.DOMContentLoaded)
	assert.InDelta(t, 400.0, *tab.Timings.DOMContentLoaded, 1e-9)
	assert.Nil(t, tab.Timings.Load)
	assert.Nil(t, tab.LoadEvt)

	// trace end covers every process
	assert.InDelta(t, 2000.0, tab.Timestamps.TraceEnd, 1e-9)
	assert.InDelta(t, 1000.0, tab.Timings.TraceEnd, 1e-9)
}

func TestComputeTraceOfTab_BrowserStarted(t *testing.T) {
	events := []model.TraceEvent{
		{Name: model.EventTracingStartedBrowser, Ph: "I", TS: 1, PID: 1, TID: 1, Args: model.EventArgs{Data: &model.EventData{
			Frames: []model.FrameInfo{{Frame: "CHILD", Parent: "F", ProcessID: 99}, {Frame: "F", ProcessID: pid}},
		}}},
		{Name: model.EventThreadName, Ph: "M", TS: 2, PID: pid, TID: 7, Args: model.EventArgs{Name: "Compositor"}},
		{Name: model.EventThreadName, Ph: "M", TS: 3, PID: pid, TID: tid, Args: model.EventArgs{Name: "CrRendererMain"}},
		marker(model.EventNavigationStart, 5),
	}

	tab, err := ComputeTraceOfTab(model.NewTrace(events, ""))
	require.NoError(t, err)
	assert.Equal(t, "F", tab.FrameID)
	assert.Equal(t, tid, tab.TID)
}

func TestComputeTraceOfTab_MissingNavigationStart(t *testing.T) {
	events := []model.TraceEvent{
		{Name: model.EventTracingStartedInPage, Ph: "I", TS: 1, PID: pid, TID: tid,
			Args: model.EventArgs{Data: &model.EventData{Page: "F"}}},
		task("RunTask", 5, 10),
		marker(model.EventFirstContentfulPaint, 20),
	}

	// the frame is known, so the tab is still usable through its absolute timestamps
	tab, err := ComputeTraceOfTab(model.NewTrace(events, ""))
	require.NoError(t, err)
	assert.Nil(t, tab.NavigationStartEvt)
	require.NotNil(t, tab.Timestamps.FirstContentfulPaint)
	assert.InDelta(t, 20.0, *tab.Timestamps.FirstContentfulPaint, 1e-9)
	assert.Nil(t, tab.Timings.FirstContentfulPaint)
	assert.Len(t, tab.MainThreadEvents, 3)

	// no page frame and no navigation to fall back on
	_, err = ComputeTraceOfTab(model.NewTrace([]model.TraceEvent{task("RunTask", 5, 10)}, ""))
	var mm *MissingMarkerError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, model.EventNavigationStart, mm.Marker)
	assert.True(t, errors.Is(err, ErrMissingMarker))

	_, err = ComputeTraceOfTab(model.NewTrace(nil, ""))
	assert.ErrorIs(t, err, ErrMissingMarker)
}

func TestTopLevelTasks(t *testing.T) {
	tab, err := ComputeTraceOfTab(sampleTrace())
	require.NoError(t, err)

	tasks := TopLevelTasks(tab.MainThreadEvents)
	require.Len(t, tasks, 2)

	assert.InDelta(t, 1010.0, tasks[0].Start, 1e-9)
	assert.InDelta(t, 30.0, tasks[0].Duration(), 1e-9)
	require.Len(t, tasks[0].Children, 2)
	assert.Equal(t, "EvaluateScript", tasks[0].Children[0].Name)
	assert.Equal(t, "RunTask", tasks[0].Children[1].Name)

	assert.Equal(t, "ThreadControllerImpl::RunTask", tasks[1].Event.Name)

	long := LongTasks(tasks, LongTaskThreshold)
	require.Len(t, long, 1)
	assert.InDelta(t, 1300.0, long[0].Start, 1e-9)
}
