// Package tracing turns a raw Chrome trace into the per-tab view used by the graph
// builder and the metric computors.
package tracing

import (
	"github.com/pb33f/lantern/motor/model"
)

const rendererMainThread = "CrRendererMain"

// ComputeTraceOfTab locates the inspected page's frame, process and main thread, and
// extracts its navigation markers. Every marker is optional once the frame is known: an
// absent marker is reported by the metric that needs it. Without navigationStart there is no
// origin for relative times: NavigationStartEvt stays nil and Timings stays empty, while
// Timestamps are still filled.
func ComputeTraceOfTab(trace *model.Trace) (*model.TraceOfTab, error) {
	if trace == nil || len(trace.Events) == 0 {
		return nil, MissingMarker(model.EventNavigationStart)
	}
	events := trace.Events

	tab := &model.TraceOfTab{}
	if !findMainFrame(events, tab) {
		return nil, MissingMarker(model.EventNavigationStart)
	}

	for i := range events {
		if events[i].PID == tab.PID {
			tab.ProcessEvents = append(tab.ProcessEvents, events[i])
		}
	}

	if tab.TID == 0 {
		tab.TID = rendererMainThreadID(tab.ProcessEvents, tab.PID)
	}
	for i := range tab.ProcessEvents {
		if tab.ProcessEvents[i].TID == tab.TID {
			tab.MainThreadEvents = append(tab.MainThreadEvents, tab.ProcessEvents[i])
		}
	}

	frameEvents := tab.ProcessEvents[:0:0]
	for i := range tab.ProcessEvents {
		if tab.ProcessEvents[i].Args.Frame == tab.FrameID {
			frameEvents = append(frameEvents, tab.ProcessEvents[i])
		}
	}

	navTS := 0.0
	tab.NavigationStartEvt = first(frameEvents, model.EventNavigationStart, 0)
	if tab.NavigationStartEvt != nil {
		navTS = tab.NavigationStartEvt.TS
	}

	tab.FirstPaintEvt = first(frameEvents, model.EventFirstPaint, navTS)
	tab.FCPEvt = first(frameEvents, model.EventFirstContentfulPaint, navTS)
	tab.FMPEvt = first(frameEvents, model.EventFirstMeaningfulPaint, navTS)
	if tab.FMPEvt == nil {
		// fall back to the last candidate, same as the browser would have picked
		if candidate := last(frameEvents, model.EventFMPCandidate, navTS); candidate != nil {
			tab.FMPEvt = candidate
			tab.FMPFellBack = true
		}
	}
	tab.DCLEvt = first(frameEvents, model.EventDOMContentLoaded, navTS)
	tab.LoadEvt = first(frameEvents, model.EventLoad, navTS)

	traceEnd := 0.0
	for i := range events {
		traceEnd = max(traceEnd, events[i].End())
	}

	navStart := startOf(tab.NavigationStartEvt, 0)
	tab.Timestamps = model.TraceTimes{
		FirstPaint:           startOf(tab.FirstPaintEvt, 0),
		FirstContentfulPaint: startOf(tab.FCPEvt, 0),
		FirstMeaningfulPaint: startOf(tab.FMPEvt, 0),
		DOMContentLoaded:     startOf(tab.DCLEvt, 0),
		Load:                 startOf(tab.LoadEvt, 0),
		TraceEnd:             traceEnd,
	}
	if navStart == nil {
		return tab, nil
	}
	tab.Timestamps.NavigationStart = *navStart
	tab.Timings = model.TraceTimes{
		NavigationStart:      0,
		FirstPaint:           startOf(tab.FirstPaintEvt, *navStart),
		FirstContentfulPaint: startOf(tab.FCPEvt, *navStart),
		FirstMeaningfulPaint: startOf(tab.FMPEvt, *navStart),
		DOMContentLoaded:     startOf(tab.DCLEvt, *navStart),
		Load:                 startOf(tab.LoadEvt, *navStart),
		TraceEnd:             traceEnd - *navStart,
	}

	return tab, nil
}

// findMainFrame fills the frame id, pid and (when known) tid of the inspected page.
func findMainFrame(events []model.TraceEvent, tab *model.TraceOfTab) bool {
	for i := range events {
		e := &events[i]
		if e.Name == model.EventTracingStartedInPage && e.Args.Data != nil && e.Args.Data.Page != "" {
			tab.FrameID, tab.PID, tab.TID = e.Args.Data.Page, e.PID, e.TID
			return true
		}
	}

	for i := range events {
		e := &events[i]
		if e.Name != model.EventTracingStartedBrowser || e.Args.Data == nil {
			continue
		}
		for _, f := range e.Args.Data.Frames {
			if f.Parent == "" && f.ProcessID != 0 {
				tab.FrameID, tab.PID = f.Frame, f.ProcessID
				return true
			}
		}
	}

	// older traces without a tracing-started event: trust the first navigation
	for i := range events {
		e := &events[i]
		if e.Name == model.EventNavigationStart && e.Args.Frame != "" {
			tab.FrameID, tab.PID, tab.TID = e.Args.Frame, e.PID, e.TID
			return true
		}
	}
	return false
}

func rendererMainThreadID(processEvents []model.TraceEvent, pid int) int {
	for i := range processEvents {
		e := &processEvents[i]
		if e.Name == model.EventThreadName && e.PID == pid && e.Args.Name == rendererMainThread {
			return e.TID
		}
	}
	return 0
}

func first(events []model.TraceEvent, name string, notBefore float64) *model.TraceEvent {
	for i := range events {
		if events[i].Name == name && events[i].TS >= notBefore {
			e := events[i]
			return &e
		}
	}
	return nil
}

func last(events []model.TraceEvent, name string, notBefore float64) *model.TraceEvent {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name == name && events[i].TS >= notBefore {
			e := events[i]
			return &e
		}
	}
	return nil
}

func startOf(e *model.TraceEvent, origin float64) *float64 {
	if e == nil {
		return nil
	}
	v := e.Start() - origin
	return &v
}
