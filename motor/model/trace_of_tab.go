package model

// TraceTimes holds marker times. Optional markers are nil when absent from the trace.
type TraceTimes struct {
	NavigationStart      float64  `json:"navigationStart"`
	FirstPaint           *float64 `json:"firstPaint,omitempty"`
	FirstContentfulPaint *float64 `json:"firstContentfulPaint,omitempty"`
	FirstMeaningfulPaint *float64 `json:"firstMeaningfulPaint,omitempty"`
	DOMContentLoaded     *float64 `json:"domContentLoaded,omitempty"`
	Load                 *float64 `json:"load,omitempty"`
	TraceEnd             float64  `json:"traceEnd"`
}

// TraceOfTab is the processed view of a trace scoped to the inspected page.
// Timestamps are absolute ms; Timings are relative to navigation start.
type TraceOfTab struct {
	Timings    TraceTimes
	Timestamps TraceTimes

	FrameID   string
	PID       int
	TID       int

	ProcessEvents    []TraceEvent
	MainThreadEvents []TraceEvent

	NavigationStartEvt *TraceEvent
	FirstPaintEvt      *TraceEvent
	FCPEvt             *TraceEvent
	FMPEvt             *TraceEvent
	DCLEvt             *TraceEvent
	LoadEvt            *TraceEvent
	FMPFellBack        bool
}
