package model

import "encoding/json"

// Well-known trace event names.
const (
	EventNavigationStart       = "navigationStart"
	EventFirstPaint            = "firstPaint"
	EventFirstContentfulPaint  = "firstContentfulPaint"
	EventFirstMeaningfulPaint  = "firstMeaningfulPaint"
	EventFMPCandidate          = "firstMeaningfulPaintCandidate"
	EventDOMContentLoaded      = "domContentLoadedEventEnd"
	EventLoad                  = "loadEventEnd"
	EventTracingStartedInPage  = "TracingStartedInPage"
	EventTracingStartedBrowser = "TracingStartedInBrowser"
	EventThreadName            = "thread_name"
	EventLayout                = "Layout"
)

// CallFrame is a single entry of a JS stack captured in event args.
type CallFrame struct {
	URL          string `json:"url"`
	FunctionName string `json:"functionName,omitempty"`
	LineNumber   int    `json:"lineNumber,omitempty"`
}

// FrameInfo describes a frame announced by TracingStartedInBrowser.
type FrameInfo struct {
	Frame     string `json:"frame"`
	URL       string `json:"url,omitempty"`
	Parent    string `json:"parent,omitempty"`
	ProcessID int    `json:"processId,omitempty"`
}

// EventData is the subset of args.data used by graph construction and trace processing.
type EventData struct {
	URL           string      `json:"url,omitempty"`
	RequestID     string      `json:"requestId,omitempty"`
	TimerID       json.Number `json:"timerId,omitempty"`
	ReadyState    int         `json:"readyState,omitempty"`
	StyleSheetURL string      `json:"styleSheetUrl,omitempty"`
	Page          string      `json:"page,omitempty"`
	Frame         string      `json:"frame,omitempty"`
	StackTrace    []CallFrame `json:"stackTrace,omitempty"`
	Frames        []FrameInfo `json:"frames,omitempty"`
}

// EventArgs holds the typed args of a trace event.
type EventArgs struct {
	Frame string     `json:"frame,omitempty"`
	Name  string     `json:"name,omitempty"`
	Data  *EventData `json:"data,omitempty"`
}

// TraceEvent is one entry of a Chrome trace. TS and Dur are microseconds as recorded.
type TraceEvent struct {
	Name string    `json:"name"`
	Cat  string    `json:"cat"`
	Ph   string    `json:"ph"`
	TS   float64   `json:"ts"`
	Dur  float64   `json:"dur,omitempty"`
	PID  int       `json:"pid"`
	TID  int       `json:"tid"`
	Args EventArgs `json:"args"`
}

// Start returns the event timestamp in ms.
func (e *TraceEvent) Start() float64 {
	return e.TS / 1000
}

// End returns the event end in ms.
func (e *TraceEvent) End() float64 {
	return (e.TS + e.Dur) / 1000
}

// Duration returns the event duration in ms.
func (e *TraceEvent) Duration() float64 {
	return e.Dur / 1000
}

// DataURL returns args.data.url, if any.
func (e *TraceEvent) DataURL() string {
	if e.Args.Data == nil {
		return ""
	}
	return e.Args.Data.URL
}

// StackURLs returns the non-empty URLs of args.data.stackTrace.
func (e *TraceEvent) StackURLs() []string {
	if e.Args.Data == nil {
		return nil
	}
	var urls []string
	for _, f := range e.Args.Data.StackTrace {
		if f.URL != "" {
			urls = append(urls, f.URL)
		}
	}
	return urls
}

// Trace is an ordered sequence of trace events.
type Trace struct {
	Events      []TraceEvent
	fingerprint string
}

// NewTrace wraps events; fingerprint is computed by the caller that decoded them.
func NewTrace(events []TraceEvent, fingerprint string) *Trace {
	return &Trace{Events: events, fingerprint: fingerprint}
}

// Fingerprint identifies the structural content of the trace.
func (t *Trace) Fingerprint() string {
	return t.fingerprint
}

// ProtocolMessage is one devtools protocol event.
type ProtocolMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// DevtoolsLog is an ordered sequence of protocol messages.
type DevtoolsLog struct {
	Messages    []ProtocolMessage
	fingerprint string
}

// NewDevtoolsLog wraps messages with their fingerprint.
func NewDevtoolsLog(messages []ProtocolMessage, fingerprint string) *DevtoolsLog {
	return &DevtoolsLog{Messages: messages, fingerprint: fingerprint}
}

// Fingerprint identifies the structural content of the log.
func (l *DevtoolsLog) Fingerprint() string {
	return l.fingerprint
}
