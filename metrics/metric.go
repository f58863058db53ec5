// Package metrics computes page-load metrics, either straight from observed trace markers or
// from the simulated timelines of the page dependency graph.
package metrics

import (
	"errors"
	"fmt"

	"github.com/pb33f/lantern/graph"
	"github.com/pb33f/lantern/simulator"
)

// Metric names a page-load metric.
type Metric string

const (
	FirstContentfulPaint  Metric = "first-contentful-paint"
	FirstMeaningfulPaint  Metric = "first-meaningful-paint"
	Interactive           Metric = "interactive"
	FirstCPUIdle          Metric = "first-cpu-idle"
	SpeedIndex            Metric = "speed-index"
	EstimatedInputLatency Metric = "estimated-input-latency"
)

// Method selects how a metric is computed.
type Method string

const (
	MethodObserved Method = "observed"
	MethodLantern  Method = "lantern"
)

var ErrUnknownMetric = errors.New("unknown metric")

var all = []Metric{
	FirstContentfulPaint,
	FirstMeaningfulPaint,
	Interactive,
	FirstCPUIdle,
	SpeedIndex,
	EstimatedInputLatency,
}

// All returns every supported metric in reporting order.
func All() []Metric {
	return append([]Metric(nil), all...)
}

func Parse(name string) (Metric, error) {
	for _, m := range all {
		if string(m) == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}

func ParseMethod(name string) (Method, error) {
	switch Method(name) {
	case MethodObserved, MethodLantern:
		return Method(name), nil
	}
	return "", fmt.Errorf("unknown method %q, want %q or %q", name, MethodObserved, MethodLantern)
}

// Dependencies lists the lantern estimates m is computed from. the observed path has none.
func (m Metric) Dependencies() []Metric {
	switch m {
	case Interactive, FirstCPUIdle, EstimatedInputLatency:
		return []Metric{FirstMeaningfulPaint}
	case SpeedIndex:
		return []Metric{FirstContentfulPaint}
	}
	return nil
}

// Estimate is one profile's view of a lantern metric.
type Estimate struct {
	Timing float64 `json:"timing"`
	// Node is the graph node that determined Timing
	Node    graph.NodeID `json:"node,omitempty"`
	HasNode bool         `json:"hasNode"`

	Graph      *graph.Graph      `json:"-"`
	Simulation *simulator.Result `json:"-"`
}

// Result is a computed metric. Timing is ms relative to navigation start (observed) or to the
// start of the simulated load (lantern); latency metrics are durations either way.
type Result struct {
	Metric       Metric  `json:"metric"`
	Method       Method  `json:"method"`
	Timing       float64 `json:"timing"`
	Timestamp    float64 `json:"timestamp,omitempty"`
	HasTimestamp bool    `json:"hasTimestamp"`

	Optimistic  *Estimate `json:"optimistic,omitempty"`
	Pessimistic *Estimate `json:"pessimistic,omitempty"`
}

func observed(m Metric, timing, navStart float64) *Result {
	return &Result{Metric: m, Method: MethodObserved, Timing: timing, Timestamp: navStart + timing, HasTimestamp: true}
}
