package metrics

import (
	"context"
	"fmt"
	"math"

	"github.com/pb33f/lantern/graph"
	"github.com/pb33f/lantern/motor/model"
	"github.com/pb33f/lantern/simulator"
	"github.com/pb33f/lantern/tracing"
)

// Side is one of the two bounding simulation profiles.
type Side int

const (
	Optimistic Side = iota
	Pessimistic
)

func (s Side) String() string {
	if s == Pessimistic {
		return "pessimistic"
	}
	return "optimistic"
}

// Sides lists both bounds, optimistic first.
var Sides = []Side{Optimistic, Pessimistic}

// Estimate returns the estimate of the given side.
func (r *Result) Estimate(side Side) *Estimate {
	if side == Pessimistic {
		return r.Pessimistic
	}
	return r.Optimistic
}

// SimulateFunc simulates g under the profile of side.
type SimulateFunc func(ctx context.Context, g *graph.Graph, side Side) (*simulator.Result, error)

// GraphFunc returns the graph side simulates for m.
type GraphFunc func(ctx context.Context, m Metric, side Side) (*graph.Graph, error)

// LanternInput is what a lantern metric is estimated from.
type LanternInput struct {
	// Graph is the full page dependency graph
	Graph *graph.Graph
	// Tab supplies the paint markers that select the graph of paint metrics
	Tab          *model.TraceOfTab
	Coefficients Coefficients
	// Dependencies holds the lantern results named by Metric.Dependencies
	Dependencies map[Metric]*Result
	// Graphs overrides SelectGraph over Graph and Tab when set
	Graphs GraphFunc
}

// Lantern estimates m by simulating the graph selected for each side and blending the two
// estimates.
func Lantern(ctx context.Context, m Metric, in LanternInput, simulate SimulateFunc) (*Result, error) {
	graphs := in.Graphs
	if graphs == nil {
		if in.Graph == nil {
			return nil, fmt.Errorf("%s: lantern metrics need a dependency graph", m)
		}
		graphs = func(_ context.Context, m Metric, side Side) (*graph.Graph, error) {
			return SelectGraph(m, side, in.Graph, in.Tab)
		}
	}
	for _, dep := range m.Dependencies() {
		r, ok := in.Dependencies[dep]
		if !ok || r == nil || r.Optimistic == nil || r.Pessimistic == nil {
			return nil, fmt.Errorf("%s: missing lantern %s estimate", m, dep)
		}
	}

	result := &Result{Metric: m, Method: MethodLantern}
	for _, side := range Sides {
		g, err := graphs(ctx, m, side)
		if err != nil {
			return nil, err
		}
		sim, err := simulate(ctx, g, side)
		if err != nil {
			return nil, fmt.Errorf("%s: simulating %s graph: %w", m, side, err)
		}
		est, err := estimate(m, side, sim, in.Dependencies)
		if err != nil {
			return nil, fmt.Errorf("%s: %s estimate: %w", m, side, err)
		}
		est.Graph, est.Simulation = g, sim

		if side == Pessimistic {
			result.Pessimistic = est
		} else {
			result.Optimistic = est
		}
	}

	result.Timing = math.Max(in.Coefficients.Blend(result.Optimistic.Timing, result.Pessimistic.Timing), 0)
	if m == SpeedIndex {
		result.Timing = math.Max(result.Timing, in.Dependencies[FirstContentfulPaint].Timing)
	}
	return result, nil
}

// SelectGraph returns the part of full that side simulates for m.
func SelectGraph(m Metric, side Side, full *graph.Graph, tab *model.TraceOfTab) (*graph.Graph, error) {
	switch m {
	case FirstContentfulPaint, FirstMeaningfulPaint:
		paint, err := paintTimestamp(m, tab)
		if err != nil {
			return nil, err
		}
		return full.Filter(func(n graph.Node) bool {
			if n.EndTime() > paint {
				return false
			}
			if nn, ok := n.(*graph.NetworkNode); ok && side == Optimistic {
				return renderBlocking(nn.Record)
			}
			return true
		})

	case Interactive, FirstCPUIdle:
		if side == Pessimistic {
			return full, nil
		}
		return full.Filter(func(n graph.Node) bool {
			nn, ok := n.(*graph.NetworkNode)
			if !ok {
				return true
			}
			switch nn.Record.ResourceType {
			case model.ResourceImage, model.ResourceMedia, model.ResourceFont, model.ResourceOther:
				return false
			}
			return true
		})

	case SpeedIndex, EstimatedInputLatency:
		return full, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
}

func paintTimestamp(m Metric, tab *model.TraceOfTab) (float64, error) {
	name, v := model.EventFirstContentfulPaint, (*float64)(nil)
	if m == FirstMeaningfulPaint {
		name = model.EventFirstMeaningfulPaint
	}
	if tab != nil {
		v = tab.Timestamps.FirstContentfulPaint
		if m == FirstMeaningfulPaint {
			v = tab.Timestamps.FirstMeaningfulPaint
		}
	}
	return marker(name, v)
}

// renderBlocking reports whether the browser holds the first paint for r
func renderBlocking(r *model.NetworkRecord) bool {
	if r.Priority != "" {
		return r.Priority == "VeryHigh" || (r.Priority == "High" && r.ResourceType == model.ResourceScript)
	}
	switch r.ResourceType {
	case model.ResourceDocument, model.ResourceStylesheet:
		return true
	case model.ResourceScript:
		return r.Initiator.Type == model.InitiatorParser
	}
	return false
}

// simulated pairs a node with its simulated interval
type simulated struct {
	node     graph.Node
	interval Interval
}

func timeline(sim *simulator.Result) (cpu, network []simulated) {
	for _, e := range sim.Sorted() {
		s := simulated{node: e.Node, interval: Interval{Start: e.Timing.StartTime, End: e.Timing.EndTime}}
		switch n := e.Node.(type) {
		case *graph.CPUNode:
			cpu = append(cpu, s)
		case *graph.NetworkNode:
			if !n.IsNonNetwork() {
				network = append(network, s)
			}
		}
	}
	return cpu, network
}

func intervals(items []simulated) []Interval {
	out := make([]Interval, len(items))
	for i, s := range items {
		out[i] = s.interval
	}
	return out
}

func longest(items []simulated, threshold float64) []simulated {
	var long []simulated
	for _, s := range items {
		if s.interval.Duration() > threshold {
			long = append(long, s)
		}
	}
	return long
}

func estimate(m Metric, side Side, sim *simulator.Result, deps map[Metric]*Result) (*Estimate, error) {
	cpu, network := timeline(sim)

	switch m {
	case FirstContentfulPaint, FirstMeaningfulPaint:
		est := &Estimate{Timing: sim.TotalTime}
		latest := math.Inf(-1)
		for _, e := range sim.Sorted() {
			if e.Timing.EndTime > latest {
				latest = e.Timing.EndTime
				est.Node, est.HasNode = e.Node.ID(), true
			}
		}
		return est, nil

	case Interactive:
		fmp := deps[FirstMeaningfulPaint].Estimate(side).Timing
		long := longest(cpu, tracing.LongTaskThreshold)
		at, last, err := interactiveAt(fmp, 0, math.Inf(1), intervals(long), intervals(network))
		if err != nil {
			return nil, err
		}
		est := &Estimate{Timing: at}
		if last >= 0 {
			est.Node, est.HasNode = long[last].node.ID(), true
		}
		return est, nil

	case FirstCPUIdle:
		fmp := deps[FirstMeaningfulPaint].Estimate(side).Timing
		long := longest(cpu, tracing.LongTaskThreshold)
		at, last, err := FindIdleWindow(fmp, math.Inf(1), intervals(long))
		if err != nil {
			return nil, err
		}
		est := &Estimate{Timing: at}
		if last >= 0 {
			est.Node, est.HasNode = long[last].node.ID(), true
		}
		return est, nil

	case SpeedIndex:
		fcp := deps[FirstContentfulPaint].Estimate(side).Timing
		est := &Estimate{}
		var samples []LayoutSample
		latest := math.Inf(-1)
		for _, s := range cpu {
			if !s.node.(*graph.CPUNode).HasEvent(model.EventLayout) {
				continue
			}
			samples = append(samples, NewLayoutSample(s.interval))
			if s.interval.End > latest {
				latest = s.interval.End
				est.Node, est.HasNode = s.node.ID(), true
			}
		}
		est.Timing = LayoutSpeedIndex(samples, fcp)
		return est, nil

	case EstimatedInputLatency:
		fmp := deps[FirstMeaningfulPaint].Estimate(side).Timing
		est := &Estimate{Timing: RollingInputLatency(fmp, intervals(cpu))}
		worst := 0.0
		for _, s := range cpu {
			if s.interval.End > fmp && s.interval.Duration() > worst {
				worst = s.interval.Duration()
				est.Node, est.HasNode = s.node.ID(), true
			}
		}
		return est, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
}
