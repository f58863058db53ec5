package simulator

import (
	"sort"

	"github.com/pb33f/lantern/graph"
)

// NodeTiming is the simulated schedule of one node, in ms from the start of the load.
type NodeTiming struct {
	StartTime     float64 `json:"startTime"`
	ResponseStart float64 `json:"responseStart"`
	EndTime       float64 `json:"endTime"`
}

func (t NodeTiming) Duration() float64 {
	return t.EndTime - t.StartTime
}

// Entry pairs a node with its simulated timing.
type Entry struct {
	Node   graph.Node
	Timing NodeTiming
}

// Result is the outcome of one simulation. it is never modified after Simulate returns.
type Result struct {
	Profile   Profile
	TotalTime float64

	timings map[graph.NodeID]NodeTiming
	graph   *graph.Graph
}

// Timing returns the simulated timing of id.
func (r *Result) Timing(id graph.NodeID) (NodeTiming, bool) {
	t, ok := r.timings[id]
	return t, ok
}

// Graph returns the graph that was simulated.
func (r *Result) Graph() *graph.Graph {
	return r.graph
}

// Len returns the number of simulated nodes.
func (r *Result) Len() int {
	return len(r.timings)
}

// Sorted returns every node ordered by simulated start, then end, then observed order.
func (r *Result) Sorted() []Entry {
	entries := make([]Entry, 0, len(r.timings))
	for _, n := range r.graph.Nodes() {
		if t, ok := r.timings[n.ID()]; ok {
			entries = append(entries, Entry{Node: n, Timing: t})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Timing, entries[j].Timing
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.EndTime < b.EndTime
	})
	return entries
}
