// Package simulator replays a page dependency graph under a network and CPU profile. it is
// a deterministic discrete-event simulation: time jumps from one phase completion to the
// next, requests contend for per-origin connections and shared bandwidth, and CPU work
// runs on a single main thread in dependency order.
package simulator

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/pb33f/lantern/graph"
	"github.com/pb33f/lantern/network"
)

// ErrStalled is returned when unfinished nodes can never start. a validated graph cannot
// trigger it.
var ErrStalled = errors.New("simulation stalled")

const epsilon = 1e-9

// Options are the knobs that do not vary between profiles.
type Options struct {
	// CachedResponseTime is how long a response served from cache takes, in ms
	CachedResponseTime float64 `mapstructure:"cached_response_time" json:"cachedResponseTime"`
}

func DefaultOptions() Options {
	return Options{CachedResponseTime: 8}
}

// Simulator replays graphs for one analysis and profile.
type Simulator struct {
	analysis *network.Analysis
	profile  Profile
	options  Options
}

func New(analysis *network.Analysis, profile Profile, options Options) (*Simulator, error) {
	if analysis == nil {
		return nil, errors.New("simulator needs a network analysis")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if analysis.Throughput <= 0 {
		return nil, fmt.Errorf("simulator needs a positive throughput, got %v", analysis.Throughput)
	}
	if options.CachedResponseTime < 0 {
		options.CachedResponseTime = 0
	}
	return &Simulator{analysis: analysis, profile: profile, options: options}, nil
}

func (s *Simulator) Profile() Profile {
	return s.profile
}

type phase int

const (
	phaseLatency phase = iota
	phaseTransfer
	phaseCPU
)

// running is a node occupying a resource
type running struct {
	node      graph.Node
	phase     phase
	remaining float64 // ms for latency and cpu, bytes for transfer
	origin    string
	slot      bool
}

type run struct {
	sim   *Simulator
	g     *graph.Graph
	now   float64
	ready []graph.Node

	active     []*running
	cpuBusy    bool
	cpuOrder   []graph.NodeID // cpu nodes in topological order, the order they run in
	cpuNext    int
	finished   int
	slots      map[string]int
	waiting    map[graph.NodeID]int
	timings    map[graph.NodeID]NodeTiming
	bytesPerMs float64
}

// Simulate replays g from time zero and returns the timing of every node.
func (s *Simulator) Simulate(g *graph.Graph) (*Result, error) {
	r := &run{
		sim:        s,
		g:          g,
		slots:      make(map[string]int),
		waiting:    make(map[graph.NodeID]int, g.Len()),
		timings:    make(map[graph.NodeID]NodeTiming, g.Len()),
		bytesPerMs: s.analysis.Throughput * s.profile.ThroughputMultiplier / 1000,
	}
	for _, n := range g.Nodes() {
		r.waiting[n.ID()] = len(g.Predecessors(n.ID()))
	}
	for _, id := range g.TopologicalOrder() {
		if n, _ := g.Node(id); n.Type() == graph.NodeTypeCPU {
			r.cpuOrder = append(r.cpuOrder, id)
		}
	}
	r.ready = []graph.Node{g.Root()}

	for r.finished < g.Len() {
		r.startReady()
		if len(r.active) == 0 {
			return nil, fmt.Errorf("%w: %d of %d nodes finished at %.1fms", ErrStalled, r.finished, g.Len(), r.now)
		}
		r.step()
	}

	total := 0.0
	for _, t := range r.timings {
		total = max(total, t.EndTime)
	}
	return &Result{Profile: s.profile, TotalTime: total, timings: r.timings, graph: g}, nil
}

// startReady starts every ready node whose resources are free. nodes that finish on the
// spot can release dependents, so it repeats until nothing changes.
func (r *run) startReady() {
	for {
		progressed := false
		remaining := r.ready[:0:0]
		for _, n := range r.ready {
			if r.start(n) {
				progressed = true
				continue
			}
			remaining = append(remaining, n)
		}
		r.ready = remaining
		if !progressed {
			return
		}
		r.sortReady()
	}
}

func (r *run) start(n graph.Node) bool {
	switch node := n.(type) {
	case *graph.CPUNode:
		// the main thread takes cpu nodes strictly in order, whichever profile made one
		// ready first
		if r.cpuBusy || r.cpuNext >= len(r.cpuOrder) || r.cpuOrder[r.cpuNext] != n.ID() {
			return false
		}
		r.cpuBusy = true
		r.cpuNext++
		r.timings[n.ID()] = NodeTiming{StartTime: r.now, ResponseStart: r.now}
		r.active = append(r.active, &running{node: n, phase: phaseCPU, remaining: node.Duration() * r.sim.profile.CPUMultiplier})
		return true

	case *graph.NetworkNode:
		if node.IsNonNetwork() {
			r.timings[n.ID()] = NodeTiming{StartTime: r.now, ResponseStart: r.now}
			r.finish(n)
			return true
		}
		if node.FromCache() {
			r.timings[n.ID()] = NodeTiming{StartTime: r.now}
			r.active = append(r.active, &running{node: n, phase: phaseLatency, remaining: r.sim.options.CachedResponseTime})
			return true
		}

		origin := node.Origin()
		if r.slots[origin] >= r.sim.profile.MaxConnectionsPerOrigin {
			return false
		}
		r.slots[origin]++
		r.timings[n.ID()] = NodeTiming{StartTime: r.now}
		r.active = append(r.active, &running{
			node:      n,
			phase:     phaseLatency,
			remaining: r.sim.analysis.OriginLatency(origin, r.sim.profile.RTTMultiplier),
			origin:    origin,
			slot:      true,
		})
		return true
	}
	return false
}

// step advances to the earliest phase completion and settles everything that completes then
func (r *run) step() {
	transferring := 0
	for _, a := range r.active {
		if a.phase == phaseTransfer {
			transferring++
		}
	}
	share := 0.0
	if transferring > 0 {
		share = r.bytesPerMs / float64(transferring)
	}

	dt := math.Inf(1)
	for _, a := range r.active {
		dt = min(dt, r.timeLeft(a, share))
	}
	dt = max(dt, 0)

	r.now += dt
	var done []*running
	still := r.active[:0]
	for _, a := range r.active {
		left := r.timeLeft(a, share) - dt
		if left <= epsilon*max(1, r.now) {
			done = append(done, a)
			continue
		}
		if a.phase == phaseTransfer {
			a.remaining -= share * dt
		} else {
			a.remaining -= dt
		}
		still = append(still, a)
	}
	r.active = still

	// settle in observed order so ties resolve the same way every run
	sort.SliceStable(done, func(i, j int) bool {
		return r.g.Index(done[i].node.ID()) < r.g.Index(done[j].node.ID())
	})
	for _, a := range done {
		r.complete(a)
	}
	r.sortReady()
}

func (r *run) timeLeft(a *running, share float64) float64 {
	if a.phase == phaseTransfer {
		return a.remaining / share
	}
	return a.remaining
}

func (r *run) complete(a *running) {
	id := a.node.ID()
	switch a.phase {
	case phaseLatency:
		t := r.timings[id]
		t.ResponseStart = r.now
		r.timings[id] = t

		if node, ok := a.node.(*graph.NetworkNode); ok && a.slot && node.TransferSize() > 0 {
			a.phase = phaseTransfer
			a.remaining = float64(node.TransferSize())
			r.active = append(r.active, a)
			return
		}
	case phaseCPU:
		r.cpuBusy = false
	}

	if a.slot {
		r.slots[a.origin]--
	}
	r.finish(a.node)
}

func (r *run) finish(n graph.Node) {
	t := r.timings[n.ID()]
	t.EndTime = r.now
	r.timings[n.ID()] = t
	r.finished++

	for _, d := range r.g.Dependents(n.ID()) {
		r.waiting[d]--
		if r.waiting[d] == 0 {
			dep, _ := r.g.Node(d)
			r.ready = append(r.ready, dep)
		}
	}
}

func (r *run) sortReady() {
	sort.SliceStable(r.ready, func(i, j int) bool {
		return r.g.Index(r.ready[i].ID()) < r.g.Index(r.ready[j].ID())
	})
}
