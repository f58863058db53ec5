package simulator

import (
	"fmt"
	"testing"

	"github.com/pb33f/lantern/graph"
	"github.com/pb33f/lantern/motor"
	"github.com/pb33f/lantern/motor/model"
	"github.com/pb33f/lantern/network"
	"github.com/pb33f/lantern/pagegen"
	"github.com/pb33f/lantern/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analysis() *network.Analysis {
	return &network.Analysis{
		RTT:                        50,
		Throughput:                 1_600_000,
		AdditionalRTTByOrigin:      map[string]float64{},
		ServerResponseTimeByOrigin: map[string]float64{},
	}
}

func netNode(id, url string, start, end float64, size int64) *graph.NetworkNode {
	return graph.NewNetworkNode(&model.NetworkRecord{
		RequestID:    id,
		URL:          url,
		Origin:       model.OriginOf(url),
		StartTime:    start,
		EndTime:      end,
		TransferSize: size,
		Finished:     true,
	})
}

func cpuNode(id string, start, dur float64) *graph.CPUNode {
	return graph.NewCPUNode(graph.NodeID(id), []*tracing.Task{{
		Event: model.TraceEvent{Name: "RunTask", Ph: "X", TS: start * 1000, Dur: dur * 1000},
		Start: start,
		End:   start + dur,
	}})
}

// build wires edges given as [from, to] pairs; the first node is the root
func build(t *testing.T, nodes []graph.Node, edges [][2]string) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder()
	for _, n := range nodes {
		require.NoError(t, b.AddNode(n))
	}
	for _, e := range edges {
		require.NoError(t, b.AddEdge(graph.NodeID(e[0]), graph.NodeID(e[1])))
	}
	g, err := b.Build(nodes[0].ID())
	require.NoError(t, err)
	return g
}

func simulate(t *testing.T, g *graph.Graph, a *network.Analysis, p Profile) *Result {
	t.Helper()
	sim, err := New(a, p, DefaultOptions())
	require.NoError(t, err)
	result, err := sim.Simulate(g)
	require.NoError(t, err)
	return result
}

func timing(t *testing.T, r *Result, id string) NodeTiming {
	t.Helper()
	nt, ok := r.Timing(graph.NodeID(id))
	require.True(t, ok, "no timing for %s", id)
	return nt
}

func TestSimulate_SingleDocument(t *testing.T) {
	g := build(t, []graph.Node{netNode("doc", "https://x.com/", 0, 100, 160_000)}, nil)

	optimistic := simulate(t, g, analysis(), Optimistic())
	assert.InDelta(t, 150.0, optimistic.TotalTime, 1e-6)
	doc := timing(t, optimistic, "doc")
	assert.InDelta(t, 0.0, doc.StartTime, 1e-9)
	assert.InDelta(t, 50.0, doc.ResponseStart, 1e-6)
	assert.InDelta(t, 150.0, doc.EndTime, 1e-6)

	// doubling the round trip alone adds one more rtt
	slowRTT := Optimistic()
	slowRTT.Name, slowRTT.RTTMultiplier = "slow-rtt", 2
	assert.InDelta(t, 200.0, simulate(t, g, analysis(), slowRTT).TotalTime, 1e-6)

	// the stock pessimistic profile also halves throughput
	assert.InDelta(t, 300.0, simulate(t, g, analysis(), Pessimistic()).TotalTime, 1e-6)
}

func TestSimulate_ScriptAfterDocument(t *testing.T) {
	g := build(t, []graph.Node{
		netNode("doc", "https://x.com/", 0, 100, 160_000),
		netNode("js", "https://x.com/app.js", 100, 250, 200_000),
	}, [][2]string{{"doc", "js"}})

	optimistic := simulate(t, g, analysis(), Optimistic())
	js := timing(t, optimistic, "js")
	assert.InDelta(t, 150.0, timing(t, optimistic, "doc").EndTime, 1e-6)
	assert.InDelta(t, 150.0, js.StartTime, 1e-6)
	// first byte one rtt after the document finished, then 200kB at 1.6MB/s
	assert.InDelta(t, 200.0, js.ResponseStart, 1e-6)
	assert.InDelta(t, 325.0, js.EndTime, 1e-6)

	pessimistic := simulate(t, g, analysis(), Pessimistic())
	js = timing(t, pessimistic, "js")
	assert.InDelta(t, 300.0, timing(t, pessimistic, "doc").EndTime, 1e-6)
	assert.InDelta(t, 400.0, js.ResponseStart, 1e-6)
	assert.InDelta(t, 650.0, js.EndTime, 1e-6)
	assert.InDelta(t, 650.0, pessimistic.TotalTime, 1e-6)
}

func TestSimulate_SharedBandwidth(t *testing.T) {
	g := build(t, []graph.Node{
		netNode("doc", "https://x.com/", 0, 100, 160_000),
		netNode("a", "https://x.com/a.png", 110, 200, 80_000),
		netNode("b", "https://cdn.y.com/b.png", 120, 200, 80_000),
	}, [][2]string{{"doc", "a"}, {"doc", "b"}})

	result := simulate(t, g, analysis(), Optimistic())
	// both transfer together at half the bandwidth each
	assert.InDelta(t, 300.0, timing(t, result, "a").EndTime, 1e-6)
	assert.InDelta(t, 300.0, timing(t, result, "b").EndTime, 1e-6)
}

func TestSimulate_ConnectionLimit(t *testing.T) {
	g := build(t, []graph.Node{
		netNode("doc", "https://x.com/", 0, 100, 160_000),
		netNode("a", "https://x.com/a.png", 110, 200, 80_000),
		netNode("b", "https://x.com/b.png", 120, 200, 80_000),
	}, [][2]string{{"doc", "a"}, {"doc", "b"}})

	single := Optimistic()
	single.MaxConnectionsPerOrigin = 1

	result := simulate(t, g, analysis(), single)
	a, b := timing(t, result, "a"), timing(t, result, "b")
	assert.InDelta(t, 250.0, a.EndTime, 1e-6)
	// b waits for a's connection
	assert.InDelta(t, 250.0, b.StartTime, 1e-6)
	assert.InDelta(t, 350.0, b.EndTime, 1e-6)
}

func TestSimulate_SingleMainThread(t *testing.T) {
	g := build(t, []graph.Node{
		netNode("doc", "https://x.com/", 0, 100, 0),
		cpuNode("cpu:0", 110, 40),
		cpuNode("cpu:1", 105, 20),
	}, [][2]string{{"doc", "cpu:0"}, {"doc", "cpu:1"}})

	result := simulate(t, g, analysis(), Pessimistic())
	// no body: the document ends at first byte
	assert.InDelta(t, 100.0, timing(t, result, "doc").EndTime, 1e-6)
	// cpu:1 started first in the observed trace so it runs first, scaled by 1.5
	assert.InDelta(t, 130.0, timing(t, result, "cpu:1").EndTime, 1e-6)
	assert.InDelta(t, 130.0, timing(t, result, "cpu:0").StartTime, 1e-6)
	assert.InDelta(t, 190.0, timing(t, result, "cpu:0").EndTime, 1e-6)
}

func TestSimulate_CachedAndNonNetwork(t *testing.T) {
	cached := netNode("cached", "https://x.com/logo.png", 110, 112, 5_000)
	cached.Record.FromMemoryCache = true

	g := build(t, []graph.Node{
		netNode("doc", "https://x.com/", 0, 100, 160_000),
		cached,
		netNode("inline", "data:image/png;base64,AAAA", 105, 105, 100),
	}, [][2]string{{"doc", "cached"}, {"doc", "inline"}})

	result := simulate(t, g, analysis(), Pessimistic())
	assert.InDelta(t, 308.0, timing(t, result, "cached").EndTime, 1e-6)
	inline := timing(t, result, "inline")
	assert.InDelta(t, 300.0, inline.StartTime, 1e-6)
	assert.InDelta(t, 300.0, inline.EndTime, 1e-6)
}

func TestSimulate_OriginLatency(t *testing.T) {
	a := analysis()
	a.AdditionalRTTByOrigin["https://slow.com"] = 30
	a.ServerResponseTimeByOrigin["https://slow.com"] = 20

	g := build(t, []graph.Node{netNode("doc", "https://slow.com/", 0, 100, 0)}, nil)
	// (50 + 30 + 20) * 2
	assert.InDelta(t, 200.0, simulate(t, g, a, Pessimistic()).TotalTime, 1e-6)
}

func TestSimulate_MainThreadOrderIsFixed(t *testing.T) {
	a := analysis()
	a.RTT = 10
	a.ServerResponseTimeByOrigin["https://x.com"] = 100
	a.AdditionalRTTByOrigin["https://y.com"] = 60

	// c2 becomes ready well before c1 in both profiles, but c1 was observed first
	g := build(t, []graph.Node{
		netNode("doc", "https://x.com/", 0, 10, 0),
		netNode("n1", "https://x.com/a", 10, 120, 0),
		netNode("n2", "https://y.com/b", 11, 80, 0),
		cpuNode("c1", 150, 10),
		cpuNode("c2", 160, 1000),
	}, [][2]string{{"doc", "n1"}, {"doc", "n2"}, {"n1", "c1"}, {"n2", "c2"}})

	optimistic := simulate(t, g, a, Optimistic())
	assert.InDelta(t, 120.0, timing(t, optimistic, "n1").EndTime, 1e-6)
	assert.InDelta(t, 80.0, timing(t, optimistic, "n2").EndTime, 1e-6)
	assert.InDelta(t, 130.0, timing(t, optimistic, "c1").EndTime, 1e-6)
	assert.InDelta(t, 130.0, timing(t, optimistic, "c2").StartTime, 1e-6)
	assert.InDelta(t, 1130.0, timing(t, optimistic, "c2").EndTime, 1e-6)

	pessimistic := simulate(t, g, a, Pessimistic())
	assert.InDelta(t, 255.0, timing(t, pessimistic, "c1").EndTime, 1e-6)
	assert.InDelta(t, 1755.0, timing(t, pessimistic, "c2").EndTime, 1e-6)

	for _, n := range g.Nodes() {
		o, p := timing(t, optimistic, string(n.ID())), timing(t, pessimistic, string(n.ID()))
		assert.GreaterOrEqual(t, p.EndTime, o.EndTime, "node %s", n.ID())
	}
}

func TestSimulate_PessimisticBoundsOptimistic(t *testing.T) {
	variants := []func(*pagegen.GenerateOptions){
		func(o *pagegen.GenerateOptions) {},
		func(o *pagegen.GenerateOptions) { o.Origins, o.ServerResponse, o.RTT = 4, 400, 10 },
		func(o *pagegen.GenerateOptions) { o.Origins, o.ServerResponse, o.RTT = 5, 5, 150 },
		func(o *pagegen.GenerateOptions) { o.Resources, o.Origins, o.MaxTaskDuration = 30, 3, 400 },
		func(o *pagegen.GenerateOptions) { o.Redirect, o.Throughput = true, 200_000 },
	}

	for seed := int64(1); seed <= 24; seed++ {
		for v, vary := range variants {
			opts := pagegen.DefaultGenerateOptions
			opts.Seed = seed
			vary(&opts)

			t.Run(fmt.Sprintf("seed-%d-variant-%d", seed, v), func(t *testing.T) {
				page, err := pagegen.GenerateInMemory(opts)
				require.NoError(t, err)
				records, err := motor.RecordsFromDevtoolsLog(page.DevtoolsLog)
				require.NoError(t, err)
				tab, err := tracing.ComputeTraceOfTab(page.Trace)
				require.NoError(t, err)
				g, err := graph.BuildPageGraph(tab, records, graph.DefaultBuildOptions())
				require.NoError(t, err)
				a, err := network.Analyze(records, network.DefaultOptions())
				require.NoError(t, err)

				optimistic := simulate(t, g, a, Optimistic())
				pessimistic := simulate(t, g, a, Pessimistic())
				require.Equal(t, g.Len(), optimistic.Len())
				require.Equal(t, g.Len(), pessimistic.Len())

				for _, n := range g.Nodes() {
					o, p := timing(t, optimistic, string(n.ID())), timing(t, pessimistic, string(n.ID()))
					assert.GreaterOrEqual(t, p.EndTime+1e-6, o.EndTime, "node %s", n.ID())
				}
				assert.GreaterOrEqual(t, pessimistic.TotalTime+1e-6, optimistic.TotalTime)

				sorted := optimistic.Sorted()
				require.Len(t, sorted, g.Len())
				assert.Equal(t, g.Root().ID(), sorted[0].Node.ID())
				for i := 1; i < len(sorted); i++ {
					assert.LessOrEqual(t, sorted[i-1].Timing.StartTime, sorted[i].Timing.StartTime)
				}
			})
		}
	}
}

func TestProfile_Validate(t *testing.T) {
	require.NoError(t, Optimistic().Validate())
	require.NoError(t, Pessimistic().Validate())
	assert.True(t, Optimistic().Bounds(Pessimistic()))
	assert.False(t, Pessimistic().Bounds(Optimistic()))

	bad := []Profile{
		{RTTMultiplier: 1, ThroughputMultiplier: 1, CPUMultiplier: 1, MaxConnectionsPerOrigin: 6},
		{Name: "x", ThroughputMultiplier: 1, CPUMultiplier: 1, MaxConnectionsPerOrigin: 6},
		{Name: "x", RTTMultiplier: 1, CPUMultiplier: 1, MaxConnectionsPerOrigin: 6},
		{Name: "x", RTTMultiplier: 1, ThroughputMultiplier: 1, MaxConnectionsPerOrigin: 6},
		{Name: "x", RTTMultiplier: 1, ThroughputMultiplier: 1, CPUMultiplier: 1},
	}
	for _, p := range bad {
		assert.ErrorIs(t, p.Validate(), ErrInvalidProfile)
	}

	_, err := New(analysis(), Profile{}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidProfile)
	_, err = New(nil, Optimistic(), DefaultOptions())
	assert.Error(t, err)
}
