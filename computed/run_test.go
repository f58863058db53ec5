package computed

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/pb33f/lantern/artifact"
	"github.com/pb33f/lantern/graph"
	"github.com/pb33f/lantern/metrics"
	"github.com/pb33f/lantern/motor"
	"github.com/pb33f/lantern/motor/model"
	"github.com/pb33f/lantern/pagegen"
	"github.com/pb33f/lantern/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generated(t *testing.T, seed int64) (*pagegen.Page, Input) {
	t.Helper()
	opts := pagegen.DefaultGenerateOptions
	opts.Seed = seed
	page, err := pagegen.GenerateInMemory(opts)
	require.NoError(t, err)
	return page, Input{Trace: page.Trace, DevtoolsLog: page.DevtoolsLog}
}

func newRun(t *testing.T, settings Settings) *Run {
	t.Helper()
	run, err := NewRun(settings, nil, nil)
	require.NoError(t, err)
	return run
}

func TestRun_LanternMetrics(t *testing.T) {
	_, in := generated(t, 42)
	run := newRun(t, DefaultSettings())

	results, err := run.Metrics(context.Background(), in, metrics.All()...)
	require.NoError(t, err)
	require.Len(t, results, len(metrics.All()))

	for i, m := range metrics.All() {
		r := results[i]
		require.NotNil(t, r, m)
		assert.Equal(t, m, r.Metric)
		assert.Equal(t, metrics.MethodLantern, r.Method)
		assert.GreaterOrEqual(t, r.Timing, 0.0, m)
		require.NotNil(t, r.Optimistic, m)
		require.NotNil(t, r.Pessimistic, m)
	}

	fcp := results[0]
	assert.Positive(t, fcp.Timing)
	assert.LessOrEqual(t, fcp.Optimistic.Graph.Len(), fcp.Pessimistic.Graph.Len())
	assert.LessOrEqual(t, fcp.Optimistic.Timing, fcp.Pessimistic.Timing)
}

func TestRun_DependenciesShareArtifacts(t *testing.T) {
	_, in := generated(t, 42)
	run := newRun(t, DefaultSettings())
	ctx := context.Background()

	_, err := run.Metric(ctx, metrics.Interactive, in)
	require.NoError(t, err)
	computed := run.Resolver().Stats().Computations

	// interactive resolved first meaningful paint on the way
	_, err = run.Metric(ctx, metrics.FirstMeaningfulPaint, in)
	require.NoError(t, err)
	assert.Equal(t, computed, run.Resolver().Stats().Computations)

	// asking again for everything computed so far is served from the cache
	before := run.Resolver().Stats()
	results, err := run.Metrics(ctx, in, metrics.Interactive, metrics.FirstMeaningfulPaint)
	require.NoError(t, err)
	after := run.Resolver().Stats()
	assert.Equal(t, before.Computations, after.Computations)
	assert.Greater(t, after.Hits, before.Hits)
	assert.Same(t, results[0], mustMetric(t, run, metrics.Interactive, in))
}

func mustMetric(t *testing.T, run *Run, m metrics.Metric, in Input) *metrics.Result {
	t.Helper()
	r, err := run.Metric(context.Background(), m, in)
	require.NoError(t, err)
	return r
}

func TestRun_StructurallyEqualInputs(t *testing.T) {
	page, in := generated(t, 42)
	run := newRun(t, DefaultSettings())
	ctx := context.Background()

	g, err := run.PageGraph(ctx, in)
	require.NoError(t, err)

	// a distinct log decoded from the same messages
	raw, err := json.Marshal(page.DevtoolsLog.Messages)
	require.NoError(t, err)
	log, err := motor.ParseDevtoolsLog(bytes.NewReader(raw))
	require.NoError(t, err)
	require.NotSame(t, page.DevtoolsLog, log)

	before := run.Resolver().Stats().Computations
	again, err := run.PageGraph(ctx, Input{Trace: in.Trace, DevtoolsLog: log})
	require.NoError(t, err)
	assert.Same(t, g, again)
	assert.Equal(t, before, run.Resolver().Stats().Computations)

	// a different load is a different graph
	_, other := generated(t, 43)
	different, err := run.PageGraph(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, g.Fingerprint(), different.Fingerprint())
	assert.Greater(t, run.Resolver().Stats().Computations, before)
}

func TestRun_ObservedMetrics(t *testing.T) {
	page, in := generated(t, 7)
	settings := DefaultSettings()
	settings.Method = metrics.MethodObserved
	run := newRun(t, settings)
	ctx := context.Background()

	tab, err := tracing.ComputeTraceOfTab(page.Trace)
	require.NoError(t, err)

	fcp := mustMetric(t, run, metrics.FirstContentfulPaint, in)
	assert.Equal(t, metrics.MethodObserved, fcp.Method)
	assert.InDelta(t, *tab.Timings.FirstContentfulPaint, fcp.Timing, 1e-9)
	assert.Nil(t, fcp.Optimistic)

	results, err := run.Metrics(ctx, in, metrics.All()...)
	require.NoError(t, err)
	fmp := results[1]
	for _, r := range results[2:4] {
		// interactive and first cpu idle never come before the meaningful paint
		assert.GreaterOrEqual(t, r.Timing, fmp.Timing, r.Metric)
	}

	// without a trace there is nothing to observe
	_, err = run.Metric(ctx, metrics.FirstContentfulPaint, Input{DevtoolsLog: in.DevtoolsLog})
	assert.ErrorIs(t, err, ErrNoTrace)
}

func TestRun_HARRecords(t *testing.T) {
	page, _ := generated(t, 42)
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(page.HAR))

	// the archive clock starts at the navigation request
	records, err := motor.RecordsFromHAR(&buf, motor.HAROptions{BaseTime: page.Resources[0].Start})
	require.NoError(t, err)

	run := newRun(t, DefaultSettings())
	fcp := mustMetric(t, run, metrics.FirstContentfulPaint, Input{Trace: page.Trace, Records: records})
	assert.Positive(t, fcp.Timing)
}

func TestRun_MissingInputs(t *testing.T) {
	_, in := generated(t, 42)
	run := newRun(t, DefaultSettings())
	ctx := context.Background()

	// every lantern metric selects or depends on a paint marker
	results, err := run.Metrics(ctx, Input{DevtoolsLog: in.DevtoolsLog}, metrics.All()...)
	require.Error(t, err)
	assert.ErrorIs(t, err, tracing.ErrMissingMarker)
	for _, r := range results {
		assert.Nil(t, r)
	}

	// the network side still works on its own
	g, err := run.PageGraph(ctx, Input{DevtoolsLog: in.DevtoolsLog})
	require.NoError(t, err)
	for _, n := range g.Nodes() {
		assert.NotContains(t, string(n.ID()), "cpu:")
	}

	_, err = run.Metric(ctx, metrics.FirstContentfulPaint, Input{Trace: in.Trace})
	assert.ErrorIs(t, err, ErrNoNetworkLog)

	_, err = run.Metric(ctx, metrics.Metric("time-to-first-byte"), in)
	assert.ErrorIs(t, err, metrics.ErrUnknownMetric)
}

func TestRun_Simulations(t *testing.T) {
	_, in := generated(t, 42)
	run := newRun(t, DefaultSettings())

	sims, err := run.Simulations(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, sims.Graph.Len(), sims.Optimistic.Len())
	assert.Equal(t, sims.Graph.Len(), sims.Pessimistic.Len())
	assert.Positive(t, sims.Analysis.RTT)

	root := sims.Graph.Root().ID()
	opt, ok := sims.Optimistic.Timing(root)
	require.True(t, ok)
	pess, ok := sims.Pessimistic.Timing(root)
	require.True(t, ok)
	assert.Less(t, opt.EndTime, pess.EndTime)
	assert.LessOrEqual(t, sims.Optimistic.TotalTime, sims.Pessimistic.TotalTime)

	// the same graph and profile is one simulation
	again, err := run.Simulate(context.Background(), in, sims.Graph, metrics.Optimistic)
	require.NoError(t, err)
	assert.Same(t, sims.Optimistic, again)
}

func TestRun_WithoutNavigationStart(t *testing.T) {
	page, in := generated(t, 42)
	var events []model.TraceEvent
	for _, e := range page.Trace.Events {
		if e.Name != model.EventNavigationStart {
			events = append(events, e)
		}
	}
	in.Trace = model.NewTrace(events, motor.FingerprintEvents(events))
	ctx := context.Background()

	// the simulation side never needed the navigation marker
	run := newRun(t, DefaultSettings())
	sims, err := run.Simulations(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, sims.Graph.Len(), sims.Optimistic.Len())
	fcp := mustMetric(t, run, metrics.FirstContentfulPaint, in)
	assert.Positive(t, fcp.Timing)

	settings := DefaultSettings()
	settings.Method = metrics.MethodObserved
	_, err = newRun(t, settings).Metric(ctx, metrics.FirstContentfulPaint, in)
	var mm *tracing.MissingMarkerError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, model.EventNavigationStart, mm.Marker)
}

func TestRun_SharedResolverKeepsSettingsApart(t *testing.T) {
	_, in := generated(t, 42)
	ctx := context.Background()
	resolver := artifact.NewResolver(nil)

	coarse := DefaultSettings()
	coarse.Graph.MinCPUTaskDuration = 10_000
	fine, err := NewRun(DefaultSettings(), nil, resolver)
	require.NoError(t, err)
	dropped, err := NewRun(coarse, nil, resolver)
	require.NoError(t, err)

	full, err := fine.PageGraph(ctx, in)
	require.NoError(t, err)
	networkOnly, err := dropped.PageGraph(ctx, in)
	require.NoError(t, err)
	assert.Less(t, networkOnly.Len(), full.Len())

	slow := DefaultSettings()
	slow.Pessimistic.CPUMultiplier = 4
	slower, err := NewRun(slow, nil, resolver)
	require.NoError(t, err)
	a := mustMetric(t, fine, metrics.Interactive, in)
	b := mustMetric(t, slower, metrics.Interactive, in)
	assert.NotSame(t, a, b)
	assert.NotSame(t, a.Pessimistic.Simulation, b.Pessimistic.Simulation)
	cpu := 0
	for _, n := range a.Pessimistic.Graph.Nodes() {
		if n.Type() != graph.NodeTypeCPU {
			continue
		}
		cpu++
		ta, ok := a.Pessimistic.Simulation.Timing(n.ID())
		require.True(t, ok)
		tb, ok := b.Pessimistic.Simulation.Timing(n.ID())
		require.True(t, ok)
		assert.Greater(t, tb.EndTime-tb.StartTime, ta.EndTime-ta.StartTime, n.ID())
	}
	assert.Positive(t, cpu)

	// equal settings still share every artifact
	again, err := NewRun(DefaultSettings(), nil, resolver)
	require.NoError(t, err)
	before := resolver.Stats().Computations
	same, err := again.PageGraph(ctx, in)
	require.NoError(t, err)
	assert.Same(t, full, same)
	assert.Equal(t, before, resolver.Stats().Computations)
	assert.NotEqual(t, DefaultSettings().Fingerprint(), coarse.Fingerprint())
}

func TestSettings_Validate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())

	s := DefaultSettings()
	s.Method = "guess"
	assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)

	s = DefaultSettings()
	s.Optimistic, s.Pessimistic = s.Pessimistic, s.Optimistic
	assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)

	s = DefaultSettings()
	s.Simulation.CachedResponseTime = -1
	_, err := NewRun(s, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	s = DefaultSettings()
	assert.Equal(t, metrics.DefaultCoefficients(), s.Coefficients(metrics.SpeedIndex))
	s.Calibrated = true
	assert.Equal(t, metrics.CalibratedCoefficients(metrics.SpeedIndex), s.Coefficients(metrics.SpeedIndex))
	assert.Equal(t, s.Pessimistic, s.Profile(metrics.Pessimistic))
}

func TestMetricKind(t *testing.T) {
	assert.Equal(t, "lantern:interactive", string(MetricKind(metrics.Interactive, metrics.MethodLantern)))
	assert.NotEqual(t, MetricKind(metrics.Interactive, metrics.MethodLantern), MetricKind(metrics.Interactive, metrics.MethodObserved))
}
