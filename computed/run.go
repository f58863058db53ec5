// Package computed wires every artifact of an analysis run through the artifact resolver, so
// records, trace processing, network analysis, graphs and simulations are derived once per
// distinct input no matter how many metrics ask for them.
package computed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pb33f/lantern/artifact"
	"github.com/pb33f/lantern/graph"
	"github.com/pb33f/lantern/metrics"
	"github.com/pb33f/lantern/motor"
	"github.com/pb33f/lantern/motor/model"
	"github.com/pb33f/lantern/network"
	"github.com/pb33f/lantern/simulator"
	"github.com/pb33f/lantern/tracing"
	"golang.org/x/sync/errgroup"
)

// Artifact kinds resolved by a Run. metric kinds are derived per metric and method.
const (
	KindNetworkRecords  artifact.Kind = "network-records"
	KindTraceOfTab      artifact.Kind = "trace-of-tab"
	KindNetworkAnalysis artifact.Kind = "network-analysis"
	KindPageGraph       artifact.Kind = "page-dependency-graph"
	KindMetricGraph     artifact.Kind = "metric-graph"
	KindLoadSimulation  artifact.Kind = "load-simulation"
)

// MetricKind is the artifact kind of m computed with method.
func MetricKind(m metrics.Metric, method metrics.Method) artifact.Kind {
	return artifact.Kind(string(method) + ":" + string(m))
}

var (
	ErrNoTrace      = errors.New("no trace in input")
	ErrNoNetworkLog = errors.New("no devtools log or network records in input")
)

// Input is the recorded page load. Records stand in for DevtoolsLog when the load was
// captured as a HAR.
type Input struct {
	Trace       *model.Trace
	DevtoolsLog *model.DevtoolsLog
	Records     []*model.NetworkRecord
}

// Run computes artifacts for one set of settings. it is safe for concurrent use; metrics
// requested concurrently share every common artifact.
type Run struct {
	settings Settings
	scope    string // settings fingerprint, prefixes every settings dependent key
	logger   *slog.Logger
	resolver *artifact.Resolver
}

// NewRun validates settings and returns a run backed by resolver, or a fresh resolver when
// resolver is nil. runs with different settings can share a resolver: settings dependent
// artifacts are keyed by the settings fingerprint, while records and trace processing are
// shared.
func NewRun(settings Settings, logger *slog.Logger, resolver *artifact.Resolver) (*Run, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = artifact.NewResolver(logger)
	}
	return &Run{settings: settings, scope: settings.Fingerprint(), logger: logger, resolver: resolver}, nil
}

func (r *Run) Settings() Settings           { return r.settings }
func (r *Run) Resolver() *artifact.Resolver { return r.resolver }

// recordsKey identifies the network side of the input
func recordsKey(in Input) (string, error) {
	switch {
	case in.DevtoolsLog != nil:
		return "log:" + in.DevtoolsLog.Fingerprint(), nil
	case in.Records != nil:
		return "records:" + motor.FingerprintRecords(in.Records), nil
	}
	return "", ErrNoNetworkLog
}

// scoped prefixes key with the settings fingerprint
func (r *Run) scoped(key string) string {
	return r.scope + "|" + key
}

func traceKey(in Input) string {
	if in.Trace == nil {
		return "no-trace"
	}
	return in.Trace.Fingerprint()
}

// NetworkRecords returns the records of the input, replaying the devtools log when there is
// one.
func (r *Run) NetworkRecords(ctx context.Context, in Input) ([]*model.NetworkRecord, error) {
	key, err := recordsKey(in)
	if err != nil {
		return nil, err
	}
	return artifact.Resolve(ctx, r.resolver, KindNetworkRecords, key, func(context.Context) ([]*model.NetworkRecord, error) {
		if in.DevtoolsLog != nil {
			return motor.RecordsFromDevtoolsLog(in.DevtoolsLog)
		}
		return in.Records, nil
	})
}

func (r *Run) TraceOfTab(ctx context.Context, in Input) (*model.TraceOfTab, error) {
	if in.Trace == nil {
		return nil, ErrNoTrace
	}
	return artifact.Resolve(ctx, r.resolver, KindTraceOfTab, traceKey(in), func(context.Context) (*model.TraceOfTab, error) {
		return tracing.ComputeTraceOfTab(in.Trace)
	})
}

func (r *Run) NetworkAnalysis(ctx context.Context, in Input) (*network.Analysis, error) {
	key, err := recordsKey(in)
	if err != nil {
		return nil, err
	}
	return artifact.Resolve(ctx, r.resolver, KindNetworkAnalysis, r.scoped(key), func(ctx context.Context) (*network.Analysis, error) {
		records, err := r.NetworkRecords(ctx, in)
		if err != nil {
			return nil, err
		}
		return network.Analyze(records, r.settings.Network)
	})
}

// PageGraph returns the full dependency graph of the load. without a trace the graph only
// holds network nodes.
func (r *Run) PageGraph(ctx context.Context, in Input) (*graph.Graph, error) {
	key, err := recordsKey(in)
	if err != nil {
		return nil, err
	}
	return artifact.Resolve(ctx, r.resolver, KindPageGraph, r.scoped(traceKey(in)+"|"+key), func(ctx context.Context) (*graph.Graph, error) {
		records, err := r.NetworkRecords(ctx, in)
		if err != nil {
			return nil, err
		}
		var tab *model.TraceOfTab
		if in.Trace != nil {
			if tab, err = r.TraceOfTab(ctx, in); err != nil {
				return nil, err
			}
		}
		return graph.BuildPageGraph(tab, records, r.settings.Graph)
	})
}

// MetricGraph returns the part of the page graph that side simulates for m.
func (r *Run) MetricGraph(ctx context.Context, in Input, m metrics.Metric, side metrics.Side) (*graph.Graph, error) {
	key, err := recordsKey(in)
	if err != nil {
		return nil, err
	}
	key = fmt.Sprintf("%s|%s|%s|%s", traceKey(in), key, m, side)
	return artifact.Resolve(ctx, r.resolver, KindMetricGraph, r.scoped(key), func(ctx context.Context) (*graph.Graph, error) {
		full, err := r.PageGraph(ctx, in)
		if err != nil {
			return nil, err
		}
		var tab *model.TraceOfTab
		if in.Trace != nil {
			if tab, err = r.TraceOfTab(ctx, in); err != nil {
				return nil, err
			}
		}
		return metrics.SelectGraph(m, side, full, tab)
	})
}

// Simulate replays g under the profile of side. equal graphs share one simulation.
func (r *Run) Simulate(ctx context.Context, in Input, g *graph.Graph, side metrics.Side) (*simulator.Result, error) {
	analysis, err := r.NetworkAnalysis(ctx, in)
	if err != nil {
		return nil, err
	}
	profile := r.settings.Profile(side)
	key := fmt.Sprintf("%s|%s|%s", g.Fingerprint(), analysis.Fingerprint(), profileKey(profile))

	return artifact.Resolve(ctx, r.resolver, KindLoadSimulation, r.scoped(key), func(context.Context) (*simulator.Result, error) {
		sim, err := simulator.New(analysis, profile, r.settings.Simulation)
		if err != nil {
			return nil, err
		}
		return sim.Simulate(g)
	})
}

// Metric computes m with the configured method.
func (r *Run) Metric(ctx context.Context, m metrics.Metric, in Input) (*metrics.Result, error) {
	if _, err := metrics.Parse(string(m)); err != nil {
		return nil, err
	}
	if r.settings.Method == metrics.MethodObserved {
		return r.observed(ctx, m, in)
	}
	return r.lantern(ctx, m, in)
}

func (r *Run) observed(ctx context.Context, m metrics.Metric, in Input) (*metrics.Result, error) {
	key := traceKey(in)
	if m == metrics.Interactive {
		records, err := recordsKey(in)
		if err != nil {
			return nil, err
		}
		key += "|" + records
	}

	return artifact.Resolve(ctx, r.resolver, MetricKind(m, metrics.MethodObserved), key, func(ctx context.Context) (*metrics.Result, error) {
		started := time.Now()
		tab, err := r.TraceOfTab(ctx, in)
		if err != nil {
			return nil, err
		}
		var records []*model.NetworkRecord
		if m == metrics.Interactive {
			if records, err = r.NetworkRecords(ctx, in); err != nil {
				return nil, err
			}
		}
		result, err := metrics.Observed(m, tab, records)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("metric computed", "metric", m, "method", metrics.MethodObserved, "timing", result.Timing, "elapsed", time.Since(started))
		return result, nil
	})
}

func (r *Run) lantern(ctx context.Context, m metrics.Metric, in Input) (*metrics.Result, error) {
	records, err := recordsKey(in)
	if err != nil {
		return nil, err
	}
	key := r.scoped(traceKey(in) + "|" + records)

	return artifact.Resolve(ctx, r.resolver, MetricKind(m, metrics.MethodLantern), key, func(ctx context.Context) (*metrics.Result, error) {
		started := time.Now()
		deps := make(map[metrics.Metric]*metrics.Result)
		for _, dep := range m.Dependencies() {
			result, err := r.lantern(ctx, dep, in)
			if err != nil {
				return nil, fmt.Errorf("%s depends on %s: %w", m, dep, err)
			}
			deps[dep] = result
		}

		full, err := r.PageGraph(ctx, in)
		if err != nil {
			return nil, err
		}
		var tab *model.TraceOfTab
		if in.Trace != nil {
			if tab, err = r.TraceOfTab(ctx, in); err != nil {
				return nil, err
			}
		}

		result, err := metrics.Lantern(ctx, m, metrics.LanternInput{
			Graph:        full,
			Tab:          tab,
			Coefficients: r.settings.Coefficients(m),
			Dependencies: deps,
			Graphs: func(ctx context.Context, m metrics.Metric, side metrics.Side) (*graph.Graph, error) {
				return r.MetricGraph(ctx, in, m, side)
			},
		}, func(ctx context.Context, g *graph.Graph, side metrics.Side) (*simulator.Result, error) {
			return r.Simulate(ctx, in, g, side)
		})
		if err != nil {
			return nil, err
		}
		r.logger.Debug("metric computed", "metric", m, "method", metrics.MethodLantern,
			"timing", result.Timing, "optimistic", result.Optimistic.Timing, "pessimistic", result.Pessimistic.Timing,
			"elapsed", time.Since(started))
		return result, nil
	})
}

// Metrics computes ms concurrently. a metric that fails leaves a nil result at its position
// and its error joined into the returned error; the others are still computed.
func (r *Run) Metrics(ctx context.Context, in Input, ms ...metrics.Metric) ([]*metrics.Result, error) {
	results := make([]*metrics.Result, len(ms))
	errs := make([]error, len(ms))

	var g errgroup.Group
	for i, m := range ms {
		g.Go(func() error {
			result, err := r.Metric(ctx, m, in)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", m, err)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// Simulations is the full page graph simulated under both profiles.
type Simulations struct {
	Graph       *graph.Graph
	Analysis    *network.Analysis
	Optimistic  *simulator.Result
	Pessimistic *simulator.Result
}

// Simulations simulates the full page graph under both profiles concurrently.
func (r *Run) Simulations(ctx context.Context, in Input) (*Simulations, error) {
	full, err := r.PageGraph(ctx, in)
	if err != nil {
		return nil, err
	}
	analysis, err := r.NetworkAnalysis(ctx, in)
	if err != nil {
		return nil, err
	}

	out := &Simulations{Graph: full, Analysis: analysis}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.Simulate(gctx, in, full, metrics.Optimistic)
		out.Optimistic = res
		return err
	})
	g.Go(func() error {
		res, err := r.Simulate(gctx, in, full, metrics.Pessimistic)
		out.Pessimistic = res
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
