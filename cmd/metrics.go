package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pb33f/lantern/metrics"
	"github.com/spf13/cobra"
)

var (
	metricsInput inputFlags
	metricNames  []string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Estimate page load metrics",
	Long: `Compute page load metrics for a recorded page load. With the lantern method (the
default) every metric is estimated from optimistic and pessimistic simulations of the
page dependency graph; with the observed method the metrics are read off the trace.`,
	Example: `  lantern metrics -t trace.json -d devtoolslog.json
  lantern metrics -t trace.json --har page.har -m first-contentful-paint,interactive
  lantern metrics -t trace.json -d devtoolslog.json --method observed --json`,
	Args: cobra.NoArgs,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)

	metricsInput.register(metricsCmd)
	metricsCmd.Flags().StringSliceVarP(&metricNames, "metric", "m", []string{}, "Metrics to compute (comma-separated, default: all)")
}

func parseMetrics(names []string) ([]metrics.Metric, error) {
	if len(names) == 0 {
		return metrics.All(), nil
	}
	out := make([]metrics.Metric, 0, len(names))
	for _, name := range names {
		m, err := metrics.Parse(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func runMetrics(cmd *cobra.Command, args []string) error {
	requested, err := parseMetrics(metricNames)
	if err != nil {
		return err
	}
	run, err := NewRun(cmd)
	if err != nil {
		return err
	}
	in, err := metricsInput.LoadInput(cmd.Context(), run)
	if err != nil {
		return err
	}

	results, metricErr := run.Metrics(cmd.Context(), in, requested...)

	stats := run.Resolver().Stats()
	GetLogger().Debug("artifacts resolved",
		"computations", stats.Computations,
		"hits", stats.Hits,
		"shared", stats.Shared,
		"failures", stats.Failures)

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, compact(results)); err != nil {
			return err
		}
	} else {
		renderMetrics(out, run.Settings().Method, requested, results, metricErr)
	}

	if metricErr != nil && len(compact(results)) == 0 {
		return metricErr
	}
	if metricErr != nil {
		GetLogger().Warn("some metrics could not be computed", "error", metricErr)
	}
	return nil
}

// compact drops the positions of metrics that failed
func compact(results []*metrics.Result) []*metrics.Result {
	out := make([]*metrics.Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func renderMetrics(w io.Writer, method metrics.Method, requested []metrics.Metric, results []*metrics.Result, metricErr error) {
	fmt.Fprintln(w, TitleStyle.Render("page load metrics"))
	fmt.Fprintln(w, SubtitleStyle.Render("method: "+string(method)))
	fmt.Fprintln(w)

	const nameWidth, valueWidth = 26, 14
	header := column(HeaderStyle, "metric", nameWidth) + column(HeaderStyle, "estimate", valueWidth)
	if method == metrics.MethodLantern {
		header += column(HeaderStyle, "optimistic", valueWidth) + column(HeaderStyle, "pessimistic", valueWidth)
	}
	fmt.Fprintln(w, header)

	for i, m := range requested {
		r := results[i]
		if r == nil {
			fmt.Fprintln(w, column(FaintStyle, string(m), nameWidth)+ErrorStyle.Render(metricFailure(m, metricErr)))
			continue
		}
		line := column(FaintStyle, string(m), nameWidth) + column(ValueStyle, ms(r.Timing), valueWidth)
		if r.Optimistic != nil && r.Pessimistic != nil {
			line += column(SubtitleStyle, ms(r.Optimistic.Timing), valueWidth) +
				column(SubtitleStyle, ms(r.Pessimistic.Timing), valueWidth)
		}
		fmt.Fprintln(w, line)
	}
}

// metricFailure digs the reason m failed out of the joined error
func metricFailure(m metrics.Metric, err error) string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if msg := e.Error(); strings.HasPrefix(msg, string(m)+": ") {
				return strings.TrimPrefix(msg, string(m)+": ")
			}
		}
	}
	return "failed"
}
