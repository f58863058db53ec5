package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/pb33f/lantern/graph"
	"github.com/pb33f/lantern/motor/model"
	"github.com/pb33f/lantern/network"
	"github.com/spf13/cobra"
)

var inspectInput inputFlags

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize a recorded page load",
	Long: `Print what lantern sees in a recorded page load: the network records by type and
origin, the estimated round trip and server response time of every origin, the trace
markers of the inspected page and the shape of the page dependency graph.`,
	Example: `  lantern inspect -t trace.json -d devtoolslog.json
  lantern inspect --har page.har --json`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectInput.register(inspectCmd)
}

type originSummary struct {
	Origin         string  `json:"origin"`
	Requests       int     `json:"requests"`
	Bytes          int64   `json:"bytes"`
	AdditionalRTT  float64 `json:"additionalRtt"`
	ServerResponse float64 `json:"serverResponse"`
}

type inspectReport struct {
	Records     int                        `json:"records"`
	ByType      map[model.ResourceType]int `json:"byType"`
	Origins     []originSummary            `json:"origins"`
	RTT         float64                    `json:"rtt"`
	Throughput  float64                    `json:"throughput"`
	Timings     *model.TraceTimes          `json:"timings,omitempty"`
	Nodes       int                        `json:"nodes"`
	CPUNodes    int                        `json:"cpuNodes"`
	Edges       int                        `json:"edges"`
	CPUDuration network.Summary            `json:"cpuDuration"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	logger := GetLogger()
	run, err := NewRun(cmd)
	if err != nil {
		return err
	}
	in, err := inspectInput.LoadInput(cmd.Context(), run)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	records, err := run.NetworkRecords(ctx, in)
	if err != nil {
		return err
	}
	analysis, err := run.NetworkAnalysis(ctx, in)
	if err != nil {
		return err
	}
	g, err := run.PageGraph(ctx, in)
	if err != nil {
		return err
	}

	report := &inspectReport{
		Records:    len(records),
		ByType:     make(map[model.ResourceType]int),
		RTT:        analysis.RTT,
		Throughput: analysis.Throughput,
		Nodes:      g.Len(),
	}

	origins := make(map[string]*originSummary)
	for _, r := range records {
		report.ByType[r.ResourceType]++
		o, ok := origins[r.Origin]
		if !ok {
			o = &originSummary{
				Origin:         r.Origin,
				AdditionalRTT:  analysis.AdditionalRTTByOrigin[r.Origin],
				ServerResponse: analysis.ServerResponseTimeByOrigin[r.Origin],
			}
			origins[r.Origin] = o
		}
		o.Requests++
		o.Bytes += r.TransferSize
	}
	for _, o := range origins {
		report.Origins = append(report.Origins, *o)
	}
	sort.Slice(report.Origins, func(i, j int) bool {
		if report.Origins[i].Requests != report.Origins[j].Requests {
			return report.Origins[i].Requests > report.Origins[j].Requests
		}
		return report.Origins[i].Origin < report.Origins[j].Origin
	})

	var durations []float64
	for _, n := range g.Nodes() {
		report.Edges += len(g.Dependents(n.ID()))
		if cpu, ok := n.(*graph.CPUNode); ok {
			report.CPUNodes++
			durations = append(durations, cpu.Duration())
		}
	}
	report.CPUDuration = network.Summarize(durations)

	if in.Trace != nil {
		tab, err := run.TraceOfTab(ctx, in)
		if err != nil {
			// the network side is still worth printing
			logger.Warn("trace has no inspected page", "error", err)
		} else {
			report.Timings = &tab.Timings
		}
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), report)
	}
	renderInspect(cmd.OutOrStdout(), report)
	return nil
}

func renderInspect(w io.Writer, report *inspectReport) {
	fmt.Fprintln(w, TitleStyle.Render("page load"))
	fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("%d network records, %d graph nodes (%d cpu), %d edges",
		report.Records, report.Nodes, report.CPUNodes, report.Edges)))
	fmt.Fprintln(w)

	types := make([]string, 0, len(report.ByType))
	for t := range report.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	fmt.Fprintln(w, HeaderStyle.Render("resource types"))
	for _, t := range types {
		fmt.Fprintf(w, "  %s %d\n", column(FaintStyle, t, 14), report.ByType[model.ResourceType(t)])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, HeaderStyle.Render(fmt.Sprintf("origins (rtt %s, throughput %.0f KiB/s)", ms(report.RTT), report.Throughput/1024)))
	for _, o := range report.Origins {
		fmt.Fprintf(w, "  %s %s %s %s\n",
			column(FaintStyle, shorten(o.Origin, 40), 42),
			column(ValueStyle, fmt.Sprintf("%d req", o.Requests), 9),
			column(SubtitleStyle, "+"+ms(o.AdditionalRTT)+" rtt", 18),
			SubtitleStyle.Render(ms(o.ServerResponse)+" server"))
	}
	fmt.Fprintln(w)

	if report.CPUNodes > 0 {
		d := report.CPUDuration
		fmt.Fprintln(w, HeaderStyle.Render("main thread"))
		fmt.Fprintf(w, "  %s median %s, max %s\n", column(FaintStyle, "cpu nodes", 14), ms(d.Median), ms(d.Max))
		fmt.Fprintln(w)
	}

	if t := report.Timings; t != nil {
		fmt.Fprintln(w, HeaderStyle.Render("trace markers"))
		markers := []struct {
			name  string
			value *float64
		}{
			{"first paint", t.FirstPaint},
			{"fcp", t.FirstContentfulPaint},
			{"fmp", t.FirstMeaningfulPaint},
			{"dcl", t.DOMContentLoaded},
			{"load", t.Load},
			{"trace end", &t.TraceEnd},
		}
		for _, m := range markers {
			value := WarningStyle.Render("missing")
			if m.value != nil {
				value = ValueStyle.Render(ms(*m.value))
			}
			fmt.Fprintf(w, "  %s %s\n", column(FaintStyle, m.name, 14), value)
		}
	}
}
