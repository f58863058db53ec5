package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/pb33f/lantern/computed"
	"github.com/pb33f/lantern/graph"
	"github.com/pb33f/lantern/simulator"
	"github.com/spf13/cobra"
)

var (
	simulateInput inputFlags
	simulateTop   int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate the full page dependency graph",
	Long: `Simulate the whole page dependency graph of a recorded page load under the
optimistic and pessimistic profiles and print the nodes that finish last.`,
	Example: `  lantern simulate -t trace.json -d devtoolslog.json
  lantern simulate -t trace.json -d devtoolslog.json --top 25 --config settings.yaml`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateInput.register(simulateCmd)
	simulateCmd.Flags().IntVarP(&simulateTop, "top", "n", 10, "Number of nodes to list, latest pessimistic end first (0 = all)")
}

// simulatedNode is one node with its timing under both profiles
type simulatedNode struct {
	ID          graph.NodeID         `json:"id"`
	Type        graph.NodeType       `json:"type"`
	URL         string               `json:"url,omitempty"`
	Optimistic  simulator.NodeTiming `json:"optimistic"`
	Pessimistic simulator.NodeTiming `json:"pessimistic"`
}

type simulateReport struct {
	RTT              float64         `json:"rtt"`
	Throughput       float64         `json:"throughput"`
	Nodes            int             `json:"nodeCount"`
	OptimisticTotal  float64         `json:"optimisticTotal"`
	PessimisticTotal float64         `json:"pessimisticTotal"`
	Latest           []simulatedNode `json:"latest"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	run, err := NewRun(cmd)
	if err != nil {
		return err
	}
	in, err := simulateInput.LoadInput(cmd.Context(), run)
	if err != nil {
		return err
	}

	sims, err := run.Simulations(cmd.Context(), in)
	if err != nil {
		return fmt.Errorf("failed to simulate page graph: %w", err)
	}
	report := buildSimulateReport(sims, simulateTop)

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), report)
	}
	renderSimulate(cmd.OutOrStdout(), report)
	return nil
}

func buildSimulateReport(sims *computed.Simulations, top int) *simulateReport {
	report := &simulateReport{
		RTT:              sims.Analysis.RTT,
		Throughput:       sims.Analysis.Throughput,
		Nodes:            sims.Graph.Len(),
		OptimisticTotal:  sims.Optimistic.TotalTime,
		PessimisticTotal: sims.Pessimistic.TotalTime,
	}

	for _, entry := range sims.Pessimistic.Sorted() {
		n := simulatedNode{
			ID:          entry.Node.ID(),
			Type:        entry.Node.Type(),
			Pessimistic: entry.Timing,
		}
		n.Optimistic, _ = sims.Optimistic.Timing(n.ID)
		if network, ok := entry.Node.(*graph.NetworkNode); ok {
			n.URL = network.Record.URL
		}
		report.Latest = append(report.Latest, n)
	}

	sort.SliceStable(report.Latest, func(i, j int) bool {
		return report.Latest[i].Pessimistic.EndTime > report.Latest[j].Pessimistic.EndTime
	})
	if top > 0 && len(report.Latest) > top {
		report.Latest = report.Latest[:top]
	}
	return report
}

func renderSimulate(w io.Writer, report *simulateReport) {
	fmt.Fprintln(w, TitleStyle.Render("page graph simulation"))
	fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("%d nodes, rtt %s, throughput %.0f KiB/s",
		report.Nodes, ms(report.RTT), report.Throughput/1024)))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s %s\n", column(HeaderStyle, "optimistic", 14), ValueStyle.Render(ms(report.OptimisticTotal)))
	fmt.Fprintf(w, "%s %s\n", column(HeaderStyle, "pessimistic", 14), WarningStyle.Render(ms(report.PessimisticTotal)))
	fmt.Fprintln(w)

	const idWidth, timeWidth = 48, 22
	fmt.Fprintln(w, column(HeaderStyle, "node", idWidth)+
		column(HeaderStyle, "optimistic end", timeWidth)+
		column(HeaderStyle, "pessimistic end", timeWidth))
	for _, n := range report.Latest {
		label := string(n.ID)
		if n.URL != "" {
			label = n.URL
		}
		fmt.Fprintln(w, column(FaintStyle, shorten(label, idWidth-2), idWidth)+
			column(ValueStyle, ms(n.Optimistic.EndTime), timeWidth)+
			column(WarningStyle, ms(n.Pessimistic.EndTime), timeWidth))
	}
}
