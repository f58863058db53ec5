package cmd

import (
	"fmt"

	"github.com/pb33f/lantern/pagegen"
	"github.com/spf13/cobra"
)

var (
	genOutputDir  string
	genResources  int
	genOrigins    int
	genRTT        float64
	genThroughput float64
	genServer     float64
	genMaxTask    float64
	genQuietTail  float64
	genRedirect   bool
	genSeed       int64
	genDictPath   string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a synthetic page load",
	Long: `Generate a reproducible synthetic page load for testing: a Chrome trace, the
devtools protocol log and the HTTP archive of the same load, written as trace.json,
devtoolslog.json and page.har.

Examples:
  lantern generate -o ./load
  lantern generate -n 40 --origins 4 --rtt 150 --seed 42
  lantern generate --redirect --quiet-tail 8000`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	d := pagegen.DefaultGenerateOptions
	generateCmd.Flags().StringVarP(&genOutputDir, "output", "o", "", "Output directory (default: a fresh temp directory)")
	generateCmd.Flags().IntVarP(&genResources, "resources", "n", d.Resources, "Number of subresources the page requests")
	generateCmd.Flags().IntVar(&genOrigins, "origins", d.Origins, "Number of origins the subresources are spread over")
	generateCmd.Flags().Float64Var(&genRTT, "rtt", d.RTT, "Round trip to the page origin in ms")
	generateCmd.Flags().Float64Var(&genThroughput, "throughput", d.Throughput, "Transfer throughput in bytes per second")
	generateCmd.Flags().Float64Var(&genServer, "server-response", d.ServerResponse, "Server response time in ms")
	generateCmd.Flags().Float64Var(&genMaxTask, "max-task", d.MaxTaskDuration, "Longest main-thread task in ms")
	generateCmd.Flags().Float64Var(&genQuietTail, "quiet-tail", d.QuietTail, "Idle ms recorded after the load event")
	generateCmd.Flags().BoolVar(&genRedirect, "redirect", false, "Navigate through an http to https redirect first")
	generateCmd.Flags().Int64VarP(&genSeed, "seed", "s", 0, "Random seed for reproducibility (0 = use current time)")
	generateCmd.Flags().StringVar(&genDictPath, "dict", "", "Word list for resource paths (default: built-in words)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	opts := pagegen.GenerateOptions{
		Resources:       genResources,
		Origins:         genOrigins,
		RTT:             genRTT,
		Throughput:      genThroughput,
		ServerResponse:  genServer,
		MaxTaskDuration: genMaxTask,
		QuietTail:       genQuietTail,
		Redirect:        genRedirect,
		DictionaryPath:  genDictPath,
		Seed:            genSeed,
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generating page load with %d subresources over %d origins", genResources, genOrigins)
	if genRedirect {
		fmt.Fprint(out, " (redirected)")
	}
	fmt.Fprintln(out, "...")

	var result *pagegen.GenerateResult
	var err error
	if genOutputDir != "" {
		result, err = pagegen.GenerateToDir(genOutputDir, opts)
	} else {
		result, err = pagegen.Generate(opts)
	}
	if err != nil {
		return fmt.Errorf("failed to generate page load: %w", err)
	}

	page := result.Page
	GetLogger().Debug("page load generated",
		"url", page.URL,
		"resources", len(page.Resources),
		"trace_events", len(page.Trace.Events),
		"messages", len(page.DevtoolsLog.Messages))

	fmt.Fprintf(out, "\n%s %s\n", ValueStyle.Render("✓"), TitleStyle.Render(page.URL))
	fmt.Fprintf(out, "  trace:        %s\n", result.TracePath)
	fmt.Fprintf(out, "  devtools log: %s\n", result.DevtoolsLogPath)
	fmt.Fprintf(out, "  HAR:          %s\n", result.HARPath)
	fmt.Fprintf(out, "  requests:     %d\n", len(page.Resources))
	return nil
}
