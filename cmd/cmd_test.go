package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pb33f/lantern/metrics"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it printed. package flag state
// is reset first, cobra keeps it between executions.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose, configFile, calibrated, jsonOutput = false, "", false, false
	method = string(metrics.MethodLantern)
	metricNames = nil
	metricsInput, simulateInput, inspectInput = inputFlags{}, inputFlags{}, inputFlags{}
	genOutputDir, genRedirect = "", false

	var out, stderr bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// generated writes a page load into a temp dir and returns its trace, log and HAR paths
func generated(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	out, err := execute(t, "generate", "-o", dir, "--seed", "42", "-n", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "devtoolslog.json")
	return filepath.Join(dir, "trace.json"), filepath.Join(dir, "devtoolslog.json"), filepath.Join(dir, "page.har")
}

func TestMetricsCommand_JSON(t *testing.T) {
	trace, log, _ := generated(t)

	out, err := execute(t, "metrics", "-t", trace, "-d", log, "--json")
	require.NoError(t, err)

	var results []*metrics.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, len(metrics.All()))
	for i, r := range results {
		assert.Equal(t, metrics.All()[i], r.Metric)
		assert.Equal(t, metrics.MethodLantern, r.Method)
		require.NotNil(t, r.Optimistic)
		require.NotNil(t, r.Pessimistic)
	}
}

func TestMetricsCommand_Text(t *testing.T) {
	trace, log, _ := generated(t)

	out, err := execute(t, "metrics", "-t", trace, "-d", log, "-m", "first-contentful-paint,interactive")
	require.NoError(t, err)
	assert.Contains(t, out, "first-contentful-paint")
	assert.Contains(t, out, "interactive")
	assert.NotContains(t, out, "speed-index")
	assert.Contains(t, out, "pessimistic")
}

func TestMetricsCommand_ObservedFromHAR(t *testing.T) {
	trace, _, har := generated(t)

	out, err := execute(t, "metrics", "-t", trace, "--har", har, "--method", "observed", "-m", "first-contentful-paint", "--json")
	require.NoError(t, err)

	var results []*metrics.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, metrics.MethodObserved, results[0].Method)
	assert.Positive(t, results[0].Timing)
	assert.Nil(t, results[0].Optimistic)
}

func TestMetricsCommand_Errors(t *testing.T) {
	trace, log, _ := generated(t)

	_, err := execute(t, "metrics", "-t", trace)
	assert.ErrorIs(t, err, errNoNetworkInput)

	_, err = execute(t, "metrics", "-t", trace, "-d", log, "-m", "time-to-first-byte")
	assert.ErrorIs(t, err, metrics.ErrUnknownMetric)

	_, err = execute(t, "metrics", "-t", filepath.Join(t.TempDir(), "missing.json"), "-d", log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	// no trace, so no metric can be computed at all
	_, err = execute(t, "metrics", "-d", log)
	require.Error(t, err)
}

func TestSimulateCommand(t *testing.T) {
	trace, log, _ := generated(t)

	out, err := execute(t, "simulate", "-t", trace, "-d", log, "--top", "3", "--json")
	require.NoError(t, err)

	var report simulateReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Latest, 3)
	assert.Positive(t, report.Nodes)
	assert.LessOrEqual(t, report.OptimisticTotal, report.PessimisticTotal)
	for i := 1; i < len(report.Latest); i++ {
		assert.GreaterOrEqual(t, report.Latest[i-1].Pessimistic.EndTime, report.Latest[i].Pessimistic.EndTime)
	}
}

func TestInspectCommand(t *testing.T) {
	trace, log, _ := generated(t)

	out, err := execute(t, "inspect", "-t", trace, "-d", log, "--json")
	require.NoError(t, err)

	var report inspectReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 9, report.Records)
	assert.Greater(t, report.Nodes, report.Records)
	assert.Positive(t, report.CPUNodes)
	assert.NotEmpty(t, report.Origins)
	require.NotNil(t, report.Timings)
	assert.NotNil(t, report.Timings.FirstContentfulPaint)

	out, err = execute(t, "inspect", "-t", trace, "-d", log)
	require.NoError(t, err)
	assert.Contains(t, out, "trace markers")
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`method: observed
calibrated: true
pessimistic:
  name: slow-4g
  rtt_multiplier: 4
  throughput_multiplier: 0.25
  cpu_multiplier: 4
  max_connections_per_origin: 6
graph:
  min_cpu_task_duration: 20
`), 0644))

	verbose, calibrated = false, false
	configFile = path
	defer func() { configFile = "" }()

	settings, err := LoadSettings(&cobra.Command{Use: "test"})
	require.NoError(t, err)
	assert.Equal(t, metrics.MethodObserved, settings.Method)
	assert.True(t, settings.Calibrated)
	assert.Equal(t, "slow-4g", settings.Pessimistic.Name)
	assert.Equal(t, 0.25, settings.Pessimistic.ThroughputMultiplier)
	assert.Equal(t, 20.0, settings.Graph.MinCPUTaskDuration)
	// untouched sections keep their defaults
	assert.Equal(t, "optimistic", settings.Optimistic.Name)

	// an explicit flag wins over the file
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&method, "method", string(metrics.MethodLantern), "")
	require.NoError(t, cmd.Flags().Set("method", "lantern"))
	settings, err = LoadSettings(cmd)
	require.NoError(t, err)
	assert.Equal(t, metrics.MethodLantern, settings.Method)

	configFile = filepath.Join(t.TempDir(), "nope.yaml")
	_, err = LoadSettings(&cobra.Command{Use: "test"})
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info["version"])
}
