package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pb33f/lantern/computed"
	"github.com/pb33f/lantern/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	verbose    bool
	configFile string
	method     string
	calibrated bool
	jsonOutput bool
	Logger     *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "lantern",
		Short: "Estimate page load metrics from a recorded page load",
		Long: `Lantern reads a recorded page load (a Chrome trace plus a devtools protocol log or
an HTTP archive), builds the dependency graph of every request and main-thread task,
and simulates it under optimistic and pessimistic network and CPU conditions to
estimate first contentful paint, time to interactive, speed index and friends.`,
		Example: `  lantern metrics --trace trace.json --devtools-log devtoolslog.json
  lantern metrics --trace trace.json --har page.har -m interactive --json
  lantern simulate --trace trace.json --devtools-log devtoolslog.json --config settings.yaml
  lantern generate -o ./load --seed 42`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger()
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Settings file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&method, "method", string(metrics.MethodLantern), "Metric method: lantern or observed")
	rootCmd.PersistentFlags().BoolVar(&calibrated, "calibrated", false, "Blend estimates with the calibrated per-metric coefficients")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	// will be reconfigured in PersistentPreRun based on flags
	setupLogger()
}

// setupLogger configures the global slog logger based on the verbose flag
func setupLogger() {
	var opts *slog.HandlerOptions

	if verbose {
		opts = &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		}
	} else {
		opts = &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)

	if verbose {
		Logger.Debug("verbose logging enabled",
			"level", slog.LevelDebug.String(),
			"pid", os.Getpid())
	}
}

// GetLogger returns the global logger instance
func GetLogger() *slog.Logger {
	if Logger == nil {
		setupLogger()
	}
	return Logger
}

// LoadSettings starts from the defaults, applies the settings file when there is one and
// then any flag the user set explicitly.
func LoadSettings(cmd *cobra.Command) (computed.Settings, error) {
	settings := computed.DefaultSettings()

	if configFile != "" {
		if err := ValidateFile("settings", configFile); err != nil {
			return settings, err
		}
		v := viper.New()
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return settings, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := v.Unmarshal(&settings); err != nil {
			return settings, fmt.Errorf("failed to decode settings file: %w", err)
		}
		GetLogger().Debug("settings file loaded", "path", v.ConfigFileUsed())
	}

	flags := cmd.Flags()
	if flags.Changed("method") {
		settings.Method = metrics.Method(method)
	}
	if flags.Changed("calibrated") {
		settings.Calibrated = calibrated
	}

	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// NewRun creates the analysis run every command computes its artifacts through
func NewRun(cmd *cobra.Command) (*computed.Run, error) {
	settings, err := LoadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return computed.NewRun(settings, GetLogger(), nil)
}

// ValidateFile checks that path exists and is not a directory. kind names the file in errors.
func ValidateFile(kind, path string) error {
	if path == "" {
		return fmt.Errorf("%s file path is required", kind)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s file does not exist: %s", kind, path)
		}
		return fmt.Errorf("error accessing %s file: %w", kind, err)
	}

	if info.IsDir() {
		return fmt.Errorf("provided path is a directory, not a file: %s", path)
	}

	return nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
