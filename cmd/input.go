package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pb33f/lantern/computed"
	"github.com/pb33f/lantern/motor"
	"github.com/spf13/cobra"
)

// inputFlags locate the recorded page load on disk
type inputFlags struct {
	trace       string
	devtoolsLog string
	har         string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.trace, "trace", "t", "", "Chrome trace of the page load")
	cmd.Flags().StringVarP(&f.devtoolsLog, "devtools-log", "d", "", "Devtools protocol log of the page load")
	cmd.Flags().StringVar(&f.har, "har", "", "HTTP archive of the page load, used when there is no devtools log")
}

// networkPath is the file the network records come from
func (f *inputFlags) networkPath() string {
	if f.devtoolsLog != "" {
		return f.devtoolsLog
	}
	return f.har
}

var errNoNetworkInput = errors.New("one of --devtools-log or --har is required")

// LoadInput reads the recorded page load. a HAR is placed on the trace clock through the
// run's trace of tab, so it is only ever computed once.
func (f *inputFlags) LoadInput(ctx context.Context, run *computed.Run) (computed.Input, error) {
	var in computed.Input
	logger := GetLogger()
	start := time.Now()

	if f.devtoolsLog == "" && f.har == "" {
		return in, errNoNetworkInput
	}

	if f.trace != "" {
		if err := ValidateFile("trace", f.trace); err != nil {
			return in, err
		}
		file, err := os.Open(f.trace)
		if err != nil {
			return in, fmt.Errorf("failed to open trace: %w", err)
		}
		defer file.Close()
		if in.Trace, err = motor.ParseTrace(file); err != nil {
			return in, fmt.Errorf("failed to parse trace: %w", err)
		}
		logger.Debug("trace loaded", "path", f.trace, "events", len(in.Trace.Events))
	}

	if f.devtoolsLog != "" {
		if err := ValidateFile("devtools log", f.devtoolsLog); err != nil {
			return in, err
		}
		file, err := os.Open(f.devtoolsLog)
		if err != nil {
			return in, fmt.Errorf("failed to open devtools log: %w", err)
		}
		defer file.Close()
		if in.DevtoolsLog, err = motor.ParseDevtoolsLog(file); err != nil {
			return in, fmt.Errorf("failed to parse devtools log: %w", err)
		}
		logger.Debug("devtools log loaded", "path", f.devtoolsLog, "messages", len(in.DevtoolsLog.Messages))
		if f.har != "" {
			logger.Warn("both a devtools log and a HAR were given, the HAR is ignored")
		}
	} else {
		if err := ValidateFile("HAR", f.har); err != nil {
			return in, err
		}
		var options motor.HAROptions
		if in.Trace != nil {
			tab, err := run.TraceOfTab(ctx, in)
			if err != nil {
				return in, err
			}
			if tab.NavigationStartEvt == nil {
				logger.Warn("trace has no navigationStart, HAR timings start at zero")
			}
			options.BaseTime = tab.Timestamps.NavigationStart
		} else {
			logger.Warn("no trace given, HAR timings start at zero")
		}
		file, err := os.Open(f.har)
		if err != nil {
			return in, fmt.Errorf("failed to open HAR: %w", err)
		}
		defer file.Close()
		if in.Records, err = motor.RecordsFromHAR(file, options); err != nil {
			return in, fmt.Errorf("failed to read HAR: %w", err)
		}
		logger.Debug("HAR loaded", "path", f.har, "records", len(in.Records))
	}

	logger.Info("page load read",
		"trace", in.Trace != nil,
		"network", f.networkPath(),
		"elapsed", time.Since(start))
	return in, nil
}
