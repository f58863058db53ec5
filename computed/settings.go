package computed

import (
	"errors"
	"fmt"

	"github.com/pb33f/lantern/graph"
	"github.com/pb33f/lantern/metrics"
	"github.com/pb33f/lantern/motor"
	"github.com/pb33f/lantern/network"
	"github.com/pb33f/lantern/simulator"
)

// Settings configure one analysis run. they decode from a settings file through their
// mapstructure tags.
type Settings struct {
	Method      metrics.Method     `mapstructure:"method" json:"method"`
	Optimistic  simulator.Profile  `mapstructure:"optimistic" json:"optimistic"`
	Pessimistic simulator.Profile  `mapstructure:"pessimistic" json:"pessimistic"`
	Network     network.Options    `mapstructure:"network" json:"network"`
	Graph       graph.BuildOptions `mapstructure:"graph" json:"graph"`
	Simulation  simulator.Options  `mapstructure:"simulation" json:"simulation"`
	// Calibrated blends lantern estimates with the fitted per-metric coefficients
	Calibrated bool `mapstructure:"calibrated" json:"calibrated"`
}

func DefaultSettings() Settings {
	return Settings{
		Method:      metrics.MethodLantern,
		Optimistic:  simulator.Optimistic(),
		Pessimistic: simulator.Pessimistic(),
		Network:     network.DefaultOptions(),
		Graph:       graph.DefaultBuildOptions(),
		Simulation:  simulator.DefaultOptions(),
	}
}

var ErrInvalidSettings = errors.New("invalid settings")

func (s Settings) Validate() error {
	if _, err := metrics.ParseMethod(string(s.Method)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if err := s.Optimistic.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if err := s.Pessimistic.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if !s.Optimistic.Bounds(s.Pessimistic) {
		return fmt.Errorf("%w: profile %s is not at least as favourable as %s", ErrInvalidSettings, s.Optimistic.Name, s.Pessimistic.Name)
	}
	if s.Graph.MinCPUTaskDuration < 0 {
		return fmt.Errorf("%w: negative min cpu task duration %v", ErrInvalidSettings, s.Graph.MinCPUTaskDuration)
	}
	if s.Simulation.CachedResponseTime < 0 {
		return fmt.Errorf("%w: negative cached response time %v", ErrInvalidSettings, s.Simulation.CachedResponseTime)
	}
	return nil
}

// Profile returns the simulation profile of side.
func (s Settings) Profile(side metrics.Side) simulator.Profile {
	if side == metrics.Pessimistic {
		return s.Pessimistic
	}
	return s.Optimistic
}

// Coefficients returns the blend used for m.
func (s Settings) Coefficients(m metrics.Metric) metrics.Coefficients {
	if s.Calibrated {
		return metrics.CalibratedCoefficients(m)
	}
	return metrics.DefaultCoefficients()
}

// Fingerprint identifies every setting that changes a derived artifact. runs sharing a
// resolver only share artifacts when their fingerprints match.
func (s Settings) Fingerprint() string {
	f := motor.NewFingerprinter().
		String(string(s.Method)).
		String(profileKey(s.Optimistic)).
		String(profileKey(s.Pessimistic)).
		Float(s.Network.DefaultRTT).
		Float(s.Network.DefaultThroughput).
		Float(s.Network.MinTransferDuration).
		Float(s.Network.ThroughputOutlierMultiple).
		Float(s.Network.CoarseEstimateMultiplier).
		Bool(s.Network.ForceCoarseEstimates).
		Float(s.Graph.MinCPUTaskDuration).
		Int(int64(len(s.Graph.IgnoredMimePrefixes)))
	for _, p := range s.Graph.IgnoredMimePrefixes {
		f.String(p)
	}
	return f.Float(s.Simulation.CachedResponseTime).Bool(s.Calibrated).Sum()
}

func profileKey(p simulator.Profile) string {
	return motor.NewFingerprinter().
		String(p.Name).
		Float(p.RTTMultiplier).
		Float(p.ThroughputMultiplier).
		Float(p.CPUMultiplier).
		Int(int64(p.MaxConnectionsPerOrigin)).
		Sum()
}
