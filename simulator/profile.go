package simulator

import (
	"errors"
	"fmt"
)

// ErrInvalidProfile is wrapped by Profile.Validate failures.
var ErrInvalidProfile = errors.New("invalid simulation profile")

// Profile scales the observed network and CPU environment. the two stock profiles bound
// the real-world outcome from below and above.
type Profile struct {
	Name                    string  `mapstructure:"name" json:"name"`
	RTTMultiplier           float64 `mapstructure:"rtt_multiplier" json:"rttMultiplier"`
	ThroughputMultiplier    float64 `mapstructure:"throughput_multiplier" json:"throughputMultiplier"`
	CPUMultiplier           float64 `mapstructure:"cpu_multiplier" json:"cpuMultiplier"`
	MaxConnectionsPerOrigin int     `mapstructure:"max_connections_per_origin" json:"maxConnectionsPerOrigin"`
}

func Optimistic() Profile {
	return Profile{
		Name:                    "optimistic",
		RTTMultiplier:           1,
		ThroughputMultiplier:    1,
		CPUMultiplier:           1,
		MaxConnectionsPerOrigin: 6,
	}
}

func Pessimistic() Profile {
	return Profile{
		Name:                    "pessimistic",
		RTTMultiplier:           2,
		ThroughputMultiplier:    0.5,
		CPUMultiplier:           1.5,
		MaxConnectionsPerOrigin: 6,
	}
}

func (p Profile) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidProfile)
	case p.RTTMultiplier <= 0:
		return fmt.Errorf("%w: %s: rtt multiplier must be positive, got %v", ErrInvalidProfile, p.Name, p.RTTMultiplier)
	case p.ThroughputMultiplier <= 0:
		return fmt.Errorf("%w: %s: throughput multiplier must be positive, got %v", ErrInvalidProfile, p.Name, p.ThroughputMultiplier)
	case p.CPUMultiplier <= 0:
		return fmt.Errorf("%w: %s: cpu multiplier must be positive, got %v", ErrInvalidProfile, p.Name, p.CPUMultiplier)
	case p.MaxConnectionsPerOrigin < 1:
		return fmt.Errorf("%w: %s: need at least one connection per origin, got %d", ErrInvalidProfile, p.Name, p.MaxConnectionsPerOrigin)
	}
	return nil
}

// Bounds reports whether every multiplier of p is at least as favourable as other's, which
// makes p's simulated times a lower bound of other's.
func (p Profile) Bounds(other Profile) bool {
	return p.RTTMultiplier <= other.RTTMultiplier &&
		p.ThroughputMultiplier >= other.ThroughputMultiplier &&
		p.CPUMultiplier <= other.CPUMultiplier &&
		p.MaxConnectionsPerOrigin >= other.MaxConnectionsPerOrigin
}
