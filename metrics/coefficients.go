package metrics

// Coefficients blend the optimistic and pessimistic estimates into one timing.
type Coefficients struct {
	Intercept   float64 `mapstructure:"intercept" json:"intercept"`
	Optimistic  float64 `mapstructure:"optimistic" json:"optimistic"`
	Pessimistic float64 `mapstructure:"pessimistic" json:"pessimistic"`
}

// DefaultCoefficients is the midpoint of the two bounds.
func DefaultCoefficients() Coefficients {
	return Coefficients{Optimistic: 0.5, Pessimistic: 0.5}
}

// CalibratedCoefficients returns the per-metric values fitted against real page loads.
func CalibratedCoefficients(m Metric) Coefficients {
	switch m {
	case SpeedIndex:
		return Coefficients{Intercept: -250, Optimistic: 1.4, Pessimistic: 0.65}
	case EstimatedInputLatency:
		return Coefficients{Optimistic: 0.4, Pessimistic: 0.4}
	}
	return DefaultCoefficients()
}

func (c Coefficients) Blend(optimistic, pessimistic float64) float64 {
	return c.Intercept + c.Optimistic*optimistic + c.Pessimistic*pessimistic
}
