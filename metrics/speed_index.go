package metrics

import "math"

// LayoutSample is a main-thread interval that performed layout, weighted by how much work it
// did.
type LayoutSample struct {
	End    float64
	Weight float64
}

// NewLayoutSample weights a layout interval by the log of its duration.
func NewLayoutSample(i Interval) LayoutSample {
	return LayoutSample{End: i.End, Weight: math.Max(math.Log2(i.Duration()), 0)}
}

// LayoutSpeedIndex is the weighted mean time at which layout completed, with nothing counted
// before the first contentful paint.
func LayoutSpeedIndex(samples []LayoutSample, fcp float64) float64 {
	var weighted, total float64
	for _, s := range samples {
		weighted += s.Weight * math.Max(s.End, fcp)
		total += s.Weight
	}
	if total == 0 {
		return fcp
	}
	return weighted / total
}
