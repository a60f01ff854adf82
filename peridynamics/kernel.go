package peridynamics

import "math"

// poly6 is the smoothing kernel weighting a bond of squared length r2 in a
// horizon of squared radius h2. It vanishes outside the horizon.
func poly6(r2, h2 float64) float64 {
	if r2 >= h2 {
		return 0
	}
	d := h2 - r2
	return 315.0 / (64.0 * math.Pi * math.Pow(h2, 4.5)) * d * d * d
}
