package indicators

import (
	"fmt"
	"math"
)

// Mean returns the arithmetic mean of values, skipping NaNs.
func Mean(values []float64) (float64, error) {
	sum, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("mean: no values")
	}
	return sum / float64(n), nil
}

// StdDev returns the population standard deviation of values, skipping NaNs.
func StdDev(values []float64) (float64, error) {
	mean, err := Mean(values)
	if err != nil {
		return 0, fmt.Errorf("stddev: %w", err)
	}
	ss, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		ss += d * d
		n++
	}
	return math.Sqrt(ss / float64(n)), nil
}

// Bands holds a mean with symmetric envelopes k standard deviations away.
type Bands struct {
	Lower float64
	Mean  float64
	Upper float64
}

// NewBands computes mean ± k*stddev over values.
func NewBands(values []float64, k float64) (Bands, error) {
	if k <= 0 {
		return Bands{}, fmt.Errorf("band width must be positive, got %g", k)
	}
	mean, err := Mean(values)
	if err != nil {
		return Bands{}, err
	}
	sd, err := StdDev(values)
	if err != nil {
		return Bands{}, err
	}
	return Bands{Lower: mean - k*sd, Mean: mean, Upper: mean + k*sd}, nil
}
