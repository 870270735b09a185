package market

import "math"

// SeededRandom is a sinusoidal hash sequence: every call returns
// frac(sin(state) * 10000) and moves state forward by one. The sequence for
// a given seed is fully reproducible. It is not suitable for anything
// security sensitive.
type SeededRandom struct {
	state int64
}

func NewSeededRandom(seed int64) *SeededRandom {
	return &SeededRandom{state: seed}
}

// Next returns the next value in [0,1).
func (r *SeededRandom) Next() float64 {
	x := math.Sin(float64(r.state)) * 10000
	r.state++
	f := x - math.Floor(x)
	if f >= 1 {
		// x - floor(x) can round up to 1 for tiny negative x.
		return 0
	}
	return f
}

// State reports the counter that the next call will hash.
func (r *SeededRandom) State() int64 {
	return r.state
}
