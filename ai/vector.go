package ai

import "math"

// NormalizeVector returns a unit-length copy of v. A zero vector stays zero
// and the input is never modified.
func NormalizeVector(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := Magnitude(v)
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Magnitude returns the Euclidean length of v.
func Magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
