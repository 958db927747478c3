package vector

import "math"

// Dot returns the inner product of a and b over their common length.
func Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// Normalize scales v to unit length in place and returns it. Zero vectors are
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sq))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// Similarity scores every vector against query. Vectors are expected to be
// unit-normalized, so the dot product equals cosine similarity.
func Similarity(query []float32, vectors [][]float32) []float32 {
	scores := make([]float32, len(vectors))
	for i, v := range vectors {
		scores[i] = Dot(query, v)
	}
	return scores
}
