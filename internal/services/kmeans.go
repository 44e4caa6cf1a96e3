package services

import (
	"math"
	"math/rand"
)

// kmeansResult holds the final cluster assignment for a cohort
type kmeansResult struct {
	assignments []int
	centroids   [][]float64
	iterations  int
}

// runKMeans clusters the vectors into k groups with Lloyd's algorithm.
// Initial centroids are k distinct vectors drawn from the data using the
// supplied source, so a fixed seed reproduces the same clustering. A
// cluster that loses all members keeps a zero-vector centroid.
func runKMeans(vectors [][]float64, k, maxIterations int, tolerance float64, rng *rand.Rand) kmeansResult {
	n := len(vectors)
	if n == 0 || k <= 0 {
		return kmeansResult{}
	}
	if k > n {
		k = n
	}
	dims := len(vectors[0])

	centroids := make([][]float64, k)
	for i, idx := range rng.Perm(n)[:k] {
		centroids[i] = append([]float64(nil), vectors[idx]...)
	}

	assignments := make([]int, n)
	iterations := 0

	for iter := 0; iter < maxIterations; iter++ {
		iterations = iter + 1

		for i, vec := range vectors {
			assignments[i] = nearestCentroid(vec, centroids)
		}

		maxShift := 0.0
		for c := 0; c < k; c++ {
			next := make([]float64, dims)
			members := 0
			for i, vec := range vectors {
				if assignments[i] != c {
					continue
				}
				members++
				for d, v := range vec {
					next[d] += v
				}
			}
			if members > 0 {
				for d := range next {
					next[d] /= float64(members)
				}
			}
			// members == 0 leaves the zero vector in place

			if shift := euclideanDistance(centroids[c], next); shift > maxShift {
				maxShift = shift
			}
			centroids[c] = next
		}

		if maxShift < tolerance {
			break
		}
	}

	return kmeansResult{assignments: assignments, centroids: centroids, iterations: iterations}
}

func nearestCentroid(vec []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.MaxFloat64
	for c, centroid := range centroids {
		if d := euclideanDistance(vec, centroid); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func euclideanDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// normalizeMinMax rescales every dimension to [0,1] across the cohort.
// A constant dimension maps to 0.
func normalizeMinMax(vectors [][]float64) [][]float64 {
	if len(vectors) == 0 {
		return vectors
	}
	dims := len(vectors[0])
	mins := make([]float64, dims)
	maxs := make([]float64, dims)
	for d := 0; d < dims; d++ {
		mins[d] = math.MaxFloat64
		maxs[d] = -math.MaxFloat64
	}
	for _, vec := range vectors {
		for d, v := range vec {
			if v < mins[d] {
				mins[d] = v
			}
			if v > maxs[d] {
				maxs[d] = v
			}
		}
	}

	normalized := make([][]float64, len(vectors))
	for i, vec := range vectors {
		row := make([]float64, dims)
		for d, v := range vec {
			span := maxs[d] - mins[d]
			if span > 0 {
				row[d] = (v - mins[d]) / span
			}
		}
		normalized[i] = row
	}
	return normalized
}
