package segmentation

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// kmeans is Lloyd's algorithm with k-means++ seeding. All randomness comes
// from one source seeded by seed, so equal input and seed give bit-identical
// centroids and labels.
type kmeans struct {
	k       int
	maxIter int
	nInit   int
	seed    int64
}

type kmeansResult struct {
	centroids  [][]float64
	labels     []int
	inertia    float64
	iterations int
}

func (km kmeans) fit(x *mat.Dense) kmeansResult {
	rng := rand.New(rand.NewSource(km.seed)) //nolint:gosec // reproducible seeding is required
	var best kmeansResult
	for run := 0; run < km.nInit; run++ {
		res := km.run(x, rng)
		// Strictly lower inertia wins; ties keep the earlier run.
		if run == 0 || res.inertia < best.inertia {
			best = res
		}
	}
	return best
}

func (km kmeans) run(x *mat.Dense, rng *rand.Rand) kmeansResult {
	n, d := x.Dims()
	centroids := seedCentroids(x, km.k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	iterations := 0
	for it := 1; it <= km.maxIter; it++ {
		iterations = it
		changed := false
		for i := 0; i < n; i++ {
			c, _ := nearest(x.RawRowView(i), centroids)
			if labels[i] != c {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, km.k)
		counts := make([]int, km.k)
		for c := range sums {
			sums[c] = make([]float64, d)
		}
		for i := 0; i < n; i++ {
			floats.Add(sums[labels[i]], x.RawRowView(i))
			counts[labels[i]]++
		}
		for c := range centroids {
			// An empty cluster keeps its previous centroid.
			if counts[c] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			centroids[c] = sums[c]
		}
	}

	// Final labels are recomputed against the final centroids so they match
	// what assignment of the same vectors would produce.
	inertia := 0.0
	for i := 0; i < n; i++ {
		c, dist := nearest(x.RawRowView(i), centroids)
		labels[i] = c
		inertia += dist * dist
	}
	return kmeansResult{
		centroids:  centroids,
		labels:     labels,
		inertia:    inertia,
		iterations: iterations,
	}
}

// seedCentroids picks k starting centroids by k-means++: the first uniformly,
// each next one with probability proportional to its squared distance from
// the closest centroid picked so far.
func seedCentroids(x *mat.Dense, k int, rng *rand.Rand) [][]float64 {
	n, _ := x.Dims()
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, copyRow(x, rng.Intn(n)))

	dist := make([]float64, n)
	for len(centroids) < k {
		total := 0.0
		for i := 0; i < n; i++ {
			_, dd := nearest(x.RawRowView(i), centroids)
			dist[i] = dd * dd
			total += dist[i]
		}

		r := rng.Float64() * total
		pick := -1
		cumulative := 0.0
		for i, d2 := range dist {
			if d2 == 0 {
				continue
			}
			pick = i
			cumulative += d2
			if cumulative > r {
				break
			}
		}
		if pick < 0 {
			// Every point coincides with a centroid.
			pick = rng.Intn(n)
		}
		centroids = append(centroids, copyRow(x, pick))
	}
	return centroids
}

// nearest returns the index of the closest centroid and its Euclidean
// distance. Ties go to the lowest index.
func nearest(v []float64, centroids [][]float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(v, centroid, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func copyRow(x *mat.Dense, i int) []float64 {
	return append([]float64(nil), x.RawRowView(i)...)
}
