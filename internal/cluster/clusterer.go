// Package cluster groups candidate vectors into density-based clusters plus
// a noise set. Cluster count is discovered, not specified: a cluster exists
// wherever enough vectors sit inside each other's neighborhood.
package cluster

import (
	"fmt"
	"math"
	"sort"

	"arbor/internal/embedding"
	"arbor/internal/logging"
	"arbor/internal/types"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds clustering parameters.
type Config struct {
	// MinClusterSize is the minimum number of mutually dense vectors that
	// form a cluster (this includes the point itself).
	MinClusterSize int `yaml:"min_cluster_size" json:"min_cluster_size"`

	// Epsilon is the neighborhood radius under the chosen metric.
	// Zero or negative selects an adaptive radius from the data.
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`

	// Metric is the distance function over the vector space.
	Metric embedding.Metric `yaml:"-" json:"-"`
}

// DefaultConfig returns sensible defaults: cosine distance, adaptive radius.
func DefaultConfig() Config {
	return Config{
		MinClusterSize: 2,
		Epsilon:        0,
		Metric:         embedding.MetricCosine,
	}
}

// =============================================================================
// CLUSTERER
// =============================================================================

// Assignment is the result of one clustering pass.
type Assignment struct {
	// Clusters ordered by descending size (stable across runs).
	Clusters []types.Cluster

	// Noise holds IDs of candidates no stable cluster absorbed. Distinct
	// from a cluster of size 1: noise has no representative.
	Noise []string

	// Labels maps every candidate ID to its cluster label (NoiseLabel for
	// noise). Retained for the audit field of SelectionResult.
	Labels map[string]int
}

// Clusterer runs density-based clustering over id/vector pairs.
type Clusterer struct {
	cfg Config
}

// New creates a clusterer. MinClusterSize below 2 is raised to 2.
func New(cfg Config) *Clusterer {
	if cfg.MinClusterSize < 2 {
		cfg.MinClusterSize = 2
	}
	return &Clusterer{cfg: cfg}
}

// Cluster partitions the vectors into clusters plus noise. The input is
// treated as an unordered set; results are deterministic regardless of input
// order. An all-noise outcome reports zero clusters rather than an error so
// the caller can fall back to tournament or raw-score selection.
func (c *Clusterer) Cluster(vectors []embedding.Vector) (*Assignment, error) {
	timer := logging.StartTimer(logging.CategoryCluster, "Cluster")
	defer timer.Stop()

	if len(vectors) == 0 {
		return &Assignment{Labels: map[string]int{}}, nil
	}

	// Sort by ID so label discovery order is deterministic.
	sorted := make([]embedding.Vector, len(vectors))
	copy(sorted, vectors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	dist, err := c.distanceMatrix(sorted)
	if err != nil {
		return nil, err
	}

	eps := c.cfg.Epsilon
	if eps <= 0 {
		eps = adaptiveEpsilon(dist, c.cfg.MinClusterSize)
		logging.ClusterDebug("Adaptive epsilon selected: %.6f (metric=%s)", eps, c.cfg.Metric)
	}

	labels := c.dbscan(dist, eps)

	asgn := buildAssignment(sorted, labels, dist)
	logging.Cluster("Clustering complete: %d clusters, %d noise of %d vectors",
		len(asgn.Clusters), len(asgn.Noise), len(vectors))
	return asgn, nil
}

// distanceMatrix precomputes pairwise distances.
func (c *Clusterer) distanceMatrix(vectors []embedding.Vector) ([][]float64, error) {
	n := len(vectors)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d, err := c.cfg.Metric.Distance(vectors[i].Values, vectors[j].Values)
			if err != nil {
				return nil, fmt.Errorf("distance %s vs %s: %w", vectors[i].ID, vectors[j].ID, err)
			}
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist, nil
}

// adaptiveEpsilon picks a radius from the k-distance distribution: the
// median distance to each point's (minClusterSize-1)-th nearest neighbor.
func adaptiveEpsilon(dist [][]float64, minClusterSize int) float64 {
	n := len(dist)
	k := minClusterSize - 1
	if k < 1 {
		k = 1
	}
	if k >= n {
		k = n - 1
	}
	if k < 1 {
		return 0
	}

	kDistances := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		neighbors := make([]float64, 0, n-1)
		for j := 0; j < n; j++ {
			if i != j {
				neighbors = append(neighbors, dist[i][j])
			}
		}
		sort.Float64s(neighbors)
		kDistances = append(kDistances, neighbors[k-1])
	}
	sort.Float64s(kDistances)

	median := kDistances[len(kDistances)/2]
	if len(kDistances)%2 == 0 {
		median = (kDistances[len(kDistances)/2-1] + kDistances[len(kDistances)/2]) / 2
	}
	return median
}

// dbscan labels each point with a cluster index, or types.NoiseLabel.
func (c *Clusterer) dbscan(dist [][]float64, eps float64) []int {
	n := len(dist)
	const unvisited = -2

	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighborsOf := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if dist[i][j] <= eps {
				out = append(out, j) // includes i itself
			}
		}
		return out
	}

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		neighbors := neighborsOf(i)
		if len(neighbors) < c.cfg.MinClusterSize {
			labels[i] = types.NoiseLabel
			continue
		}

		label := next
		next++
		labels[i] = label

		// Expand the cluster breadth-first.
		queue := append([]int(nil), neighbors...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if labels[j] == types.NoiseLabel {
				labels[j] = label // border point reached by a core point
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = label

			jNeighbors := neighborsOf(j)
			if len(jNeighbors) >= c.cfg.MinClusterSize {
				queue = append(queue, jNeighbors...)
			}
		}
	}

	return labels
}

// buildAssignment groups labeled points, computes medoids, and orders
// clusters by descending size.
func buildAssignment(vectors []embedding.Vector, labels []int, dist [][]float64) *Assignment {
	byLabel := make(map[int][]int)
	labelByID := make(map[string]int, len(vectors))

	for i, vec := range vectors {
		labelByID[vec.ID] = labels[i]
		if labels[i] != types.NoiseLabel {
			byLabel[labels[i]] = append(byLabel[labels[i]], i)
		}
	}

	asgn := &Assignment{Labels: labelByID}

	rawLabels := make([]int, 0, len(byLabel))
	for label := range byLabel {
		rawLabels = append(rawLabels, label)
	}
	sort.Ints(rawLabels)

	for _, label := range rawLabels {
		idxs := byLabel[label]
		medoid := medoidIndex(idxs, dist)

		members := make([]string, len(idxs))
		for i, idx := range idxs {
			members[i] = vectors[idx].ID
		}
		asgn.Clusters = append(asgn.Clusters, types.Cluster{
			Label:   label,
			Members: members,
			Medoid:  vectors[medoid].ID,
		})
	}

	// Largest first; equal sizes keep ascending label order for determinism.
	sort.SliceStable(asgn.Clusters, func(i, j int) bool {
		return asgn.Clusters[i].Size() > asgn.Clusters[j].Size()
	})

	for i, vec := range vectors {
		if labels[i] == types.NoiseLabel {
			asgn.Noise = append(asgn.Noise, vec.ID)
		}
	}

	return asgn
}

// medoidIndex returns the member minimizing the sum of distances to all
// other members. The medoid, unlike the centroid, is an actual candidate.
func medoidIndex(idxs []int, dist [][]float64) int {
	best := idxs[0]
	bestSum := math.Inf(1)
	for _, i := range idxs {
		var sum float64
		for _, j := range idxs {
			sum += dist[i][j]
		}
		if sum < bestSum {
			bestSum = sum
			best = i
		}
	}
	return best
}
