package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/embedding"
	"arbor/internal/types"
)

// twoClusterVectors builds 5 vectors forming two well-separated groups
// (sizes 3 and 2) with no noise under euclidean distance.
func twoClusterVectors() []embedding.Vector {
	return []embedding.Vector{
		{ID: "a1", Values: []float32{0.0, 0.0}},
		{ID: "a2", Values: []float32{0.1, 0.0}},
		{ID: "a3", Values: []float32{0.0, 0.1}},
		{ID: "b1", Values: []float32{5.0, 5.0}},
		{ID: "b2", Values: []float32{5.1, 5.0}},
	}
}

func TestClusterTwoGroups(t *testing.T) {
	c := New(Config{MinClusterSize: 2, Epsilon: 0.5, Metric: embedding.MetricEuclidean})

	asgn, err := c.Cluster(twoClusterVectors())
	require.NoError(t, err)

	require.Len(t, asgn.Clusters, 2)
	assert.Empty(t, asgn.Noise)

	// Largest cluster first.
	assert.Equal(t, 3, asgn.Clusters[0].Size())
	assert.Equal(t, 2, asgn.Clusters[1].Size())
	assert.ElementsMatch(t, []string{"a1", "a2", "a3"}, asgn.Clusters[0].Members)
	assert.ElementsMatch(t, []string{"b1", "b2"}, asgn.Clusters[1].Members)
}

func TestClusterMedoidIsActualMember(t *testing.T) {
	c := New(Config{MinClusterSize: 2, Epsilon: 0.5, Metric: embedding.MetricEuclidean})

	asgn, err := c.Cluster(twoClusterVectors())
	require.NoError(t, err)

	// a1 minimizes summed distance to a2 and a3.
	assert.Equal(t, "a1", asgn.Clusters[0].Medoid)
	assert.Contains(t, asgn.Clusters[0].Members, asgn.Clusters[0].Medoid)
}

func TestClusterAllNoise(t *testing.T) {
	vectors := []embedding.Vector{
		{ID: "x", Values: []float32{0, 0}},
		{ID: "y", Values: []float32{10, 0}},
		{ID: "z", Values: []float32{0, 10}},
	}
	c := New(Config{MinClusterSize: 2, Epsilon: 1.0, Metric: embedding.MetricEuclidean})

	asgn, err := c.Cluster(vectors)
	require.NoError(t, err)

	assert.Empty(t, asgn.Clusters, "no density-stable cluster means zero clusters, not an error")
	assert.Len(t, asgn.Noise, 3)
	for _, id := range []string{"x", "y", "z"} {
		assert.Equal(t, types.NoiseLabel, asgn.Labels[id])
	}
}

func TestClusterDeterministicAcrossInputOrder(t *testing.T) {
	c := New(Config{MinClusterSize: 2, Epsilon: 0.5, Metric: embedding.MetricEuclidean})

	forward := twoClusterVectors()
	reversed := make([]embedding.Vector, len(forward))
	for i, v := range forward {
		reversed[len(forward)-1-i] = v
	}

	a, err := c.Cluster(forward)
	require.NoError(t, err)
	b, err := c.Cluster(reversed)
	require.NoError(t, err)

	require.Len(t, b.Clusters, len(a.Clusters))
	for i := range a.Clusters {
		assert.Equal(t, a.Clusters[i].Medoid, b.Clusters[i].Medoid)
		assert.ElementsMatch(t, a.Clusters[i].Members, b.Clusters[i].Members)
	}
}

func TestClusterAdaptiveEpsilon(t *testing.T) {
	// No explicit radius: the k-distance heuristic should still separate
	// two tight groups.
	c := New(Config{MinClusterSize: 2, Epsilon: 0, Metric: embedding.MetricEuclidean})

	asgn, err := c.Cluster(twoClusterVectors())
	require.NoError(t, err)
	assert.Len(t, asgn.Clusters, 2)
}

func TestClusterEmptyInput(t *testing.T) {
	c := New(DefaultConfig())
	asgn, err := c.Cluster(nil)
	require.NoError(t, err)
	assert.Empty(t, asgn.Clusters)
	assert.Empty(t, asgn.Noise)
}

func TestCoherence(t *testing.T) {
	vectors := twoClusterVectors()
	c := New(Config{MinClusterSize: 2, Epsilon: 0.5, Metric: embedding.MetricEuclidean})
	asgn, err := c.Cluster(vectors)
	require.NoError(t, err)

	scores := Coherence(asgn, vectors)
	require.Len(t, scores, 2)
	for label, score := range scores {
		assert.GreaterOrEqual(t, score, -1.0, "cluster %d", label)
		assert.LessOrEqual(t, score, 1.0, "cluster %d", label)
	}
}
