package selection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/cluster"
	"arbor/internal/types"
)

func scored(id string, idx int, score float64) types.Candidate {
	return types.Candidate{
		ID:          id,
		SourceIndex: idx,
		Scores:      map[string]float64{"quality": score},
	}
}

func assignment(clusters []types.Cluster, noise []string) *cluster.Assignment {
	labels := make(map[string]int)
	for _, cl := range clusters {
		for _, id := range cl.Members {
			labels[id] = cl.Label
		}
	}
	for _, id := range noise {
		labels[id] = types.NoiseLabel
	}
	return &cluster.Assignment{Clusters: clusters, Noise: noise, Labels: labels}
}

func TestSelectTrunkFromLargestCluster(t *testing.T) {
	// Two clusters, sizes 3 and 2, no noise.
	pop := types.Population{
		scored("a1", 0, 7), scored("a2", 1, 6), scored("a3", 2, 8),
		scored("b1", 3, 9), scored("b2", 4, 9),
	}
	asgn := assignment([]types.Cluster{
		{Label: 0, Members: []string{"a1", "a2", "a3"}, Medoid: "a2"},
		{Label: 1, Members: []string{"b1", "b2"}, Medoid: "b1"},
	}, nil)

	result, err := Select(asgn, pop)
	require.NoError(t, err)

	assert.Equal(t, "a2", result.Trunk.ID, "trunk is the medoid of the largest cluster")
	require.Len(t, result.Twigs, 1, "twig count equals cluster count minus one")
	assert.Equal(t, "b1", result.Twigs[0].ID)
}

func TestSelectSizeTieBrokenByMeanScore(t *testing.T) {
	pop := types.Population{
		scored("a1", 0, 4), scored("a2", 1, 4),
		scored("b1", 2, 9), scored("b2", 3, 9),
	}
	asgn := assignment([]types.Cluster{
		{Label: 0, Members: []string{"a1", "a2"}, Medoid: "a1"},
		{Label: 1, Members: []string{"b1", "b2"}, Medoid: "b1"},
	}, nil)

	result, err := Select(asgn, pop)
	require.NoError(t, err)
	assert.Equal(t, "b1", result.Trunk.ID, "higher mean score wins the size tie")
	assert.Equal(t, "a1", result.Twigs[0].ID)
}

func TestSelectFullTieBrokenByEarliestGeneration(t *testing.T) {
	pop := types.Population{
		scored("a1", 5, 7), scored("a2", 6, 7),
		scored("b1", 1, 7), scored("b2", 2, 7),
	}
	asgn := assignment([]types.Cluster{
		{Label: 0, Members: []string{"a1", "a2"}, Medoid: "a1"},
		{Label: 1, Members: []string{"b1", "b2"}, Medoid: "b2"},
	}, nil)

	result, err := Select(asgn, pop)
	require.NoError(t, err)
	assert.Equal(t, "b2", result.Trunk.ID, "earliest generation index is the final tie-break")
}

func TestSelectNoiseNeverPromoted(t *testing.T) {
	pop := types.Population{
		scored("a1", 0, 5), scored("a2", 1, 5),
		scored("loner", 2, 10),
	}
	asgn := assignment([]types.Cluster{
		{Label: 0, Members: []string{"a1", "a2"}, Medoid: "a1"},
	}, []string{"loner"})

	result, err := Select(asgn, pop)
	require.NoError(t, err)

	assert.Empty(t, result.Twigs, "noise members stay out of the twig list")
	assert.Equal(t, types.NoiseLabel, result.Assignment["loner"], "noise remains inspectable via the raw assignment")
}

func TestSelectTrunkNeverListedAsTwig(t *testing.T) {
	pop := types.Population{
		scored("a1", 0, 5), scored("a2", 1, 5), scored("a3", 2, 5),
		scored("b1", 3, 5), scored("b2", 4, 5),
		scored("c1", 5, 5), scored("c2", 6, 5),
	}
	asgn := assignment([]types.Cluster{
		{Label: 0, Members: []string{"a1", "a2", "a3"}, Medoid: "a1"},
		{Label: 1, Members: []string{"b1", "b2"}, Medoid: "b1"},
		{Label: 2, Members: []string{"c1", "c2"}, Medoid: "c2"},
	}, nil)

	result, err := Select(asgn, pop)
	require.NoError(t, err)
	require.Len(t, result.Twigs, 2)
	for _, twig := range result.Twigs {
		assert.NotEqual(t, result.Trunk.ID, twig.ID)
	}
}

func TestSelectNoClusters(t *testing.T) {
	pop := types.Population{scored("x", 0, 5)}

	_, err := Select(assignment(nil, []string{"x"}), pop)
	assert.True(t, errors.Is(err, types.ErrNoViableSelection))

	_, err = Select(nil, pop)
	assert.True(t, errors.Is(err, types.ErrNoViableSelection))
}

func TestSelectByRawScore(t *testing.T) {
	pop := types.Population{
		scored("low", 0, 3), scored("high", 1, 9), scored("mid", 2, 6),
	}

	result, err := SelectByRawScore(pop)
	require.NoError(t, err)
	assert.Equal(t, "high", result.Trunk.ID)
	assert.Empty(t, result.Twigs)
	assert.Equal(t, types.NoiseLabel, result.Assignment["low"])

	_, err = SelectByRawScore(nil)
	assert.True(t, errors.Is(err, types.ErrNoViableSelection))
}
