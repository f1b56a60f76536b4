package cluster

import (
	"arbor/internal/embedding"
	"arbor/internal/types"
)

// Coherence computes a per-cluster coherence score: the mean pairwise cosine
// similarity across cluster members. Singleton clusters score 1.0.
func Coherence(asgn *Assignment, vectors []embedding.Vector) map[int]float64 {
	byID := make(map[string][]float32, len(vectors))
	for _, v := range vectors {
		byID[v.ID] = v.Values
	}

	scores := make(map[int]float64, len(asgn.Clusters))
	for _, cl := range asgn.Clusters {
		scores[cl.Label] = clusterCoherence(cl, byID)
	}
	return scores
}

func clusterCoherence(cl types.Cluster, byID map[string][]float32) float64 {
	n := len(cl.Members)
	if n < 2 {
		return 1.0
	}

	var total float64
	var pairs int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, okA := byID[cl.Members[i]]
			b, okB := byID[cl.Members[j]]
			if !okA || !okB {
				continue
			}
			sim, err := embedding.CosineSimilarity(a, b)
			if err != nil {
				continue
			}
			total += sim
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}
