// Package selection turns a clustered population into one canonical trunk
// candidate plus a bounded set of twig alternatives.
package selection

import (
	"fmt"
	"math"
	"sort"

	"arbor/internal/cluster"
	"arbor/internal/logging"
	"arbor/internal/types"
)

// Select chooses the trunk and twigs from a cluster assignment.
//
// The trunk is the medoid of the largest cluster. Ties on size are broken by
// the cluster whose members have the highest mean score, then by earliest
// generation index. Twigs are the medoids of every other cluster, ordered by
// descending size. Noise members are never promoted: they are candidates too
// dissimilar to cluster, not distinct-and-valuable alternatives. Callers can
// still inspect them through the Assignment field of the result.
//
// Returns types.ErrNoViableSelection when the assignment has no clusters;
// the caller is expected to fall back (see SelectByRawScore).
func Select(asgn *cluster.Assignment, pop types.Population) (*types.SelectionResult, error) {
	timer := logging.StartTimer(logging.CategorySelection, "Select")
	defer timer.Stop()

	if asgn == nil || len(asgn.Clusters) == 0 {
		logging.Selection("No clusters available, signalling no viable selection")
		return nil, types.ErrNoViableSelection
	}

	ordered := orderClusters(asgn.Clusters, pop)

	trunk, ok := pop.ByID(ordered[0].Medoid)
	if !ok {
		return nil, fmt.Errorf("trunk medoid %s not present in population", ordered[0].Medoid)
	}

	twigs := make([]types.Candidate, 0, len(ordered)-1)
	for _, cl := range ordered[1:] {
		twig, ok := pop.ByID(cl.Medoid)
		if !ok {
			return nil, fmt.Errorf("twig medoid %s not present in population", cl.Medoid)
		}
		twigs = append(twigs, twig)
	}

	logging.Selection("Selected trunk %s from cluster of %d, %d twigs",
		trunk.ID, ordered[0].Size(), len(twigs))

	return &types.SelectionResult{
		Trunk:      trunk,
		Twigs:      twigs,
		Assignment: copyLabels(asgn.Labels),
	}, nil
}

// SelectByRawScore is the fallback when clustering found nothing: the
// highest aggregate raw score wins, with no twigs. The assignment marks
// every candidate as noise to keep the audit trail honest.
func SelectByRawScore(pop types.Population) (*types.SelectionResult, error) {
	best, ok := pop.Best()
	if !ok {
		return nil, types.ErrNoViableSelection
	}

	labels := make(map[string]int, len(pop))
	for _, c := range pop {
		labels[c.ID] = types.NoiseLabel
	}

	logging.Selection("Raw-score fallback selected %s (score %.2f)", best.ID, best.AggregateScore())
	return &types.SelectionResult{Trunk: best, Assignment: labels}, nil
}

// orderClusters sorts clusters by the trunk priority rule: size, then mean
// member score, then earliest generation index.
func orderClusters(clusters []types.Cluster, pop types.Population) []types.Cluster {
	out := make([]types.Cluster, len(clusters))
	copy(out, clusters)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Size() != out[j].Size() {
			return out[i].Size() > out[j].Size()
		}
		mi, mj := meanScore(out[i], pop), meanScore(out[j], pop)
		if mi != mj {
			return mi > mj
		}
		return earliestIndex(out[i], pop) < earliestIndex(out[j], pop)
	})
	return out
}

// meanScore averages the aggregate score across the cluster's members.
func meanScore(cl types.Cluster, pop types.Population) float64 {
	if cl.Size() == 0 {
		return 0
	}
	var sum float64
	for _, id := range cl.Members {
		if c, ok := pop.ByID(id); ok {
			sum += c.AggregateScore()
		}
	}
	return sum / float64(cl.Size())
}

// earliestIndex returns the smallest generation index among members.
func earliestIndex(cl types.Cluster, pop types.Population) int {
	earliest := math.MaxInt
	for _, id := range cl.Members {
		if c, ok := pop.ByID(id); ok && c.SourceIndex < earliest {
			earliest = c.SourceIndex
		}
	}
	return earliest
}

func copyLabels(labels map[string]int) map[string]int {
	out := make(map[string]int, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
