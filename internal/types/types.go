// Package types provides shared type definitions used across arbor packages.
// This package exists to break import cycles between selection, tournament,
// and refinement. Types in this package should be foundational data
// structures with no complex dependencies.
package types

import (
	"sort"
)

// =============================================================================
// CANDIDATE MODEL
// =============================================================================

// Step is a single discrete action inside a candidate plan.
type Step struct {
	Action        string   `json:"action"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Outcome       string   `json:"outcome,omitempty"`
	Risks         []string `json:"risks,omitempty"`
	Confidence    float64  `json:"confidence,omitempty"`
}

// Candidate is an artifact under evaluation. Candidates are immutable once
// created: a refined candidate is always a new Candidate, never a mutation
// of its predecessor. Use Scored to derive a copy with a score map attached.
type Candidate struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Steps       []Step             `json:"steps"`
	Temperature float64            `json:"temperature"`
	Source      string             `json:"source"`
	SourceIndex int                `json:"source_index"`
	Scores      map[string]float64 `json:"scores,omitempty"`
}

// AggregateScore returns the mean across all score dimensions, or 0 when the
// candidate has not been scored.
func (c Candidate) AggregateScore() float64 {
	if len(c.Scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c.Scores {
		sum += v
	}
	return sum / float64(len(c.Scores))
}

// Scored returns a copy of the candidate carrying the given score map.
// The receiver is left untouched.
func (c Candidate) Scored(scores map[string]float64) Candidate {
	out := c
	out.Scores = make(map[string]float64, len(scores))
	for k, v := range scores {
		out.Scores[k] = v
	}
	return out
}

// LowestDimensions returns up to n score dimensions ordered worst-first.
// Ties are broken alphabetically so the result is deterministic.
func (c Candidate) LowestDimensions(n int) []Weakness {
	if n <= 0 || len(c.Scores) == 0 {
		return nil
	}
	weaknesses := make([]Weakness, 0, len(c.Scores))
	for dim, score := range c.Scores {
		weaknesses = append(weaknesses, Weakness{Dimension: dim, Score: score})
	}
	sort.Slice(weaknesses, func(i, j int) bool {
		if weaknesses[i].Score != weaknesses[j].Score {
			return weaknesses[i].Score < weaknesses[j].Score
		}
		return weaknesses[i].Dimension < weaknesses[j].Dimension
	})
	if len(weaknesses) > n {
		weaknesses = weaknesses[:n]
	}
	return weaknesses
}

// Weakness names a score dimension the candidate underperforms on.
// Passed to the generator so refinement targets concrete deficits.
type Weakness struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
}

// =============================================================================
// POPULATION
// =============================================================================

// Population is a collection of candidates produced in one generation round.
// Selection never mutates a population in place; it returns derived results.
type Population []Candidate

// ByID returns the candidate with the given ID, if present.
func (p Population) ByID(id string) (Candidate, bool) {
	for _, c := range p {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{}, false
}

// Best returns the candidate with the highest aggregate score.
// The second return is false for an empty population.
func (p Population) Best() (Candidate, bool) {
	if len(p) == 0 {
		return Candidate{}, false
	}
	best := p[0]
	for _, c := range p[1:] {
		if c.AggregateScore() > best.AggregateScore() {
			best = c
		}
	}
	return best, true
}

// SortedBySeed returns a new slice ordered by descending aggregate score.
// Ties fall back to earliest source index, then ID, so seeding is stable.
func (p Population) SortedBySeed() []Candidate {
	out := make([]Candidate, len(p))
	copy(out, p)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].AggregateScore(), out[j].AggregateScore()
		if si != sj {
			return si > sj
		}
		if out[i].SourceIndex != out[j].SourceIndex {
			return out[i].SourceIndex < out[j].SourceIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// CLUSTERING AND SELECTION
// =============================================================================

// NoiseLabel marks candidates density clustering could not assign anywhere.
const NoiseLabel = -1

// Cluster is a set of candidate IDs with a designated representative.
// The medoid is the member minimizing total distance to all other members,
// which (unlike a centroid) is always an actual candidate.
type Cluster struct {
	Label   int      `json:"label"`
	Members []string `json:"members"`
	Medoid  string   `json:"medoid"`
}

// Size returns the number of members.
func (c Cluster) Size() int { return len(c.Members) }

// SelectionResult holds exactly one trunk candidate plus zero or more twig
// candidates (one representative per non-trunk cluster). Assignment retains
// the raw cluster labels, including noise, for auditability.
type SelectionResult struct {
	Trunk      Candidate      `json:"trunk"`
	Twigs      []Candidate    `json:"twigs"`
	Assignment map[string]int `json:"assignment"`
}

// =============================================================================
// TOURNAMENT
// =============================================================================

// MatchupResult is the outcome of one pairwise comparison. Degraded marks
// results decided by the fallback policy after the judge became unavailable,
// so downstream consumers can discount them.
type MatchupResult struct {
	CandidateA      string             `json:"candidate_a"`
	CandidateB      string             `json:"candidate_b"`
	Winner          string             `json:"winner"`
	Confidence      float64            `json:"confidence"`
	CriterionScores map[string]float64 `json:"criterion_scores,omitempty"`
	Degraded        bool               `json:"degraded,omitempty"`
}
