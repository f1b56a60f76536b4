package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"arbor/internal/logging"
	"arbor/internal/types"
)

// =============================================================================
// VECTORIZER
// =============================================================================

// Vector pairs a candidate ID with its embedding. The clusterer treats its
// input as an unordered set of these pairs.
type Vector struct {
	ID     string
	Values []float32
}

// Vectorizer turns candidates into vectors via an embedding engine.
// It is stateless apart from the injected engine.
type Vectorizer struct {
	engine  Engine
	workers int
}

// NewVectorizer creates a vectorizer around the given engine.
func NewVectorizer(engine Engine, workers int) *Vectorizer {
	if workers <= 0 {
		workers = 4
	}
	return &Vectorizer{engine: engine, workers: workers}
}

// Vectorize embeds a single candidate. Failures are reported as
// *types.VectorizationError so callers can apply the exclusion policy.
func (v *Vectorizer) Vectorize(ctx context.Context, c types.Candidate) ([]float32, error) {
	vec, err := v.engine.Embed(ctx, CandidateText(c))
	if err != nil {
		return nil, &types.VectorizationError{CandidateID: c.ID, Err: err}
	}
	if len(vec) == 0 {
		return nil, &types.VectorizationError{CandidateID: c.ID, Err: fmt.Errorf("empty embedding")}
	}
	return vec, nil
}

// VectorizeAll embeds a population in parallel. Individual candidates that
// fail are excluded and reported in the second return value instead of
// aborting the batch. Result order follows the input population, minus
// exclusions.
func (v *Vectorizer) VectorizeAll(ctx context.Context, pop types.Population) ([]Vector, []*types.VectorizationError) {
	timer := logging.StartTimer(logging.CategoryVectorize, "VectorizeAll")
	defer timer.Stop()

	logging.Vectorize("Vectorizing population of %d candidates with %d workers", len(pop), v.workers)

	vectors := make([]*Vector, len(pop))
	var mu sync.Mutex
	var failures []*types.VectorizationError

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)

	for i, c := range pop {
		g.Go(func() error {
			vec, err := v.Vectorize(gctx, c)
			if err != nil {
				verr := &types.VectorizationError{CandidateID: c.ID, Err: err}
				if existing, ok := err.(*types.VectorizationError); ok {
					verr = existing
				}
				logging.Get(logging.CategoryVectorize).Warn("Excluding candidate %s: %v", c.ID, verr.Err)
				mu.Lock()
				failures = append(failures, verr)
				mu.Unlock()
				return nil // exclusion, not batch failure
			}
			vectors[i] = &Vector{ID: c.ID, Values: vec}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; exclusion policy absorbs them

	out := make([]Vector, 0, len(pop))
	for _, vec := range vectors {
		if vec != nil {
			out = append(out, *vec)
		}
	}

	logging.Vectorize("Vectorized %d/%d candidates (%d excluded)", len(out), len(pop), len(failures))
	return out, failures
}

// CandidateText extracts the text representation of a candidate for
// embedding. Deterministic for identical candidates: score dimensions are
// emitted in sorted order.
func CandidateText(c types.Candidate) string {
	parts := []string{c.Title}

	for _, step := range c.Steps {
		parts = append(parts, step.Action, step.Outcome)
		parts = append(parts, strings.Join(step.Prerequisites, " "))
		parts = append(parts, strings.Join(step.Risks, " "))
	}

	dims := make([]string, 0, len(c.Scores))
	for dim := range c.Scores {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	for _, dim := range dims {
		parts = append(parts, fmt.Sprintf("%s: %g", dim, c.Scores[dim]))
	}

	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// =============================================================================
// SIMILARITY SEARCH
// =============================================================================

// SimilarityResult is one hit from MostSimilar.
type SimilarityResult struct {
	ID         string
	Similarity float64
}

// MostSimilar returns the top K vectors most similar to the query, by cosine
// similarity, descending. Vectors with mismatched dimensions are skipped.
func MostSimilar(query []float32, corpus []Vector, k int) []SimilarityResult {
	if k <= 0 {
		k = 5
	}

	results := make([]SimilarityResult, 0, len(corpus))
	for _, vec := range corpus {
		sim, err := CosineSimilarity(query, vec.Values)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{ID: vec.ID, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
