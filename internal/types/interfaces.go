package types

import "context"

// SeedContext parameterizes a generator call. When Seed is non-nil the
// generator is asked for variants of it; Weaknesses steers those variants
// toward the seed's lowest-scoring dimensions.
type SeedContext struct {
	Request    string
	Seed       *Candidate
	Weaknesses []Weakness
}

// Generator produces candidate artifacts from a seed context. Implementations
// must be safe to call concurrently for independent invocations, and must
// distinguish "no content produced" (ErrGeneratorNoContent) from transport
// failures (ErrGeneratorUnavailable).
type Generator interface {
	Generate(ctx context.Context, seed SeedContext, count int, temperature float64) ([]Candidate, error)
}

// Judge scores candidates.
// Score assigns per-dimension quality values to a single candidate;
// Compare declares a pairwise winner with a confidence value in [0,1].
type Judge interface {
	Score(ctx context.Context, c Candidate, comparisonContext string) (map[string]float64, error)
	Compare(ctx context.Context, a, b Candidate, criteria []string, weights map[string]float64) (MatchupResult, error)
}
