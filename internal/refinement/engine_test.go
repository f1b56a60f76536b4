package refinement

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"arbor/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedGenerator returns one batch of variants per call. Variant titles
// encode their aggregate score so the fake judge can score them.
type scriptedGenerator struct {
	mu        sync.Mutex
	batches   [][]float64
	calls     int
	failCalls int // the first failCalls calls error
}

func (g *scriptedGenerator) Generate(_ context.Context, _ types.SeedContext, _ int, temperature float64) ([]types.Candidate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= g.failCalls {
		return nil, types.ErrGeneratorUnavailable
	}
	if len(g.batches) == 0 {
		return nil, types.ErrGeneratorNoContent
	}
	batch := g.batches[0]
	g.batches = g.batches[1:]

	variants := make([]types.Candidate, len(batch))
	for i, score := range batch {
		variants[i] = types.Candidate{
			ID:          fmt.Sprintf("v%d-%d", g.calls, i),
			Title:       strconv.FormatFloat(score, 'f', 2, 64),
			Temperature: temperature,
			SourceIndex: i,
		}
	}
	return variants, nil
}

// titleJudge scores a candidate by parsing its title as a number.
type titleJudge struct {
	mu      sync.Mutex
	failFor map[string]bool
}

func (j *titleJudge) Score(_ context.Context, c types.Candidate, _ string) (map[string]float64, error) {
	j.mu.Lock()
	fail := j.failFor[c.Title]
	j.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("judge transport error")
	}
	v, err := strconv.ParseFloat(c.Title, 64)
	if err != nil {
		return nil, fmt.Errorf("unscorable candidate %q", c.Title)
	}
	return map[string]float64{"quality": v}, nil
}

func (j *titleJudge) Compare(_ context.Context, a, b types.Candidate, _ []string, _ map[string]float64) (types.MatchupResult, error) {
	return types.MatchupResult{CandidateA: a.ID, CandidateB: b.ID, Winner: a.ID, Confidence: 0.5}, nil
}

func seedCandidate(score float64) types.Candidate {
	return types.Candidate{
		ID:     "seed",
		Title:  strconv.FormatFloat(score, 'f', 2, 64),
		Scores: map[string]float64{"quality": score},
	}
}

func baseConfig() Configuration {
	cfg := DefaultConfiguration("expand the settlement")
	cfg.ConvergenceThreshold = 0 // disabled unless a test opts in
	return cfg
}

func TestExhaustedGenerations(t *testing.T) {
	// Seed 6.0, generation bests 7.0, 8.5, 8.5 with a 9.0 target: the
	// target is never reached and the loop runs out of generations.
	gen := &scriptedGenerator{batches: [][]float64{{7.0, 5.0}, {8.5, 6.0}, {8.5, 4.0}}}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 3
	cfg.QualityTarget = 9.0

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)

	assert.Equal(t, StatusExhaustedGenerations, session.Status())
	generations := session.Generations()
	require.Len(t, generations, 4) // seed plus three iterations
	assert.Equal(t, 8.5, session.Best().AggregateScore())
}

func TestConvergedByQualityTarget(t *testing.T) {
	gen := &scriptedGenerator{batches: [][]float64{{7.0}, {9.2}, {9.9}}}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 5
	cfg.QualityTarget = 9.0

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)

	assert.Equal(t, StatusConvergedByQualityTarget, session.Status())
	assert.Len(t, session.Generations(), 3, "stops at the generation that reached the target")
	assert.Equal(t, 9.2, session.Best().AggregateScore())
	assert.Equal(t, 2, gen.calls, "no further generator calls after convergence")
}

func TestConvergedByThreshold(t *testing.T) {
	// Improvements: 1.0, 0.02, 0.01 — two consecutive below 0.05 converge.
	gen := &scriptedGenerator{batches: [][]float64{{7.0}, {7.02}, {7.03}, {9.0}}}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 10
	cfg.ConvergenceThreshold = 0.05

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)

	assert.Equal(t, StatusConvergedByThreshold, session.Status())
	assert.Len(t, session.Generations(), 4)
}

func TestSingleLowImprovementDoesNotConverge(t *testing.T) {
	// A single below-threshold generation followed by a jump keeps going.
	gen := &scriptedGenerator{batches: [][]float64{{7.0}, {7.02}, {8.5}}}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 3
	cfg.ConvergenceThreshold = 0.05

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)
	assert.Equal(t, StatusExhaustedGenerations, session.Status())
}

func TestZeroMaxGenerationsSkipsGenerator(t *testing.T) {
	gen := &scriptedGenerator{batches: [][]float64{{9.9}}}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 0

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)

	assert.Equal(t, StatusExhaustedGenerations, session.Status())
	assert.Len(t, session.Generations(), 1)
	assert.Zero(t, gen.calls, "generator must not be called")
	assert.Equal(t, "seed", session.Best().ID)
}

func TestGeneratorFailureAfterRetryFailsSession(t *testing.T) {
	gen := &scriptedGenerator{failCalls: 2, batches: [][]float64{{7.0}}}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 3

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrGeneratorUnavailable)

	require.NotNil(t, session, "failed sessions still return their history")
	assert.Equal(t, StatusFailed, session.Status())
	assert.Len(t, session.Generations(), 1)
	assert.Error(t, session.Err())
	assert.Equal(t, 2, gen.calls, "generator is retried exactly once")
}

func TestGeneratorRecoversOnRetry(t *testing.T) {
	gen := &scriptedGenerator{failCalls: 1, batches: [][]float64{{7.0}}}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 1

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)
	assert.Equal(t, StatusExhaustedGenerations, session.Status())
	assert.Equal(t, 7.0, session.Best().AggregateScore())
}

func TestScoringFailuresAreAbsorbed(t *testing.T) {
	gen := &scriptedGenerator{batches: [][]float64{{7.0, 8.0}}}
	judge := &titleJudge{failFor: map[string]bool{"8.00": true}}
	engine := New(gen, judge, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 1

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)

	generations := session.Generations()
	require.Len(t, generations, 2)
	assert.Equal(t, 1, generations[1].FailedEvaluations)
	assert.Equal(t, 7.0, session.Best().AggregateScore(), "the unscorable 8.0 variant is excluded")
}

func TestBestScoreMonotonic(t *testing.T) {
	// Generations get worse after the first; the best must never regress.
	gen := &scriptedGenerator{batches: [][]float64{{8.0}, {5.0}, {4.0}}}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 3

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)

	prev := 0.0
	for _, g := range session.Generations() {
		assert.GreaterOrEqual(t, g.BestScore, prev, "generation %d regressed", g.Index)
		prev = g.BestScore
	}
	assert.Equal(t, 8.0, session.Best().AggregateScore())
}

func TestTimeBudgetExhausted(t *testing.T) {
	slowGen := &scriptedGenerator{batches: [][]float64{{7.0}, {7.5}, {8.0}, {8.5}}}
	engine := New(&sleepingGenerator{inner: slowGen, delay: 30 * time.Millisecond}, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 10
	cfg.TimeBudget = 20 * time.Millisecond

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)

	assert.Equal(t, StatusExhaustedTime, session.Status())
	// The in-flight generation was allowed to finish.
	assert.GreaterOrEqual(t, len(session.Generations()), 2)
	assert.Less(t, len(session.Generations()), 11)
}

// sleepingGenerator adds latency around an inner generator.
type sleepingGenerator struct {
	inner types.Generator
	delay time.Duration
}

func (g *sleepingGenerator) Generate(ctx context.Context, seed types.SeedContext, count int, temperature float64) ([]types.Candidate, error) {
	time.Sleep(g.delay)
	return g.inner.Generate(ctx, seed, count, temperature)
}

func TestUnscoredSeedIsScoredFirst(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 0

	seed := types.Candidate{ID: "seed", Title: "6.50"}
	session, err := engine.Refine(context.Background(), seed, cfg)
	require.NoError(t, err)
	assert.Equal(t, 6.5, session.Best().AggregateScore())
}

func TestInvalidConfiguration(t *testing.T) {
	engine := New(&scriptedGenerator{}, &titleJudge{}, 2)

	for name, mutate := range map[string]func(*Configuration){
		"negative max generations": func(c *Configuration) { c.MaxGenerations = -1 },
		"zero branches":            func(c *Configuration) { c.BranchesPerGeneration = 0 },
		"negative threshold":       func(c *Configuration) { c.ConvergenceThreshold = -0.1 },
		"quality target over 10":   func(c *Configuration) { c.QualityTarget = 11 },
		"negative time budget":     func(c *Configuration) { c.TimeBudget = -time.Second },
		"decay over 1":             func(c *Configuration) { c.TemperatureDecay = 1.5 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			mutate(&cfg)

			session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
			assert.Nil(t, session)

			var cfgErr *types.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestTemperatureDecaysAcrossGenerations(t *testing.T) {
	gen := &scriptedGenerator{batches: [][]float64{{7.0}, {7.5}}}
	engine := New(gen, &titleJudge{}, 2)

	cfg := baseConfig()
	cfg.MaxGenerations = 2
	cfg.Temperature = 1.0
	cfg.TemperatureDecay = 0.5

	session, err := engine.Refine(context.Background(), seedCandidate(6.0), cfg)
	require.NoError(t, err)

	generations := session.Generations()
	require.Len(t, generations, 3)
	assert.Equal(t, 1.0, generations[1].Best.Temperature)
	assert.Equal(t, 0.5, generations[2].Best.Temperature)
}
