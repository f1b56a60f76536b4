package refinement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"arbor/internal/logging"
	"arbor/internal/types"
)

// Engine runs refinement sessions. Generations are strictly sequential;
// within a generation the variant scoring calls run concurrently.
type Engine struct {
	generator types.Generator
	judge     types.Judge
	workers   int
}

// New creates a refinement engine.
func New(generator types.Generator, judge types.Judge, workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{generator: generator, judge: judge, workers: workers}
}

// Refine improves the seed candidate until convergence or budget
// exhaustion. Configuration errors are returned before any generation
// begins; a later generator or judge breakdown fails the session but still
// returns it with all completed generations.
func (e *Engine) Refine(ctx context.Context, seed types.Candidate, config Configuration) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	timer := logging.StartTimer(logging.CategoryRefinement, "Refine")
	defer timer.StopWithInfo()

	session := newSession(seed, config)
	deadline := time.Time{}
	if config.TimeBudget > 0 {
		deadline = session.startedAt.Add(config.TimeBudget)
	}

	// Generation 0 holds just the seed, scored if it arrived unscored.
	scored, err := e.ensureScored(ctx, seed, config.Request)
	if err != nil {
		session.finish(StatusFailed, err)
		return session, err
	}
	session.appendGeneration(Generation{
		Index:      0,
		Best:       scored,
		BestScore:  scored.AggregateScore(),
		Population: types.Population{scored},
	})

	logging.Refinement("Session %s: seed %q scored %.2f, max_generations=%d",
		session.id, scored.Title, scored.AggregateScore(), config.MaxGenerations)

	best := scored
	bestScore := scored.AggregateScore()
	belowThreshold := 0

	if config.MaxGenerations == 0 {
		session.finish(StatusExhaustedGenerations, nil)
		return session, nil
	}

	for gen := 1; gen <= config.MaxGenerations; gen++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			session.finish(StatusExhaustedTime, nil)
			logging.Refinement("Session %s: time budget exhausted before generation %d", session.id, gen)
			return session, nil
		}

		genStart := time.Now()
		temperature := config.Temperature
		for i := 1; i < gen; i++ {
			temperature *= config.TemperatureDecay
		}

		variants, err := e.generateVariants(ctx, best, config, temperature)
		if err != nil {
			session.finish(StatusFailed, err)
			logging.Get(logging.CategoryRefinement).Error("Session %s: generation %d failed: %v", session.id, gen, err)
			return session, err
		}

		population, failed := e.scoreVariants(ctx, variants, config.Request)

		// The previous best competes with every scored variant, so the best
		// score never regresses.
		genBest := best
		genBestScore := bestScore
		for _, c := range population {
			if score := c.AggregateScore(); score > genBestScore {
				genBest = c
				genBestScore = score
			}
		}
		population = append(types.Population{best}, population...)

		improvement := genBestScore - bestScore
		best = genBest
		bestScore = genBestScore

		if config.ConvergenceThreshold > 0 && improvement < config.ConvergenceThreshold {
			belowThreshold++
		} else {
			belowThreshold = 0
		}

		session.appendGeneration(Generation{
			Index:             gen,
			Best:              best,
			BestScore:         bestScore,
			Population:        population,
			FailedEvaluations: failed,
			Duration:          time.Since(genStart),
		})

		logging.Refinement("Session %s: generation %d best=%.2f improvement=%.3f failed_evaluations=%d",
			session.id, gen, bestScore, improvement, failed)

		// Termination checks in priority order; the first that holds wins.
		switch {
		case config.QualityTarget > 0 && bestScore >= config.QualityTarget:
			session.finish(StatusConvergedByQualityTarget, nil)
			return session, nil
		case belowThreshold >= 2:
			session.finish(StatusConvergedByThreshold, nil)
			return session, nil
		case gen == config.MaxGenerations:
			session.finish(StatusExhaustedGenerations, nil)
			return session, nil
		case !deadline.IsZero() && time.Now().After(deadline):
			session.finish(StatusExhaustedTime, nil)
			return session, nil
		}
	}

	// Unreachable: the loop always terminates via the checks above.
	session.finish(StatusExhaustedGenerations, nil)
	return session, nil
}

// generateVariants asks the generator for new candidates seeded on the
// current best, retrying once before giving up.
func (e *Engine) generateVariants(ctx context.Context, best types.Candidate, config Configuration, temperature float64) ([]types.Candidate, error) {
	seedCtx := types.SeedContext{
		Request:    config.Request,
		Seed:       &best,
		Weaknesses: best.LowestDimensions(config.FocusDimensions),
	}

	variants, err := e.generator.Generate(ctx, seedCtx, config.BranchesPerGeneration, temperature)
	if err != nil {
		logging.Get(logging.CategoryRefinement).Warn("Generator failed, retrying once: %v", err)
		variants, err = e.generator.Generate(ctx, seedCtx, config.BranchesPerGeneration, temperature)
	}
	if err != nil {
		return nil, fmt.Errorf("generator exhausted retries: %w", err)
	}
	return variants, nil
}

// scoreVariants scores all variants concurrently. Per-candidate scoring
// failures are absorbed: the candidate is dropped and counted, never
// failing the generation.
func (e *Engine) scoreVariants(ctx context.Context, variants []types.Candidate, request string) (types.Population, int) {
	var mu sync.Mutex
	population := make(types.Population, 0, len(variants))
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, variant := range variants {
		g.Go(func() error {
			scores, err := e.judge.Score(gctx, variant, request)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.Get(logging.CategoryRefinement).Warn("Scoring failed for %q: %v", variant.Title, err)
				failed++
				return nil
			}
			population = append(population, variant.Scored(scores))
			return nil
		})
	}
	_ = g.Wait() // scoring failures are absorbed per candidate

	return population, failed
}

// ensureScored scores the seed when it arrives without a score map.
func (e *Engine) ensureScored(ctx context.Context, seed types.Candidate, request string) (types.Candidate, error) {
	if len(seed.Scores) > 0 {
		return seed, nil
	}
	scores, err := e.judge.Score(ctx, seed, request)
	if err != nil {
		logging.Get(logging.CategoryRefinement).Warn("Seed scoring failed, retrying once: %v", err)
		scores, err = e.judge.Score(ctx, seed, request)
	}
	if err != nil {
		return seed, fmt.Errorf("seed scoring exhausted retries: %w", err)
	}
	return seed.Scored(scores), nil
}
