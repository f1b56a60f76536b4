// Package tournament reduces a population to a ranked order or single winner
// by driving pairwise judge comparisons through a bracket or schedule. The
// judge is external: this package implements only the scheduling logic and
// result aggregation.
package tournament

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"arbor/internal/logging"
	"arbor/internal/types"
)

// =============================================================================
// FORMATS AND CONFIGURATION
// =============================================================================

// Format is the closed set of supported tournament formats.
type Format int

const (
	SingleElimination Format = iota
	DoubleElimination
	RoundRobin
	Swiss
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case SingleElimination:
		return "single-elimination"
	case DoubleElimination:
		return "double-elimination"
	case RoundRobin:
		return "round-robin"
	case Swiss:
		return "swiss"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat maps a config string to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "single-elimination", "single", "":
		return SingleElimination, nil
	case "double-elimination", "double":
		return DoubleElimination, nil
	case "round-robin", "roundrobin":
		return RoundRobin, nil
	case "swiss":
		return Swiss, nil
	default:
		return SingleElimination, fmt.Errorf("unknown tournament format: %q", name)
	}
}

// Config holds tournament parameters.
type Config struct {
	Format Format

	// Criteria and Weights are forwarded to every judge call.
	Criteria []string
	Weights  map[string]float64

	// HeadToHeadRounds is how many times each unordered pair competes in
	// round robin. Defaults to 1.
	HeadToHeadRounds int

	// SwissRounds fixes the round count for swiss. Zero derives
	// ceil(log2 n) from the population size.
	SwissRounds int

	// SingleGrandFinal disables the double-elimination bracket reset: the
	// grand final is decided in one match regardless of which bracket the
	// winner came from.
	SingleGrandFinal bool

	// Workers bounds concurrent matchups within a round. Defaults to 4.
	Workers int
}

// =============================================================================
// RESULTS
// =============================================================================

// Standing is one row of the final ranking.
type Standing struct {
	Candidate  types.Candidate
	Wins       int
	Losses     int
	Confidence float64 // cumulative judge confidence across wins
}

// Result is the outcome of a completed tournament.
type Result struct {
	Format           Format
	Winner           types.Candidate
	Ranking          []Standing
	Matchups         []types.MatchupResult
	Rounds           int
	DegradedMatchups int
}

// =============================================================================
// SELECTOR
// =============================================================================

// Selector organizes a population into a bracket or schedule and drives the
// external judge to a single winner.
type Selector struct {
	judge types.Judge
	cfg   Config
}

// New creates a tournament selector around the given judge.
func New(judge types.Judge, cfg Config) *Selector {
	if cfg.HeadToHeadRounds <= 0 {
		cfg.HeadToHeadRounds = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Selector{judge: judge, cfg: cfg}
}

// Run executes the configured format over the population.
func (s *Selector) Run(ctx context.Context, pop types.Population) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryTournament, "Run")
	defer timer.StopWithInfo()

	if len(pop) == 0 {
		return nil, fmt.Errorf("tournament requires at least one candidate")
	}

	entrants := seedEntrants(pop)
	logging.Tournament("Starting %s tournament with %d candidates", s.cfg.Format, len(entrants))

	result := &Result{Format: s.cfg.Format}

	if len(entrants) == 1 {
		result.Winner = entrants[0].candidate
		result.Ranking = buildRanking(entrants)
		return result, nil
	}

	var champion *entrant
	switch s.cfg.Format {
	case DoubleElimination:
		champion = s.runDoubleElimination(ctx, entrants, result)
	case RoundRobin:
		champion = s.runRoundRobin(ctx, entrants, result)
	case Swiss:
		champion = s.runSwiss(ctx, entrants, result)
	default:
		champion = s.runSingleElimination(ctx, entrants, result)
	}

	result.Winner = champion.candidate
	result.Ranking = buildRanking(entrants)

	logging.Tournament("%s tournament complete: winner=%s rounds=%d matchups=%d degraded=%d",
		s.cfg.Format, result.Winner.ID, result.Rounds, len(result.Matchups), result.DegradedMatchups)
	return result, nil
}

// =============================================================================
// ENTRANTS AND MATCHUP EXECUTION
// =============================================================================

// entrant is a candidate's mutable tournament state. Seed 0 is the highest
// pre-tournament score.
type entrant struct {
	candidate  types.Candidate
	seed       int
	wins       int
	losses     int
	confidence float64
	opponents  map[string]bool // swiss rematch avoidance
	hadBye     bool
}

func seedEntrants(pop types.Population) []*entrant {
	seeded := pop.SortedBySeed()
	entrants := make([]*entrant, len(seeded))
	for i, c := range seeded {
		entrants[i] = &entrant{
			candidate: c,
			seed:      i,
			opponents: make(map[string]bool),
		}
	}
	return entrants
}

// pairing is one scheduled matchup within a round.
type pairing struct {
	a, b *entrant
}

// playRound runs all pairings concurrently and joins at the round boundary:
// state is updated only after every matchup (including degraded fallbacks)
// has returned. Returns the per-pairing winners and losers.
func (s *Selector) playRound(ctx context.Context, pairings []pairing, result *Result) (winners, losers []*entrant) {
	outcomes := make([]types.MatchupResult, len(pairings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, p := range pairings {
		g.Go(func() error {
			outcomes[i] = s.runMatchup(gctx, p.a, p.b)
			return nil
		})
	}
	_ = g.Wait() // matchup failures degrade, they never abort the round

	winners = make([]*entrant, len(pairings))
	losers = make([]*entrant, len(pairings))
	for i, p := range pairings {
		outcome := outcomes[i]
		result.Matchups = append(result.Matchups, outcome)
		if outcome.Degraded {
			result.DegradedMatchups++
		}

		winner, loser := p.a, p.b
		if outcome.Winner == p.b.candidate.ID {
			winner, loser = p.b, p.a
		}
		winner.wins++
		winner.confidence += outcome.Confidence
		loser.losses++
		winner.opponents[loser.candidate.ID] = true
		loser.opponents[winner.candidate.ID] = true
		winners[i] = winner
		losers[i] = loser
	}
	return winners, losers
}

// runMatchup invokes the judge with one retry. A judge that stays
// unavailable decides the matchup by default in favor of the higher seed,
// flagged as degraded so downstream consumers can discount it.
func (s *Selector) runMatchup(ctx context.Context, a, b *entrant) types.MatchupResult {
	outcome, err := s.judge.Compare(ctx, a.candidate, b.candidate, s.cfg.Criteria, s.cfg.Weights)
	if err != nil {
		logging.Get(logging.CategoryTournament).Warn("Judge failed for %s vs %s, retrying once: %v",
			a.candidate.ID, b.candidate.ID, err)
		outcome, err = s.judge.Compare(ctx, a.candidate, b.candidate, s.cfg.Criteria, s.cfg.Weights)
	}
	if err != nil {
		winner := a
		if b.seed < a.seed {
			winner = b
		}
		logging.Get(logging.CategoryTournament).Warn("Judge unavailable for %s vs %s, defaulting to seed %d: %v",
			a.candidate.ID, b.candidate.ID, winner.seed, fmt.Errorf("%w: %v", types.ErrJudgeUnavailable, err))
		return types.MatchupResult{
			CandidateA: a.candidate.ID,
			CandidateB: b.candidate.ID,
			Winner:     winner.candidate.ID,
			Confidence: 0,
			Degraded:   true,
		}
	}

	// Normalize the verdict: the winner must be one of the two entrants and
	// the confidence must stay in [0,1].
	if outcome.Winner != a.candidate.ID && outcome.Winner != b.candidate.ID {
		outcome.Winner = a.candidate.ID
		outcome.Degraded = true
	}
	outcome.CandidateA = a.candidate.ID
	outcome.CandidateB = b.candidate.ID
	outcome.Confidence = math.Max(0, math.Min(1, outcome.Confidence))
	return outcome
}

// buildRanking orders entrants by wins, then cumulative confidence, then
// pre-tournament seed.
func buildRanking(entrants []*entrant) []Standing {
	sorted := make([]*entrant, len(entrants))
	copy(sorted, entrants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].wins != sorted[j].wins {
			return sorted[i].wins > sorted[j].wins
		}
		if sorted[i].confidence != sorted[j].confidence {
			return sorted[i].confidence > sorted[j].confidence
		}
		return sorted[i].seed < sorted[j].seed
	})

	ranking := make([]Standing, len(sorted))
	for i, e := range sorted {
		ranking[i] = Standing{
			Candidate:  e.candidate,
			Wins:       e.wins,
			Losses:     e.losses,
			Confidence: e.confidence,
		}
	}
	return ranking
}
