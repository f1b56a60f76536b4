// Package refinement iteratively improves a seed candidate across bounded
// generations. The engine drives an external generator and judge; the
// session records every generation and the reason the loop stopped.
package refinement

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbor/internal/types"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the closed set of refinement session states.
type Status int

const (
	StatusInProgress Status = iota
	StatusConvergedByThreshold
	StatusConvergedByQualityTarget
	StatusExhaustedGenerations
	StatusExhaustedTime
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in-progress"
	case StatusConvergedByThreshold:
		return "converged-by-threshold"
	case StatusConvergedByQualityTarget:
		return "converged-by-quality-target"
	case StatusExhaustedGenerations:
		return "exhausted-generations"
	case StatusExhaustedTime:
		return "exhausted-time"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status ends the session.
func (s Status) Terminal() bool {
	return s != StatusInProgress
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Configuration bounds one refinement session.
type Configuration struct {
	// Request is the planning situation the seed addresses; it is passed to
	// the generator on every generation.
	Request string

	// MaxGenerations bounds the improve-and-evaluate loop. Zero means the
	// seed is returned without any generator call.
	MaxGenerations int

	// BranchesPerGeneration is how many variants the generator is asked for
	// each generation.
	BranchesPerGeneration int

	// ConvergenceThreshold is the minimum per-generation improvement in
	// best aggregate score. Two consecutive generations below it converge
	// the session. Zero disables threshold convergence.
	ConvergenceThreshold float64

	// QualityTarget converges the session as soon as the best aggregate
	// score reaches it. Zero disables the target.
	QualityTarget float64

	// TimeBudget is the wall-clock budget for the whole session. In-flight
	// calls are allowed to finish when it expires. Zero disables it.
	TimeBudget time.Duration

	// Temperature is the sampling temperature for generation 1; each later
	// generation multiplies it by TemperatureDecay.
	Temperature      float64
	TemperatureDecay float64

	// FocusDimensions is how many of the best candidate's lowest-scoring
	// dimensions are reported to the generator as weaknesses.
	FocusDimensions int
}

// DefaultConfiguration returns a configuration with sensible defaults.
func DefaultConfiguration(request string) Configuration {
	return Configuration{
		Request:               request,
		MaxGenerations:        3,
		BranchesPerGeneration: 3,
		ConvergenceThreshold:  0.05,
		Temperature:           0.8,
		TemperatureDecay:      0.85,
		FocusDimensions:       2,
	}
}

// Validate checks the configuration before any generation begins.
func (c Configuration) Validate() error {
	if c.MaxGenerations < 0 {
		return &types.ConfigurationError{Field: "max_generations", Reason: "must not be negative"}
	}
	if c.BranchesPerGeneration <= 0 && c.MaxGenerations > 0 {
		return &types.ConfigurationError{Field: "branches_per_generation", Reason: "must be positive"}
	}
	if c.ConvergenceThreshold < 0 {
		return &types.ConfigurationError{Field: "convergence_threshold", Reason: "must not be negative"}
	}
	if c.QualityTarget < 0 || c.QualityTarget > 10 {
		return &types.ConfigurationError{Field: "quality_target", Reason: "must be in [0,10]"}
	}
	if c.TimeBudget < 0 {
		return &types.ConfigurationError{Field: "time_budget", Reason: "must not be negative"}
	}
	if c.TemperatureDecay < 0 || c.TemperatureDecay > 1 {
		return &types.ConfigurationError{Field: "temperature_decay", Reason: "must be in [0,1]"}
	}
	return nil
}

// =============================================================================
// GENERATION RECORDS
// =============================================================================

// Generation is one immutable iteration record. Index 0 holds just the seed.
type Generation struct {
	Index             int
	Best              types.Candidate
	BestScore         float64
	Population        types.Population
	FailedEvaluations int
	Duration          time.Duration
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the full record of one refinement run. It is mutated only by
// the engine driving it; observers use Snapshot.
type Session struct {
	mu sync.Mutex

	id          string
	config      Configuration
	seed        types.Candidate
	generations []Generation
	status      Status
	failure     error
	startedAt   time.Time
	finishedAt  time.Time
}

func newSession(seed types.Candidate, config Configuration) *Session {
	return &Session{
		id:        uuid.New().String(),
		config:    config,
		seed:      seed,
		status:    StatusInProgress,
		startedAt: time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the session configuration.
func (s *Session) Config() Configuration { return s.config }

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the cause of a failed session, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Best returns the best candidate found so far.
func (s *Session) Best() types.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.generations) == 0 {
		return s.seed
	}
	return s.generations[len(s.generations)-1].Best
}

// Generations returns a copy of the generation history.
func (s *Session) Generations() []Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Generation, len(s.generations))
	copy(out, s.generations)
	return out
}

// appendGeneration records one completed iteration. Terminal sessions are
// immutable; appends after termination are ignored.
func (s *Session) appendGeneration(g Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.generations = append(s.generations, g)
}

// finish records the terminal status. The first terminal transition wins;
// later calls are ignored.
func (s *Session) finish(status Status, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = status
	s.failure = cause
	s.finishedAt = time.Now()
}

// =============================================================================
// SNAPSHOT AND REPORTING
// =============================================================================

// Snapshot is an immutable view of a session for progress reporting.
type Snapshot struct {
	ID          string
	Status      Status
	Seed        types.Candidate
	Best        types.Candidate
	BestScore   float64
	Generations []Generation
	StartedAt   time.Time
	FinishedAt  time.Time
	Failure     error
}

// Snapshot returns a point-in-time copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	generations := make([]Generation, len(s.generations))
	copy(generations, s.generations)

	best := s.seed
	bestScore := s.seed.AggregateScore()
	if len(generations) > 0 {
		last := generations[len(generations)-1]
		best = last.Best
		bestScore = last.BestScore
	}

	return Snapshot{
		ID:          s.id,
		Status:      s.status,
		Seed:        s.seed,
		Best:        best,
		BestScore:   bestScore,
		Generations: generations,
		StartedAt:   s.startedAt,
		FinishedAt:  s.finishedAt,
		Failure:     s.failure,
	}
}

// Report renders a human-readable summary of the session.
func (snap Snapshot) Report() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Refinement session %s\n", snap.ID))
	sb.WriteString(fmt.Sprintf("Status: %s\n", snap.Status))
	sb.WriteString(fmt.Sprintf("Seed: %s (%.2f)\n", snap.Seed.Title, snap.Seed.AggregateScore()))
	sb.WriteString(fmt.Sprintf("Best: %s (%.2f)\n", snap.Best.Title, snap.BestScore))
	sb.WriteString(fmt.Sprintf("Generations: %d\n", len(snap.Generations)))

	for _, g := range snap.Generations {
		sb.WriteString(fmt.Sprintf("  [%d] best=%.2f population=%d", g.Index, g.BestScore, len(g.Population)))
		if g.FailedEvaluations > 0 {
			sb.WriteString(fmt.Sprintf(" failed_evaluations=%d", g.FailedEvaluations))
		}
		sb.WriteString("\n")
	}

	if snap.Failure != nil {
		sb.WriteString(fmt.Sprintf("Failure: %v\n", snap.Failure))
	}
	return sb.String()
}
