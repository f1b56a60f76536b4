package tournament

import (
	"context"

	"arbor/internal/logging"
)

// runRoundRobin has every unordered pair compete exactly HeadToHeadRounds
// times. Each repetition is one round: all of its matchups are mutually
// independent and run concurrently, with the round boundary as barrier.
// Ranking is by total wins, ties broken by cumulative judge confidence.
func (s *Selector) runRoundRobin(ctx context.Context, entrants []*entrant, result *Result) *entrant {
	var pairings []pairing
	for i := 0; i < len(entrants); i++ {
		for j := i + 1; j < len(entrants); j++ {
			pairings = append(pairings, pairing{a: entrants[i], b: entrants[j]})
		}
	}

	for round := 0; round < s.cfg.HeadToHeadRounds; round++ {
		result.Rounds++
		s.playRound(ctx, pairings, result)
		logging.TournamentDebug("Round-robin pass %d/%d complete (%d matchups)",
			round+1, s.cfg.HeadToHeadRounds, len(pairings))
	}

	return topEntrant(entrants)
}

// topEntrant returns the leader by wins, then cumulative confidence, then
// seed. Shared by the schedule-based formats.
func topEntrant(entrants []*entrant) *entrant {
	best := entrants[0]
	for _, e := range entrants[1:] {
		if e.wins > best.wins ||
			(e.wins == best.wins && e.confidence > best.confidence) ||
			(e.wins == best.wins && e.confidence == best.confidence && e.seed < best.seed) {
			best = e
		}
	}
	return best
}
