package tournament

import (
	"context"
	"math"
	"sort"

	"arbor/internal/logging"
)

// runSwiss plays a fixed number of rounds. Each round pairs candidates of
// similar cumulative score that have not met before, via greedy
// nearest-score matching. Zero configured rounds derives ceil(log2 n).
func (s *Selector) runSwiss(ctx context.Context, entrants []*entrant, result *Result) *entrant {
	rounds := s.cfg.SwissRounds
	if rounds <= 0 {
		rounds = int(math.Ceil(math.Log2(float64(len(entrants)))))
	}

	for round := 0; round < rounds; round++ {
		result.Rounds++
		pairings, bye := swissPairings(entrants)

		if bye != nil {
			// A bye counts as a free win with no confidence attached.
			bye.wins++
			bye.hadBye = true
			logging.TournamentDebug("Swiss round %d: bye for %s", round+1, bye.candidate.ID)
		}

		s.playRound(ctx, pairings, result)
		logging.TournamentDebug("Swiss round %d/%d complete (%d matchups)", round+1, rounds, len(pairings))
	}

	return topEntrant(entrants)
}

// swissPairings greedily pairs by standing order: the leader is matched with
// the nearest-standing opponent it has not yet played. When every remaining
// opponent has been played already, a rematch with the nearest opponent is
// allowed rather than leaving the round incomplete. Odd fields give a bye to
// the lowest-standing candidate that has not had one.
func swissPairings(entrants []*entrant) ([]pairing, *entrant) {
	order := make([]*entrant, len(entrants))
	copy(order, entrants)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].wins != order[j].wins {
			return order[i].wins > order[j].wins
		}
		if order[i].confidence != order[j].confidence {
			return order[i].confidence > order[j].confidence
		}
		return order[i].seed < order[j].seed
	})

	var bye *entrant
	if len(order)%2 == 1 {
		// Walk up from the bottom to find someone without a bye yet.
		byeIdx := len(order) - 1
		for i := len(order) - 1; i >= 0; i-- {
			if !order[i].hadBye {
				byeIdx = i
				break
			}
		}
		bye = order[byeIdx]
		order = append(order[:byeIdx:byeIdx], order[byeIdx+1:]...)
	}

	paired := make(map[*entrant]bool, len(order))
	var pairings []pairing

	for i, a := range order {
		if paired[a] {
			continue
		}
		opponent := -1
		for j := i + 1; j < len(order); j++ {
			if paired[order[j]] {
				continue
			}
			if !a.opponents[order[j].candidate.ID] {
				opponent = j
				break
			}
			if opponent == -1 {
				opponent = j // rematch fallback, nearest in standing
			}
		}
		if opponent == -1 {
			continue
		}
		paired[a] = true
		paired[order[opponent]] = true
		pairings = append(pairings, pairing{a: a, b: order[opponent]})
	}

	return pairings, bye
}
