package tournament

import (
	"context"
	"sort"

	"arbor/internal/logging"
)

// =============================================================================
// SINGLE ELIMINATION
// =============================================================================

// runSingleElimination halves the field each round until one candidate
// remains. Odd counts give one bye to the highest-scoring remaining
// candidate. Completes in ceil(log2 n) rounds.
func (s *Selector) runSingleElimination(ctx context.Context, entrants []*entrant, result *Result) *entrant {
	remaining := append([]*entrant(nil), entrants...)

	for len(remaining) > 1 {
		result.Rounds++
		bySeed(remaining)

		var advancing []*entrant
		field := remaining
		if len(field)%2 == 1 {
			bye := field[0]
			bye.hadBye = true
			advancing = append(advancing, bye)
			field = field[1:]
			logging.TournamentDebug("Round %d: bye for %s", result.Rounds, bye.candidate.ID)
		}

		winners, _ := s.playRound(ctx, pairHighLow(field), result)
		advancing = append(advancing, winners...)

		logging.TournamentDebug("Round %d: %d -> %d candidates", result.Rounds, len(remaining), len(advancing))
		remaining = advancing
	}

	return remaining[0]
}

// pairHighLow pairs the strongest remaining seed against the weakest.
func pairHighLow(field []*entrant) []pairing {
	pairings := make([]pairing, 0, len(field)/2)
	for i := 0; i < len(field)/2; i++ {
		pairings = append(pairings, pairing{a: field[i], b: field[len(field)-1-i]})
	}
	return pairings
}

func bySeed(entrants []*entrant) {
	sort.SliceStable(entrants, func(i, j int) bool {
		return entrants[i].seed < entrants[j].seed
	})
}

// =============================================================================
// DOUBLE ELIMINATION
// =============================================================================

// runDoubleElimination keeps a winners and a losers bracket: the first
// defeat drops a candidate into the losers bracket, the second eliminates
// it. The grand final pits the winners-bracket champion against the
// losers-bracket champion; the winners-bracket champion needs only one win
// to take the title, while the losers-bracket champion must win twice
// (bracket reset) unless SingleGrandFinal is configured.
func (s *Selector) runDoubleElimination(ctx context.Context, entrants []*entrant, result *Result) *entrant {
	winnersBracket := append([]*entrant(nil), entrants...)
	var losersBracket []*entrant

	for len(winnersBracket) > 1 || len(losersBracket) > 1 {
		if len(winnersBracket) > 1 {
			result.Rounds++
			bySeed(winnersBracket)

			var advancing []*entrant
			field := winnersBracket
			if len(field)%2 == 1 {
				field[0].hadBye = true
				advancing = append(advancing, field[0])
				field = field[1:]
			}

			winners, dropped := s.playRound(ctx, pairHighLow(field), result)
			advancing = append(advancing, winners...)
			losersBracket = append(losersBracket, dropped...)
			winnersBracket = advancing
		}

		if len(losersBracket) > 1 {
			result.Rounds++
			bySeed(losersBracket)

			var surviving []*entrant
			field := losersBracket
			if len(field)%2 == 1 {
				field[0].hadBye = true
				surviving = append(surviving, field[0])
				field = field[1:]
			}

			// A second defeat eliminates: only round winners survive.
			winners, _ := s.playRound(ctx, pairHighLow(field), result)
			surviving = append(surviving, winners...)
			losersBracket = surviving
		}
	}

	wChamp := winnersBracket[0]
	if len(losersBracket) == 0 {
		return wChamp
	}
	lChamp := losersBracket[0]

	// Grand final: one win suffices for the winners-bracket champion.
	result.Rounds++
	final, _ := s.playRound(ctx, []pairing{{a: wChamp, b: lChamp}}, result)
	if final[0] == wChamp {
		return wChamp
	}
	if s.cfg.SingleGrandFinal {
		return lChamp
	}

	// Bracket reset: the winners-bracket champion has now lost once, so one
	// deciding match settles the title.
	result.Rounds++
	rematch, _ := s.playRound(ctx, []pairing{{a: wChamp, b: lChamp}}, result)
	return rematch[0]
}
