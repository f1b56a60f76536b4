// Package judge evaluates candidates using the LLM-as-judge pattern. It
// produces per-criterion scores for single candidates and structured
// verdicts for pairwise matchups.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"arbor/internal/llm"
	"arbor/internal/logging"
	"arbor/internal/types"
)

// ScoreDimensions are the criteria every candidate is scored on, each on a
// 0-10 scale.
var ScoreDimensions = []string{
	"coherence",
	"feasibility",
	"alignment",
	"risk_management",
	"resource_efficiency",
}

// LLMJudge implements types.Judge against a language model.
type LLMJudge struct {
	client    llm.Client
	modelName string // for attribution
}

// New creates a judge around the given LLM client.
func New(client llm.Client, modelName string) *LLMJudge {
	if modelName == "" {
		modelName = "unknown"
	}
	return &LLMJudge{client: client, modelName: modelName}
}

// =============================================================================
// SCORING
// =============================================================================

// Score evaluates a single candidate and returns per-criterion scores in
// [0,10]. comparisonContext describes the planning situation the candidate
// addresses.
func (j *LLMJudge) Score(ctx context.Context, c types.Candidate, comparisonContext string) (map[string]float64, error) {
	timer := logging.StartTimer(logging.CategoryTournament, "Judge.Score")
	defer timer.Stop()

	userPrompt := buildScorePrompt(c, comparisonContext)

	response, err := j.client.CompleteWithSystem(ctx, scoreSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrJudgeUnavailable, err)
	}

	scores, err := parseScores(response)
	if err != nil {
		logging.Get(logging.CategoryTournament).Error("Failed to parse scores for %s: %v", c.ID, err)
		return nil, fmt.Errorf("failed to parse scores: %w", err)
	}

	logging.TournamentDebug("Scored candidate %s: %v", c.ID, scores)
	return scores, nil
}

// Compare runs a pairwise matchup and returns a structured verdict. criteria
// and weights steer the judge's attention; empty criteria falls back to
// ScoreDimensions.
func (j *LLMJudge) Compare(ctx context.Context, a, b types.Candidate, criteria []string, weights map[string]float64) (types.MatchupResult, error) {
	timer := logging.StartTimer(logging.CategoryTournament, "Judge.Compare")
	defer timer.Stop()

	if len(criteria) == 0 {
		criteria = ScoreDimensions
	}

	userPrompt := buildComparePrompt(a, b, criteria, weights)

	response, err := j.client.CompleteWithSystem(ctx, compareSystemPrompt, userPrompt)
	if err != nil {
		return types.MatchupResult{}, fmt.Errorf("%w: %v", types.ErrJudgeUnavailable, err)
	}

	verdict, err := parseVerdict(response, a, b)
	if err != nil {
		logging.Get(logging.CategoryTournament).Error("Failed to parse verdict for %s vs %s: %v", a.ID, b.ID, err)
		return types.MatchupResult{}, fmt.Errorf("failed to parse verdict: %w", err)
	}

	return verdict, nil
}

// =============================================================================
// PROMPT CONSTRUCTION
// =============================================================================

// formatCandidate renders a candidate the way the judge prompts expect.
func formatCandidate(c types.Candidate) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("**Title:** %s\n\n", c.Title))
	sb.WriteString("**Execution Steps:**\n")
	for i, step := range c.Steps {
		sb.WriteString(fmt.Sprintf("%d. **%s**\n", i+1, step.Action))
		if len(step.Prerequisites) > 0 {
			sb.WriteString(fmt.Sprintf("   Prerequisites: %s\n", strings.Join(step.Prerequisites, ", ")))
		}
		sb.WriteString(fmt.Sprintf("   Expected Outcome: %s\n", step.Outcome))
		if len(step.Risks) > 0 {
			sb.WriteString(fmt.Sprintf("   Key Risk: %s\n", step.Risks[0]))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func buildScorePrompt(c types.Candidate, comparisonContext string) string {
	var sb strings.Builder

	sb.WriteString("## Context\n")
	if comparisonContext == "" {
		comparisonContext = "General strategic planning situation"
	}
	sb.WriteString(comparisonContext)
	sb.WriteString("\n\n## Candidate\n")
	sb.WriteString(formatCandidate(c))

	sb.WriteString("\nScore this candidate on each criterion from 0 to 10:\n")
	for _, dim := range ScoreDimensions {
		sb.WriteString(fmt.Sprintf("- %s\n", dim))
	}
	return sb.String()
}

func buildComparePrompt(a, b types.Candidate, criteria []string, weights map[string]float64) string {
	var sb strings.Builder

	sb.WriteString("## Candidate A\n")
	sb.WriteString(fmt.Sprintf("ID: %s\n", a.ID))
	sb.WriteString(formatCandidate(a))
	sb.WriteString("\n## Candidate B\n")
	sb.WriteString(fmt.Sprintf("ID: %s\n", b.ID))
	sb.WriteString(formatCandidate(b))

	sb.WriteString("\n## Criteria\n")
	for _, criterion := range criteria {
		if w, ok := weights[criterion]; ok {
			sb.WriteString(fmt.Sprintf("- %s (weight %.2f)\n", criterion, w))
		} else {
			sb.WriteString(fmt.Sprintf("- %s\n", criterion))
		}
	}

	return sb.String()
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

func parseScores(response string) (map[string]float64, error) {
	jsonStr := extractJSONBlock(response)
	if jsonStr == "" {
		jsonStr = extractJSONObject(response)
	}
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if len(parsed.Scores) == 0 {
		// Some models emit the score map at the top level.
		var flat map[string]float64
		if err := json.Unmarshal([]byte(jsonStr), &flat); err != nil || len(flat) == 0 {
			return nil, fmt.Errorf("no scores in response")
		}
		parsed.Scores = flat
	}

	scores := make(map[string]float64, len(parsed.Scores))
	for dim, score := range parsed.Scores {
		scores[strings.ToLower(strings.TrimSpace(dim))] = clampScore(score)
	}
	return scores, nil
}

func parseVerdict(response string, a, b types.Candidate) (types.MatchupResult, error) {
	jsonStr := extractJSONBlock(response)
	if jsonStr == "" {
		jsonStr = extractJSONObject(response)
	}
	if jsonStr == "" {
		return types.MatchupResult{}, fmt.Errorf("no JSON found in response")
	}

	var parsed struct {
		Winner          string             `json:"winner"`
		Confidence      float64            `json:"confidence"`
		CriterionScores map[string]float64 `json:"criterion_scores"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return types.MatchupResult{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	winner := strings.TrimSpace(parsed.Winner)
	switch strings.ToUpper(winner) {
	case "A":
		winner = a.ID
	case "B":
		winner = b.ID
	case strings.ToUpper(a.ID):
		winner = a.ID
	case strings.ToUpper(b.ID):
		winner = b.ID
	default:
		return types.MatchupResult{}, fmt.Errorf("invalid winner: %q", parsed.Winner)
	}

	confidence := parsed.Confidence
	if confidence == 0 {
		confidence = 0.75
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return types.MatchupResult{
		CandidateA:      a.ID,
		CandidateB:      b.ID,
		Winner:          winner,
		Confidence:      confidence,
		CriterionScores: parsed.CriterionScores,
	}, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

// extractJSONBlock extracts JSON from a fenced code block.
func extractJSONBlock(s string) string {
	start := strings.Index(s, "```")
	if start == -1 {
		return ""
	}
	nl := strings.Index(s[start:], "\n")
	if nl == -1 {
		return ""
	}
	start += nl + 1

	end := strings.LastIndex(s, "```")
	if end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(s[start:end])
}

// extractJSONObject extracts the first balanced JSON object from a string.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// =============================================================================
// SYSTEM PROMPTS
// =============================================================================

var scoreSystemPrompt = `You are an expert evaluator of strategic plans. Score the candidate plan on each listed criterion from 0 (unusable) to 10 (excellent).

Be objective and precise. Focus on:
- Does the plan hold together as a coherent sequence of steps?
- Can the steps actually be executed with the stated prerequisites?
- Does the plan address the situation it was written for?
- Are the named risks credible and managed?
- Is the plan economical with time and resources?

Output your evaluation as JSON:
{
  "scores": {
    "coherence": 0-10,
    "feasibility": 0-10,
    "alignment": 0-10,
    "risk_management": 0-10,
    "resource_efficiency": 0-10
  }
}`

var compareSystemPrompt = `You are an expert evaluator comparing two strategic plans. Decide which plan is stronger on the listed criteria, weighing them as indicated.

Be objective and precise. A plan wins on substance, not length or style.

Output your verdict as JSON:
{
  "winner": "A" or "B",
  "confidence": 0.0-1.0,
  "criterion_scores": {"<criterion>": <A minus B advantage, -10 to 10>}
}`
