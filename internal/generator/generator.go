// Package generator produces candidate plans from a language model, either
// from scratch or as refinements of a seed candidate focused on its weakest
// criteria.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"arbor/internal/llm"
	"arbor/internal/logging"
	"arbor/internal/types"
)

// LLMGenerator implements types.Generator against a language model.
type LLMGenerator struct {
	client llm.Client
	source string // recorded on every produced candidate
}

// New creates a generator around the given LLM client.
func New(client llm.Client, source string) *LLMGenerator {
	if source == "" {
		source = "llm"
	}
	return &LLMGenerator{client: client, source: source}
}

// Generate produces count candidates at the given sampling temperature. A
// non-nil seed turns generation into refinement: the prompt carries the seed
// plan and its weakest criteria, and the model is asked for variations that
// address them.
func (g *LLMGenerator) Generate(ctx context.Context, seed types.SeedContext, count int, temperature float64) ([]types.Candidate, error) {
	timer := logging.StartTimer(logging.CategoryRefinement, "Generator.Generate")
	defer timer.StopWithInfo()

	if count <= 0 {
		return nil, nil
	}

	if ts, ok := g.client.(llm.TemperatureSetter); ok {
		ts.SetTemperature(temperature)
	}

	userPrompt := buildGenerationPrompt(seed, count)

	response, err := g.client.CompleteWithSystem(ctx, generatorSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrGeneratorUnavailable, err)
	}

	candidates, err := parseCandidates(response)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		candidates[i].ID = uuid.New().String()
		candidates[i].Temperature = temperature
		candidates[i].Source = g.source
		candidates[i].SourceIndex = i
	}

	logging.RefinementDebug("Generated %d candidates at temperature %.2f (requested %d)",
		len(candidates), temperature, count)
	return candidates, nil
}

// =============================================================================
// PROMPT CONSTRUCTION
// =============================================================================

func buildGenerationPrompt(seed types.SeedContext, count int) string {
	var sb strings.Builder

	sb.WriteString("## Situation\n")
	sb.WriteString(seed.Request)
	sb.WriteString("\n\n")

	if seed.Seed != nil {
		sb.WriteString("## Current Plan\n")
		sb.WriteString(fmt.Sprintf("**Title:** %s\n\n", seed.Seed.Title))
		for i, step := range seed.Seed.Steps {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, step.Action))
			sb.WriteString(fmt.Sprintf("   Expected Outcome: %s\n", step.Outcome))
		}
		sb.WriteString("\n")

		if len(seed.Weaknesses) > 0 {
			sb.WriteString("## Weaknesses To Address\n")
			for _, w := range seed.Weaknesses {
				sb.WriteString(fmt.Sprintf("- Weak %s: %.1f/10\n",
					strings.ReplaceAll(w.Dimension, "_", " "), w.Score))
			}
			sb.WriteString("\n")
			sb.WriteString(fmt.Sprintf("Produce %d improved variations of the current plan. Keep what works, rework the weak areas above.\n", count))
		} else {
			sb.WriteString(fmt.Sprintf("Produce %d improved variations of the current plan.\n", count))
		}
	} else {
		sb.WriteString(fmt.Sprintf("Produce %d distinct candidate plans for this situation.\n", count))
	}

	return sb.String()
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

type candidatePayload struct {
	Title string `json:"title"`
	Steps []struct {
		Action        string   `json:"action"`
		Prerequisites []string `json:"prerequisites"`
		Outcome       string   `json:"outcome"`
		Risks         []string `json:"risks"`
	} `json:"steps"`
}

func parseCandidates(response string) ([]types.Candidate, error) {
	jsonStr := extractJSONArray(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: no JSON array in response", types.ErrGeneratorNoContent)
	}

	var payloads []candidatePayload
	if err := json.Unmarshal([]byte(jsonStr), &payloads); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrGeneratorNoContent, err)
	}

	candidates := make([]types.Candidate, 0, len(payloads))
	for _, p := range payloads {
		if strings.TrimSpace(p.Title) == "" || len(p.Steps) == 0 {
			continue
		}
		c := types.Candidate{Title: p.Title}
		for _, s := range p.Steps {
			c.Steps = append(c.Steps, types.Step{
				Action:        s.Action,
				Prerequisites: s.Prerequisites,
				Outcome:       s.Outcome,
				Risks:         s.Risks,
			})
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: response contained no usable candidates", types.ErrGeneratorNoContent)
	}
	return candidates, nil
}

// extractJSONArray extracts the first balanced JSON array, skipping any
// fencing or commentary around it.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '"':
			if i == 0 || s[i-1] != '\\' {
				inString = !inString
			}
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// =============================================================================
// SYSTEM PROMPT
// =============================================================================

var generatorSystemPrompt = `You are a strategic planner. You produce complete, executable candidate plans for the situation described by the user.

Every plan must be a self-contained sequence of concrete steps. Each step names the action, its prerequisites, the expected outcome, and the key risks.

Output the plans as a JSON array:
[
  {
    "title": "Plan title",
    "steps": [
      {
        "action": "What to do",
        "prerequisites": ["what must be in place first"],
        "outcome": "What this step achieves",
        "risks": ["what could go wrong"]
      }
    ]
  }
]

Produce exactly the number of plans requested. Plans must differ in approach, not just wording.`
