package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/types"
)

// fakeClient returns canned responses and records prompts.
type fakeClient struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeClient) CompleteWithSystem(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	return f.response, f.err
}

func testCandidate(id, title string) types.Candidate {
	return types.Candidate{
		ID:    id,
		Title: title,
		Steps: []types.Step{
			{
				Action:        "Survey the terrain",
				Prerequisites: []string{"maps"},
				Outcome:       "Terrain understood",
				Risks:         []string{"outdated maps"},
			},
		},
	}
}

func TestScoreParsesDimensions(t *testing.T) {
	client := &fakeClient{response: `{
		"scores": {
			"coherence": 8.5,
			"feasibility": 7.0,
			"alignment": 9.0,
			"risk_management": 6.5,
			"resource_efficiency": 12.0
		}
	}`}

	j := New(client, "test-model")
	scores, err := j.Score(context.Background(), testCandidate("c1", "Plan A"), "expand eastward")
	require.NoError(t, err)

	assert.Equal(t, 8.5, scores["coherence"])
	assert.Equal(t, 10.0, scores["resource_efficiency"], "scores above 10 are clamped")
	assert.Contains(t, client.lastUser, "expand eastward")
	assert.Contains(t, client.lastUser, "Plan A")
}

func TestScoreAcceptsFencedResponse(t *testing.T) {
	client := &fakeClient{response: "Here is my evaluation:\n```json\n{\"scores\":{\"coherence\":5}}\n```\ndone"}

	j := New(client, "test-model")
	scores, err := j.Score(context.Background(), testCandidate("c1", "Plan A"), "")
	require.NoError(t, err)
	assert.Equal(t, 5.0, scores["coherence"])
}

func TestScoreFlatScoreMap(t *testing.T) {
	client := &fakeClient{response: `{"coherence": 6, "feasibility": 7}`}

	j := New(client, "test-model")
	scores, err := j.Score(context.Background(), testCandidate("c1", "Plan A"), "")
	require.NoError(t, err)
	assert.Equal(t, 6.0, scores["coherence"])
	assert.Equal(t, 7.0, scores["feasibility"])
}

func TestScoreUnavailableClient(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}

	j := New(client, "test-model")
	_, err := j.Score(context.Background(), testCandidate("c1", "Plan A"), "")
	assert.ErrorIs(t, err, types.ErrJudgeUnavailable)
}

func TestCompareVerdict(t *testing.T) {
	client := &fakeClient{response: `{
		"winner": "B",
		"confidence": 0.8,
		"criterion_scores": {"coherence": -1.5}
	}`}

	j := New(client, "test-model")
	result, err := j.Compare(context.Background(),
		testCandidate("c1", "Plan A"), testCandidate("c2", "Plan B"), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "c2", result.Winner)
	assert.Equal(t, 0.8, result.Confidence)
	assert.Equal(t, -1.5, result.CriterionScores["coherence"])
	assert.Equal(t, "c1", result.CandidateA)
	assert.Equal(t, "c2", result.CandidateB)
}

func TestCompareDefaultCriteriaInPrompt(t *testing.T) {
	client := &fakeClient{response: `{"winner":"A","confidence":0.6}`}

	j := New(client, "test-model")
	_, err := j.Compare(context.Background(),
		testCandidate("c1", "Plan A"), testCandidate("c2", "Plan B"), nil, nil)
	require.NoError(t, err)

	for _, dim := range ScoreDimensions {
		assert.Contains(t, client.lastUser, dim)
	}
}

func TestCompareWeightsInPrompt(t *testing.T) {
	client := &fakeClient{response: `{"winner":"A","confidence":0.6}`}

	j := New(client, "test-model")
	_, err := j.Compare(context.Background(),
		testCandidate("c1", "Plan A"), testCandidate("c2", "Plan B"),
		[]string{"coherence"}, map[string]float64{"coherence": 2.0})
	require.NoError(t, err)
	assert.Contains(t, client.lastUser, "coherence (weight 2.00)")
}

func TestCompareInvalidWinner(t *testing.T) {
	client := &fakeClient{response: `{"winner":"C","confidence":0.6}`}

	j := New(client, "test-model")
	_, err := j.Compare(context.Background(),
		testCandidate("c1", "Plan A"), testCandidate("c2", "Plan B"), nil, nil)
	assert.Error(t, err)
}

func TestCompareZeroConfidenceDefaults(t *testing.T) {
	client := &fakeClient{response: `{"winner":"A"}`}

	j := New(client, "test-model")
	result, err := j.Compare(context.Background(),
		testCandidate("c1", "Plan A"), testCandidate("c2", "Plan B"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.75, result.Confidence)
}

func TestExtractJSONObjectBalanced(t *testing.T) {
	s := `prefix {"a": {"b": 1}} suffix`
	assert.Equal(t, `{"a": {"b": 1}}`, extractJSONObject(s))
	assert.Equal(t, "", extractJSONObject("no braces here"))
	assert.Equal(t, "", extractJSONObject("{unbalanced"))
}

func TestFormatCandidateIncludesSteps(t *testing.T) {
	text := formatCandidate(testCandidate("c1", "Plan A"))
	assert.True(t, strings.Contains(text, "Survey the terrain"))
	assert.True(t, strings.Contains(text, "Prerequisites: maps"))
	assert.True(t, strings.Contains(text, "Key Risk: outdated maps"))
}
