package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/types"
)

type fakeClient struct {
	response    string
	err         error
	lastUser    string
	temperature float64
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeClient) CompleteWithSystem(_ context.Context, _, userPrompt string) (string, error) {
	f.lastUser = userPrompt
	return f.response, f.err
}

func (f *fakeClient) SetTemperature(t float64) { f.temperature = t }

const twoPlanResponse = `[
	{
		"title": "Fortify the border",
		"steps": [
			{"action": "Build watchtowers", "prerequisites": ["timber"], "outcome": "Early warning", "risks": ["slow"]}
		]
	},
	{
		"title": "Negotiate a treaty",
		"steps": [
			{"action": "Send envoys", "outcome": "Open dialogue", "risks": ["rejection"]}
		]
	}
]`

func TestGenerateParsesCandidates(t *testing.T) {
	client := &fakeClient{response: twoPlanResponse}
	g := New(client, "generation-1")

	out, err := g.Generate(context.Background(),
		types.SeedContext{Request: "secure the northern frontier"}, 2, 0.9)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "Fortify the border", out[0].Title)
	assert.NotEmpty(t, out[0].ID)
	assert.NotEqual(t, out[0].ID, out[1].ID)
	assert.Equal(t, 0.9, out[0].Temperature)
	assert.Equal(t, "generation-1", out[0].Source)
	assert.Equal(t, 0, out[0].SourceIndex)
	assert.Equal(t, 1, out[1].SourceIndex)
	assert.Equal(t, 0.9, client.temperature, "sampling temperature is forwarded to the client")
	assert.Contains(t, client.lastUser, "secure the northern frontier")
}

func TestGenerateWithSeedIncludesWeaknesses(t *testing.T) {
	client := &fakeClient{response: twoPlanResponse}
	g := New(client, "")

	seed := &types.Candidate{
		Title: "Original plan",
		Steps: []types.Step{{Action: "Do the thing", Outcome: "Thing done"}},
	}
	_, err := g.Generate(context.Background(), types.SeedContext{
		Request: "secure the frontier",
		Seed:    seed,
		Weaknesses: []types.Weakness{
			{Dimension: "risk_management", Score: 3.5},
		},
	}, 2, 0.7)
	require.NoError(t, err)

	assert.Contains(t, client.lastUser, "Original plan")
	assert.Contains(t, client.lastUser, "Weak risk management: 3.5/10")
}

func TestGenerateFencedResponse(t *testing.T) {
	client := &fakeClient{response: "Sure, here are the plans:\n```json\n" + twoPlanResponse + "\n```"}
	g := New(client, "")

	out, err := g.Generate(context.Background(), types.SeedContext{Request: "r"}, 2, 0.5)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestGenerateClientError(t *testing.T) {
	client := &fakeClient{err: errors.New("timeout")}
	g := New(client, "")

	_, err := g.Generate(context.Background(), types.SeedContext{Request: "r"}, 2, 0.5)
	assert.ErrorIs(t, err, types.ErrGeneratorUnavailable)
}

func TestGenerateNoContent(t *testing.T) {
	for name, response := range map[string]string{
		"prose only":    "I cannot produce plans for that.",
		"empty array":   "[]",
		"invalid json":  "[{broken",
		"blank titles":  `[{"title": "", "steps": [{"action": "a", "outcome": "o"}]}]`,
		"missing steps": `[{"title": "Plan", "steps": []}]`,
	} {
		t.Run(name, func(t *testing.T) {
			client := &fakeClient{response: response}
			g := New(client, "")

			_, err := g.Generate(context.Background(), types.SeedContext{Request: "r"}, 1, 0.5)
			assert.ErrorIs(t, err, types.ErrGeneratorNoContent)
		})
	}
}

func TestGenerateZeroCount(t *testing.T) {
	g := New(&fakeClient{}, "")
	out, err := g.Generate(context.Background(), types.SeedContext{Request: "r"}, 0, 0.5)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestExtractJSONArrayBalanced(t *testing.T) {
	assert.Equal(t, `[1, [2, 3]]`, extractJSONArray(`noise [1, [2, 3]] trailing`))
	assert.Equal(t, `["a]b"]`, extractJSONArray(`["a]b"]`), "brackets inside strings are skipped")
	assert.Equal(t, "", extractJSONArray("no array"))
}
