package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/embedding"
	"arbor/internal/refinement"
	"arbor/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "arbor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func candidate(id, title string, score float64) types.Candidate {
	return types.Candidate{
		ID:    id,
		Title: title,
		Steps: []types.Step{
			{Action: "Do " + title, Outcome: "Done", Risks: []string{"none"}},
		},
		Scores: map[string]float64{"quality": score},
	}
}

func TestSaveLoadSelection(t *testing.T) {
	s := newTestStore(t)

	result := types.SelectionResult{
		Trunk: candidate("c1", "Trunk plan", 8.0),
		Twigs: []types.Candidate{
			candidate("c2", "Twig one", 6.0),
			candidate("c3", "Twig two", 5.5),
		},
		Assignment: map[string]int{"c1": 0, "c2": 1, "c3": 1, "c4": types.NoiseLabel},
	}

	require.NoError(t, s.SaveSelection("sel-1", "expand north", result))

	loaded, err := s.LoadSelection("sel-1")
	require.NoError(t, err)

	assert.Equal(t, "expand north", loaded.Request)
	if diff := cmp.Diff(result, loaded.Result); diff != "" {
		t.Errorf("selection round-trip mismatch (-saved +loaded):\n%s", diff)
	}
	assert.Equal(t, "c2", loaded.Result.Twigs[0].ID, "twig order is preserved")
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestLoadSelectionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadSelection("missing")
	assert.Error(t, err)
}

func TestListSelections(t *testing.T) {
	s := newTestStore(t)

	result := types.SelectionResult{Trunk: candidate("c1", "t", 5)}
	require.NoError(t, s.SaveSelection("sel-1", "first", result))
	require.NoError(t, s.SaveSelection("sel-2", "second", result))

	records, err := s.ListSelections()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSaveLoadVectors(t *testing.T) {
	s := newTestStore(t)

	vectors := []embedding.Vector{
		{ID: "c1", Values: []float32{0.1, 0.2, 0.3}},
		{ID: "c2", Values: []float32{0.4, 0.5, 0.6}},
	}
	require.NoError(t, s.SaveVectors("sel-1", vectors))

	loaded, err := s.LoadVectors("sel-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "c1", loaded[0].ID)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, loaded[0].Values)

	empty, err := s.LoadVectors("other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSaveLoadSession(t *testing.T) {
	s := newTestStore(t)

	seed := candidate("seed", "Seed plan", 6.0)
	best := candidate("v1", "Improved plan", 8.5)
	snap := refinement.Snapshot{
		ID:        "sess-1",
		Status:    refinement.StatusConvergedByQualityTarget,
		Seed:      seed,
		Best:      best,
		BestScore: 8.5,
		Generations: []refinement.Generation{
			{Index: 0, Best: seed, BestScore: 6.0, Population: types.Population{seed}},
			{
				Index:             1,
				Best:              best,
				BestScore:         8.5,
				Population:        types.Population{seed, best},
				FailedEvaluations: 1,
				Duration:          250 * time.Millisecond,
			},
		},
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
	}

	require.NoError(t, s.SaveSession(snap, "sel-1"))

	loaded, err := s.LoadSession("sess-1")
	require.NoError(t, err)

	assert.Equal(t, "sel-1", loaded.SelectionID)
	assert.Equal(t, "converged-by-quality-target", loaded.Status)
	assert.Equal(t, "seed", loaded.Seed.ID)
	assert.Equal(t, "v1", loaded.Best.ID)
	assert.Equal(t, 8.5, loaded.BestScore)

	require.Len(t, loaded.Generations, 2)
	assert.Equal(t, 6.0, loaded.Generations[0].BestScore)
	assert.Equal(t, 1, loaded.Generations[1].FailedEvaluations)
	assert.Equal(t, 250*time.Millisecond, loaded.Generations[1].Duration)
	assert.Len(t, loaded.Generations[1].Population, 2)
}

func TestSaveSessionIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	snap := refinement.Snapshot{
		ID:     "sess-1",
		Status: refinement.StatusExhaustedGenerations,
		Seed:   candidate("seed", "Seed", 6.0),
		Best:   candidate("seed", "Seed", 6.0),
		Generations: []refinement.Generation{
			{Index: 0, Best: candidate("seed", "Seed", 6.0), BestScore: 6.0},
		},
	}

	require.NoError(t, s.SaveSession(snap, ""))
	require.NoError(t, s.SaveSession(snap, ""))

	loaded, err := s.LoadSession("sess-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Generations, 1)
}

func TestLoadSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadSession("missing")
	assert.Error(t, err)
}
