// Package store persists selection results and refinement sessions to
// SQLite for replay and audit. Three document shapes are stored: the trunk
// with its score map, the ordered twig list, and the refinement session with
// its full generation history.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"arbor/internal/embedding"
	"arbor/internal/logging"
	"arbor/internal/refinement"
	"arbor/internal/types"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewStore initializes the SQLite database at the given path.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewStore")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Store initialized at %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS selections (
		id TEXT PRIMARY KEY,
		request TEXT NOT NULL,
		trunk_json TEXT NOT NULL,
		twigs_json TEXT NOT NULL,
		assignment_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS candidate_vectors (
		selection_id TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		vector_json TEXT NOT NULL,
		PRIMARY KEY (selection_id, candidate_id)
	);

	CREATE TABLE IF NOT EXISTS refinement_sessions (
		id TEXT PRIMARY KEY,
		selection_id TEXT,
		status TEXT NOT NULL,
		seed_json TEXT NOT NULL,
		best_json TEXT NOT NULL,
		best_score REAL NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS refinement_generations (
		session_id TEXT NOT NULL,
		gen_index INTEGER NOT NULL,
		best_json TEXT NOT NULL,
		best_score REAL NOT NULL,
		population_json TEXT NOT NULL,
		failed_evaluations INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, gen_index)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_selection ON refinement_sessions(selection_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// =============================================================================
// SELECTIONS
// =============================================================================

// SelectionRecord is a persisted trunk/twigs selection.
type SelectionRecord struct {
	ID        string
	Request   string
	Result    types.SelectionResult
	CreatedAt time.Time
}

// SaveSelection persists a selection result under the given id.
func (s *Store) SaveSelection(id, request string, result types.SelectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trunkJSON, err := json.Marshal(result.Trunk)
	if err != nil {
		return fmt.Errorf("failed to marshal trunk: %w", err)
	}
	twigsJSON, err := json.Marshal(result.Twigs)
	if err != nil {
		return fmt.Errorf("failed to marshal twigs: %w", err)
	}
	assignmentJSON, err := json.Marshal(result.Assignment)
	if err != nil {
		return fmt.Errorf("failed to marshal assignment: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO selections (id, request, trunk_json, twigs_json, assignment_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, request, string(trunkJSON), string(twigsJSON), string(assignmentJSON), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save selection: %w", err)
	}

	logging.StoreDebug("Saved selection %s (trunk=%s, twigs=%d)", id, result.Trunk.ID, len(result.Twigs))
	return nil
}

// LoadSelection retrieves a persisted selection by id.
func (s *Store) LoadSelection(id string) (*SelectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record SelectionRecord
	var trunkJSON, twigsJSON, assignmentJSON string
	var createdAt int64

	err := s.db.QueryRow(`
		SELECT id, request, trunk_json, twigs_json, assignment_json, created_at
		FROM selections WHERE id = ?`, id).
		Scan(&record.ID, &record.Request, &trunkJSON, &twigsJSON, &assignmentJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("selection %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load selection: %w", err)
	}

	if err := json.Unmarshal([]byte(trunkJSON), &record.Result.Trunk); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trunk: %w", err)
	}
	if err := json.Unmarshal([]byte(twigsJSON), &record.Result.Twigs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal twigs: %w", err)
	}
	if err := json.Unmarshal([]byte(assignmentJSON), &record.Result.Assignment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignment: %w", err)
	}
	record.CreatedAt = time.UnixMilli(createdAt)

	return &record, nil
}

// ListSelections returns ids and requests of all persisted selections,
// newest first.
func (s *Store) ListSelections() ([]SelectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, request, created_at FROM selections ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list selections: %w", err)
	}
	defer rows.Close()

	var records []SelectionRecord
	for rows.Next() {
		var record SelectionRecord
		var createdAt int64
		if err := rows.Scan(&record.ID, &record.Request, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan selection: %w", err)
		}
		record.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, record)
	}
	return records, rows.Err()
}

// =============================================================================
// CANDIDATE VECTORS
// =============================================================================

// SaveVectors persists the embedding vectors behind a selection, enabling
// cluster replay without re-embedding.
func (s *Store) SaveVectors(selectionID string, vectors []embedding.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candidate_vectors (selection_id, candidate_id, vector_json)
		VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, v := range vectors {
		data, err := json.Marshal(v.Values)
		if err != nil {
			return fmt.Errorf("failed to marshal vector %s: %w", v.ID, err)
		}
		if _, err := stmt.Exec(selectionID, v.ID, string(data)); err != nil {
			return fmt.Errorf("failed to save vector %s: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

// LoadVectors retrieves the persisted vectors for a selection.
func (s *Store) LoadVectors(selectionID string) ([]embedding.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT candidate_id, vector_json FROM candidate_vectors
		WHERE selection_id = ? ORDER BY candidate_id`, selectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	defer rows.Close()

	var vectors []embedding.Vector
	for rows.Next() {
		var v embedding.Vector
		var data string
		if err := rows.Scan(&v.ID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &v.Values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vector %s: %w", v.ID, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

// =============================================================================
// REFINEMENT SESSIONS
// =============================================================================

// SessionRecord is a persisted refinement session with its history.
type SessionRecord struct {
	ID          string
	SelectionID string
	Status      string
	Seed        types.Candidate
	Best        types.Candidate
	BestScore   float64
	Generations []refinement.Generation
	StartedAt   time.Time
	FinishedAt  time.Time
}

// SaveSession persists a refinement session snapshot. selectionID links the
// session to the selection that produced its seed; empty is allowed.
func (s *Store) SaveSession(snap refinement.Snapshot, selectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seedJSON, err := json.Marshal(snap.Seed)
	if err != nil {
		return fmt.Errorf("failed to marshal seed: %w", err)
	}
	bestJSON, err := json.Marshal(snap.Best)
	if err != nil {
		return fmt.Errorf("failed to marshal best: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO refinement_sessions
			(id, selection_id, status, seed_json, best_json, best_score, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, selectionID, snap.Status.String(), string(seedJSON), string(bestJSON),
		snap.BestScore, snap.StartedAt.UnixMilli(), snap.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO refinement_generations
			(session_id, gen_index, best_json, best_score, population_json, failed_evaluations, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, g := range snap.Generations {
		genBestJSON, err := json.Marshal(g.Best)
		if err != nil {
			return fmt.Errorf("failed to marshal generation %d best: %w", g.Index, err)
		}
		populationJSON, err := json.Marshal(g.Population)
		if err != nil {
			return fmt.Errorf("failed to marshal generation %d population: %w", g.Index, err)
		}
		_, err = stmt.Exec(snap.ID, g.Index, string(genBestJSON), g.BestScore,
			string(populationJSON), g.FailedEvaluations, g.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to save generation %d: %w", g.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	logging.StoreDebug("Saved session %s (%s, %d generations)", snap.ID, snap.Status, len(snap.Generations))
	return nil
}

// LoadSession retrieves a persisted refinement session by id.
func (s *Store) LoadSession(id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record SessionRecord
	var selectionID sql.NullString
	var seedJSON, bestJSON string
	var startedAt, finishedAt int64

	err := s.db.QueryRow(`
		SELECT id, selection_id, status, seed_json, best_json, best_score, started_at, finished_at
		FROM refinement_sessions WHERE id = ?`, id).
		Scan(&record.ID, &selectionID, &record.Status, &seedJSON, &bestJSON,
			&record.BestScore, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	record.SelectionID = selectionID.String
	record.StartedAt = time.UnixMilli(startedAt)
	record.FinishedAt = time.UnixMilli(finishedAt)
	if err := json.Unmarshal([]byte(seedJSON), &record.Seed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed: %w", err)
	}
	if err := json.Unmarshal([]byte(bestJSON), &record.Best); err != nil {
		return nil, fmt.Errorf("failed to unmarshal best: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT gen_index, best_json, best_score, population_json, failed_evaluations, duration_ms
		FROM refinement_generations WHERE session_id = ? ORDER BY gen_index`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load generations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g refinement.Generation
		var genBestJSON, populationJSON string
		var durationMS int64
		if err := rows.Scan(&g.Index, &genBestJSON, &g.BestScore, &populationJSON,
			&g.FailedEvaluations, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		if err := json.Unmarshal([]byte(genBestJSON), &g.Best); err != nil {
			return nil, fmt.Errorf("failed to unmarshal generation best: %w", err)
		}
		if err := json.Unmarshal([]byte(populationJSON), &g.Population); err != nil {
			return nil, fmt.Errorf("failed to unmarshal generation population: %w", err)
		}
		g.Duration = time.Duration(durationMS) * time.Millisecond
		record.Generations = append(record.Generations, g)
	}
	return &record, rows.Err()
}
