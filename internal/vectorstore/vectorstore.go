// Package vectorstore persists turn and session embeddings in a columnar
// SQLite table and answers nearest-neighbor queries over them by brute-force
// cosine similarity, with an optional keyword-boosted hybrid scoring mode.
// This mirrors the relational store's engine choice: SQLite provides the
// pushdown-filter predicate and the storage; the ANN search itself is a
// linear scan, adequate at the corpus sizes a single imported chat archive
// reaches and avoiding a second storage engine dependency.
package vectorstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roelfdiedericks/goclaw/internal/ierrors"
	"github.com/roelfdiedericks/goclaw/internal/models"
)

// Store is a columnar embedding store with turn_embeddings and
// session_embeddings tables.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the vector database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open vector store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateVectorStore(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate vector store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func migrateVectorStore(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turn_embeddings (
			session_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			provider TEXT,
			project TEXT,
			text_hash TEXT,
			model_name TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at TEXT,
			embedded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, turn_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turn_embeddings_project ON turn_embeddings(project)`,
		`CREATE TABLE IF NOT EXISTS session_embeddings (
			session_id TEXT PRIMARY KEY,
			provider TEXT,
			project TEXT,
			text_hash TEXT,
			model_name TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at TEXT,
			embedded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_embeddings_project ON session_embeddings(project)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Filter is the pushdown predicate applied before scoring. Zero-value
// fields are not filtered on.
type Filter struct {
	Provider     models.Provider
	Project      string
	CreatedAfter time.Time
}

func (f Filter) whereClause() (string, []any) {
	var clauses []string
	var args []any
	if f.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, string(f.Provider))
	}
	if f.Project != "" {
		clauses = append(clauses, "project = ?")
		args = append(args, f.Project)
	}
	if !f.CreatedAfter.IsZero() {
		clauses = append(clauses, "created_at > ?")
		args = append(args, f.CreatedAfter.UTC().Format(time.RFC3339))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE "
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}

// TurnResult is one ranked hit from SearchTurns.
type TurnResult struct {
	SessionID string
	TurnIndex int
	Score     float64
}

// SessionResult is one ranked hit from SearchSessions.
type SessionResult struct {
	SessionID string
	Score     float64
}

// UpsertTurnEmbedding deletes any existing row for (session_id, turn_index)
// then inserts the new one, making the call idempotent for fixed inputs.
func (s *Store) UpsertTurnEmbedding(e models.TurnEmbedding) error {
	vec, err := json.Marshal(e.Vector)
	if err != nil {
		return fmt.Errorf("%w: marshal turn embedding vector: %v", ierrors.ErrStorageFailure, err)
	}
	_, err = s.db.Exec(
		`DELETE FROM turn_embeddings WHERE session_id = ? AND turn_index = ?`,
		e.SessionID, e.TurnIndex,
	)
	if err != nil {
		return fmt.Errorf("%w: delete existing turn embedding: %v", ierrors.ErrStorageFailure, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO turn_embeddings (session_id, turn_index, provider, project, text_hash, model_name, embedding, created_at, embedded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.TurnIndex, string(e.Provider), e.Project, e.TextHash, e.Model, string(vec),
		formatTimeOrNull(e.CreatedAt), formatTime(e.EmbeddedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: insert turn embedding: %v", ierrors.ErrStorageFailure, err)
	}
	return nil
}

// UpsertSessionEmbedding is the session-level analogue of UpsertTurnEmbedding.
func (s *Store) UpsertSessionEmbedding(e models.SessionEmbedding) error {
	vec, err := json.Marshal(e.Vector)
	if err != nil {
		return fmt.Errorf("%w: marshal session embedding vector: %v", ierrors.ErrStorageFailure, err)
	}
	if _, err := s.db.Exec(`DELETE FROM session_embeddings WHERE session_id = ?`, e.SessionID); err != nil {
		return fmt.Errorf("%w: delete existing session embedding: %v", ierrors.ErrStorageFailure, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO session_embeddings (session_id, provider, project, text_hash, model_name, embedding, created_at, embedded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Provider), e.Project, e.TextHash, e.Model, string(vec),
		formatTimeOrNull(e.CreatedAt), formatTime(e.EmbeddedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: insert session embedding: %v", ierrors.ErrStorageFailure, err)
	}
	return nil
}

// DeleteSession removes all turn- and session-embedding rows for sessionID.
func (s *Store) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM turn_embeddings WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: delete turn embeddings for %s: %v", ierrors.ErrStorageFailure, sessionID, err)
	}
	if _, err := s.db.Exec(`DELETE FROM session_embeddings WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: delete session embedding for %s: %v", ierrors.ErrStorageFailure, sessionID, err)
	}
	return nil
}

// SearchTurns returns the limit nearest turn embeddings to query, ordered
// by ascending distance (descending score), restricted to rows matching
// filter.
func (s *Store) SearchTurns(query []float32, limit int, filter Filter) ([]TurnResult, error) {
	where, args := filter.whereClause()
	rows, err := s.db.Query(
		`SELECT session_id, turn_index, embedding FROM turn_embeddings`+where, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query turn_embeddings: %v", ierrors.ErrStorageFailure, err)
	}
	defer rows.Close()

	type scored struct {
		TurnResult
		dist float64
	}
	var all []scored
	for rows.Next() {
		var sessionID string
		var turnIndex int
		var embeddingJSON string
		if err := rows.Scan(&sessionID, &turnIndex, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("%w: scan turn embedding: %v", ierrors.ErrStorageFailure, err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			continue
		}
		dist := cosineDistance(query, vec)
		all = append(all, scored{TurnResult{SessionID: sessionID, TurnIndex: turnIndex, Score: clipScore(1 - dist)}, dist})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]TurnResult, len(all))
	for i, a := range all {
		out[i] = a.TurnResult
	}
	return out, nil
}

// SearchSessions is the session-level analogue of SearchTurns.
func (s *Store) SearchSessions(query []float32, limit int, filter Filter) ([]SessionResult, error) {
	where, args := filter.whereClause()
	rows, err := s.db.Query(
		`SELECT session_id, embedding FROM session_embeddings`+where, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query session_embeddings: %v", ierrors.ErrStorageFailure, err)
	}
	defer rows.Close()

	type scored struct {
		SessionResult
		dist float64
	}
	var all []scored
	for rows.Next() {
		var sessionID string
		var embeddingJSON string
		if err := rows.Scan(&sessionID, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("%w: scan session embedding: %v", ierrors.ErrStorageFailure, err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			continue
		}
		dist := cosineDistance(query, vec)
		all = append(all, scored{SessionResult{SessionID: sessionID, Score: clipScore(1 - dist)}, dist})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]SessionResult, len(all))
	for i, a := range all {
		out[i] = a.SessionResult
	}
	return out, nil
}

// HybridWeights blends vector similarity with an externally supplied
// keyword relevance score (e.g. SQLite FTS5 bm25 rank, normalized to
// [0,1] by the caller), the same weighted-merge idea the relational
// store's full-text search uses for ranking.
type HybridWeights struct {
	Vector  float64
	Keyword float64
}

// MergeWithKeywordScores re-weights a SearchTurns result set using a
// caller-supplied map of session:turn key -> keyword relevance in [0,1].
// Turns absent from keywordScores are treated as having zero keyword
// relevance, not excluded.
func MergeWithKeywordScores(results []TurnResult, keywordScores map[string]float64, w HybridWeights) []TurnResult {
	merged := make([]TurnResult, len(results))
	for i, r := range results {
		key := fmt.Sprintf("%s:%d", r.SessionID, r.TurnIndex)
		kw := keywordScores[key]
		merged[i] = TurnResult{
			SessionID: r.SessionID,
			TurnIndex: r.TurnIndex,
			Score:     r.Score*w.Vector + kw*w.Keyword,
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged
}

// cosineDistance is 1 - cosine similarity; 0 for identical direction, 2 for
// opposite. Mismatched or zero-length vectors return a maximal distance
// rather than panicking.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - similarity
}

// clipScore clips a presentation-facing score to non-negative. The
// unclipped distance is used only for ordering inside SearchTurns and
// SearchSessions; it is not returned to callers.
func clipScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	return score
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimeOrNull(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
