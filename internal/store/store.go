// Package store is the relational persistence layer: sessions, messages,
// tool operations, detected turns, and summaries, backed by SQLite with
// FTS5 mirrors kept in sync by triggers.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roelfdiedericks/goclaw/internal/ierrors"
	"github.com/roelfdiedericks/goclaw/internal/models"
	. "github.com/roelfdiedericks/goclaw/internal/logging"
)

// Store wraps a single SQLite connection pool for the database described
// in schema.go.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at path in WAL mode with a
// busy timeout, then applies any pending migrations.
func Open(path string, busyTimeoutMS int) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // go-sqlite3 + WAL: serialize writers through one handle, matching the teacher's store

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	L_debug("store: opened", "path", path)
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateProjectIfAbsent inserts a project row if one with this name does
// not already exist. A blank name is a no-op.
func (s *Store) CreateProjectIfAbsent(name string) error {
	if name == "" {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO projects (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: create project %s: %v", ierrors.ErrStorageFailure, name, err)
	}
	return nil
}

// SessionExists reports whether a session with this ID is already stored.
func (s *Store) SessionExists(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM chat_sessions WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: check session %s: %v", ierrors.ErrStorageFailure, id, err)
	}
	return n > 0, nil
}

// DeleteSessionCascade removes a session and every row keyed to it:
// messages, tool operations, detected turns, and summaries.
func (s *Store) DeleteSessionCascade(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin delete session %s: %v", ierrors.ErrStorageFailure, id, err)
	}
	defer tx.Rollback()

	tables := []string{"messages", "tool_operations", "detected_turns", "turn_summaries", "session_summaries", "chat_sessions"}
	for _, table := range tables {
		col := "session_id"
		if table == "chat_sessions" {
			col = "id"
		}
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, col), id); err != nil {
			return fmt.Errorf("%w: delete from %s for session %s: %v", ierrors.ErrStorageFailure, table, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete session %s: %v", ierrors.ErrStorageFailure, id, err)
	}
	return nil
}

// InsertSession inserts one session row.
func (s *Store) InsertSession(sess models.Session) error {
	state := sess.State
	if state == "" {
		state = models.SessionImported
	}
	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = sess.ImportedAt
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_sessions (id, provider, source_path, file_hash, project_name, started_at, ended_at, message_count, imported_at, state, token_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Provider), sess.SourcePath, sess.FileHash,
		nullIfEmpty(sess.ProjectName), formatTime(sess.StartedAt), formatTimeOrNull(sess.EndedAt, sess.StartedAt),
		sess.MessageCount, formatTime(sess.ImportedAt), string(state), sess.TokenCount, formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: insert session %s: %v", ierrors.ErrStorageFailure, sess.ID, err)
	}
	return nil
}

// UpdateSessionState transitions a session to a new lifecycle state, e.g.
// to SessionAnalyzed once a session summary has been generated for it.
func (s *Store) UpdateSessionState(sessionID string, state models.SessionState) error {
	_, err := s.db.Exec(
		`UPDATE chat_sessions SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), formatTime(time.Now().UTC()), sessionID,
	)
	if err != nil {
		return fmt.Errorf("%w: update session state %s: %v", ierrors.ErrStorageFailure, sessionID, err)
	}
	return nil
}

// InsertToolOperations bulk-inserts operations inside one transaction.
func (s *Store) InsertToolOperations(sessionID string, ops []models.ToolOperation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin insert tool_operations: %v", ierrors.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO tool_operations (id, session_id, message_id, tool_use_id, tool_name, kind, paths, command, success, error_text, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("%w: prepare insert tool_operations: %v", ierrors.ErrStorageFailure, err)
	}
	defer stmt.Close()

	for _, op := range ops {
		paths, _ := json.Marshal(op.Paths)
		var metadata []byte
		if op.Metadata != nil {
			metadata, _ = json.Marshal(op.Metadata)
		}
		if _, err := stmt.Exec(
			op.ID, sessionID, op.MessageID, op.ToolUseID, op.ToolName, string(op.Kind),
			string(paths), nullIfEmpty(op.Command), op.Success, nullIfEmpty(op.ErrorText), nullBytes(metadata),
		); err != nil {
			return fmt.Errorf("%w: insert tool_operation %s: %v", ierrors.ErrStorageFailure, op.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tool_operations: %v", ierrors.ErrStorageFailure, err)
	}
	return nil
}

// InsertMessages bulk-inserts messages, already rewritten by the extractor
// (type and tool_operation_id set, transient tool fields cleared), inside
// one transaction, in the slice's order.
func (s *Store) InsertMessages(sessionID string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin insert messages: %v", ierrors.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO messages (id, session_id, sequence, role, type, content, thinking, timestamp, tool_operation_id, token_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("%w: prepare insert messages: %v", ierrors.ErrStorageFailure, err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(
			m.ID, sessionID, m.Sequence, string(m.Role), string(m.Type), m.Content,
			nullIfEmpty(m.Thinking), formatTime(m.Timestamp), nullIfEmpty(m.ToolOperationID), m.TokenCount,
		); err != nil {
			return fmt.Errorf("%w: insert message %s: %v", ierrors.ErrStorageFailure, m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit messages: %v", ierrors.ErrStorageFailure, err)
	}
	return nil
}

// InsertDetectedTurns bulk-inserts detected turns for a session, replacing
// any prior rows (import is the only writer of this table).
func (s *Store) InsertDetectedTurns(sessionID string, ts []models.DetectedTurn) error {
	if len(ts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin insert detected_turns: %v", ierrors.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO detected_turns
		 (session_id, turn_index, start_sequence, end_sequence, started_at, ended_at,
		  input_tokens, output_tokens, tool_call_count, tool_success_count, tool_error_count,
		  bash_command_count, user_preview, assistant_preview, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("%w: prepare insert detected_turns: %v", ierrors.ErrStorageFailure, err)
	}
	defer stmt.Close()

	for _, t := range ts {
		detail, _ := json.Marshal(t)
		if _, err := stmt.Exec(
			sessionID, t.Index, t.StartSequence, t.EndSequence, formatTime(t.StartedAt), formatTime(t.EndedAt),
			t.InputTokens, t.OutputTokens, t.ToolCallCount, t.ToolSuccessCount, t.ToolErrorCount,
			t.BashCommandCount, t.UserPreview, t.AssistantPreview, string(detail),
		); err != nil {
			return fmt.Errorf("%w: insert detected_turn %d: %v", ierrors.ErrStorageFailure, t.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit detected_turns: %v", ierrors.ErrStorageFailure, err)
	}
	return nil
}

// InsertTurnSummary upserts a single turn summary.
func (s *Store) InsertTurnSummary(ts models.TurnSummary) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO turn_summaries (session_id, turn_index, summary, turn_type) VALUES (?, ?, ?, ?)`,
		ts.SessionID, ts.TurnIndex, ts.Summary, ts.Type,
	)
	if err != nil {
		return fmt.Errorf("%w: insert turn_summary %s/%d: %v", ierrors.ErrStorageFailure, ts.SessionID, ts.TurnIndex, err)
	}
	return nil
}

// TurnSummaries returns every turn summary for a session, ordered by
// turn_index.
func (s *Store) TurnSummaries(sessionID string) ([]models.TurnSummary, error) {
	rows, err := s.db.Query(
		`SELECT session_id, turn_index, summary, turn_type FROM turn_summaries WHERE session_id = ? ORDER BY turn_index`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query turn_summaries for %s: %v", ierrors.ErrStorageFailure, sessionID, err)
	}
	defer rows.Close()

	var out []models.TurnSummary
	for rows.Next() {
		var ts models.TurnSummary
		if err := rows.Scan(&ts.SessionID, &ts.TurnIndex, &ts.Summary, &ts.Type); err != nil {
			return nil, fmt.Errorf("%w: scan turn_summary: %v", ierrors.ErrStorageFailure, err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// DeleteSessionSummary removes any existing session summary row.
func (s *Store) DeleteSessionSummary(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM session_summaries WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: delete session_summary %s: %v", ierrors.ErrStorageFailure, sessionID, err)
	}
	return nil
}

// InsertSessionSummary persists a session summary. Callers are expected to
// have already called DeleteSessionSummary when replacing one.
func (s *Store) InsertSessionSummary(sum models.SessionSummary) error {
	topics, _ := json.Marshal(sum.Topics)
	decisions, _ := json.Marshal(sum.KeyDecisions)
	questions, _ := json.Marshal(sum.OpenQuestions)
	files, _ := json.Marshal(sum.FilesTouched)
	technologies, _ := json.Marshal(sum.TechnologiesUsed)

	_, err := s.db.Exec(
		`INSERT INTO session_summaries (session_id, overview, topics, key_decisions, open_questions, files_touched, generated_at, generated_by, title, primary_goal, outcome, technologies_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, sum.Overview, string(topics), string(decisions), string(questions), string(files),
		formatTime(sum.GeneratedAt), sum.GeneratedBy, sum.Title, sum.PrimaryGoal, string(sum.Outcome), string(technologies),
	)
	if err != nil {
		return fmt.Errorf("%w: insert session_summary %s: %v", ierrors.ErrStorageFailure, sum.SessionID, err)
	}
	return nil
}

// SearchMessages runs a full-text query over messages_fts, optionally
// scoped to one session. An empty query matches every message, returned in
// session and sequence order; a limit of zero or less returns all matches.
func (s *Store) SearchMessages(query string, sessionID string, limit int) ([]string, error) {
	ftsQuery := buildFTSQuery(query)
	sqlQuery := `SELECT m.content FROM messages_fts f JOIN messages m ON m.rowid = f.rowid WHERE messages_fts MATCH ?`
	args := []any{ftsQuery}
	order := ` ORDER BY rank`
	if ftsQuery == "" {
		sqlQuery = `SELECT m.content FROM messages m WHERE 1 = 1`
		args = nil
		order = ` ORDER BY m.session_id, m.sequence`
	}
	if sessionID != "" {
		sqlQuery += ` AND m.session_id = ?`
		args = append(args, sessionID)
	}
	sqlQuery += order
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search messages: %v", ierrors.ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("%w: scan search result: %v", ierrors.ErrStorageFailure, err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// buildFTSQuery escapes user input for FTS5's MATCH operator by quoting
// each token, preventing stray FTS5 query-syntax characters from being
// interpreted as operators.
func buildFTSQuery(q string) string {
	fields := strings.Fields(q)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimeOrNull(t, fallback time.Time) sql.NullString {
	if t.IsZero() || t.Equal(fallback) {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
