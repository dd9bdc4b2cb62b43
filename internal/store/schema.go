package store

import (
	"database/sql"
	"fmt"
)

// currentSchemaVersion is the highest migration defined below; the
// single-row schema_version table records the highest one applied.
const currentSchemaVersion = 3

type migrationFunc func(tx *sql.Tx) error

var migrations = []migrationFunc{
	migrateV1,
	migrateV2,
	migrateV3,
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	version := 0
	row := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	if err := row.Scan(&version); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if err := migrations[i](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return fmt.Errorf("clear schema_version: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump schema_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			name TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			source_path TEXT NOT NULL,
			file_hash TEXT NOT NULL,
			project_name TEXT,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			imported_at TEXT NOT NULL,
			FOREIGN KEY (project_name) REFERENCES projects(name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_project ON chat_sessions(project_name)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			role TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			thinking TEXT,
			timestamp TEXT NOT NULL,
			tool_operation_id TEXT,
			token_count INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS tool_operations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			tool_use_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			paths TEXT NOT NULL,
			command TEXT,
			success INTEGER,
			error_text TEXT,
			metadata TEXT,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_operations_session ON tool_operations(session_id)`,
		`CREATE TABLE IF NOT EXISTS detected_turns (
			session_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			start_sequence INTEGER NOT NULL,
			end_sequence INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			tool_call_count INTEGER NOT NULL DEFAULT 0,
			tool_success_count INTEGER NOT NULL DEFAULT 0,
			tool_error_count INTEGER NOT NULL DEFAULT 0,
			bash_command_count INTEGER NOT NULL DEFAULT 0,
			user_preview TEXT,
			assistant_preview TEXT,
			detail TEXT NOT NULL,
			PRIMARY KEY (session_id, turn_index),
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS turn_summaries (
			session_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			summary TEXT NOT NULL,
			PRIMARY KEY (session_id, turn_index),
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY,
			overview TEXT NOT NULL,
			topics TEXT NOT NULL,
			key_decisions TEXT NOT NULL,
			open_questions TEXT NOT NULL,
			files_touched TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			generated_by TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS prompt_templates (
			name TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_requests (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			requested_at TEXT NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS retrospection_analyses (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			result TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		// FTS5 mirrors, kept in sync by triggers below.
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			content, session_id UNINDEXED, content='messages', content_rowid='rowid'
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS turn_summaries_fts USING fts5(
			summary, session_id UNINDEXED, content='turn_summaries', content_rowid='rowid'
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS session_summaries_fts USING fts5(
			overview, session_id UNINDEXED, content='session_summaries', content_rowid='rowid'
		)`,

		`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, content, session_id) VALUES (new.rowid, new.content, new.session_id);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, content, session_id) VALUES ('delete', old.rowid, old.content, old.session_id);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, content, session_id) VALUES ('delete', old.rowid, old.content, old.session_id);
			INSERT INTO messages_fts(rowid, content, session_id) VALUES (new.rowid, new.content, new.session_id);
		END`,

		`CREATE TRIGGER IF NOT EXISTS turn_summaries_ai AFTER INSERT ON turn_summaries BEGIN
			INSERT INTO turn_summaries_fts(rowid, summary, session_id) VALUES (new.rowid, new.summary, new.session_id);
		END`,
		`CREATE TRIGGER IF NOT EXISTS turn_summaries_ad AFTER DELETE ON turn_summaries BEGIN
			INSERT INTO turn_summaries_fts(turn_summaries_fts, rowid, summary, session_id) VALUES ('delete', old.rowid, old.summary, old.session_id);
		END`,

		`CREATE TRIGGER IF NOT EXISTS session_summaries_ai AFTER INSERT ON session_summaries BEGIN
			INSERT INTO session_summaries_fts(rowid, overview, session_id) VALUES (new.rowid, new.overview, new.session_id);
		END`,
		`CREATE TRIGGER IF NOT EXISTS session_summaries_ad AFTER DELETE ON session_summaries BEGIN
			INSERT INTO session_summaries_fts(session_summaries_fts, rowid, overview, session_id) VALUES ('delete', old.rowid, old.overview, old.session_id);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// migrateV2 adds the session lifecycle state (created/imported/analyzed)
// introduced once summarization could run asynchronously from import.
func migrateV2(tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE chat_sessions ADD COLUMN state TEXT NOT NULL DEFAULT 'imported'`,
		`ALTER TABLE chat_sessions ADD COLUMN token_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE chat_sessions ADD COLUMN updated_at TEXT`,
		`UPDATE chat_sessions SET updated_at = imported_at WHERE updated_at IS NULL`,
		`UPDATE chat_sessions SET state = 'analyzed' WHERE id IN (SELECT session_id FROM session_summaries)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// migrateV3 adds the fields SummarizationService needs: a turn's
// classified type (carried into the session-summary prompt as
// "Turn N (type): summary"), and the session_summaries columns for the
// title/primary-goal/outcome/technologies the LLM response parses into
// (files go to the existing files_touched column), alongside the overview (renamed conceptually to "summary" but kept
// as the existing "overview" column to avoid a destructive rename).
func migrateV3(tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE turn_summaries ADD COLUMN turn_type TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE session_summaries ADD COLUMN title TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE session_summaries ADD COLUMN primary_goal TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE session_summaries ADD COLUMN outcome TEXT NOT NULL DEFAULT 'ongoing'`,
		`ALTER TABLE session_summaries ADD COLUMN technologies_used TEXT NOT NULL DEFAULT '[]'`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
