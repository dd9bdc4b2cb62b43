package cursor

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func newTestDB(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.vscdb")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return path, db
}

func TestParseSplitComposerWithBubbles(t *testing.T) {
	path, db := newTestDB(t)
	if _, err := db.Exec(`CREATE TABLE cursorDiskKV (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	composer := `{
		"composerId": "550e8400-e29b-41d4-a716-446655440000",
		"name": "Fix auth bug",
		"createdAt": 1704067200000,
		"lastUpdatedAt": 1704070800000,
		"fullConversationHeadersOnly": [
			{"bubbleId": "b1", "type": 1},
			{"bubbleId": "b2", "type": 2}
		]
	}`
	mustExec(t, db, `INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`, "composerData:550e8400-e29b-41d4-a716-446655440000", composer)

	b1 := `{"type":1,"bubbleId":"b1","text":"Why does login fail?","createdAt":1704067200000}`
	b2 := `{"type":2,"bubbleId":"b2","richText":"{\"root\":{\"children\":[{\"type\":\"paragraph\",\"children\":[{\"type\":\"text\",\"text\":\"Check the token expiry.\"}]}]}}","createdAt":1704067260000}`
	mustExec(t, db, `INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`, "bubbleId:550e8400-e29b-41d4-a716-446655440000:b1", b1)
	mustExec(t, db, `INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`, "bubbleId:550e8400-e29b-41d4-a716-446655440000:b2", b2)
	db.Close()

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 session, got %d", len(results))
	}
	sess, messages := results[0].Session, results[0].Messages
	if sess.ProjectName != "Fix auth bug" {
		t.Errorf("ProjectName = %q", sess.ProjectName)
	}
	if sess.SourcePath != path+"#550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("SourcePath = %q, want synthetic composer path", sess.SourcePath)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "Why does login fail?" {
		t.Errorf("messages[0].Content = %q", messages[0].Content)
	}
	if messages[1].Content != "Check the token expiry." {
		t.Errorf("messages[1].Content = %q, want richText extraction", messages[1].Content)
	}
}

func TestParseLegacyAllComposersForm(t *testing.T) {
	path, db := newTestDB(t)
	if _, err := db.Exec(`CREATE TABLE ItemTable (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	composerData := `{
		"allComposers": [{
			"composerId": "550e8400-e29b-41d4-a716-446655440000",
			"name": "Test Conversation",
			"createdAt": 1704067200000,
			"lastUpdatedAt": 1704070800000,
			"conversation": [
				{"type": 1, "text": "Hello", "timestamp": 1704067200000},
				{"type": 2, "text": "Hi there!", "timestamp": 1704067260000}
			]
		}]
	}`
	mustExec(t, db, `INSERT INTO ItemTable (key, value) VALUES (?, ?)`, "composer.composerData", composerData)
	db.Close()

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 session, got %d", len(results))
	}
	if len(results[0].Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(results[0].Messages))
	}
	if results[0].Messages[0].Role != "user" || results[0].Messages[1].Role != "assistant" {
		t.Errorf("roles = %v, %v", results[0].Messages[0].Role, results[0].Messages[1].Role)
	}
}

func TestParseEmptyDatabaseYieldsNoSessions(t *testing.T) {
	path, db := newTestDB(t)
	if _, err := db.Exec(`CREATE TABLE ItemTable (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	db.Close()

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 sessions, got %d", len(results))
	}
}

func TestExtractRichTextFallsBackToPlainString(t *testing.T) {
	content := bubbleContent(nil, strp("plain text, not JSON"))
	if content != "plain text, not JSON" {
		t.Errorf("content = %q", content)
	}
}

func TestSnifferRequiresSQLiteMagicAndFilename(t *testing.T) {
	s := Sniffer{}
	if !s.SniffContent(append([]byte("SQLite format 3\x00"), make([]byte, 8)...)) {
		t.Error("expected SQLite magic to match")
	}
	if s.SniffContent([]byte("not a database")) {
		t.Error("expected non-SQLite content to be rejected")
	}
	if !s.AcceptsFilename("state.vscdb") {
		t.Error("expected state.vscdb to be accepted")
	}
	if s.AcceptsFilename("other.db") {
		t.Error("expected other filenames to be rejected")
	}
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", fmt.Sprint(args), err)
	}
}

func strp(s string) *string { return &s }
