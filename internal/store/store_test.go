package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), 5000)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndFetchSession(t *testing.T) {
	s := newTestStore(t)

	sess := models.Session{
		ID:          "sess-1",
		Provider:    models.ProviderClaudeCode,
		SourcePath:  "/tmp/a.jsonl",
		FileHash:    "abc123",
		ProjectName: "myproj",
		StartedAt:   time.Unix(1000, 0),
		ImportedAt:  time.Unix(2000, 0),
	}
	if err := s.CreateProjectIfAbsent(sess.ProjectName); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := s.InsertSession(sess); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	exists, err := s.SessionExists("sess-1")
	if err != nil {
		t.Fatalf("session exists: %v", err)
	}
	if !exists {
		t.Error("expected session to exist after insert")
	}
}

func TestDeleteSessionCascadeRemovesEverything(t *testing.T) {
	s := newTestStore(t)

	sess := models.Session{ID: "sess-1", Provider: models.ProviderCodex, SourcePath: "p", FileHash: "h", StartedAt: time.Now(), ImportedAt: time.Now()}
	if err := s.InsertSession(sess); err != nil {
		t.Fatal(err)
	}
	msgs := []models.Message{
		{ID: "m1", Sequence: 1, Role: models.RoleUser, Type: models.TypeSimpleMessage, Content: "hi", Timestamp: time.Now()},
	}
	if err := s.InsertMessages("sess-1", msgs); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSessionCascade("sess-1"); err != nil {
		t.Fatalf("delete cascade: %v", err)
	}

	exists, err := s.SessionExists("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("expected session to be gone after cascade delete")
	}
}

func TestTurnSummariesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess := models.Session{ID: "sess-1", Provider: models.ProviderCursor, SourcePath: "p", FileHash: "h", StartedAt: time.Now(), ImportedAt: time.Now()}
	if err := s.InsertSession(sess); err != nil {
		t.Fatal(err)
	}

	if err := s.InsertTurnSummary(models.TurnSummary{SessionID: "sess-1", TurnIndex: 0, Summary: "first turn"}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertTurnSummary(models.TurnSummary{SessionID: "sess-1", TurnIndex: 1, Summary: "second turn"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.TurnSummaries("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 turn summaries, got %d", len(got))
	}
	if got[0].TurnIndex != 0 || got[1].TurnIndex != 1 {
		t.Errorf("expected ordered by turn_index, got %+v", got)
	}
}

func TestSearchMessagesFindsInsertedContent(t *testing.T) {
	s := newTestStore(t)
	sess := models.Session{ID: "sess-1", Provider: models.ProviderGeminiCLI, SourcePath: "p", FileHash: "h", StartedAt: time.Now(), ImportedAt: time.Now()}
	if err := s.InsertSession(sess); err != nil {
		t.Fatal(err)
	}
	msgs := []models.Message{
		{ID: "m1", Sequence: 1, Role: models.RoleUser, Type: models.TypeSimpleMessage, Content: "please refactor the parser", Timestamp: time.Now()},
	}
	if err := s.InsertMessages("sess-1", msgs); err != nil {
		t.Fatal(err)
	}

	results, err := s.SearchMessages("refactor", "sess-1", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}
