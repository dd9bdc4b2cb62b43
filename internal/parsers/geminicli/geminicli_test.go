package geminicli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestParseSessionForm(t *testing.T) {
	path := writeFile(t, `{
		"sessionId": "550e8400-e29b-41d4-a716-446655440000",
		"projectHash": "deadbeefcafe",
		"startTime": "2024-01-01T10:00:00Z",
		"lastUpdated": "2024-01-01T11:00:00Z",
		"messages": [
			{"id": "m1", "timestamp": "2024-01-01T10:00:00Z", "type": "user", "content": "Hello"},
			{"id": "m2", "timestamp": "2024-01-01T10:01:00Z", "type": "gemini", "content": "Hi there!", "tokens": {"input": 1, "output": 2, "cached": 0, "thoughts": 0, "tool": 0, "total": 3}}
		]
	}`)

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 session, got %d", len(results))
	}
	sess, messages := results[0].Session, results[0].Messages
	if sess.Provider != models.ProviderGeminiCLI {
		t.Errorf("provider = %v", sess.Provider)
	}
	if sess.ProjectName != "deadbeef" {
		t.Errorf("ProjectName = %q, want first-8-chars of projectHash", sess.ProjectName)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != models.RoleUser || messages[1].Role != models.RoleAssistant {
		t.Errorf("roles = %v, %v", messages[0].Role, messages[1].Role)
	}
	if messages[1].TokenCount != 3 {
		t.Errorf("TokenCount = %d, want source-provided 3", messages[1].TokenCount)
	}
}

func TestParseArrayFormGroupsBySessionID(t *testing.T) {
	path := writeFile(t, `[
		{"sessionId": "sess-a", "messageId": 2, "type": "gemini", "message": "second", "timestamp": "2024-01-01T10:01:00Z"},
		{"sessionId": "sess-a", "messageId": 1, "type": "user", "message": "first", "timestamp": "2024-01-01T10:00:00Z"},
		{"sessionId": "sess-b", "messageId": 1, "type": "user", "message": "other session", "timestamp": "2024-01-02T10:00:00Z"}
	]`)

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(results))
	}
	for _, r := range results {
		if len(r.Messages) == 1 {
			continue
		}
		if r.Messages[0].Content != "first" || r.Messages[1].Content != "second" {
			t.Errorf("messages not sorted by messageId: %+v", r.Messages)
		}
	}
}

func TestParseLegacyExportForm(t *testing.T) {
	path := writeFile(t, `{"conversations":[{"conversation_id":"test-123","create_time":"2024-01-01T10:00:00Z","update_time":"2024-01-01T11:00:00Z","title":"Test Chat","conversation":[{"parts":[{"text":"Hello"}],"role":"user","timestamp":"2024-01-01T10:00:00Z"},{"parts":[{"text":"Hi there!"}],"role":"model","timestamp":"2024-01-01T10:01:00Z"}]}]}`)

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 session, got %d", len(results))
	}
	sess, messages := results[0].Session, results[0].Messages
	if sess.ProjectName != "Test Chat" {
		t.Errorf("ProjectName = %q", sess.ProjectName)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
}

func TestParseUnrecognizedShapeFails(t *testing.T) {
	path := writeFile(t, `{"foo": "bar"}`)
	if _, err := Parse(path); err == nil {
		t.Fatal("expected error for unrecognized shape")
	}
}

func TestSnifferSessionForm(t *testing.T) {
	s := Sniffer{}
	if !s.SniffContent([]byte(`{"sessionId":"x","messages":[]}`)) {
		t.Error("expected session form to match")
	}
	if !s.AcceptsFilename("transcript.json") {
		t.Error("expected .json to be accepted")
	}
	if s.AcceptsFilename("transcript.jsonl") {
		t.Error("expected .jsonl to be rejected")
	}
}

func TestSnifferExportForm(t *testing.T) {
	s := Sniffer{}
	if !s.SniffContent([]byte(`{"conversations":[]}`)) {
		t.Error("expected export form to match")
	}
}
