package claudecode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

func writeJSONL(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "550e8400-e29b-41d4-a716-446655440000.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestParseSessionObjectForm(t *testing.T) {
	path := writeJSONL(t, `{"uuid":"550e8400-e29b-41d4-a716-446655440000","name":"Test Session","created_at":"2024-01-01T10:00:00Z","updated_at":"2024-01-01T11:00:00Z","chat_messages":[{"uuid":"550e8400-e29b-41d4-a716-446655440001","content":"Hello","created_at":"2024-01-01T10:00:00Z","updated_at":"2024-01-01T10:00:00Z","role":"human"},{"uuid":"550e8400-e29b-41d4-a716-446655440002","content":"Hi there!","created_at":"2024-01-01T10:01:00Z","updated_at":"2024-01-01T10:01:00Z","role":"assistant"}]}`)

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 session, got %d", len(results))
	}
	sess, messages := results[0].Session, results[0].Messages
	if sess.Provider != models.ProviderClaudeCode {
		t.Errorf("provider = %v", sess.Provider)
	}
	if sess.MessageCount != 2 || len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d / %d", sess.MessageCount, len(messages))
	}
	if messages[0].Role != models.RoleUser {
		t.Errorf("messages[0].Role = %v, want User", messages[0].Role)
	}
	if messages[1].Role != models.RoleAssistant {
		t.Errorf("messages[1].Role = %v, want Assistant", messages[1].Role)
	}
	if sess.ProjectName != "Test Session" {
		t.Errorf("ProjectName = %q, want session name to win over path inference", sess.ProjectName)
	}
}

func TestParseConversationEntryThinkingBlockSplit(t *testing.T) {
	path := writeJSONL(t,
		`{"type":"message","sessionId":"550e8400-e29b-41d4-a716-446655440000","timestamp":"2024-01-01T10:00:00Z","message":{"role":"user","content":"hi"}}`,
		`{"type":"message","sessionId":"550e8400-e29b-41d4-a716-446655440000","timestamp":"2024-01-01T10:00:05Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"planning..."},{"type":"text","text":"hello"}]}}`,
	)

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 session, got %d", len(results))
	}
	messages := results[0].Messages
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages (user, thinking, assistant text), got %d", len(messages))
	}
	if messages[0].Content != "hi" || messages[0].Sequence != 1 {
		t.Errorf("message[0] = %+v", messages[0])
	}
	if messages[1].Type != models.TypeThinking || messages[1].Content != "planning..." || messages[1].Sequence != 2 {
		t.Errorf("message[1] = %+v, want Thinking/planning.../seq 2", messages[1])
	}
	if messages[2].Content != "hello" || messages[2].Sequence != 3 {
		t.Errorf("message[2] = %+v", messages[2])
	}
}

func TestParseConversationEntryToolUseAndResult(t *testing.T) {
	path := writeJSONL(t,
		`{"type":"message","sessionId":"550e8400-e29b-41d4-a716-446655440000","timestamp":"2024-01-01T10:00:00Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"T1","name":"Read","input":{"file_path":"a.rs"}}]}}`,
		`{"type":"message","sessionId":"550e8400-e29b-41d4-a716-446655440000","timestamp":"2024-01-01T10:00:01Z","message":{"role":"assistant","content":[{"type":"tool_result","tool_use_id":"T1","content":"file contents","is_error":false}]}}`,
	)

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	messages := results[0].Messages
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if len(messages[0].ToolUses) != 1 || messages[0].ToolUses[0].Name != "Read" {
		t.Errorf("message[0].ToolUses = %+v", messages[0].ToolUses)
	}
	if messages[0].Content != "[Tool Use: Read]" {
		t.Errorf("message[0].Content = %q", messages[0].Content)
	}
	if messages[1].ToolResult == nil || messages[1].ToolResult.ToolUseID != "T1" {
		t.Errorf("message[1].ToolResult = %+v", messages[1].ToolResult)
	}
	if messages[1].Content != "[Tool Result]" {
		t.Errorf("message[1].Content = %q", messages[1].Content)
	}
}

func TestParseSummaryOnlyFileSkipped(t *testing.T) {
	path := writeJSONL(t,
		`{"type":"summary","summary":"a conversation about refactoring","leafUuid":"abc"}`,
	)

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("expected no error for summary-only file, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 results for summary-only file, got %d", len(results))
	}
}

func TestParseMixedFormatsRejected(t *testing.T) {
	path := writeJSONL(t,
		`{"type":"message","sessionId":"550e8400-e29b-41d4-a716-446655440000","timestamp":"2024-01-01T10:00:00Z","message":{"role":"user","content":"hi"}}`,
		`{"uuid":"550e8400-e29b-41d4-a716-446655440000","chat_messages":[]}`,
	)

	if _, err := Parse(path); err == nil {
		t.Fatal("expected error for mixed conversation/session-object formats")
	}
}

func TestParseEmptyContentBecomesPlaceholder(t *testing.T) {
	path := writeJSONL(t,
		`{"uuid":"550e8400-e29b-41d4-a716-446655440000","created_at":"2024-01-01T10:00:00Z","updated_at":"2024-01-01T10:00:00Z","chat_messages":[{"uuid":"550e8400-e29b-41d4-a716-446655440001","content":"","created_at":"2024-01-01T10:00:00Z","updated_at":"2024-01-01T10:00:00Z","role":"human"}]}`,
	)

	results, err := Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if results[0].Messages[0].Content != "[No content]" {
		t.Errorf("Content = %q, want placeholder", results[0].Messages[0].Content)
	}
}

func TestSnifferAcceptsFilenameRequiresUUID(t *testing.T) {
	s := Sniffer{}
	if !s.AcceptsFilename("550e8400-e29b-41d4-a716-446655440000.jsonl") {
		t.Error("expected UUID-shaped stem to be accepted")
	}
	if s.AcceptsFilename("notes.jsonl") {
		t.Error("expected non-UUID stem to be rejected")
	}
}

func TestSnifferSniffContentSessionObjectForm(t *testing.T) {
	s := Sniffer{}
	if !s.SniffContent([]byte(`{"uuid":"x","chat_messages":[]}` + "\n")) {
		t.Error("expected session-object sniff to match")
	}
}

func TestSnifferSniffContentConversationForm(t *testing.T) {
	s := Sniffer{}
	if !s.SniffContent([]byte(`{"type":"message","sessionId":"x"}` + "\n")) {
		t.Error("expected conversation-entry sniff to match")
	}
}
