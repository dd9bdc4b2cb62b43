package turns

import (
	"testing"
	"time"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

func msg(seq int, role models.MessageRole, typ models.MessageType, content string) models.Message {
	return models.Message{
		ID:        "m" + string(rune('0'+seq)),
		Sequence:  seq,
		Role:      role,
		Type:      typ,
		Content:   content,
		Timestamp: time.Unix(int64(seq), 0),
	}
}

func TestImplicitTurnZeroWhenSessionOpensWithoutUser(t *testing.T) {
	messages := []models.Message{
		msg(1, models.RoleSystem, models.TypeSystemInit, "session start"),
		msg(2, models.RoleUser, models.TypeSimpleMessage, "hello"),
		msg(3, models.RoleAssistant, models.TypeSimpleMessage, "hi there"),
	}

	result := Detect("sess1", messages, nil)
	if len(result) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(result))
	}
	if result[0].Index != 0 || len(result[0].RoleCounts) == 0 {
		t.Errorf("turn 0 should be the implicit system-only turn: %+v", result[0])
	}
	if !result[0].IsSystemInitiated {
		t.Error("turn 0 should be system-initiated when it opens with a non-user message")
	}
	if result[1].RoleCounts[models.RoleUser] != 1 {
		t.Errorf("turn 1 should contain the user message")
	}
	if result[1].IsSystemInitiated {
		t.Error("turn 1 should not be system-initiated")
	}
}

func TestTurnsNumberedFromZeroWhenSessionOpensWithUser(t *testing.T) {
	messages := []models.Message{
		msg(1, models.RoleUser, models.TypeSimpleMessage, "first"),
		msg(2, models.RoleAssistant, models.TypeSimpleMessage, "reply"),
		msg(3, models.RoleUser, models.TypeSimpleMessage, "second"),
	}

	result := Detect("sess1", messages, nil)
	if len(result) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(result))
	}
	if result[0].Index != 0 || result[1].Index != 1 {
		t.Errorf("expected turns indexed 0,1, got %d,%d", result[0].Index, result[1].Index)
	}
	if result[0].IsSystemInitiated {
		t.Error("turn 0 should not be system-initiated when it opens with a user message")
	}
}

func TestToolAggregationAndFileLists(t *testing.T) {
	messages := []models.Message{
		msg(1, models.RoleUser, models.TypeSimpleMessage, "read the file"),
		func() models.Message {
			m := msg(2, models.RoleAssistant, models.TypeToolUse, "[Tool Use: Read]")
			m.ToolOperationID = "op1"
			return m
		}(),
		msg(3, models.RoleAssistant, models.TypeSimpleMessage, "done reading"),
	}
	success := true
	ops := []models.ToolOperation{
		{ID: "op1", ToolName: "Read", Kind: models.FileOpRead, Paths: []string{"main.go"}, Success: &success},
	}

	result := Detect("sess1", messages, ops)
	if len(result) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(result))
	}
	turn := result[0]
	if turn.ToolCallCount != 1 || turn.ToolSuccessCount != 1 {
		t.Errorf("expected 1 successful tool call, got %+v", turn)
	}
	if len(turn.FilesRead) != 1 || turn.FilesRead[0] != "main.go" {
		t.Errorf("expected files_read = [main.go], got %v", turn.FilesRead)
	}
}

func TestLineChangeTotalsSummedFromWriteAndEdit(t *testing.T) {
	messages := []models.Message{
		msg(1, models.RoleUser, models.TypeSimpleMessage, "edit some files"),
		func() models.Message {
			m := msg(2, models.RoleAssistant, models.TypeToolUse, "[Tool Use: Write]")
			m.ToolOperationID = "op1"
			return m
		}(),
		func() models.Message {
			m := msg(3, models.RoleAssistant, models.TypeToolUse, "[Tool Use: Edit]")
			m.ToolOperationID = "op2"
			return m
		}(),
	}
	success := true
	ops := []models.ToolOperation{
		{ID: "op1", ToolName: "Write", Kind: models.FileOpWrite, Paths: []string{"a.go"}, Success: &success,
			Metadata: map[string]any{"linesAdded": 10}},
		{ID: "op2", ToolName: "Edit", Kind: models.FileOpEdit, Paths: []string{"b.go"}, Success: &success,
			Metadata: map[string]any{"linesAdded": 3, "linesRemoved": 5}},
	}

	result := Detect("sess1", messages, ops)
	turn := result[0]
	if turn.LinesAdded != 13 {
		t.Errorf("linesAdded = %d, want 13", turn.LinesAdded)
	}
	if turn.LinesRemoved != 5 {
		t.Errorf("linesRemoved = %d, want 5", turn.LinesRemoved)
	}
}

func TestBashStatsCountsAndCommandList(t *testing.T) {
	messages := []models.Message{
		msg(1, models.RoleUser, models.TypeSimpleMessage, "run some commands"),
		func() models.Message {
			m := msg(2, models.RoleAssistant, models.TypeToolUse, "[Tool Use: Bash]")
			m.ToolOperationID = "op1"
			return m
		}(),
		func() models.Message {
			m := msg(3, models.RoleAssistant, models.TypeToolUse, "[Tool Use: Bash]")
			m.ToolOperationID = "op2"
			return m
		}(),
	}
	success := true
	failure := false
	ops := []models.ToolOperation{
		{ID: "op1", ToolName: "Bash", Kind: models.FileOpOther, Command: "go test ./...", Success: &success,
			Metadata: map[string]any{"exitCode": 0}},
		{ID: "op2", ToolName: "Bash", Kind: models.FileOpOther, Command: "go build ./...", Success: &failure,
			Metadata: map[string]any{"exitCode": 1}},
	}

	result := Detect("sess1", messages, ops)
	turn := result[0]
	if turn.BashCommandCount != 2 {
		t.Errorf("bashCommandCount = %d, want 2", turn.BashCommandCount)
	}
	if turn.BashSuccessCount != 1 || turn.BashErrorCount != 1 {
		t.Errorf("bash success/error = %d/%d, want 1/1", turn.BashSuccessCount, turn.BashErrorCount)
	}
	want := []string{"go test ./...", "go build ./..."}
	if len(turn.BashCommands) != len(want) || turn.BashCommands[0] != want[0] || turn.BashCommands[1] != want[1] {
		t.Errorf("bashCommands = %v, want %v", turn.BashCommands, want)
	}
}

func TestIndeterminateToolCallsCountedSeparately(t *testing.T) {
	messages := []models.Message{
		msg(1, models.RoleUser, models.TypeSimpleMessage, "read the file"),
		func() models.Message {
			m := msg(2, models.RoleAssistant, models.TypeToolUse, "[Tool Use: Read]")
			m.ToolOperationID = "op1"
			return m
		}(),
	}
	ops := []models.ToolOperation{
		{ID: "op1", ToolName: "Read", Kind: models.FileOpRead, Paths: []string{"main.go"}}, // Success left nil
	}

	result := Detect("sess1", messages, ops)
	turn := result[0]
	if turn.ToolIndeterminateCount != 1 {
		t.Errorf("toolIndeterminateCount = %d, want 1", turn.ToolIndeterminateCount)
	}
	if turn.ToolSuccessCount != 0 || turn.ToolErrorCount != 0 {
		t.Errorf("expected no success/error counted for an indeterminate op, got %+v", turn)
	}
	if turn.ToolCallCount != turn.ToolSuccessCount+turn.ToolErrorCount+turn.ToolIndeterminateCount {
		t.Error("tool_call_count must equal the sum of its three buckets")
	}
}

func TestContentPreviewTruncation(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	messages := []models.Message{
		msg(1, models.RoleAssistant, models.TypeSimpleMessage, string(long)),
	}
	result := Detect("sess1", messages, nil)
	if len(result[0].AssistantPreview) > previewLimitBytes+len("…") {
		t.Errorf("preview too long: %d bytes", len(result[0].AssistantPreview))
	}
}

func TestEmptySessionYieldsNoTurns(t *testing.T) {
	if got := Detect("sess1", nil, nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
