package extractor

import (
	"encoding/json"
	"testing"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

func TestExtractJoinsUseAndResultInDifferentMessages(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"file_path": "main.go"})
	messages := []models.Message{
		{
			ID:   "m1",
			Role: models.RoleAssistant,
			ToolUses: []models.ToolUse{
				{ID: "tu1", Name: "Read", Input: input},
			},
		},
		{
			ID:         "m2",
			Role:       models.RoleUser,
			ToolResult: &models.ToolResult{ToolUseID: "tu1", Content: "package main"},
		},
	}

	res, err := Extract("sess1", messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(res.Operations))
	}
	op := res.Operations[0]
	if op.Kind != models.FileOpRead {
		t.Errorf("kind = %v, want FileOpRead", op.Kind)
	}
	if op.Paths[0] != "main.go" {
		t.Errorf("paths = %v", op.Paths)
	}

	link1, ok := res.Links["m1"]
	if !ok || link1.MessageType != models.TypeToolUse {
		t.Errorf("expected m1 linked as ToolUse, got %+v ok=%v", link1, ok)
	}
	link2, ok := res.Links["m2"]
	if !ok || link2.MessageType != models.TypeToolResult {
		t.Errorf("expected m2 linked as ToolResult, got %+v ok=%v", link2, ok)
	}
	if link1.ToolOperationID != link2.ToolOperationID {
		t.Error("expected both links to reference the same operation")
	}
}

func TestExtractSplitsMultiFileBashOperation(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"command": "git add a.go b.go"})
	messages := []models.Message{
		{
			ID:   "m1",
			Role: models.RoleAssistant,
			ToolUses: []models.ToolUse{
				{ID: "tu1", Name: "Bash", Input: input},
			},
		},
	}

	res, err := Extract("sess1", messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Operations) != 2 {
		t.Fatalf("expected 2 split operations, got %d", len(res.Operations))
	}
	for _, op := range res.Operations {
		if op.Kind != models.FileOpGit {
			t.Errorf("expected FileOpGit, got %v", op.Kind)
		}
		if len(op.Paths) != 1 {
			t.Errorf("expected one path per split operation, got %v", op.Paths)
		}
	}

	link, ok := res.Links["m1"]
	if !ok {
		t.Fatal("expected m1 to be linked to a persisted operation")
	}
	var linkedExists bool
	for _, op := range res.Operations {
		if op.ID == link.ToolOperationID {
			linkedExists = true
		}
	}
	if !linkedExists {
		t.Errorf("linked tool_operation_id %s does not match any persisted operation", link.ToolOperationID)
	}
}

func TestExtractPlainBashWithoutFileOpsStaysSingle(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"command": "ls -la"})
	messages := []models.Message{
		{ID: "m1", Role: models.RoleAssistant, ToolUses: []models.ToolUse{{ID: "tu1", Name: "Bash", Input: input}}},
	}

	res, err := Extract("sess1", messages)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(res.Operations))
	}
}

func TestExtractUnmatchedToolUseStillProducesOperation(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"file_path": "x.go"})
	messages := []models.Message{
		{ID: "m1", Role: models.RoleAssistant, ToolUses: []models.ToolUse{{ID: "tu1", Name: "Read", Input: input}}},
	}

	res, err := Extract("sess1", messages)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Operations) != 1 {
		t.Fatalf("expected 1 operation even without a matching result, got %d", len(res.Operations))
	}
	if res.Operations[0].Success != nil {
		t.Error("expected success=nil (indeterminate) when no result has arrived yet")
	}
}
