package toolparsers

import (
	"encoding/json"
	"testing"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

func bashUse(command string) models.ToolUse {
	input, _ := json.Marshal(map[string]any{"command": command, "description": "test command"})
	return models.ToolUse{ID: "t1", Name: "Bash", Input: input}
}

func TestParseBashBasic(t *testing.T) {
	parsed, err := Parse(bashUse("ls -la"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Kind != KindBash {
		t.Fatalf("expected KindBash, got %v", parsed.Kind)
	}
	if parsed.Bash.Command != "ls -la" {
		t.Errorf("command = %q", parsed.Bash.Command)
	}
	if parsed.Bash.Description != "test command" {
		t.Errorf("description = %q", parsed.Bash.Description)
	}
	if len(parsed.Bash.Operations) != 0 {
		t.Errorf("expected no file operations, got %v", parsed.Bash.Operations)
	}
}

func TestGitCommands(t *testing.T) {
	cases := []struct {
		command string
		typ     FileOperationType
		paths   []string
	}{
		{"git add src/main.go src/lib.go", OpGitAdd, []string{"src/main.go", "src/lib.go"}},
		{"git commit -m 'test'", OpGitCommit, nil},
		{"git mv old.go new.go", OpGitMove, []string{"old.go", "new.go"}},
	}
	for _, c := range cases {
		parsed, err := Parse(bashUse(c.command))
		if err != nil {
			t.Fatalf("%s: %v", c.command, err)
		}
		if len(parsed.Bash.Operations) != 1 {
			t.Fatalf("%s: expected 1 operation, got %d", c.command, len(parsed.Bash.Operations))
		}
		op := parsed.Bash.Operations[0]
		if op.Type != c.typ {
			t.Errorf("%s: type = %v, want %v", c.command, op.Type, c.typ)
		}
		if len(c.paths) > 0 {
			for i, p := range c.paths {
				if op.Paths[i] != p {
					t.Errorf("%s: path[%d] = %q, want %q", c.command, i, op.Paths[i], p)
				}
			}
		}
	}
}

func TestFilesystemCommands(t *testing.T) {
	parsed, err := Parse(bashUse("mkdir -p src/models"))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Bash.Operations[0].Type != OpCreate {
		t.Errorf("expected OpCreate, got %v", parsed.Bash.Operations[0].Type)
	}

	parsed, err = Parse(bashUse("rm -rf temp/"))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Bash.Operations[0].Type != OpDelete || parsed.Bash.Operations[0].Paths[0] != "temp/" {
		t.Errorf("unexpected rm parse: %+v", parsed.Bash.Operations[0])
	}
}

func TestGitPrefixSuppressesFSCommands(t *testing.T) {
	parsed, err := Parse(bashUse("git rm old.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed.Bash.Operations) != 1 {
		t.Fatalf("expected only the git operation, got %v", parsed.Bash.Operations)
	}
	if parsed.Bash.Operations[0].Type != OpGitRemove {
		t.Errorf("expected OpGitRemove, got %v", parsed.Bash.Operations[0].Type)
	}
}

func TestToolingCommands(t *testing.T) {
	parsed, err := Parse(bashUse("cargo fmt"))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Bash.Operations[0].Type != OpFormat || parsed.Bash.Operations[0].Paths[0] != "**/*.rs" {
		t.Errorf("unexpected cargo fmt parse: %+v", parsed.Bash.Operations[0])
	}
}

func TestBashDataDangerAndMutation(t *testing.T) {
	d := &BashData{Command: "rm -rf /"}
	if !d.IsDangerous() {
		t.Error("expected rm -rf / to be dangerous")
	}
	if !d.IsMutation() {
		t.Error("expected rm to be a mutation command")
	}

	safe := &BashData{Command: "ls -la"}
	if safe.IsDangerous() {
		t.Error("ls should not be dangerous")
	}
	if safe.IsMutation() {
		t.Error("ls should not be a mutation command")
	}
}

func TestEditIsRefactoring(t *testing.T) {
	input, _ := json.Marshal(map[string]any{
		"file_path":   "main.go",
		"old_string":  "func oldName() error",
		"new_string":  "func newName() error",
		"replace_all": true,
	})
	parsed, err := Parse(models.ToolUse{Name: "Edit", Input: input})
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Edit.IsRefactoring() {
		t.Error("expected IsRefactoring to be true for a same-shape rename")
	}
}

func TestEditNotRefactoringWithoutReplaceAll(t *testing.T) {
	input, _ := json.Marshal(map[string]any{
		"file_path":  "main.go",
		"old_string": "foo",
		"new_string": "bar",
	})
	parsed, err := Parse(models.ToolUse{Name: "Edit", Input: input})
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Edit.IsRefactoring() {
		t.Error("expected IsRefactoring to be false without replace_all")
	}
}

func TestWriteLinesAfter(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"file_path": "x.go", "content": "a\nb\nc"})
	parsed, err := Parse(models.ToolUse{Name: "Write", Input: input})
	if err != nil {
		t.Fatal(err)
	}
	if got := parsed.Write.LinesAfter(); got != 3 {
		t.Errorf("LinesAfter() = %d, want 3", got)
	}
}

func TestEditLinesBeforeAndAfter(t *testing.T) {
	input, _ := json.Marshal(map[string]any{
		"file_path":  "x.go",
		"old_string": "a\nb\nc\nd",
		"new_string": "a\nb",
	})
	parsed, err := Parse(models.ToolUse{Name: "Edit", Input: input})
	if err != nil {
		t.Fatal(err)
	}
	if got := parsed.Edit.LinesBefore(); got != 4 {
		t.Errorf("LinesBefore() = %d, want 4", got)
	}
	if got := parsed.Edit.LinesAfter(); got != 2 {
		t.Errorf("LinesAfter() = %d, want 2", got)
	}
}

func TestReadMissingFilePath(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"offset": 1})
	_, err := Parse(models.ToolUse{Name: "Read", Input: input})
	if err == nil {
		t.Fatal("expected error for missing file_path")
	}
}

func TestUnknownToolPassesThrough(t *testing.T) {
	parsed, err := Parse(models.ToolUse{Name: "WebFetch", Input: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Kind != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", parsed.Kind)
	}
}
