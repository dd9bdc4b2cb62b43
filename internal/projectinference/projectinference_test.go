package projectinference

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInferProjectNameSingleTokenSegments(t *testing.T) {
	base := t.TempDir()
	mustMkdirAll(t, filepath.Join(base, "Users", "testuser", "Project", "retrochat"))

	encodedDir := filepath.Join(base, "-Users-testuser-Project-retrochat")
	mustMkdirAll(t, encodedDir)
	file := filepath.Join(encodedDir, "test.jsonl")
	mustWriteFile(t, file)

	if got := InferProjectName(file); got != "retrochat" {
		t.Errorf("InferProjectName = %q, want %q", got, "retrochat")
	}
}

func TestInferProjectNameHyphenatedSegment(t *testing.T) {
	base := t.TempDir()
	mustMkdirAll(t, filepath.Join(base, "Users", "testuser", "my-project", "sub-folder"))

	encodedDir := filepath.Join(base, "-Users-testuser-my-project-sub-folder")
	mustMkdirAll(t, encodedDir)
	file := filepath.Join(encodedDir, "test.jsonl")
	mustWriteFile(t, file)

	if got := InferProjectName(file); got != "sub-folder" {
		t.Errorf("InferProjectName = %q, want %q", got, "sub-folder")
	}
}

func TestInferProjectNameComplexPath(t *testing.T) {
	base := t.TempDir()
	mustMkdirAll(t, filepath.Join(base, "Users", "testuser", "claude-squad", "worktrees", "test-project"))

	encodedDir := filepath.Join(base, "-Users-testuser-claude-squad-worktrees-test-project")
	mustMkdirAll(t, encodedDir)
	file := filepath.Join(encodedDir, "test.jsonl")
	mustWriteFile(t, file)

	if got := InferProjectName(file); got != "test-project" {
		t.Errorf("InferProjectName = %q, want %q", got, "test-project")
	}
}

func TestInferProjectNameFallsBackToDirectoryName(t *testing.T) {
	base := t.TempDir()
	regularDir := filepath.Join(base, "regular-project-dir")
	mustMkdirAll(t, regularDir)
	file := filepath.Join(regularDir, "test.jsonl")
	mustWriteFile(t, file)

	if got := InferProjectName(file); got != "regular-project-dir" {
		t.Errorf("InferProjectName = %q, want %q", got, "regular-project-dir")
	}
}

func TestInferProjectNameUnresolvableEncodingFallsBackToLastToken(t *testing.T) {
	base := t.TempDir()
	// Encoded dir whose tokens don't correspond to any real directory tree.
	encodedDir := filepath.Join(base, "-nonexistent-path-segments")
	mustMkdirAll(t, encodedDir)
	file := filepath.Join(encodedDir, "test.jsonl")
	mustWriteFile(t, file)

	if got := InferProjectName(file); got != "segments" {
		t.Errorf("InferProjectName = %q, want %q", got, "segments")
	}
}

func TestFromRepositoryURL(t *testing.T) {
	cases := map[string]string{
		"git@github.com:user/test-project.git": "test-project",
		"https://github.com/user/project":      "project",
		"https://github.com/user/project.git":  "project",
		"":                                      "",
	}
	for url, want := range cases {
		if got := FromRepositoryURL(url); got != want {
			t.Errorf("FromRepositoryURL(%q) = %q, want %q", url, got, want)
		}
	}
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
