package codex

import (
	"encoding/json"
	"strings"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

// Sniffer recognizes Codex CLI's line-delimited JSON transcripts. Unlike
// Claude Code, Codex imposes no filename convention.
type Sniffer struct{}

func (Sniffer) Provider() models.Provider { return models.ProviderCodex }

// SniffContent matches either dialect's first record: a legacy header
// ({id, timestamp} plus git or instructions), or a newer-form envelope
// whose type is "session_meta".
func (Sniffer) SniffContent(prefix []byte) bool {
	line := firstLine(prefix)
	if line == "" {
		return false
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal([]byte(line), &obj) != nil {
		return false
	}

	if typ, ok := obj["type"]; ok {
		var t string
		_ = json.Unmarshal(typ, &t)
		return t == "session_meta"
	}

	_, hasID := obj["id"]
	_, hasTimestamp := obj["timestamp"]
	_, hasGit := obj["git"]
	_, hasInstructions := obj["instructions"]
	return hasID && hasTimestamp && (hasGit || hasInstructions)
}

func (Sniffer) AcceptsFilename(name string) bool { return true }

func (Sniffer) FilenameHints() []string { return nil }

func (Sniffer) DefaultExtensions() []string { return []string{"jsonl"} }

func firstLine(b []byte) string {
	s := string(b)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
