package claudecode

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

// Sniffer recognizes Claude Code's UUID-named .jsonl transcripts.
type Sniffer struct{}

func (Sniffer) Provider() models.Provider { return models.ProviderClaudeCode }

// SniffContent inspects the first line of prefix for either dialect's
// characteristic keys: {uuid, chat_messages} for the session-object form,
// or {type, (sessionId|summary)} for the conversation-entry form.
func (Sniffer) SniffContent(prefix []byte) bool {
	line := firstLine(prefix)
	if line == "" {
		return false
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal([]byte(line), &obj) != nil {
		return false
	}
	if _, hasUUID := obj["uuid"]; hasUUID {
		if _, hasMessages := obj["chat_messages"]; hasMessages {
			return true
		}
	}
	if _, hasType := obj["type"]; hasType {
		_, hasSession := obj["sessionId"]
		_, hasSummary := obj["summary"]
		if hasSession || hasSummary {
			return true
		}
	}
	return false
}

// AcceptsFilename requires a UUID-shaped basename, Claude Code's own
// naming convention for transcript files.
func (Sniffer) AcceptsFilename(name string) bool {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	_, err := uuid.Parse(stem)
	return err == nil
}

func (Sniffer) FilenameHints() []string { return nil }

func (Sniffer) DefaultExtensions() []string { return []string{"jsonl"} }

func firstLine(b []byte) string {
	s := string(b)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
