package geminicli

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

// Sniffer recognizes Gemini CLI's pretty-printed .json transcripts. Unlike
// Claude Code's line-delimited format, a Gemini file is a single JSON
// document, so SniffContent parses the whole prefix rather than one line.
type Sniffer struct{}

func (Sniffer) Provider() models.Provider { return models.ProviderGeminiCLI }

// SniffContent reports whether prefix looks like the start of one of the
// three accepted shapes. Because prefix may be truncated mid-document, this
// only checks for the presence of characteristic top-level keys rather than
// fully decoding it.
func (Sniffer) SniffContent(prefix []byte) bool {
	s := string(prefix)
	if !strings.Contains(s, "{") {
		return false
	}
	if strings.Contains(s, `"sessionId"`) && (strings.Contains(s, `"messages"`) || strings.Contains(s, `"messageId"`)) {
		return true
	}
	if strings.Contains(s, `"conversations"`) {
		return true
	}
	if strings.Contains(s, `"conversation_id"`) || strings.Contains(s, `"conversation"`) {
		return true
	}

	// Prefix may be short enough to parse outright for a tighter check.
	var probe map[string]json.RawMessage
	if json.Unmarshal(prefix, &probe) == nil {
		_, hasSessionID := probe["sessionId"]
		_, hasMessages := probe["messages"]
		_, hasConversations := probe["conversations"]
		return (hasSessionID && hasMessages) || hasConversations
	}
	return false
}

func (Sniffer) AcceptsFilename(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}

func (Sniffer) FilenameHints() []string { return nil }

func (Sniffer) DefaultExtensions() []string { return []string{"json"} }
