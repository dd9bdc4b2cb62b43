// Package claudecode decodes Claude Code's on-disk transcript format:
// line-delimited JSON stored under a UUID-named file. Two sub-dialects are
// supported within the same file type: a "session-object" form (one record
// per line, each a complete session with an embedded chat_messages array)
// and a "conversation-entry" form (one record per message-ish event,
// correlated by a shared sessionId). A file is rejected if it mixes both.
package claudecode

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/goclaw/internal/idgen"
	"github.com/roelfdiedericks/goclaw/internal/ierrors"
	"github.com/roelfdiedericks/goclaw/internal/models"
	"github.com/roelfdiedericks/goclaw/internal/projectinference"
	"github.com/roelfdiedericks/goclaw/internal/timeparse"
)

// Parsed pairs a decoded session with its messages, the shape every
// provider parser returns from Parse.
type Parsed struct {
	Session  models.Session
	Messages []models.Message
}

// sessionRecord is the "session-object" dialect: one record per line, a
// complete session with its messages embedded.
type sessionRecord struct {
	UUID         string          `json:"uuid"`
	Name         *string         `json:"name"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	ChatMessages []chatMessage   `json:"chat_messages"`
	Summary      *string         `json:"summary"`
	Model        *string         `json:"model"`
}

type chatMessage struct {
	UUID      string          `json:"uuid"`
	Content   json.RawMessage `json:"content"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
	Role      string          `json:"role"`
	Metadata  json.RawMessage `json:"metadata"`
}

// conversationEntry is the "conversation-entry" dialect: many entries per
// file, each tagged with a type and correlated by sessionId.
type conversationEntry struct {
	Type          string          `json:"type"`
	UUID          *string         `json:"uuid"`
	SessionID     *string         `json:"sessionId"`
	Timestamp     *string         `json:"timestamp"`
	Message       *entryMessage   `json:"message"`
	Summary       *string         `json:"summary"`
	LeafUUID      *string         `json:"leafUuid"`
	ParentUUID    *string         `json:"parentUuid"`
	ToolUseResult json.RawMessage `json:"toolUseResult"`
}

type entryMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	ID      *string         `json:"id"`
	Model   *string         `json:"model"`
}

// Parse decodes path into zero or more (Session, Message[]) results. A file
// consisting solely of summary entries yields zero results and no error;
// the caller treats that as a skipped outcome, not a failure.
func Parse(path string) ([]Parsed, error) {
	lines, err := readNonEmptyLines(path)
	if err != nil {
		return nil, err
	}

	var entries []conversationEntry
	var sessions []sessionRecord
	isConversationFormat := false

	for _, line := range lines {
		var entry conversationEntry
		if err := json.Unmarshal([]byte(line), &entry); err == nil && entry.Type != "" {
			if len(sessions) > 0 {
				return nil, fmt.Errorf("%w: %s: mixed conversation and session-object formats", ierrors.ErrInvalidInput, path)
			}
			entries = append(entries, entry)
			isConversationFormat = true
			continue
		}
		var sess sessionRecord
		if err := json.Unmarshal([]byte(line), &sess); err == nil && sess.UUID != "" {
			if isConversationFormat {
				return nil, fmt.Errorf("%w: %s: mixed conversation and session-object formats", ierrors.ErrInvalidInput, path)
			}
			sessions = append(sessions, sess)
			continue
		}
		return nil, fmt.Errorf("%w: %s: line is not valid JSON for either known dialect", ierrors.ErrInvalidInput, path)
	}

	if isConversationFormat {
		parsed, skip, err := parseConversationFormat(path, entries)
		if err != nil {
			return nil, err
		}
		if skip {
			return nil, nil
		}
		return []Parsed{parsed}, nil
	}

	if len(sessions) == 0 {
		return nil, fmt.Errorf("%w: %s: no valid sessions found", ierrors.ErrInvalidInput, path)
	}

	// Document-store providers may yield many sessions per file; this
	// line-oriented dialect emits one session per line.
	out := make([]Parsed, 0, len(sessions))
	for _, sess := range sessions {
		parsed, err := convertSessionRecord(path, sess)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

// ParseStreaming decodes the whole of path with Parse, then delivers each
// (Session, Message) pair to sink in order, stopping at the first error sink
// returns. No pair is delivered before the file has been fully decoded.
func ParseStreaming(path string, sink func(models.Session, models.Message) error) error {
	parsed, err := Parse(path)
	if err != nil {
		return err
	}
	for _, p := range parsed {
		for _, m := range p.Messages {
			if err := sink(p.Session, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseConversationFormat(path string, entries []conversationEntry) (Parsed, bool, error) {
	if len(entries) == 0 {
		return Parsed{}, false, fmt.Errorf("%w: %s: no conversation entries", ierrors.ErrInvalidInput, path)
	}

	hasActualMessages := false
	for _, e := range entries {
		if e.Message != nil {
			hasActualMessages = true
			break
		}
	}
	if !hasActualMessages {
		return Parsed{}, true, nil
	}

	var sessionID string
	for _, e := range entries {
		if e.SessionID != nil && *e.SessionID != "" {
			sessionID = *e.SessionID
			break
		}
	}
	if sessionID == "" {
		return Parsed{}, false, fmt.Errorf("%w: %s: entries have messages but no sessionId", ierrors.ErrInvalidInput, path)
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return Parsed{}, false, fmt.Errorf("%w: %s: invalid session uuid %q", ierrors.ErrInvalidInput, path, sessionID)
	}

	startTime := time.Time{}
	endTime := time.Time{}
	for _, e := range entries {
		if e.Timestamp == nil {
			continue
		}
		ts, ok := timeparse.Parse(*e.Timestamp)
		if !ok {
			continue
		}
		if startTime.IsZero() || ts.Before(startTime) {
			startTime = ts
		}
		if endTime.IsZero() || ts.After(endTime) {
			endTime = ts
		}
	}
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}

	fileHash, err := idgen.FileHash(path)
	if err != nil {
		return Parsed{}, false, fmt.Errorf("%w: %s: %v", ierrors.ErrInvalidInput, path, err)
	}

	sess := models.Session{
		ID:         sessionID,
		Provider:   models.ProviderClaudeCode,
		SourcePath: path,
		FileHash:   fileHash,
		StartedAt:  startTime,
		State:      models.SessionImported,
	}
	if !endTime.IsZero() && !endTime.Equal(startTime) {
		sess.EndedAt = endTime
	}
	sess.ProjectName = projectinference.InferProjectName(path)

	var messages []models.Message
	totalTokens := 0
	sequence := 1

	for _, e := range entries {
		if e.Message == nil {
			continue
		}
		var role models.MessageRole
		switch e.Message.Role {
		case "user":
			role = models.RoleUser
		case "assistant":
			role = models.RoleAssistant
		default:
			continue
		}

		timestamp := startTime
		if e.Timestamp != nil {
			if ts, ok := timeparse.Parse(*e.Timestamp); ok {
				timestamp = ts
			}
		}

		content, toolUses, toolResults, thinking := extractToolsAndContent(e.Message.Content)

		if thinking != "" {
			thinkingID := idgen.MessageUUID(sessionID, fmt.Sprintf("thinking:%d", sequence)).String()
			thinkingMsg := models.Message{
				ID:        thinkingID,
				SessionID: sessionID,
				Sequence:  sequence,
				Role:      models.RoleAssistant,
				Type:      models.TypeThinking,
				Content:   thinking,
				Timestamp: timestamp,
			}
			if tc := estimateTokens(thinking); tc > 0 {
				thinkingMsg.TokenCount = tc
				totalTokens += tc
			}
			messages = append(messages, thinkingMsg)
			sequence++
		}

		if len(toolResults) > 0 && e.ToolUseResult != nil {
			toolResults[0].Content = mergeToolUseResult(toolResults[0].Content, e.ToolUseResult)
		}

		messageID := ""
		if e.UUID != nil {
			if _, err := uuid.Parse(*e.UUID); err == nil {
				messageID = *e.UUID
			}
		}
		if messageID == "" {
			messageID = idgen.MessageUUID(sessionID, fmt.Sprintf("%d", sequence)).String()
		}

		msg := models.Message{
			ID:        messageID,
			SessionID: sessionID,
			Sequence:  sequence,
			Role:      role,
			Type:      models.TypeSimpleMessage,
			Content:   content,
			Timestamp: timestamp,
		}
		if len(toolUses) > 0 {
			msg.ToolUses = toolUses
		}
		if len(toolResults) > 0 {
			msg.ToolResult = &toolResults[0]
		}
		if tc := estimateTokens(content); tc > 0 {
			msg.TokenCount = tc
			totalTokens += tc
		}

		messages = append(messages, msg)
		sequence++
	}

	sess.MessageCount = len(messages)
	sess.TokenCount = totalTokens
	return Parsed{Session: sess, Messages: messages}, false, nil
}

func convertSessionRecord(path string, sess sessionRecord) (Parsed, error) {
	sessionID, err := uuid.Parse(sess.UUID)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: %s: invalid session uuid %q", ierrors.ErrInvalidInput, path, sess.UUID)
	}

	startTime, ok := timeparse.Parse(sess.CreatedAt)
	if !ok {
		return Parsed{}, fmt.Errorf("%w: %s: unparseable created_at %q", ierrors.ErrInvalidInput, path, sess.CreatedAt)
	}
	var endTime time.Time
	if sess.UpdatedAt != "" && sess.UpdatedAt != sess.CreatedAt {
		if t, ok := timeparse.Parse(sess.UpdatedAt); ok {
			endTime = t
		}
	}

	fileHash, err := idgen.FileHash(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: %s: %v", ierrors.ErrInvalidInput, path, err)
	}

	out := models.Session{
		ID:         sessionID.String(),
		Provider:   models.ProviderClaudeCode,
		SourcePath: path,
		FileHash:   fileHash,
		StartedAt:  startTime,
		EndedAt:    endTime,
		State:      models.SessionImported,
	}

	if sess.Name != nil && *sess.Name != "" {
		out.ProjectName = *sess.Name
	} else {
		out.ProjectName = projectinference.InferProjectName(path)
	}

	messages := make([]models.Message, 0, len(sess.ChatMessages))
	totalTokens := 0
	for i, cm := range sess.ChatMessages {
		msg, err := convertChatMessage(sessionID.String(), cm, i+1)
		if err != nil {
			return Parsed{}, err
		}
		totalTokens += msg.TokenCount
		messages = append(messages, msg)
	}

	out.MessageCount = len(messages)
	out.TokenCount = totalTokens
	return Parsed{Session: out, Messages: messages}, nil
}

func convertChatMessage(sessionID string, cm chatMessage, sequence int) (models.Message, error) {
	messageID := cm.UUID
	if _, err := uuid.Parse(messageID); err != nil {
		messageID = idgen.MessageUUID(sessionID, fmt.Sprintf("%d", sequence)).String()
	}

	var role models.MessageRole
	switch cm.Role {
	case "human", "user":
		role = models.RoleUser
	case "assistant":
		role = models.RoleAssistant
	case "system":
		role = models.RoleSystem
	default:
		return models.Message{}, fmt.Errorf("%w: unknown message role %q", ierrors.ErrInvalidInput, cm.Role)
	}

	content, toolUses, toolResults, _ := extractToolsAndContent(cm.Content)

	timestamp, ok := timeparse.Parse(cm.CreatedAt)
	if !ok {
		return models.Message{}, fmt.Errorf("%w: unparseable message created_at %q", ierrors.ErrInvalidInput, cm.CreatedAt)
	}

	msg := models.Message{
		ID:        messageID,
		SessionID: sessionID,
		Sequence:  sequence,
		Role:      role,
		Type:      models.TypeSimpleMessage,
		Content:   content,
		Timestamp: timestamp,
	}
	if len(toolUses) > 0 {
		msg.ToolUses = toolUses
	}
	if len(toolResults) > 0 {
		msg.ToolResult = &toolResults[0]
	}
	if tc := estimateTokens(content); tc > 0 {
		msg.TokenCount = tc
	}
	return msg, nil
}

// extractToolsAndContent normalizes a message's polymorphic content value
// (string, content-block array, or {text} object) into a display string,
// pulling tool_use/tool_result blocks out into their transient lists and
// thinking blocks out into a separate return value so the caller can
// splice them in as their own message.
func extractToolsAndContent(raw json.RawMessage) (content string, toolUses []models.ToolUse, toolResults []models.ToolResult, thinking string) {
	if len(raw) == 0 {
		return "[No content]", nil, nil, ""
	}

	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		return nonEmptyOr(asString), nil, nil, ""
	}

	var asArray []json.RawMessage
	if json.Unmarshal(raw, &asArray) == nil {
		var parts []string
		for _, item := range asArray {
			var block map[string]json.RawMessage
			if json.Unmarshal(item, &block) != nil {
				var s string
				if json.Unmarshal(item, &s) == nil {
					parts = append(parts, s)
				}
				continue
			}

			blockType := rawString(block["type"])
			switch blockType {
			case "thinking":
				thinking = rawString(block["thinking"])
				continue
			case "tool_use":
				id := rawString(block["id"])
				name := rawString(block["name"])
				if id == "" || name == "" {
					continue
				}
				input := block["input"]
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				toolUses = append(toolUses, models.ToolUse{ID: id, Name: name, Input: input})
				parts = append(parts, fmt.Sprintf("[Tool Use: %s]", name))
				continue
			case "tool_result":
				toolUseID := rawString(block["tool_use_id"])
				if toolUseID == "" {
					continue
				}
				isError := false
				_ = json.Unmarshal(block["is_error"], &isError)
				toolResults = append(toolResults, models.ToolResult{
					ToolUseID: toolUseID,
					Content:   extractResultContentText(block["content"]),
					IsError:   isError,
				})
				parts = append(parts, "[Tool Result]")
				continue
			}

			if text := rawString(block["text"]); text != "" {
				parts = append(parts, text)
			}
		}
		return nonEmptyOr(strings.Join(parts, " ")), toolUses, toolResults, thinking
	}

	var asObject map[string]json.RawMessage
	if json.Unmarshal(raw, &asObject) == nil {
		if text := rawString(asObject["text"]); text != "" {
			return nonEmptyOr(text), nil, nil, ""
		}
		return nonEmptyOr(string(raw)), nil, nil, ""
	}

	return nonEmptyOr(string(raw)), nil, nil, ""
}

func extractResultContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil {
		var parts []string
		for _, item := range arr {
			var itemStr string
			if json.Unmarshal(item, &itemStr) == nil {
				parts = append(parts, itemStr)
				continue
			}
			var obj map[string]json.RawMessage
			if json.Unmarshal(item, &obj) == nil {
				if t := rawString(obj["text"]); t != "" {
					parts = append(parts, t)
				}
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// mergeToolUseResult replaces the tool result content with a conversation
// entry's toolUseResult payload, when one is present, so extractor.go's stdout/stderr/exit-code
// sniff (which inspects result.Content as JSON) can see it.
func mergeToolUseResult(existing string, toolUseResult json.RawMessage) string {
	if len(toolUseResult) == 0 {
		return existing
	}
	return string(toolUseResult)
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func nonEmptyOr(s string) string {
	if strings.TrimSpace(s) == "" {
		return "[No content]"
	}
	return s
}

// estimateTokens is the rough chars/4 heuristic this provider's export
// uses in place of a real tokenizer; the tiktoken-backed estimator in
// internal/tokens is not used here.
func estimateTokens(content string) int {
	return len(content) / 4
}

func readNonEmptyLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ierrors.ErrInvalidInput, path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ierrors.ErrInvalidInput, path, err)
	}
	return lines, nil
}
