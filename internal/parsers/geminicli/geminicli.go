// Package geminicli decodes Gemini CLI's pretty-printed JSON transcripts.
// Three unrelated shapes are accepted, tried in order: a single session
// object ({sessionId, messages[]}), a flat array of records grouped by
// sessionId, and a legacy multi-conversation export envelope
// ({conversations[]}).
package geminicli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/goclaw/internal/idgen"
	"github.com/roelfdiedericks/goclaw/internal/ierrors"
	"github.com/roelfdiedericks/goclaw/internal/models"
	"github.com/roelfdiedericks/goclaw/internal/projectinference"
	"github.com/roelfdiedericks/goclaw/internal/timeparse"
)

// Parsed pairs a decoded session with its messages.
type Parsed struct {
	Session  models.Session
	Messages []models.Message
}

// sessionTokens carries the source's own token accounting for a message,
// when it provides one.
type sessionTokens struct {
	Total int `json:"total"`
}

type sessionThought struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type sessionMessage struct {
	ID          string           `json:"id"`
	Timestamp   string           `json:"timestamp"`
	MessageType string           `json:"type"`
	Content     string           `json:"content"`
	Thoughts    []sessionThought `json:"thoughts"`
	Tokens      *sessionTokens   `json:"tokens"`
}

// sessionForm is {sessionId, messages[]}.
type sessionForm struct {
	SessionID   string           `json:"sessionId"`
	ProjectHash string           `json:"projectHash"`
	StartTime   string           `json:"startTime"`
	LastUpdated string           `json:"lastUpdated"`
	Messages    []sessionMessage `json:"messages"`
}

// arrayRecord is one element of the flat array form, grouped by SessionID.
type arrayRecord struct {
	SessionID   string `json:"sessionId"`
	MessageID   int    `json:"messageId"`
	MessageType string `json:"type"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
}

type exportPart struct {
	Text string `json:"text"`
}

type exportMessage struct {
	Parts     []exportPart `json:"parts"`
	Role      string       `json:"role"`
	Timestamp string       `json:"timestamp"`
}

type exportConversation struct {
	ConversationID string          `json:"conversation_id"`
	CreateTime     string          `json:"create_time"`
	UpdateTime     string          `json:"update_time"`
	Conversation   []exportMessage `json:"conversation"`
	Title          string          `json:"title"`
}

type exportForm struct {
	Conversations []exportConversation `json:"conversations"`
}

// Parse decodes path, trying the session form, then the array form, then
// the legacy export form.
func Parse(path string) ([]Parsed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ierrors.ErrInvalidInput, path, err)
	}

	var session sessionForm
	if json.Unmarshal(raw, &session) == nil && session.SessionID != "" && len(session.Messages) > 0 {
		parsed, err := parseSessionForm(path, session)
		if err != nil {
			return nil, err
		}
		return []Parsed{parsed}, nil
	}

	var records []arrayRecord
	if json.Unmarshal(raw, &records) == nil && len(records) > 0 && records[0].SessionID != "" {
		return parseArrayForm(path, records)
	}

	var export exportForm
	if json.Unmarshal(raw, &export) == nil && len(export.Conversations) > 0 {
		return parseExportForm(path, export)
	}

	return nil, fmt.Errorf("%w: %s: unrecognized Gemini CLI transcript shape", ierrors.ErrInvalidInput, path)
}

// ParseStreaming decodes the whole of path with Parse, then delivers each
// (Session, Message) pair to sink in order. No pair is delivered before the
// file has been fully decoded.
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

func parseSessionForm(path string, session sessionForm) (Parsed, error) {
	sessionID := resolveSessionID(session.SessionID)

	startTime, ok := timeparse.Parse(session.StartTime)
	if !ok {
		return Parsed{}, fmt.Errorf("%w: %s: unparseable startTime %q", ierrors.ErrInvalidInput, path, session.StartTime)
	}
	endTime := timeparse.ParseOr(session.LastUpdated, startTime)

	fileHash, err := idgen.FileHash(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: %s: %v", ierrors.ErrInvalidInput, path, err)
	}

	sess := models.Session{
		ID:         sessionID,
		Provider:   models.ProviderGeminiCLI,
		SourcePath: path,
		FileHash:   fileHash,
		StartedAt:  startTime,
		State:      models.SessionImported,
	}
	if session.ProjectHash != "" {
		sess.ProjectName = shortHash(session.ProjectHash)
	} else {
		sess.ProjectName = projectinference.InferProjectName(path)
	}

	messages := make([]models.Message, 0, len(session.Messages))
	totalTokens := 0
	for i, sm := range session.Messages {
		msg, err := convertSessionMessage(sessionID, sm, i+1)
		if err != nil {
			return Parsed{}, fmt.Errorf("%w: %s: message %d: %v", ierrors.ErrInvalidInput, path, i+1, err)
		}
		totalTokens += msg.TokenCount
		messages = append(messages, msg)
	}

	if !endTime.Equal(startTime) {
		sess.EndedAt = endTime
	}
	sess.MessageCount = len(messages)
	sess.TokenCount = totalTokens
	return Parsed{Session: sess, Messages: messages}, nil
}

func convertSessionMessage(sessionID string, sm sessionMessage, sequence int) (models.Message, error) {
	role, err := geminiSessionRole(sm.MessageType)
	if err != nil {
		return models.Message{}, err
	}
	if sm.Content == "" {
		return models.Message{}, fmt.Errorf("%w: message has no content", ierrors.ErrInvalidInput)
	}

	timestamp, ok := timeparse.Parse(sm.Timestamp)
	if !ok {
		return models.Message{}, fmt.Errorf("%w: unparseable timestamp %q", ierrors.ErrInvalidInput, sm.Timestamp)
	}

	messageID := sm.ID
	if _, err := uuid.Parse(messageID); err != nil {
		messageID = idgen.MessageUUID(sessionID, fmt.Sprintf("msg-%s", sm.ID)).String()
	}

	msg := models.Message{
		ID:        messageID,
		SessionID: sessionID,
		Sequence:  sequence,
		Role:      role,
		Type:      models.TypeSimpleMessage,
		Content:   sm.Content,
		Timestamp: timestamp,
	}
	if len(sm.Thoughts) > 0 {
		msg.Thinking = sm.Thoughts[0].Description
	}
	if sm.Tokens != nil {
		msg.TokenCount = sm.Tokens.Total
	} else if tc := len(sm.Content) / 4; tc > 0 {
		msg.TokenCount = tc
	}
	return msg, nil
}

func parseArrayForm(path string, records []arrayRecord) ([]Parsed, error) {
	grouped := make(map[string][]arrayRecord)
	var order []string
	for _, r := range records {
		if _, ok := grouped[r.SessionID]; !ok {
			order = append(order, r.SessionID)
		}
		grouped[r.SessionID] = append(grouped[r.SessionID], r)
	}

	fileHash, err := idgen.FileHash(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ierrors.ErrInvalidInput, path, err)
	}
	projectName := projectinference.InferProjectName(path)

	var out []Parsed
	for _, rawSessionID := range order {
		group := append([]arrayRecord(nil), grouped[rawSessionID]...)
		sort.Slice(group, func(i, j int) bool { return group[i].MessageID < group[j].MessageID })

		sessionID := resolveSessionID(rawSessionID)

		var startTime, endTime time.Time
		for _, r := range group {
			if t, ok := timeparse.Parse(r.Timestamp); ok {
				if startTime.IsZero() || t.Before(startTime) {
					startTime = t
				}
				if endTime.IsZero() || t.After(endTime) {
					endTime = t
				}
			}
		}
		if startTime.IsZero() {
			startTime = time.Now().UTC()
		}

		sess := models.Session{
			ID:          sessionID,
			Provider:    models.ProviderGeminiCLI,
			SourcePath:  path,
			FileHash:    fileHash,
			ProjectName: projectName,
			StartedAt:   startTime,
			State:       models.SessionImported,
		}

		messages := make([]models.Message, 0, len(group))
		totalTokens := 0
		for i, r := range group {
			role := arrayRole(r.MessageType)
			timestamp := timeparse.ParseOr(r.Timestamp, startTime)
			messageID := idgen.MessageUUID(sessionID, fmt.Sprintf("msg-%d", r.MessageID)).String()

			msg := models.Message{
				ID:        messageID,
				SessionID: sessionID,
				Sequence:  i + 1,
				Role:      role,
				Type:      models.TypeSimpleMessage,
				Content:   r.Message,
				Timestamp: timestamp,
			}
			if tc := len(r.Message) / 4; tc > 0 {
				msg.TokenCount = tc
				totalTokens += tc
			}
			messages = append(messages, msg)
		}

		if !endTime.IsZero() && !endTime.Equal(startTime) {
			sess.EndedAt = endTime
		}
		sess.MessageCount = len(messages)
		sess.TokenCount = totalTokens
		out = append(out, Parsed{Session: sess, Messages: messages})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s: no valid sessions in array form", ierrors.ErrInvalidInput, path)
	}
	return out, nil
}

func parseExportForm(path string, export exportForm) ([]Parsed, error) {
	fileHash, err := idgen.FileHash(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ierrors.ErrInvalidInput, path, err)
	}

	var out []Parsed
	for index, conv := range export.Conversations {
		parsed, ok := convertExportConversation(path, fileHash, conv, index)
		if ok {
			out = append(out, parsed)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s: no valid conversations in export", ierrors.ErrInvalidInput, path)
	}
	return out, nil
}

func convertExportConversation(path, fileHash string, conv exportConversation, index int) (Parsed, bool) {
	rawID := conv.ConversationID
	if rawID == "" {
		rawID = fmt.Sprintf("%s-conversation-%d", path, index)
	}
	sessionID := resolveSessionID(rawID)

	startTime, ok := timeparse.Parse(conv.CreateTime)
	if !ok {
		startTime = time.Now().UTC()
		if len(conv.Conversation) > 0 && conv.Conversation[0].Timestamp != "" {
			startTime = timeparse.ParseOr(conv.Conversation[0].Timestamp, startTime)
		}
	}
	endTime := timeparse.ParseOr(conv.UpdateTime, time.Time{})

	sess := models.Session{
		ID:         sessionID,
		Provider:   models.ProviderGeminiCLI,
		SourcePath: path,
		FileHash:   fileHash,
		StartedAt:  startTime,
		State:      models.SessionImported,
	}
	if conv.Title != "" {
		sess.ProjectName = conv.Title
	} else {
		sess.ProjectName = projectinference.InferProjectName(path)
	}

	var messages []models.Message
	totalTokens := 0
	for i, m := range conv.Conversation {
		msg, ok := convertExportMessage(sessionID, m, i+1)
		if !ok {
			continue
		}
		totalTokens += msg.TokenCount
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return Parsed{}, false
	}

	if !endTime.IsZero() && !endTime.Equal(startTime) {
		sess.EndedAt = endTime
	}
	sess.MessageCount = len(messages)
	sess.TokenCount = totalTokens
	return Parsed{Session: sess, Messages: messages}, true
}

func convertExportMessage(sessionID string, m exportMessage, sequence int) (models.Message, bool) {
	var role models.MessageRole
	switch m.Role {
	case "user":
		role = models.RoleUser
	case "model":
		role = models.RoleAssistant
	case "system":
		role = models.RoleSystem
	default:
		return models.Message{}, false
	}

	parts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		parts = append(parts, p.Text)
	}
	content := joinSpace(parts)
	if content == "" {
		return models.Message{}, false
	}

	timestamp := timeparse.ParseOr(m.Timestamp, time.Now().UTC())
	msg := models.Message{
		ID:        idgen.MessageUUID(sessionID, fmt.Sprintf("msg-%d", sequence)).String(),
		SessionID: sessionID,
		Sequence:  sequence,
		Role:      role,
		Type:      models.TypeSimpleMessage,
		Content:   content,
		Timestamp: timestamp,
	}
	if tc := len(content) / 4; tc > 0 {
		msg.TokenCount = tc
	}
	return msg, true
}

func geminiSessionRole(raw string) (models.MessageRole, error) {
	switch raw {
	case "user":
		return models.RoleUser, nil
	case "gemini":
		return models.RoleAssistant, nil
	case "system":
		return models.RoleSystem, nil
	default:
		return "", fmt.Errorf("%w: unknown message type %q", ierrors.ErrInvalidInput, raw)
	}
}

func arrayRole(raw string) models.MessageRole {
	switch raw {
	case "gemini", "assistant":
		return models.RoleAssistant
	case "system":
		return models.RoleSystem
	default:
		return models.RoleUser
	}
}

func resolveSessionID(rawID string) string {
	if _, err := uuid.Parse(rawID); err == nil {
		return rawID
	}
	return idgen.DeterministicUUID(fmt.Sprintf("gemini_cli:%s", rawID)).String()
}

func shortHash(projectHash string) string {
	if len(projectHash) > 8 {
		return projectHash[:8]
	}
	return projectHash
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
