// Package codex decodes Codex CLI's on-disk transcript format: one
// line-delimited JSON session per file, with no filename restriction. Two
// sub-dialects are distinguished by whether the first record carries a
// "type" field: the legacy form is a bare session header followed by
// untyped message/state records and has no per-message timestamps; the
// newer form wraps every record (including the header) in a typed event
// envelope (session_meta/event_msg/response_item), each with its own
// timestamp.
package codex

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

// Parsed pairs a decoded session with its messages.
type Parsed struct {
	Session  models.Session
	Messages []models.Message
}

// gitInfo is the optional git-provenance block legacy headers carry.
type gitInfo struct {
	CommitHash     *string `json:"commit_hash"`
	Branch         *string `json:"branch"`
	RepositoryURL  *string `json:"repository_url"`
}

// legacyHeader is the first record of the legacy dialect: a bare session
// descriptor with no "type" field.
type legacyHeader struct {
	ID           string   `json:"id"`
	Timestamp    string   `json:"timestamp"`
	Instructions *string  `json:"instructions"`
	Cwd          *string  `json:"cwd"`
	Git          *gitInfo `json:"git"`
}

type legacyStateRecord struct {
	RecordType string `json:"record_type"`
}

type legacyContentItem struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

type legacyMessage struct {
	MessageType string              `json:"type"`
	Role        string              `json:"role"`
	Content     []legacyContentItem `json:"content"`
}

// eventEnvelope wraps every record in the newer dialect.
type eventEnvelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type sessionMetaPayload struct {
	ID   string   `json:"id"`
	Cwd  *string  `json:"cwd"`
	Git  *gitInfo `json:"git"`
}

type responseItemPayload struct {
	Type    string              `json:"type"`
	Role    string              `json:"role"`
	Content []legacyContentItem `json:"content"`
}

// Parse decodes path into a single (Session, Message[]) result. Codex
// stores exactly one session per file.
func Parse(path string) ([]Parsed, error) {
	lines, err := readNonEmptyLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s: empty file", ierrors.ErrInvalidInput, path)
	}

	var firstEnvelope eventEnvelope
	if json.Unmarshal([]byte(lines[0]), &firstEnvelope) == nil && firstEnvelope.Type != "" {
		parsed, err := parseNewerForm(path, lines)
		if err != nil {
			return nil, err
		}
		return []Parsed{parsed}, nil
	}

	parsed, err := parseLegacyForm(path, lines)
	if err != nil {
		return nil, err
	}
	return []Parsed{parsed}, nil
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

func parseLegacyForm(path string, lines []string) (Parsed, error) {
	var header *legacyHeader
	var messages []legacyMessage

	for _, line := range lines {
		if header == nil {
			var h legacyHeader
			if json.Unmarshal([]byte(line), &h) == nil && h.ID != "" && h.Timestamp != "" {
				header = &h
				continue
			}
		}

		var state legacyStateRecord
		if json.Unmarshal([]byte(line), &state) == nil && state.RecordType == "state" {
			continue
		}

		var msg legacyMessage
		if json.Unmarshal([]byte(line), &msg) == nil && msg.MessageType == "message" {
			messages = append(messages, msg)
		}
	}

	if header == nil {
		return Parsed{}, fmt.Errorf("%w: %s: no session header found", ierrors.ErrInvalidInput, path)
	}

	sessionID, startTime, sess, err := buildSession(path, header.ID, header.Timestamp, headerProjectHints(header))
	if err != nil {
		return Parsed{}, err
	}

	out := make([]models.Message, 0, len(messages))
	totalTokens := 0
	for i, m := range messages {
		msg, err := convertLegacyMessage(sessionID, m, i+1, startTime)
		if err != nil {
			return Parsed{}, err
		}
		totalTokens += msg.TokenCount
		out = append(out, msg)
	}

	sess.MessageCount = len(out)
	sess.TokenCount = totalTokens
	return Parsed{Session: sess, Messages: out}, nil
}

func convertLegacyMessage(sessionID string, m legacyMessage, sequence int, startTime time.Time) (models.Message, error) {
	role, err := codexRole(m.Role)
	if err != nil {
		return models.Message{}, err
	}

	content := joinContentText(m.Content)
	// Legacy records carry no per-message timestamp; synthesize one second
	// per message from the session start so ordering stays inferable.
	timestamp := startTime.Add(time.Duration(sequence-1) * time.Second)

	msg := models.Message{
		ID:        idgen.MessageUUID(sessionID, fmt.Sprintf("%d", sequence)).String(),
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
	return msg, nil
}

func parseNewerForm(path string, lines []string) (Parsed, error) {
	var metaID string
	var metaTimestamp string
	var projectHints []string
	var items []struct {
		payload   responseItemPayload
		timestamp string
	}

	for _, line := range lines {
		var env eventEnvelope
		if json.Unmarshal([]byte(line), &env) != nil {
			continue
		}
		switch env.Type {
		case "session_meta":
			var meta sessionMetaPayload
			if json.Unmarshal(env.Payload, &meta) == nil {
				metaID = meta.ID
				metaTimestamp = env.Timestamp
				projectHints = gitProjectHints(meta.Cwd, meta.Git)
			}
		case "event_msg", "response_item":
			var payload responseItemPayload
			if json.Unmarshal(env.Payload, &payload) == nil && payload.Role != "" {
				items = append(items, struct {
					payload   responseItemPayload
					timestamp string
				}{payload: payload, timestamp: env.Timestamp})
			}
		}
	}

	if metaID == "" {
		return Parsed{}, fmt.Errorf("%w: %s: no session_meta record found", ierrors.ErrInvalidInput, path)
	}

	sessionID, startTime, sess, err := buildSession(path, metaID, metaTimestamp, projectHints)
	if err != nil {
		return Parsed{}, err
	}

	out := make([]models.Message, 0, len(items))
	totalTokens := 0
	for i, it := range items {
		role, err := codexRole(it.payload.Role)
		if err != nil {
			return Parsed{}, err
		}
		content := joinContentText(it.payload.Content)
		timestamp := timeparse.ParseOr(it.timestamp, startTime)

		msg := models.Message{
			ID:        idgen.MessageUUID(sessionID, fmt.Sprintf("%d", i+1)).String(),
			SessionID: sessionID,
			Sequence:  i + 1,
			Role:      role,
			Type:      models.TypeSimpleMessage,
			Content:   content,
			Timestamp: timestamp,
		}
		if tc := len(content) / 4; tc > 0 {
			msg.TokenCount = tc
			totalTokens += tc
		}
		out = append(out, msg)
	}

	sess.MessageCount = len(out)
	sess.TokenCount = totalTokens
	return Parsed{Session: sess, Messages: out}, nil
}

// buildSession assembles the common Session fields shared by both Codex
// dialects: a deterministic-or-native session ID, the parsed start time,
// file hash, and project name resolved from (in order) git/cwd hints then
// path inference.
func buildSession(path, rawID, rawTimestamp string, projectHints []string) (string, time.Time, models.Session, error) {
	sessionID := rawID
	if _, err := uuid.Parse(rawID); err != nil {
		sessionID = idgen.DeterministicUUID(fmt.Sprintf("codex:%s", rawID)).String()
	}

	startTime, ok := timeparse.Parse(rawTimestamp)
	if !ok {
		return "", time.Time{}, models.Session{}, fmt.Errorf("%w: %s: unparseable session timestamp %q", ierrors.ErrInvalidInput, path, rawTimestamp)
	}

	fileHash, err := idgen.FileHash(path)
	if err != nil {
		return "", time.Time{}, models.Session{}, fmt.Errorf("%w: %s: %v", ierrors.ErrInvalidInput, path, err)
	}

	sess := models.Session{
		ID:         sessionID,
		Provider:   models.ProviderCodex,
		SourcePath: path,
		FileHash:   fileHash,
		StartedAt:  startTime,
		State:      models.SessionImported,
	}

	for _, hint := range projectHints {
		if hint != "" {
			sess.ProjectName = hint
			break
		}
	}
	if sess.ProjectName == "" {
		sess.ProjectName = projectinference.InferProjectName(path)
	}

	return sessionID, startTime, sess, nil
}

// headerProjectHints orders the legacy header's project-name candidates:
// cwd basename first, then the git repository URL.
func headerProjectHints(h *legacyHeader) []string {
	var cwd *string
	if h != nil {
		cwd = h.Cwd
	}
	var git *gitInfo
	if h != nil {
		git = h.Git
	}
	return gitProjectHints(cwd, git)
}

func gitProjectHints(cwd *string, git *gitInfo) []string {
	var hints []string
	if cwd != nil && *cwd != "" {
		hints = append(hints, baseName(*cwd))
	}
	if git != nil && git.RepositoryURL != nil {
		hints = append(hints, projectinference.FromRepositoryURL(*git.RepositoryURL))
	}
	return hints
}

func baseName(p string) string {
	p = strings.TrimRight(p, "/\\")
	if idx := strings.LastIndexAny(p, "/\\"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

func codexRole(raw string) (models.MessageRole, error) {
	switch raw {
	case "user":
		return models.RoleUser, nil
	case "assistant":
		return models.RoleAssistant, nil
	case "system":
		return models.RoleSystem, nil
	default:
		return "", fmt.Errorf("%w: unknown message role %q", ierrors.ErrInvalidInput, raw)
	}
}

func joinContentText(items []legacyContentItem) string {
	var parts []string
	for _, item := range items {
		if item.Text != nil && *item.Text != "" {
			parts = append(parts, *item.Text)
		}
	}
	content := strings.Join(parts, "\n")
	if strings.TrimSpace(content) == "" {
		return "[No content]"
	}
	return content
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
