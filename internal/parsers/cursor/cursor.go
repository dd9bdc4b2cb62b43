// Package cursor decodes Cursor IDE's chat storage: a per-workspace
// state.vscdb SQLite document store. Two keyspaces hold chat data --
// ItemTable, a per-workspace JSON-blob table, and cursorDiskKV, a
// cross-workspace table keyed by record kind. A single database can hold
// many composer sessions, so each session gets a synthetic file_path of
// "<db_path>#<composer_id>" to keep per-session dedup keys distinct.
package cursor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roelfdiedericks/goclaw/internal/idgen"
	"github.com/roelfdiedericks/goclaw/internal/ierrors"
	"github.com/roelfdiedericks/goclaw/internal/models"
)

const (
	bubbleTypeUser      = 1
	bubbleTypeAssistant = 2
)

// Parsed pairs a decoded composer session with its messages.
type Parsed struct {
	Session  models.Session
	Messages []models.Message
}

// bubbleHeader is one entry of a composer's fullConversationHeadersOnly list.
type bubbleHeader struct {
	BubbleID   string `json:"bubbleId"`
	BubbleType int    `json:"type"`
}

// singleComposerData is the "split" form: one composer per
// composerData:<id> key in cursorDiskKV, with bubble bodies stored under
// their own bubbleId:<composerId>:<bubbleId> keys.
type singleComposerData struct {
	ComposerID         string          `json:"composerId"`
	Name               string          `json:"name"`
	Text               string          `json:"text"`
	RichText           string          `json:"richText"`
	CreatedAt          json.RawMessage `json:"createdAt"`
	LastUpdatedAt      json.RawMessage `json:"lastUpdatedAt"`
	ConversationHeaders []bubbleHeader `json:"fullConversationHeadersOnly"`
}

type bubbleData struct {
	BubbleType int             `json:"type"`
	BubbleID   string          `json:"bubbleId"`
	Text       string          `json:"text"`
	RichText   string          `json:"richText"`
	CreatedAt  json.RawMessage `json:"createdAt"`
}

// composerMessage is one entry of the legacy inline-conversation form.
type composerMessage struct {
	MessageType int     `json:"type"`
	BubbleID    *string `json:"bubbleId"`
	Text        *string `json:"text"`
	RichText    *string `json:"richText"`
	Timestamp   *int64  `json:"timestamp"`
}

// composerChat is the legacy form: a composer with its conversation inlined
// directly rather than split across bubbleId keys.
type composerChat struct {
	ComposerID    string            `json:"composerId"`
	Conversation  []composerMessage `json:"conversation"`
	Name          string            `json:"name"`
	CreatedAt     *int64            `json:"createdAt"`
	LastUpdatedAt *int64            `json:"lastUpdatedAt"`
}

type composerDataContainer struct {
	AllComposers []composerChat `json:"allComposers"`
}

// chatBubble and chatTab decode the oldest Cursor Client format, stored at
// ItemTable key "workbench.panel.aichat.view.aichat.chatdata".
type chatBubble struct {
	BubbleType *string `json:"type"` // "user" or "ai"
	Text       *string `json:"text"`
	Timestamp  *int64  `json:"timestamp"`
}

type chatTab struct {
	ID        *string      `json:"id"`
	Title     *string      `json:"title"`
	Timestamp *string      `json:"timestamp"`
	Bubbles   []chatBubble `json:"bubbles"`
}

type chatData struct {
	Tabs []chatTab `json:"tabs"`
}

// Parse opens the state.vscdb at path read-only and decodes every composer
// session it can find across both the cursorDiskKV (global/new form) and
// ItemTable (workspace/legacy form) keyspaces.
func Parse(path string) ([]Parsed, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&immutable=1", path))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ierrors.ErrInvalidInput, path, err)
	}
	defer db.Close()

	var out []Parsed

	fromGlobal, err := parseCursorDiskKV(db, path)
	if err != nil {
		return nil, err
	}
	out = append(out, fromGlobal...)

	fromWorkspace, err := parseItemTable(db, path)
	if err != nil {
		return nil, err
	}
	out = append(out, fromWorkspace...)

	return out, nil
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

// parseCursorDiskKV reads every composerData:<id> record from the
// cross-workspace cursorDiskKV table, trying the split (bubble-per-key)
// form before falling back to the legacy allComposers container.
func parseCursorDiskKV(db *sql.DB, path string) ([]Parsed, error) {
	rows, err := db.Query(`SELECT key, value FROM cursorDiskKV WHERE key LIKE 'composerData:%' AND LENGTH(value) > 10`)
	if err != nil {
		// cursorDiskKV does not exist in this database; not an error, this
		// file simply uses the other keyspace.
		return nil, nil
	}
	defer rows.Close()

	var out []Parsed
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%w: %s: scan cursorDiskKV row: %v", ierrors.ErrInvalidInput, path, err)
		}

		var single singleComposerData
		if json.Unmarshal([]byte(value), &single) == nil && single.ComposerID != "" {
			parsed, ok, convErr := convertSingleComposer(db, path, single)
			if convErr == nil && ok {
				out = append(out, parsed)
			}
			continue
		}

		var container composerDataContainer
		if json.Unmarshal([]byte(value), &container) == nil {
			for _, c := range container.AllComposers {
				parsed, ok, convErr := convertLegacyComposer(path, c)
				if convErr == nil && ok {
					out = append(out, parsed)
				}
			}
		}
	}
	return out, rows.Err()
}

// parseItemTable reads the per-workspace composer.composerData and legacy
// aichat.chatdata JSON blobs from ItemTable.
func parseItemTable(db *sql.DB, path string) ([]Parsed, error) {
	var out []Parsed

	var composerValue string
	if err := db.QueryRow(`SELECT value FROM ItemTable WHERE key = 'composer.composerData'`).Scan(&composerValue); err == nil {
		var container composerDataContainer
		if json.Unmarshal([]byte(composerValue), &container) == nil {
			for _, c := range container.AllComposers {
				parsed, ok, convErr := convertLegacyComposer(path, c)
				if convErr == nil && ok {
					out = append(out, parsed)
				}
			}
		}
	}

	var chatValue string
	if err := db.QueryRow(`SELECT value FROM ItemTable WHERE key = 'workbench.panel.aichat.view.aichat.chatdata'`).Scan(&chatValue); err == nil {
		var data chatData
		if json.Unmarshal([]byte(chatValue), &data) == nil {
			for _, tab := range data.Tabs {
				parsed, ok, convErr := convertChatTab(path, tab)
				if convErr == nil && ok {
					out = append(out, parsed)
				}
			}
		}
	}

	return out, nil
}

// convertSingleComposer resolves a composer's bubble headers against their
// full bodies in cursorDiskKV and builds the session/messages pair. Returns
// ok=false when the composer yields no messages worth persisting.
func convertSingleComposer(db *sql.DB, path string, c singleComposerData) (Parsed, bool, error) {
	sessionID := composerSessionID(c.ComposerID)
	startTime := parseTimestampValue(c.CreatedAt, time.Time{})
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}
	endTime := parseTimestampValue(c.LastUpdatedAt, time.Time{})

	sess := models.Session{
		ID:          sessionID,
		Provider:    models.ProviderCursor,
		SourcePath:  syntheticFilePath(path, c.ComposerID),
		FileHash:    composerHash(c.ComposerID, path),
		ProjectName: c.Name,
		StartedAt:   startTime,
		State:       models.SessionImported,
	}

	var messages []models.Message
	for i, header := range c.ConversationHeaders {
		var bubbleValue string
		key := fmt.Sprintf("bubbleId:%s:%s", c.ComposerID, header.BubbleID)
		if err := db.QueryRow(`SELECT value FROM cursorDiskKV WHERE key = ?`, key).Scan(&bubbleValue); err != nil {
			continue
		}
		var bubble bubbleData
		if json.Unmarshal([]byte(bubbleValue), &bubble) != nil {
			continue
		}

		content := bubbleContent(&bubble.Text, &bubble.RichText)
		if content == "" {
			continue
		}

		timestamp := parseTimestampValue(bubble.CreatedAt, startTime)
		msg := models.Message{
			ID:        idgen.MessageUUID(sessionID, bubble.BubbleID).String(),
			SessionID: sessionID,
			Sequence:  len(messages) + 1,
			Role:      bubbleRole(bubble.BubbleType),
			Type:      models.TypeSimpleMessage,
			Content:   content,
			Timestamp: timestamp,
		}
		if tc := len(content) / 4; tc > 0 {
			msg.TokenCount = tc
		}
		messages = append(messages, msg)

		if sess.ProjectName == "" && i == 0 {
			sess.ProjectName = firstLineTitle(content)
		}
	}

	if len(messages) == 0 {
		return Parsed{}, false, nil
	}
	if !endTime.IsZero() && !endTime.Equal(startTime) {
		sess.EndedAt = endTime
	}
	sess.MessageCount = len(messages)
	sess.TokenCount = sumTokens(messages)
	return Parsed{Session: sess, Messages: messages}, true, nil
}

// convertLegacyComposer converts the older allComposers form, whose
// conversation is inlined rather than split into bubbleId records.
func convertLegacyComposer(path string, c composerChat) (Parsed, bool, error) {
	sessionID := composerSessionID(c.ComposerID)
	startTime := epochMillisOrNow(c.CreatedAt)
	var endTime time.Time
	if c.LastUpdatedAt != nil {
		endTime = epochMillis(*c.LastUpdatedAt)
	}

	sess := models.Session{
		ID:          sessionID,
		Provider:    models.ProviderCursor,
		SourcePath:  syntheticFilePath(path, c.ComposerID),
		FileHash:    composerHash(c.ComposerID, path),
		ProjectName: c.Name,
		StartedAt:   startTime,
		State:       models.SessionImported,
	}

	var messages []models.Message
	for _, m := range c.Conversation {
		content := bubbleContent(m.Text, m.RichText)
		if content == "" {
			continue
		}
		timestamp := startTime
		if m.Timestamp != nil {
			timestamp = epochMillis(*m.Timestamp)
		}
		bubbleID := ""
		if m.BubbleID != nil {
			bubbleID = *m.BubbleID
		} else {
			bubbleID = strconv.Itoa(len(messages) + 1)
		}
		msg := models.Message{
			ID:        idgen.MessageUUID(sessionID, bubbleID).String(),
			SessionID: sessionID,
			Sequence:  len(messages) + 1,
			Role:      bubbleRole(m.MessageType),
			Type:      models.TypeSimpleMessage,
			Content:   content,
			Timestamp: timestamp,
		}
		if tc := len(content) / 4; tc > 0 {
			msg.TokenCount = tc
		}
		messages = append(messages, msg)
	}

	if len(messages) == 0 {
		return Parsed{}, false, nil
	}
	if !endTime.IsZero() && !endTime.Equal(startTime) {
		sess.EndedAt = endTime
	}
	sess.MessageCount = len(messages)
	sess.TokenCount = sumTokens(messages)
	return Parsed{Session: sess, Messages: messages}, true, nil
}

// convertChatTab converts the oldest chat-tab format, one session per tab.
func convertChatTab(path string, tab chatTab) (Parsed, bool, error) {
	tabID := uuid.New().String()
	if tab.ID != nil && *tab.ID != "" {
		tabID = *tab.ID
	}
	sessionID := composerSessionID(tabID)

	startTime := time.Now().UTC()
	if tab.Timestamp != nil {
		if t, ok := parseRFC3339ish(*tab.Timestamp); ok {
			startTime = t
		}
	}

	sess := models.Session{
		ID:         sessionID,
		Provider:   models.ProviderCursor,
		SourcePath: syntheticFilePath(path, tabID),
		FileHash:   composerHash(tabID, path),
		StartedAt:  startTime,
		State:      models.SessionImported,
	}
	if tab.Title != nil {
		sess.ProjectName = *tab.Title
	}

	var messages []models.Message
	last := startTime
	for _, bubble := range tab.Bubbles {
		content := ""
		if bubble.Text != nil {
			content = *bubble.Text
		}
		if content == "" {
			continue
		}
		timestamp := last
		if bubble.Timestamp != nil {
			timestamp = epochMillis(*bubble.Timestamp)
		}
		last = timestamp

		role := models.RoleUser
		if bubble.BubbleType != nil && (*bubble.BubbleType == "ai" || *bubble.BubbleType == "assistant") {
			role = models.RoleAssistant
		}
		msg := models.Message{
			ID:        idgen.MessageUUID(sessionID, strconv.Itoa(len(messages)+1)).String(),
			SessionID: sessionID,
			Sequence:  len(messages) + 1,
			Role:      role,
			Type:      models.TypeSimpleMessage,
			Content:   content,
			Timestamp: timestamp,
		}
		if tc := len(content) / 4; tc > 0 {
			msg.TokenCount = tc
		}
		messages = append(messages, msg)
	}

	if len(messages) == 0 {
		return Parsed{}, false, nil
	}
	if !last.Equal(startTime) {
		sess.EndedAt = last
	}
	sess.MessageCount = len(messages)
	sess.TokenCount = sumTokens(messages)
	return Parsed{Session: sess, Messages: messages}, true, nil
}

func sumTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += m.TokenCount
	}
	return total
}

// bubbleContent prefers text, then falls back to extracting plain text from
// a richText Lexical document tree, then to richText itself when it isn't
// JSON at all.
func bubbleContent(text, richText *string) string {
	if text != nil && *text != "" {
		return *text
	}
	if richText == nil || *richText == "" {
		return ""
	}
	if extracted, ok := extractRichText(*richText); ok {
		return extracted
	}
	if !strings.HasPrefix(*richText, "{") {
		return *richText
	}
	return ""
}

// extractRichText walks a Lexical JSON document tree collecting "text" node
// contents, emitting a newline for each paragraph/linebreak node.
func extractRichText(raw string) (string, bool) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", false
	}
	var b strings.Builder
	walkRichText(doc, &b)
	result := b.String()
	if result == "" {
		return "", false
	}
	return result, true
}

func walkRichText(node any, b *strings.Builder) {
	switch v := node.(type) {
	case map[string]any:
		if t, _ := v["type"].(string); t == "text" {
			if text, ok := v["text"].(string); ok {
				b.WriteString(text)
			}
		}
		if t, _ := v["type"].(string); t == "paragraph" && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		if t, _ := v["type"].(string); t == "linebreak" {
			b.WriteString("\n")
		}
		if children, ok := v["children"]; ok {
			walkRichText(children, b)
		}
		if root, ok := v["root"]; ok {
			walkRichText(root, b)
		}
	case []any:
		for _, item := range v {
			walkRichText(item, b)
		}
	}
}

func bubbleRole(bubbleType int) models.MessageRole {
	if bubbleType == bubbleTypeAssistant {
		return models.RoleAssistant
	}
	return models.RoleUser
}

func firstLineTitle(content string) string {
	line := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		line = content[:idx]
	}
	if len(line) > 50 {
		return line[:47] + "..."
	}
	return line
}

// composerSessionID maps a composer/tab ID to a session ID, preferring the
// native value when it is already UUID-shaped.
func composerSessionID(rawID string) string {
	if _, err := uuid.Parse(rawID); err == nil {
		return rawID
	}
	return idgen.DeterministicUUID(fmt.Sprintf("cursor:%s", rawID)).String()
}

// syntheticFilePath disambiguates the many sessions a single state.vscdb
// can hold, so each gets its own dedup key.
func syntheticFilePath(dbPath, composerID string) string {
	return fmt.Sprintf("%s#%s", dbPath, composerID)
}

// composerHash mixes the composer ID into the database file's identity so
// that two composers sharing one database file never collide.
func composerHash(composerID, dbPath string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(dbPath))
	_, _ = h.Write([]byte(composerID))
	return fmt.Sprintf("%x", h.Sum64())
}

// parseTimestampValue decodes a createdAt/lastUpdatedAt field that may be
// either a JSON string (ISO-8601) or a JSON number (epoch milliseconds).
func parseTimestampValue(raw json.RawMessage, fallback time.Time) time.Time {
	if len(raw) == 0 {
		return fallback
	}
	var asNumber int64
	if json.Unmarshal(raw, &asNumber) == nil {
		return epochMillis(asNumber)
	}
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		if t, ok := parseRFC3339ish(asString); ok {
			return t
		}
		if ms, err := strconv.ParseInt(asString, 10, 64); err == nil {
			return epochMillis(ms)
		}
	}
	return fallback
}

func parseRFC3339ish(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func epochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func epochMillisOrNow(ms *int64) time.Time {
	if ms == nil {
		return time.Now().UTC()
	}
	return epochMillis(*ms)
}
