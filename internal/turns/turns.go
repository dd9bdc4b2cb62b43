// Package turns detects conversational turn boundaries in a session's
// message stream and aggregates per-turn metrics over the tool operations
// each turn references.
package turns

import (
	"unicode/utf8"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

const previewLimitBytes = 500

// Detect groups a session's messages into turns and computes the
// aggregated DetectedTurn for each. messages must already be in sequence
// order; operations is the full set of ToolOperation rows for the session.
func Detect(sessionID string, messages []models.Message, operations []models.ToolOperation) []models.DetectedTurn {
	if len(messages) == 0 {
		return nil
	}

	opByID := make(map[string]models.ToolOperation, len(operations))
	for _, op := range operations {
		opByID[op.ID] = op
	}

	groups := groupMessages(messages)

	turns := make([]models.DetectedTurn, 0, len(groups))
	for i, group := range groups {
		turns = append(turns, aggregate(sessionID, i, group, opByID))
	}
	return turns
}

// isTurnStart reports whether msg begins a new turn: a user message that is
// either a plain message or a slash command (tool results and system
// messages never start a turn).
func isTurnStart(msg models.Message) bool {
	return msg.Role == models.RoleUser &&
		(msg.Type == models.TypeSimpleMessage || msg.Type == models.TypeSlashCommand)
}

// groupMessages splits messages into contiguous turn groups. If the first
// message is not a turn-start, an implicit turn 0 absorbs every message up
// to (not including) the first real turn-start.
func groupMessages(messages []models.Message) [][]models.Message {
	var groups [][]models.Message
	var current []models.Message

	for _, msg := range messages {
		if isTurnStart(msg) && len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, msg)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func aggregate(sessionID string, index int, group []models.Message, opByID map[string]models.ToolOperation) models.DetectedTurn {
	turn := models.DetectedTurn{
		SessionID:  sessionID,
		Index:      index,
		RoleCounts: make(map[models.MessageRole]int),
		TypeCounts: make(map[models.MessageType]int),
		ToolUsage:  make(map[string]int),
	}

	first, last := group[0], group[len(group)-1]
	turn.StartSequence = first.Sequence
	turn.EndSequence = last.Sequence
	turn.StartedAt = first.Timestamp
	turn.EndedAt = last.Timestamp
	turn.IsSystemInitiated = index == 0 && first.Role != models.RoleUser

	opIDs := make(map[string]bool)
	var firstUserPreview, lastAssistantPreview string

	readSeen := map[string]bool{}
	writtenSeen := map[string]bool{}
	modifiedSeen := map[string]bool{}

	for _, msg := range group {
		turn.RoleCounts[msg.Role]++
		turn.TypeCounts[msg.Type]++

		if msg.Role == models.RoleUser && msg.Type == models.TypeSimpleMessage && firstUserPreview == "" {
			firstUserPreview = truncatePreview(msg.Content, previewLimitBytes)
		}
		if msg.Role == models.RoleAssistant && msg.Type == models.TypeSimpleMessage {
			lastAssistantPreview = truncatePreview(msg.Content, previewLimitBytes)
		}

		if msg.ToolOperationID != "" {
			opIDs[msg.ToolOperationID] = true
		}
		switch msg.Role {
		case models.RoleUser:
			turn.InputTokens += msg.TokenCount
		case models.RoleAssistant:
			turn.OutputTokens += msg.TokenCount
		}
	}

	turn.UserPreview = firstUserPreview
	turn.AssistantPreview = lastAssistantPreview

	for id := range opIDs {
		op, ok := opByID[id]
		if !ok {
			continue
		}
		turn.ToolCallCount++
		switch {
		case op.Success == nil:
			turn.ToolIndeterminateCount++
		case *op.Success:
			turn.ToolSuccessCount++
		default:
			turn.ToolErrorCount++
		}
		turn.ToolUsage[op.ToolName]++

		switch op.Kind {
		case models.FileOpRead:
			appendUnique(&turn.FilesRead, readSeen, op.Paths)
		case models.FileOpWrite:
			appendUnique(&turn.FilesWritten, writtenSeen, op.Paths)
			turn.LinesAdded += metadataInt(op.Metadata, "linesAdded")
		case models.FileOpEdit:
			appendUnique(&turn.FilesModified, modifiedSeen, op.Paths)
			turn.LinesAdded += metadataInt(op.Metadata, "linesAdded")
			turn.LinesRemoved += metadataInt(op.Metadata, "linesRemoved")
		}

		if op.ToolName == "Bash" {
			turn.BashCommandCount++
			turn.BashCommands = append(turn.BashCommands, op.Command)
			if metadataInt(op.Metadata, "exitCode") == 0 {
				turn.BashSuccessCount++
			} else {
				turn.BashErrorCount++
			}
		}
	}

	return turn
}

// metadataInt reads an integer out of a ToolOperation's metadata map. Values
// set directly by the extractor are plain int; values that round-tripped
// through JSON decode as float64, so both are handled.
func metadataInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func appendUnique(dst *[]string, seen map[string]bool, paths []string) {
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		*dst = append(*dst, p)
	}
}

// truncatePreview truncates s to at most n bytes on a UTF-8 boundary,
// appending an ellipsis if truncation occurred.
func truncatePreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	b := s[:n]
	for len(b) > 0 && !utf8.ValidString(b) {
		b = b[:len(b)-1]
	}
	return b + "…"
}
