// Package extractor joins a session's ToolUse/ToolResult pairs into
// persistable ToolOperation rows, splits multi-file Bash operations into
// one operation per affected path, and produces the message-type
// rewrites the importer applies before persisting messages.
package extractor

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/roelfdiedericks/goclaw/internal/idgen"
	"github.com/roelfdiedericks/goclaw/internal/models"
	"github.com/roelfdiedericks/goclaw/internal/toolparsers"
)

// bashHandledSentinel marks the original, unsplit Bash operation for
// removal once its per-file operations have been synthesized.
const bashHandledSentinel = "__bash_handled__"

// Link records how a message's type and tool_operation_id should be
// rewritten once operations are known.
type Link struct {
	ToolOperationID string
	MessageType     models.MessageType
}

// Result is the output of Extract: the operations to bulk-insert, and the
// per-message rewrites to apply before messages are persisted.
type Result struct {
	Operations []models.ToolOperation
	Links      map[string]Link // message ID -> link
}

// resultEntry is what the tool_use_id index holds per ID: the matching
// result and the ID of the message that carried that result.
type resultEntry struct {
	result    models.ToolResult
	messageID string
}

// Extract runs the two-phase join described for a session's messages.
func Extract(sessionID string, messages []models.Message) (Result, error) {
	index := buildResultIndex(messages)

	res := Result{Links: make(map[string]Link)}

	for _, msg := range messages {
		for i, use := range msg.ToolUses {
			entry, hasResult := index[use.ID]

			op, err := synthesizeOperation(sessionID, msg, use, entry, hasResult)
			if err != nil {
				return Result{}, fmt.Errorf("synthesize operation for tool_use %s: %w", use.ID, err)
			}

			var split []models.ToolOperation
			if op.ToolName == "Bash" {
				split = splitBashOperation(op)
			}

			// linkedID is the operation ID messages should reference. When a
			// Bash op is split, the parent op is never persisted (the
			// "handled" sentinel is dropped), so messages must link to one
			// of the persisted children instead, or their tool_operation_id
			// would dangle and turn aggregation would silently drop the op.
			linkedID := op.ID
			if len(split) > 0 {
				res.Operations = append(res.Operations, split...)
				linkedID = split[0].ID
			} else {
				res.Operations = append(res.Operations, op)
			}

			if i == 0 {
				res.Links[msg.ID] = Link{ToolOperationID: linkedID, MessageType: models.TypeToolUse}
			}
			if hasResult && entry.messageID != msg.ID {
				res.Links[entry.messageID] = Link{ToolOperationID: linkedID, MessageType: models.TypeToolResult}
			}
		}
	}

	return res, nil
}

func buildResultIndex(messages []models.Message) map[string]resultEntry {
	index := make(map[string]resultEntry)
	for _, msg := range messages {
		if msg.ToolResult != nil {
			index[msg.ToolResult.ToolUseID] = resultEntry{result: *msg.ToolResult, messageID: msg.ID}
		}
	}
	return index
}

func synthesizeOperation(sessionID string, msg models.Message, use models.ToolUse, entry resultEntry, hasResult bool) (models.ToolOperation, error) {
	op := models.ToolOperation{
		ID:        idgen.DeterministicUUID(fmt.Sprintf("%s:op:%s", sessionID, use.ID)).String(),
		MessageID: msg.ID,
		ToolUseID: use.ID,
		ToolName:  use.Name,
		// Success stays nil (indeterminate) until a result has joined.
	}

	parsed, err := toolparsers.Parse(use)
	if err != nil {
		return models.ToolOperation{}, err
	}

	if hasResult {
		success := !entry.result.IsError
		op.Success = &success
		if entry.result.IsError {
			op.ErrorText = entry.result.Content
		}
	}

	switch parsed.Kind {
	case toolparsers.KindRead:
		op.Kind = models.FileOpRead
		op.Paths = []string{parsed.Read.FilePath}
	case toolparsers.KindWrite:
		op.Kind = models.FileOpWrite
		op.Paths = []string{parsed.Write.FilePath}
		op.Metadata = map[string]any{"linesAdded": parsed.Write.LinesAfter()}
	case toolparsers.KindEdit:
		op.Kind = models.FileOpEdit
		op.Paths = []string{parsed.Edit.FilePath}
		op.Metadata = map[string]any{
			"linesAdded":    parsed.Edit.LinesAfter(),
			"linesRemoved":  parsed.Edit.LinesBefore(),
			"isRefactoring": parsed.Edit.IsRefactoring(),
		}
	case toolparsers.KindBash:
		op.Kind = models.FileOpOther
		op.Command = parsed.Bash.Command
		stdout, stderr, exitCode := extractBashResultDetails(entry.result, hasResult)
		op.Metadata = map[string]any{
			"bash":        parsed.Bash,
			"stdout":      stdout,
			"stderr":      stderr,
			"exitCode":    exitCode,
			"isDangerous": parsed.Bash.IsDangerous(),
			"isMutation":  parsed.Bash.IsMutation(),
		}
	default:
		op.Kind = models.FileOpOther
	}

	return op, nil
}

// splitBashOperation produces one ToolOperation per (FileOperation, path)
// pair detected in a Bash command, each carrying the shared command text
// and result details. When there is nothing to split, it returns nil and
// the caller keeps the original operation.
func splitBashOperation(op models.ToolOperation) []models.ToolOperation {
	meta, _ := op.Metadata["bash"].(*toolparsers.BashData)
	if meta == nil || len(meta.Operations) == 0 {
		return nil
	}

	var out []models.ToolOperation
	for _, fop := range meta.Operations {
		paths := fop.Paths
		if len(paths) == 0 {
			paths = []string{""}
		}
		for _, p := range paths {
			child := op
			child.ID = idgen.DeterministicUUID(fmt.Sprintf("%s:%s:%s", op.ID, fop.Type, p)).String()
			child.Paths = []string{p}
			child.Kind = fileOperationKind(fop.Type)
			childMeta := make(map[string]any, len(op.Metadata)+1)
			for k, v := range op.Metadata {
				if k == "bash" {
					continue
				}
				childMeta[k] = v
			}
			childMeta["operationType"] = string(fop.Type)
			childMeta["fileType"] = strings.TrimPrefix(filepath.Ext(p), ".")
			child.Metadata = childMeta
			out = append(out, child)
		}
	}
	return out
}

func fileOperationKind(t toolparsers.FileOperationType) models.FileOperationKind {
	switch t {
	case toolparsers.OpGitAdd, toolparsers.OpGitCommit, toolparsers.OpGitCheckout, toolparsers.OpGitMerge, toolparsers.OpGitMove, toolparsers.OpGitRemove:
		return models.FileOpGit
	case toolparsers.OpCreate:
		return models.FileOpWrite
	case toolparsers.OpCopy, toolparsers.OpMove:
		return models.FileOpMove
	case toolparsers.OpDelete:
		return models.FileOpDelete
	case toolparsers.OpModify:
		return models.FileOpEdit
	case toolparsers.OpBuild, toolparsers.OpFormat, toolparsers.OpPackageAdd, toolparsers.OpPackageRemove, toolparsers.OpSearch:
		return models.FileOpTooling
	default:
		return models.FileOpOther
	}
}

// bashResultDetails mirrors the {stdout, stderr, exit_code} shape a tool
// result may carry, either at the top level of the result content or nested
// inside an array element tagged type == "toolUseResult".
type bashResultDetails struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code"`
}

func extractBashResultDetails(result models.ToolResult, hasResult bool) (stdout, stderr string, exitCode int) {
	if !hasResult || result.Content == "" {
		return "", "", 0
	}

	var details bashResultDetails
	if json.Unmarshal([]byte(result.Content), &details) == nil && (details.Stdout != "" || details.Stderr != "" || details.ExitCode != nil) {
		if details.ExitCode != nil {
			exitCode = *details.ExitCode
		}
		return details.Stdout, details.Stderr, exitCode
	}

	var arr []map[string]json.RawMessage
	if json.Unmarshal([]byte(result.Content), &arr) == nil {
		for _, elem := range arr {
			var typ string
			if raw, ok := elem["type"]; ok {
				_ = json.Unmarshal(raw, &typ)
			}
			if typ != "toolUseResult" {
				continue
			}
			var nested bashResultDetails
			if raw, ok := elem["toolUseResult"]; ok {
				if json.Unmarshal(raw, &nested) == nil {
					if nested.ExitCode != nil {
						exitCode = *nested.ExitCode
					}
					return nested.Stdout, nested.Stderr, exitCode
				}
			}
		}
	}

	return "", "", 0
}
