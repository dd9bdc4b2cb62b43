// Package models defines the entities that flow through the ingestion
// pipeline: sessions and messages as parsed from a provider's transcript
// files, the tool interactions extracted from them, the conversational
// turns detected within a session, and the summaries and embeddings
// derived from those turns.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Provider identifies the chat tool that produced a transcript file.
type Provider string

const (
	ProviderClaudeCode Provider = "claude_code"
	ProviderCodex      Provider = "codex"
	ProviderCursor     Provider = "cursor"
	ProviderGeminiCLI  Provider = "gemini_cli"
)

// MessageRole is the speaker of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageType refines Role with the shape of the content.
type MessageType string

const (
	TypeSimpleMessage  MessageType = "simple_message"
	TypeSlashCommand   MessageType = "slash_command"
	TypeToolUse        MessageType = "tool_use"
	TypeToolResult     MessageType = "tool_result"
	TypeThinking       MessageType = "thinking"
	TypeSystemInit     MessageType = "system_init"
	TypeSystemNotice   MessageType = "system_notice"
)

// SessionState is a session's position in the ingest-to-derive lifecycle.
type SessionState string

const (
	SessionCreated  SessionState = "created"
	SessionImported SessionState = "imported"
	SessionAnalyzed SessionState = "analyzed"
)

// Session is one imported conversation file, possibly containing many
// messages spanning many turns. A single source file may yield more than
// one Session (Cursor stores many composer sessions per database file).
type Session struct {
	ID          string    `json:"id"`          // deterministic/native UUID, stable across re-imports
	Provider    Provider  `json:"provider"`
	SourcePath  string    `json:"sourcePath"`  // absolute path to the originating file
	FileHash    string    `json:"fileHash"`    // stable hash of {path, length, mtime}
	ProjectName string    `json:"projectName"` // inferred working-directory/project label
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
	MessageCount int      `json:"messageCount"`
	TokenCount   int      `json:"tokenCount,omitempty"`
	State        SessionState `json:"state"`
	ImportedAt  time.Time `json:"importedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Message is a single entry in a session's transcript, in source order.
type Message struct {
	ID        string          `json:"id"` // native ID if the source provides one, else deterministic
	SessionID string          `json:"sessionId"`
	Sequence  int             `json:"sequence"` // monotonically increasing within a session, starting at 1
	Role      MessageRole     `json:"role"`
	Type      MessageType     `json:"type"`
	Content   string          `json:"content"`
	Thinking  string          `json:"thinking,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ToolUses   []ToolUse      `json:"toolUses,omitempty"`
	ToolResult *ToolResult    `json:"toolResult,omitempty"`
	ToolOperationID string    `json:"toolOperationId,omitempty"` // set by the extractor before persistence
	TokenCount int            `json:"tokenCount,omitempty"`
	Raw       json.RawMessage `json:"-"` // original source record, kept for diagnostics, never persisted verbatim
}

// ToolUse is a single tool invocation requested by the assistant.
type ToolUse struct {
	ID    string          `json:"id"` // tool_use_id; joins to a ToolResult by this value
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the output returned for a prior ToolUse.
type ToolResult struct {
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError"`
}

// FileOperationKind classifies what a tool invocation did to the filesystem.
type FileOperationKind string

const (
	FileOpRead   FileOperationKind = "read"
	FileOpWrite  FileOperationKind = "write"
	FileOpEdit   FileOperationKind = "edit"
	FileOpDelete FileOperationKind = "delete"
	FileOpMove   FileOperationKind = "move"
	FileOpGit    FileOperationKind = "git"
	FileOpTooling FileOperationKind = "tooling"
	FileOpOther  FileOperationKind = "other"
)

// ToolOperation is a normalized, file-centric view of a ToolUse/ToolResult
// pair, produced by the extractor. A single Bash ToolUse that touches
// multiple files is split into one ToolOperation per file.
type ToolOperation struct {
	ID          string            `json:"id"`
	MessageID   string            `json:"messageId"`   // carrier message (the tool_use message)
	ToolUseID   string            `json:"toolUseId"`
	ToolName    string            `json:"toolName"`
	Kind        FileOperationKind `json:"kind"`
	Paths       []string          `json:"paths"`
	Command     string            `json:"command,omitempty"` // for Bash-derived operations
	Success     *bool             `json:"success"`           // nil when no result has joined yet (indeterminate)
	ErrorText   string            `json:"errorText,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// DetectedTurn is a contiguous slice of a session's messages grouped around
// one user-initiated exchange, with aggregated metrics over that slice.
type DetectedTurn struct {
	SessionID      string    `json:"sessionId"`
	Index          int       `json:"index"` // 0-based, in session order; 0 may be an implicit system turn
	IsSystemInitiated bool   `json:"isSystemInitiated"` // true iff index == 0 and the first message's role is not User
	StartSequence  int       `json:"startSequence"`
	EndSequence    int       `json:"endSequence"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
	RoleCounts     map[MessageRole]int `json:"roleCounts"`
	TypeCounts     map[MessageType]int `json:"typeCounts"`
	InputTokens    int       `json:"inputTokens"`
	OutputTokens   int       `json:"outputTokens"`
	ToolCallCount  int       `json:"toolCallCount"`
	ToolSuccessCount int     `json:"toolSuccessCount"`
	ToolErrorCount int       `json:"toolErrorCount"`
	ToolIndeterminateCount int `json:"toolIndeterminateCount"` // ops with no joined result yet (success == nil)
	ToolUsage      map[string]int `json:"toolUsage"` // tool name -> call count
	FilesRead      []string  `json:"filesRead"`
	FilesWritten   []string  `json:"filesWritten"`
	FilesModified  []string  `json:"filesModified"`
	LinesAdded     int       `json:"linesAdded"`   // summed over Write and Edit ops
	LinesRemoved   int       `json:"linesRemoved"` // summed over Edit ops
	BashCommandCount int     `json:"bashCommandCount"`
	BashSuccessCount int     `json:"bashSuccessCount"` // Bash ops with exit_code == 0
	BashErrorCount int       `json:"bashErrorCount"`   // Bash ops with exit_code != 0
	BashCommands   []string  `json:"bashCommands"`     // in encounter order
	UserPreview      string  `json:"userPreview"`      // first User+SimpleMessage, UTF-8-safe, truncated to 500 bytes
	AssistantPreview string  `json:"assistantPreview"` // last Assistant+SimpleMessage, UTF-8-safe, truncated to 500 bytes
}

// TurnSummary is an LLM-produced synopsis of a single DetectedTurn.
type TurnSummary struct {
	SessionID string `json:"sessionId"`
	TurnIndex int    `json:"turnIndex"`
	Type      string `json:"type,omitempty"` // classified turn type, e.g. "feature", "debugging"; "" renders as "unknown"
	Summary   string `json:"summary"`
}

// SessionOutcome classifies how a session concluded.
type SessionOutcome string

const (
	OutcomeCompleted SessionOutcome = "completed"
	OutcomePartial   SessionOutcome = "partial"
	OutcomeAbandoned SessionOutcome = "abandoned"
	OutcomeOngoing   SessionOutcome = "ongoing"
)

// ParseSessionOutcome parses a case-insensitive outcome string, defaulting
// to OutcomeOngoing for anything unrecognized.
func ParseSessionOutcome(s string) SessionOutcome {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(OutcomeCompleted):
		return OutcomeCompleted
	case string(OutcomePartial):
		return OutcomePartial
	case string(OutcomeAbandoned):
		return OutcomeAbandoned
	default:
		return OutcomeOngoing
	}
}

// SessionSummary is an LLM-produced synopsis of an entire session, built
// from its TurnSummary list.
type SessionSummary struct {
	SessionID        string         `json:"sessionId"`
	Title            string         `json:"title"`
	Overview         string         `json:"overview"` // the SUMMARY field
	PrimaryGoal      string         `json:"primaryGoal"`
	Outcome          SessionOutcome `json:"outcome"`
	Topics           []string       `json:"topics,omitempty"`
	KeyDecisions     []string       `json:"keyDecisions"`
	TechnologiesUsed []string       `json:"technologiesUsed"`
	OpenQuestions    []string       `json:"openQuestions,omitempty"`
	FilesTouched     []string       `json:"filesTouched"` // the FILES_AFFECTED field
	GeneratedAt      time.Time      `json:"generatedAt"`
	GeneratedBy      string         `json:"generatedBy"` // model identifier
}

// TurnEmbedding is a vector representation of a DetectedTurn's content,
// used for semantic search over turns. The non-vector fields are the
// pushdown-filterable columns of the vector store's turn_embeddings table.
type TurnEmbedding struct {
	SessionID string    `json:"sessionId"`
	TurnIndex int       `json:"turnIndex"`
	Provider  Provider  `json:"provider"`
	Project   string    `json:"project"`
	TextHash  string    `json:"textHash"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"createdAt"`
	EmbeddedAt time.Time `json:"embeddedAt"`
}

// SessionEmbedding is a vector representation of a session's summary, used
// for semantic search over whole sessions.
type SessionEmbedding struct {
	SessionID string    `json:"sessionId"`
	Provider  Provider  `json:"provider"`
	Project   string    `json:"project"`
	TextHash  string    `json:"textHash"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"createdAt"`
	EmbeddedAt time.Time `json:"embeddedAt"`
}
