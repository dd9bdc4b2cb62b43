// Package toolparsers decodes the raw JSON input of a tool invocation into
// structured data per tool kind, and — for Bash — infers the file
// operations a shell command performed.
package toolparsers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

// Kind identifies which structured shape a ParsedTool carries.
type Kind string

const (
	KindBash    Kind = "bash"
	KindRead    Kind = "read"
	KindWrite   Kind = "write"
	KindEdit    Kind = "edit"
	KindUnknown Kind = "unknown"
)

// ParsedTool is the structured decoding of one models.ToolUse.
type ParsedTool struct {
	ToolName string
	Kind     Kind
	Bash     *BashData
	Read     *ReadData
	Write    *WriteData
	Edit     *EditData
	RawInput json.RawMessage
}

// Parse dispatches on tool name to the matching decoder. An unrecognized
// tool name yields KindUnknown, not an error: unknown tools are passed
// through for downstream bookkeeping without structured fields.
func Parse(use models.ToolUse) (ParsedTool, error) {
	switch use.Name {
	case "Bash":
		d, err := parseBash(use.Input)
		if err != nil {
			return ParsedTool{}, err
		}
		return ParsedTool{ToolName: use.Name, Kind: KindBash, Bash: d, RawInput: use.Input}, nil
	case "Read":
		d, err := parseRead(use.Input)
		if err != nil {
			return ParsedTool{}, err
		}
		return ParsedTool{ToolName: use.Name, Kind: KindRead, Read: d, RawInput: use.Input}, nil
	case "Write":
		d, err := parseWrite(use.Input)
		if err != nil {
			return ParsedTool{}, err
		}
		return ParsedTool{ToolName: use.Name, Kind: KindWrite, Write: d, RawInput: use.Input}, nil
	case "Edit":
		d, err := parseEdit(use.Input)
		if err != nil {
			return ParsedTool{}, err
		}
		return ParsedTool{ToolName: use.Name, Kind: KindEdit, Edit: d, RawInput: use.Input}, nil
	default:
		return ParsedTool{ToolName: use.Name, Kind: KindUnknown, RawInput: use.Input}, nil
	}
}

func decodeField(input json.RawMessage, key string) (any, bool) {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func stringField(input json.RawMessage, key string) (string, bool) {
	v, ok := decodeField(input, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolField(input json.RawMessage, key string) (bool, bool) {
	v, ok := decodeField(input, key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func uintField(input json.RawMessage, key string) (uint64, bool) {
	v, ok := decodeField(input, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return uint64(n), true
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		return u, err == nil
	default:
		return 0, false
	}
}

// ReadData is the structured decoding of a Read tool invocation.
type ReadData struct {
	FilePath string
	Offset   *uint64
	Limit    *uint64
}

func parseRead(input json.RawMessage) (*ReadData, error) {
	path, ok := stringField(input, "file_path")
	if !ok {
		return nil, fmt.Errorf("Read tool missing 'file_path' field")
	}
	d := &ReadData{FilePath: path}
	if v, ok := uintField(input, "offset"); ok {
		d.Offset = &v
	}
	if v, ok := uintField(input, "limit"); ok {
		d.Limit = &v
	}
	return d, nil
}

// WriteData is the structured decoding of a Write tool invocation.
type WriteData struct {
	FilePath string
	Content  string
}

// LinesAfter returns newlines(content) + 1 when content is nonempty and not
// newline-terminated, else just newlines(content).
func (d *WriteData) LinesAfter() int {
	return linesAfter(d.Content)
}

func linesAfter(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

func parseWrite(input json.RawMessage) (*WriteData, error) {
	path, ok := stringField(input, "file_path")
	if !ok {
		return nil, fmt.Errorf("Write tool missing 'file_path' field")
	}
	content, _ := stringField(input, "content")
	return &WriteData{FilePath: path, Content: content}, nil
}

// EditData is the structured decoding of an Edit tool invocation.
type EditData struct {
	FilePath    string
	OldString   string
	NewString   string
	ReplaceAll  bool
	HasOld      bool
	HasNew      bool
}

// LinesAfter computes the new-content line count the same way Write does.
func (d *EditData) LinesAfter() int {
	return linesAfter(d.NewString)
}

// LinesBefore computes the old-content line count, used as the
// lines_removed contribution of this edit.
func (d *EditData) LinesBefore() int {
	return linesAfter(d.OldString)
}

// IsRefactoring reports whether this edit looks like a rename/refactor:
// replace_all is set, the old/new strings differ in length by under 20
// bytes, and they have the same whitespace-delimited token count.
func (d *EditData) IsRefactoring() bool {
	if !d.ReplaceAll || !d.HasOld || !d.HasNew {
		return false
	}
	lenDiff := len(d.OldString) - len(d.NewString)
	if lenDiff < 0 {
		lenDiff = -lenDiff
	}
	if lenDiff >= 20 {
		return false
	}
	return len(strings.Fields(d.OldString)) == len(strings.Fields(d.NewString))
}

func parseEdit(input json.RawMessage) (*EditData, error) {
	path, ok := stringField(input, "file_path")
	if !ok {
		return nil, fmt.Errorf("Edit tool missing 'file_path' field")
	}
	d := &EditData{FilePath: path}
	if s, ok := stringField(input, "old_string"); ok {
		d.OldString, d.HasOld = s, true
	}
	if s, ok := stringField(input, "new_string"); ok {
		d.NewString, d.HasNew = s, true
	}
	if b, ok := boolField(input, "replace_all"); ok {
		d.ReplaceAll = b
	}
	return d, nil
}

// BashData is the structured decoding of a Bash tool invocation, plus the
// file operations inferred from its command text.
type BashData struct {
	Command     string
	Description string
	Timeout     *uint64
	Operations  []FileOperation
}

// BaseCommand returns the first whitespace-delimited token of Command.
func (d *BashData) BaseCommand() string {
	fields := strings.Fields(d.Command)
	if len(fields) == 0 {
		return d.Command
	}
	return fields[0]
}

var dangerousPatterns = []string{
	"rm -rf", "rm -r /", "mkfs", "dd if=", "> /dev/", "mv /* ", "chmod -R 777", "wget", "curl",
}

// IsDangerous flags commands matching a fixed list of destructive patterns.
// Informational only: consumers may filter on it, nothing in the pipeline
// blocks on it.
func (d *BashData) IsDangerous() bool {
	for _, p := range dangerousPatterns {
		if strings.Contains(d.Command, p) {
			return true
		}
	}
	return false
}

var mutationCommands = map[string]bool{
	"rm": true, "mv": true, "cp": true, "mkdir": true, "touch": true, "rmdir": true, "ln": true,
}

// IsMutation reports whether the base command is a known filesystem mutator.
func (d *BashData) IsMutation() bool {
	return mutationCommands[d.BaseCommand()]
}

func parseBash(input json.RawMessage) (*BashData, error) {
	command, ok := stringField(input, "command")
	if !ok {
		return nil, fmt.Errorf("Bash tool missing 'command' field")
	}
	d := &BashData{Command: command}
	d.Description, _ = stringField(input, "description")
	if v, ok := uintField(input, "timeout"); ok {
		d.Timeout = &v
	}
	d.Operations = extractFileOperations(command)
	return d, nil
}

// FileOperationType is the classification of one inferred Bash file operation.
type FileOperationType string

const (
	OpGitAdd      FileOperationType = "git_add"
	OpGitCommit   FileOperationType = "git_commit"
	OpGitCheckout FileOperationType = "git_checkout"
	OpGitMerge    FileOperationType = "git_merge"
	OpGitMove     FileOperationType = "git_move"
	OpGitRemove   FileOperationType = "git_remove"

	OpCreate FileOperationType = "create"
	OpCopy   FileOperationType = "copy"
	OpMove   FileOperationType = "move"
	OpDelete FileOperationType = "delete"

	OpBuild         FileOperationType = "build"
	OpFormat        FileOperationType = "format"
	OpPackageAdd    FileOperationType = "package_add"
	OpPackageRemove FileOperationType = "package_remove"

	OpModify FileOperationType = "modify"
	OpSearch FileOperationType = "search"
)

// FileOperation is one inferred file-touching effect of a Bash command.
type FileOperation struct {
	Type  FileOperationType
	Paths []string
}

func extractFileOperations(command string) []FileOperation {
	var ops []FileOperation
	if op, ok := parseGitCommand(command); ok {
		ops = append(ops, op)
	}
	ops = append(ops, parseFSCommands(command)...)
	ops = append(ops, parseToolingCommands(command)...)
	ops = append(ops, parseOtherCommands(command)...)
	return ops
}

func parseGitCommand(command string) (FileOperation, bool) {
	switch {
	case gitAddRe.MatchString(command):
		return FileOperation{Type: OpGitAdd, Paths: splitFileList(gitAddRe.FindStringSubmatch(command)[1])}, true
	case gitCommitRe.MatchString(command):
		return FileOperation{Type: OpGitCommit}, true
	case gitMvRe.MatchString(command):
		m := gitMvRe.FindStringSubmatch(command)
		return FileOperation{Type: OpGitMove, Paths: []string{m[1], m[2]}}, true
	case gitRmRe.MatchString(command):
		return FileOperation{Type: OpGitRemove, Paths: splitFileList(gitRmRe.FindStringSubmatch(command)[1])}, true
	case gitCheckoutRe.MatchString(command):
		return FileOperation{Type: OpGitCheckout, Paths: []string{gitCheckoutRe.FindStringSubmatch(command)[1]}}, true
	case gitMergeRe.MatchString(command):
		return FileOperation{Type: OpGitMerge, Paths: []string{gitMergeRe.FindStringSubmatch(command)[1]}}, true
	}
	return FileOperation{}, false
}

func parseFSCommands(command string) []FileOperation {
	if strings.HasPrefix(strings.TrimSpace(command), "git ") {
		return nil
	}
	var ops []FileOperation
	if m := mkdirRe.FindStringSubmatch(command); m != nil {
		ops = append(ops, FileOperation{Type: OpCreate, Paths: splitFileList(m[1])})
	}
	if m := touchRe.FindStringSubmatch(command); m != nil {
		ops = append(ops, FileOperation{Type: OpCreate, Paths: splitFileList(m[1])})
	}
	if m := cpRe.FindStringSubmatch(command); m != nil {
		ops = append(ops, FileOperation{Type: OpCopy, Paths: []string{m[1], m[2]}})
	}
	if m := mvRe.FindStringSubmatch(command); m != nil {
		ops = append(ops, FileOperation{Type: OpMove, Paths: []string{m[1], m[2]}})
	}
	if m := rmRe.FindStringSubmatch(command); m != nil {
		ops = append(ops, FileOperation{Type: OpDelete, Paths: splitFileList(m[1])})
	}
	return ops
}

func parseToolingCommands(command string) []FileOperation {
	var ops []FileOperation
	if strings.Contains(command, "cargo fmt") || strings.Contains(command, "rustfmt") {
		ops = append(ops, FileOperation{Type: OpFormat, Paths: []string{"**/*.rs"}})
	}
	if strings.Contains(command, "cargo add") {
		ops = append(ops, FileOperation{Type: OpPackageAdd, Paths: []string{"Cargo.toml"}})
	}
	if strings.Contains(command, "cargo remove") {
		ops = append(ops, FileOperation{Type: OpPackageRemove, Paths: []string{"Cargo.toml"}})
	}
	if strings.Contains(command, "cargo build") || strings.Contains(command, "cargo test") {
		ops = append(ops, FileOperation{Type: OpBuild, Paths: []string{"target/"}})
	}
	if strings.Contains(command, "npm install") || strings.Contains(command, "yarn add") {
		ops = append(ops, FileOperation{Type: OpPackageAdd, Paths: []string{"package.json", "package-lock.json"}})
	}
	if strings.Contains(command, "npm uninstall") || strings.Contains(command, "yarn remove") {
		ops = append(ops, FileOperation{Type: OpPackageRemove, Paths: []string{"package.json", "package-lock.json"}})
	}
	if strings.Contains(command, "npm run build") || strings.Contains(command, "yarn build") {
		ops = append(ops, FileOperation{Type: OpBuild, Paths: []string{"dist/", "build/"}})
	}
	if strings.Contains(command, "prettier") {
		ops = append(ops, FileOperation{Type: OpFormat, Paths: []string{"**/*.{js,ts,jsx,tsx,json,css,md}"}})
	}
	return ops
}

func parseOtherCommands(command string) []FileOperation {
	var ops []FileOperation
	if strings.Contains(command, "find") && strings.Contains(command, "-delete") {
		ops = append(ops, FileOperation{Type: OpDelete, Paths: []string{"**/*"}})
	}
	if strings.Contains(command, "sed -i") {
		ops = append(ops, FileOperation{Type: OpModify, Paths: []string{"**/*"}})
	}
	return ops
}

func splitFileList(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.HasPrefix(f, "-") {
			continue
		}
		f = strings.Trim(f, `"'`)
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
