// Package projectinference recovers a human-readable project name from the
// path a transcript file was stored under. Claude Code's on-disk project
// directories encode a working directory's absolute path by replacing every
// "/" with "-" (so "/Users/alice/my-project" becomes
// "-Users-alice-my-project"); since "-" is also a legal character inside a
// real path segment, the encoding is ambiguous to reverse in general. We
// recover it opportunistically by checking which grouping of hyphen-joined
// tokens corresponds to directories that actually exist on disk next to the
// encoded directory, and fall back to a cruder heuristic when nothing on
// disk confirms the split.
package projectinference

import (
	"os"
	"path/filepath"
	"strings"
)

// InferProjectName derives a project name from the directory containing
// filePath. It returns "" when no reasonable name can be recovered (e.g. the
// file sits directly at a filesystem root with no parent segment).
func InferProjectName(filePath string) string {
	encodedDir := filepath.Dir(filePath)
	base := filepath.Base(encodedDir)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return ""
	}

	if !strings.HasPrefix(base, "-") {
		// Not Claude's encoding convention; the directory name itself is
		// the best available project label.
		return base
	}

	tokens := strings.Split(strings.TrimPrefix(base, "-"), "-")
	tokens = filterEmpty(tokens)
	if len(tokens) == 0 {
		return ""
	}

	searchRoot := filepath.Dir(encodedDir)
	if name, ok := resolveAgainstFilesystem(searchRoot, tokens); ok {
		return name
	}

	// Nothing on disk confirms a grouping: fall back to the last token,
	// which is right whenever the final real path segment contained no
	// internal hyphen (the common case for generated project names).
	return tokens[len(tokens)-1]
}

// resolveAgainstFilesystem walks tokens as directory levels rooted at root,
// at each level preferring the longest hyphen-joined run of remaining
// tokens that matches a real directory, and returns the name of the last
// directory resolved this way.
func resolveAgainstFilesystem(root string, tokens []string) (string, bool) {
	current := root
	i := 0
	lastSegment := ""
	resolvedAny := false

	for i < len(tokens) {
		matched := false
		for j := len(tokens); j > i; j-- {
			candidateSeg := strings.Join(tokens[i:j], "-")
			candidatePath := filepath.Join(current, candidateSeg)
			info, err := os.Stat(candidatePath)
			if err == nil && info.IsDir() {
				current = candidatePath
				lastSegment = candidateSeg
				i = j
				matched = true
				resolvedAny = true
				break
			}
		}
		if !matched {
			return "", false
		}
	}

	return lastSegment, resolvedAny
}

func filterEmpty(tokens []string) []string {
	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// FromRepositoryURL extracts a project name from a git remote URL, e.g.
// "git@github.com:user/project.git" or "https://github.com/user/project" ->
// "project". Used by the Codex parser, which prefers the session's recorded
// repository URL over path inference when one is present.
func FromRepositoryURL(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return ""
	}
	url = strings.TrimSuffix(url, "/")
	idx := strings.LastIndexAny(url, "/:")
	name := url
	if idx >= 0 {
		name = url[idx+1:]
	}
	return strings.TrimSuffix(name, ".git")
}
