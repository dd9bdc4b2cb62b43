package toolparsers

import "regexp"

// Compiled once at package init, matching the flat regex dispatch table
// from the source bash command classifier. Patterns are not mutually
// exclusive by design; within a category the first match wins.
var (
	gitAddRe      = regexp.MustCompile(`git\s+add\s+(.+)`)
	gitCommitRe   = regexp.MustCompile(`git\s+commit`)
	gitMvRe       = regexp.MustCompile(`git\s+mv\s+(\S+)\s+(\S+)`)
	gitRmRe       = regexp.MustCompile(`git\s+rm\s+(.+)`)
	gitCheckoutRe = regexp.MustCompile(`git\s+checkout\s+(.+)`)
	gitMergeRe    = regexp.MustCompile(`git\s+merge\s+(.+)`)

	mkdirRe = regexp.MustCompile(`^mkdir(?: -p)?\s+(.+)`)
	touchRe = regexp.MustCompile(`^touch\s+(.+)`)
	cpRe    = regexp.MustCompile(`^cp(?: -r)?\s+(\S+)\s+(\S+)`)
	mvRe    = regexp.MustCompile(`^mv\s+(\S+)\s+(\S+)`)
	rmRe    = regexp.MustCompile(`^rm(?: -rf?)?\s+(.+)`)
)
