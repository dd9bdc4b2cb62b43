// Package summarization builds a session-level summary from a session's
// already-generated turn summaries: one LLM call over a compact prompt,
// followed by a labeled-field parse of the response.
package summarization

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/roelfdiedericks/goclaw/internal/ierrors"
	"github.com/roelfdiedericks/goclaw/internal/llmclient"
	. "github.com/roelfdiedericks/goclaw/internal/logging"
	"github.com/roelfdiedericks/goclaw/internal/models"
)

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.3

	titleSentinel   = "Untitled Session"
	summarySentinel = "No summary available"
	goalSentinel    = "Unknown goal"
)

// sessionStore is the subset of *store.Store the summarizer needs. Defined
// locally so this package depends on an interface, not the concrete store,
// matching how llmclient.Client is consumed as an interface too.
type sessionStore interface {
	TurnSummaries(sessionID string) ([]models.TurnSummary, error)
	DeleteSessionSummary(sessionID string) error
	InsertSessionSummary(sum models.SessionSummary) error
	UpdateSessionState(sessionID string, state models.SessionState) error
}

// Service generates SessionSummary rows from a session's TurnSummary list.
type Service struct {
	store *storeAdapter
	llm   llmclient.Client
	model string
}

// storeAdapter lets Service accept any concrete store satisfying
// sessionStore without importing the store package's type directly into
// this file's exported surface.
type storeAdapter struct {
	sessionStore
}

// New builds a Service. st must implement TurnSummaries, DeleteSessionSummary,
// InsertSessionSummary, and UpdateSessionState (internal/store.Store does).
func New(st sessionStore, llm llmclient.Client, model string) *Service {
	return &Service{store: &storeAdapter{st}, llm: llm, model: model}
}

// Summarize loads sessionID's turn summaries, fails with
// ierrors.ErrPreconditionNotMet if none exist, replaces any prior session
// summary, and persists the freshly generated one. On success the session's
// state transitions to SessionAnalyzed.
func (svc *Service) Summarize(ctx context.Context, sessionID string) (models.SessionSummary, error) {
	turnSummaries, err := svc.store.TurnSummaries(sessionID)
	if err != nil {
		return models.SessionSummary{}, fmt.Errorf("fetch turn summaries: %w", err)
	}
	if len(turnSummaries) == 0 {
		return models.SessionSummary{}, fmt.Errorf("%w: no turn summaries for session %s, run turn summarization first", ierrors.ErrPreconditionNotMet, sessionID)
	}

	if err := svc.store.DeleteSessionSummary(sessionID); err != nil {
		return models.SessionSummary{}, fmt.Errorf("delete existing session summary: %w", err)
	}

	prompt := buildSessionPrompt(turnSummaries)
	resp, err := svc.llm.Analyze(ctx, llmclient.Request{
		Prompt:      prompt,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return models.SessionSummary{}, fmt.Errorf("%w: %v", ierrors.ErrExternalFailure, err)
	}

	parsed := parseSessionResponse(resp.Text)
	summary := models.SessionSummary{
		SessionID:        sessionID,
		Title:            parsed.title,
		Overview:         parsed.summary,
		PrimaryGoal:      parsed.primaryGoal,
		Outcome:          parsed.outcome,
		KeyDecisions:     parsed.keyDecisions,
		TechnologiesUsed: parsed.technologiesUsed,
		FilesTouched:     parsed.filesAffected,
		GeneratedAt:      time.Now().UTC(),
		GeneratedBy:      modelUsed(resp.ModelUsed, svc.model),
	}

	if err := svc.store.InsertSessionSummary(summary); err != nil {
		return models.SessionSummary{}, fmt.Errorf("save session summary: %w", err)
	}
	if err := svc.store.UpdateSessionState(sessionID, models.SessionAnalyzed); err != nil {
		L_warn("summarization: failed to transition session state", "session", sessionID, "error", err)
	}

	return summary, nil
}

func modelUsed(fromResponse, configured string) string {
	if fromResponse != "" {
		return fromResponse
	}
	return configured
}

// buildSessionPrompt renders each turn summary as "Turn N (type): summary"
// (N = turn_index + 1) and instructs the model to respond with the exact
// labeled fields the parser expects.
func buildSessionPrompt(turnSummaries []models.TurnSummary) string {
	var turnsText strings.Builder
	for _, ts := range turnSummaries {
		turnType := ts.Type
		if turnType == "" {
			turnType = "unknown"
		}
		fmt.Fprintf(&turnsText, "Turn %d (%s): %s\n\n", ts.TurnIndex+1, turnType, ts.Summary)
	}

	return fmt.Sprintf(`Analyze the following session summary (derived from individual turn summaries) and provide a comprehensive session overview.

## Session Turns

%s

## Task

Create a high-level summary of this entire coding session by synthesizing the turn summaries above.

## Required Output Format

Your response MUST follow this exact format:

TITLE: [A concise title for the session, max 60 characters]

SUMMARY: [A 2-3 sentence overview of what was accomplished in the session]

PRIMARY_GOAL: [The main objective the user was trying to achieve]

OUTCOME: [One of: completed, partial, abandoned, ongoing]

KEY_DECISIONS: [Comma-separated list of important decisions made]

TECHNOLOGIES_USED: [Comma-separated list of technologies, frameworks, or tools used]

FILES_AFFECTED: [Comma-separated list of key files that were created or modified]`, strings.TrimSpace(turnsText.String()))
}

// parsedSessionResponse is the labeled-field decode of an LLM response.
type parsedSessionResponse struct {
	title            string
	summary          string
	primaryGoal      string
	outcome          models.SessionOutcome
	keyDecisions     []string
	technologiesUsed []string
	filesAffected    []string
}

func parseSessionResponse(response string) parsedSessionResponse {
	title := extractField(response, "TITLE")
	if title == "" {
		title = titleSentinel
	}
	summary := extractField(response, "SUMMARY")
	if summary == "" {
		summary = summarySentinel
	}
	primaryGoal := extractField(response, "PRIMARY_GOAL")
	if primaryGoal == "" {
		primaryGoal = goalSentinel
	}

	return parsedSessionResponse{
		title:            title,
		summary:          summary,
		primaryGoal:      primaryGoal,
		outcome:          models.ParseSessionOutcome(extractField(response, "OUTCOME")),
		keyDecisions:     parseList(extractField(response, "KEY_DECISIONS")),
		technologiesUsed: parseList(extractField(response, "TECHNOLOGIES_USED")),
		filesAffected:    parseList(extractField(response, "FILES_AFFECTED")),
	}
}

// extractField runs a case-insensitive "<FIELD>:\s*(.+)" match, returning
// the trimmed capture or "" if the field is absent. Matching stops at the
// end of the line the field label appears on.
func extractField(response, field string) string {
	pattern := `(?i)` + regexp.QuoteMeta(field) + `:\s*(.+)`
	re := regexp.MustCompile(pattern)
	m := re.FindStringSubmatch(response)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// parseList splits a comma-separated field into trimmed, non-empty entries.
func parseList(input string) []string {
	if input == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
