package summarization

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roelfdiedericks/goclaw/internal/ierrors"
	"github.com/roelfdiedericks/goclaw/internal/llmclient"
	"github.com/roelfdiedericks/goclaw/internal/models"
	"github.com/roelfdiedericks/goclaw/internal/store"
)

type fakeClient struct {
	resp llmclient.Response
	err  error
}

func (f *fakeClient) Analyze(ctx context.Context, req llmclient.Request) (llmclient.Response, error) {
	return f.resp, f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), 5000)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

const wellFormedResponse = `TITLE: Fix Auth Bug

SUMMARY: Tracked down and fixed an expired-token bug in the login flow.

PRIMARY_GOAL: Get users past login again

OUTCOME: partial

KEY_DECISIONS: use refresh tokens, add retry logic

TECHNOLOGIES_USED: Go, SQLite, JWT

FILES_AFFECTED: internal/auth/login.go, internal/auth/token.go`

func seedSession(t *testing.T, st *store.Store, sessionID string) {
	t.Helper()
	sess := models.Session{
		ID:         sessionID,
		Provider:   models.ProviderClaudeCode,
		SourcePath: "/tmp/x.jsonl",
		FileHash:   "abc",
	}
	if err := st.InsertSession(sess); err != nil {
		t.Fatalf("insert session: %v", err)
	}
}

func TestSummarizeFailsWithoutTurnSummaries(t *testing.T) {
	st := newTestStore(t)
	seedSession(t, st, "sess-1")

	svc := New(st, &fakeClient{resp: llmclient.Response{Text: wellFormedResponse}}, "test-model")
	_, err := svc.Summarize(context.Background(), "sess-1")
	if err == nil {
		t.Fatal("expected an error when no turn summaries exist")
	}
	if !errors.Is(err, ierrors.ErrPreconditionNotMet) {
		t.Errorf("expected ErrPreconditionNotMet, got %v", err)
	}
}

func TestSummarizeParsesWellFormedResponse(t *testing.T) {
	st := newTestStore(t)
	seedSession(t, st, "sess-1")
	if err := st.InsertTurnSummary(models.TurnSummary{SessionID: "sess-1", TurnIndex: 0, Type: "debugging", Summary: "Found the expired-token bug."}); err != nil {
		t.Fatalf("insert turn summary: %v", err)
	}
	if err := st.InsertTurnSummary(models.TurnSummary{SessionID: "sess-1", TurnIndex: 1, Summary: "Added a refresh-token retry path."}); err != nil {
		t.Fatalf("insert turn summary: %v", err)
	}

	svc := New(st, &fakeClient{resp: llmclient.Response{Text: wellFormedResponse, ModelUsed: "gemini-1.5-flash"}}, "test-model")
	summary, err := svc.Summarize(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	if summary.Title != "Fix Auth Bug" {
		t.Errorf("title = %q", summary.Title)
	}
	if summary.Outcome != models.OutcomePartial {
		t.Errorf("outcome = %q, want partial", summary.Outcome)
	}
	if len(summary.KeyDecisions) != 2 {
		t.Errorf("key decisions = %v", summary.KeyDecisions)
	}
	if len(summary.TechnologiesUsed) != 3 {
		t.Errorf("technologies = %v", summary.TechnologiesUsed)
	}
	if len(summary.FilesTouched) != 2 {
		t.Errorf("files = %v", summary.FilesTouched)
	}
	if summary.GeneratedBy != "gemini-1.5-flash" {
		t.Errorf("generatedBy = %q", summary.GeneratedBy)
	}
}

func TestSummarizeAppliesDefaultsOnMalformedResponse(t *testing.T) {
	st := newTestStore(t)
	seedSession(t, st, "sess-1")
	if err := st.InsertTurnSummary(models.TurnSummary{SessionID: "sess-1", TurnIndex: 0, Summary: "did stuff"}); err != nil {
		t.Fatalf("insert turn summary: %v", err)
	}

	svc := New(st, &fakeClient{resp: llmclient.Response{Text: "not a labeled response at all"}}, "test-model")
	summary, err := svc.Summarize(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	if summary.Title != titleSentinel {
		t.Errorf("title = %q, want sentinel", summary.Title)
	}
	if summary.Overview != summarySentinel {
		t.Errorf("overview = %q, want sentinel", summary.Overview)
	}
	if summary.PrimaryGoal != goalSentinel {
		t.Errorf("primaryGoal = %q, want sentinel", summary.PrimaryGoal)
	}
	if summary.Outcome != models.OutcomeOngoing {
		t.Errorf("outcome = %q, want ongoing", summary.Outcome)
	}
	if summary.GeneratedBy != "test-model" {
		t.Errorf("generatedBy = %q, want fallback to configured model", summary.GeneratedBy)
	}
}

func TestSummarizeWrapsLLMFailure(t *testing.T) {
	st := newTestStore(t)
	seedSession(t, st, "sess-1")
	if err := st.InsertTurnSummary(models.TurnSummary{SessionID: "sess-1", TurnIndex: 0, Summary: "did stuff"}); err != nil {
		t.Fatalf("insert turn summary: %v", err)
	}

	svc := New(st, &fakeClient{err: errors.New("rate limited")}, "test-model")
	_, err := svc.Summarize(context.Background(), "sess-1")
	if !errors.Is(err, ierrors.ErrExternalFailure) {
		t.Errorf("expected ErrExternalFailure, got %v", err)
	}
}

func TestExtractField(t *testing.T) {
	if got := extractField(wellFormedResponse, "TITLE"); got != "Fix Auth Bug" {
		t.Errorf("extractField TITLE = %q", got)
	}
	if got := extractField(wellFormedResponse, "MISSING"); got != "" {
		t.Errorf("extractField MISSING = %q, want empty", got)
	}
}

func TestParseList(t *testing.T) {
	got := parseList("a, b,  c ,, d")
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("parseList = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parseList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if parseList("") != nil {
		t.Error("parseList(\"\") should be nil")
	}
}

func TestBuildSessionPromptFormatsTurns(t *testing.T) {
	prompt := buildSessionPrompt([]models.TurnSummary{
		{TurnIndex: 0, Type: "feature", Summary: "Added login."},
		{TurnIndex: 1, Summary: "Cleaned up."},
	})
	if !strings.Contains(prompt, "Turn 1 (feature): Added login.") {
		t.Errorf("prompt missing turn 1 line:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Turn 2 (unknown): Cleaned up.") {
		t.Errorf("prompt missing turn 2 line with unknown type:\n%s", prompt)
	}
}
