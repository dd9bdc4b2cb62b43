package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/itchyny/gojq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/goclaw/internal/config"
	"github.com/roelfdiedericks/goclaw/internal/embedclient"
	"github.com/roelfdiedericks/goclaw/internal/importer"
	"github.com/roelfdiedericks/goclaw/internal/llmclient"
	. "github.com/roelfdiedericks/goclaw/internal/logging"
	"github.com/roelfdiedericks/goclaw/internal/models"
	"github.com/roelfdiedericks/goclaw/internal/store"
	"github.com/roelfdiedericks/goclaw/internal/summarization"
	"github.com/roelfdiedericks/goclaw/internal/vectorstore"
)

// version is set by the release build via ldflags: -X main.version=...
var version = "dev"

// CLI defines retrochat's command-line interface.
type CLI struct {
	Debug  bool   `help:"Enable debug logging" short:"d"`
	Config string `help:"Config file path" short:"c" type:"path" default:"retrochat.json"`

	Scan      ScanCmd      `cmd:"" help:"List transcript files a directory would import"`
	Import    ImportCmd    `cmd:"" help:"Import transcripts from a directory"`
	Search    SearchCmd    `cmd:"" help:"Search turns or sessions by similarity"`
	Summarize SummarizeCmd `cmd:"" help:"Generate a session summary from its turn summaries"`
	Query     QueryCmd     `cmd:"" help:"Run a jq-style query over a stored session's message contents"`
	Version   VersionCmd   `cmd:"" help:"Show version"`
}

// Context carries global flags and the loaded config into every command.
type Context struct {
	Debug  bool
	Config *config.Config
}

// ScanCmd lists the files a directory would import without importing them.
type ScanCmd struct {
	Directory string   `arg:"" help:"Directory to scan" type:"path"`
	Provider  []string `help:"Restrict to these providers (claude_code, codex, cursor, gemini_cli)"`
	Recursive bool     `help:"Recurse into subdirectories" default:"true"`
}

func (c *ScanCmd) Run(ctx *Context) error {
	st, svc, err := openImporter(ctx.Config)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := svc.Scan(c.Directory, parseProviders(c.Provider), c.Recursive)
	if err != nil {
		return err
	}

	fmt.Printf("Found %d file(s) in %s\n\n", len(result.Files), formatDuration(result.Duration))
	for _, f := range result.Files {
		fmt.Printf("  %-10s %10d bytes  ~%d session(s)  %s\n", f.Provider, f.SizeBytes, f.EstimatedSessions, f.Path)
	}
	return nil
}

// ImportCmd batch-imports transcripts from a directory, optionally rerunning
// on a fixed interval or whenever the directory changes on disk.
type ImportCmd struct {
	Directory      string        `arg:"" help:"Directory to import from" type:"path"`
	Provider       []string      `help:"Restrict to these providers (claude_code, codex, cursor, gemini_cli)"`
	Recursive      bool          `help:"Recurse into subdirectories" default:"true"`
	Overwrite      bool          `help:"Re-import sessions that already exist"`
	WatchInterval  time.Duration `help:"Re-run the batch import on this interval (e.g. 10m); 0 disables" name:"watch-interval"`
	WatchFS        bool          `help:"Also re-run the batch import whenever the directory changes on disk" name:"watch-fs"`
}

func (c *ImportCmd) Run(ctx *Context) error {
	st, svc, err := openImporter(ctx.Config)
	if err != nil {
		return err
	}
	defer st.Close()

	runOnce := func() {
		batch, err := svc.ImportBatchWithProgress(c.Directory, parseProviders(c.Provider), c.Overwrite, c.Recursive, func(completed, total int) {
			fmt.Printf("\r  %d/%d", completed, total)
		})
		fmt.Println()
		if err != nil {
			L_error("import: batch failed", "error", err)
			return
		}
		printBatchResult(batch)
	}

	runOnce()

	if c.WatchInterval <= 0 && !c.WatchFS {
		return nil
	}

	ctxCancel, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.WatchFS {
		if err := importer.Watch(ctxCancel, []string{c.Directory}, 2*time.Second, func(path string) {
			L_info("import: directory changed, rescanning", "path", path)
			runOnce()
		}); err != nil {
			return fmt.Errorf("watch directory: %w", err)
		}
	}

	if c.WatchInterval > 0 {
		sched := cron.New()
		spec := fmt.Sprintf("@every %s", c.WatchInterval)
		if _, err := sched.AddFunc(spec, runOnce); err != nil {
			return fmt.Errorf("schedule periodic import: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	L_info("import: watching for changes, press Ctrl+C to stop", "directory", c.Directory)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}

func printBatchResult(batch importer.BatchResult) {
	fmt.Printf("Processed %d file(s) in %s: %d ok, %d failed\n",
		batch.TotalFiles, formatDuration(batch.Duration), batch.SuccessfulFiles, batch.FailedFiles)
	fmt.Printf("Imported %d session(s), %d message(s)\n", batch.SessionsImported, batch.MessagesImported)
	for _, e := range batch.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

// SearchCmd runs a vector similarity search over turns or sessions. Results
// are ranked by embedding similarity alone; keyword relevance is not blended
// in.
type SearchCmd struct {
	Query    string  `arg:"" help:"Search text"`
	Sessions bool    `help:"Search sessions instead of turns"`
	Project  string  `help:"Restrict results to this project"`
	Provider string  `help:"Restrict results to this provider"`
	Limit    int     `help:"Maximum results" default:"10"`
}

func (c *SearchCmd) Run(ctx *Context) error {
	cfg := ctx.Config
	embedder, err := embedclient.New(cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.Dimensions, cfg.Embedding.APIKey)
	if err != nil {
		return fmt.Errorf("build embedding client: %w", err)
	}

	vec, err := embedder.EmbedText(context.Background(), c.Query)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}

	vs, err := vectorstore.Open(cfg.VectorSearch.Path)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer vs.Close()

	filter := vectorstore.Filter{Project: c.Project, Provider: models.Provider(c.Provider)}

	if c.Sessions {
		results, err := vs.SearchSessions(vec, c.Limit, filter)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%.3f  %s\n", r.Score, r.SessionID)
		}
		return nil
	}

	results, err := vs.SearchTurns(vec, c.Limit, filter)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%.3f  %s  turn %d\n", r.Score, r.SessionID, r.TurnIndex)
	}
	return nil
}

// SummarizeCmd generates a session summary from its already-generated turn
// summaries.
type SummarizeCmd struct {
	SessionID string `arg:"" help:"Session ID to summarize"`
}

func (c *SummarizeCmd) Run(ctx *Context) error {
	cfg := ctx.Config
	st, err := store.Open(cfg.Store.Path, cfg.Store.BusyTimeout)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	client, err := llmclient.New(cfg.Summarizer.Provider, cfg.Summarizer.Model, cfg.Summarizer.APIKey)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	svc := summarization.New(st, client, cfg.Summarizer.Model)
	summary, err := svc.Summarize(context.Background(), c.SessionID)
	if err != nil {
		return fmt.Errorf("summarize %s: %w", c.SessionID, err)
	}

	fmt.Printf("Title:        %s\n", summary.Title)
	fmt.Printf("Outcome:      %s\n", summary.Outcome)
	fmt.Printf("Primary goal: %s\n", summary.PrimaryGoal)
	fmt.Printf("Overview:     %s\n", summary.Overview)
	if len(summary.KeyDecisions) > 0 {
		fmt.Printf("Key decisions: %s\n", strings.Join(summary.KeyDecisions, ", "))
	}
	if len(summary.TechnologiesUsed) > 0 {
		fmt.Printf("Technologies:  %s\n", strings.Join(summary.TechnologiesUsed, ", "))
	}
	if len(summary.FilesTouched) > 0 {
		fmt.Printf("Files:         %s\n", strings.Join(summary.FilesTouched, ", "))
	}
	return nil
}

// QueryCmd runs a jq-style expression over a session's messages, a thin
// collaborator surface over the store for ad-hoc inspection; it is not a
// general-purpose query language for retrochat's schema. The expression's
// input is an array of the session's message contents in sequence order,
// each decoded as JSON where it parses and kept as a string otherwise.
type QueryCmd struct {
	SessionID string `arg:"" help:"Session ID to query"`
	Expr      string `arg:"" help:"jq expression over the array of message contents, e.g. 'length' or '.[0]'"`
}

func (c *QueryCmd) Run(ctx *Context) error {
	cfg := ctx.Config
	st, err := store.Open(cfg.Store.Path, cfg.Store.BusyTimeout)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rows, err := st.SearchMessages("", c.SessionID, 0)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	var input []any
	for _, r := range rows {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			input = append(input, r)
			continue
		}
		input = append(input, v)
	}

	query, err := gojq.Parse(c.Expr)
	if err != nil {
		return fmt.Errorf("parse jq expression: %w", err)
	}

	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return fmt.Errorf("jq: %w", err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			fmt.Println(v)
			continue
		}
		fmt.Println(string(out))
	}
	return nil
}

// VersionCmd shows version info.
type VersionCmd struct{}

func (v *VersionCmd) Run(ctx *Context) error {
	fmt.Printf("retrochat %s\n", version)
	return nil
}

func openImporter(cfg *config.Config) (*store.Store, *importer.Service, error) {
	st, err := store.Open(cfg.Store.Path, cfg.Store.BusyTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, importer.New(st, nil, cfg.Import.Concurrency), nil
}

func parseProviders(raw []string) []models.Provider {
	out := make([]models.Provider, len(raw))
	for i, r := range raw {
		out[i] = models.Provider(r)
	}
	return out
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Millisecond * 10).String()
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("retrochat"),
		kong.Description("Import, index, and summarize AI coding-assistant transcripts"),
		kong.UsageOnError(),
	)

	level := LevelInfo
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, ShowCaller: true})

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	absPath, _ := filepath.Abs(cli.Config)
	L_debug("config loaded", "path", absPath)

	err = kctx.Run(&Context{Debug: cli.Debug, Config: cfg})
	if err != nil {
		L_fatal("command failed", "error", err)
	}
}
