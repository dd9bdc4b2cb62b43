// Package importer scans a directory for transcript files, detects which
// provider produced each one, parses it into sessions and messages, and
// persists the result through store. A batch import processes files
// concurrently, isolating one file's failure from the rest of the batch.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roelfdiedericks/goclaw/internal/extractor"
	"github.com/roelfdiedericks/goclaw/internal/ierrors"
	. "github.com/roelfdiedericks/goclaw/internal/logging"
	"github.com/roelfdiedericks/goclaw/internal/models"
	"github.com/roelfdiedericks/goclaw/internal/parsers/claudecode"
	"github.com/roelfdiedericks/goclaw/internal/parsers/codex"
	"github.com/roelfdiedericks/goclaw/internal/parsers/cursor"
	"github.com/roelfdiedericks/goclaw/internal/parsers/geminicli"
	"github.com/roelfdiedericks/goclaw/internal/provider"
	"github.com/roelfdiedericks/goclaw/internal/store"
	"github.com/roelfdiedericks/goclaw/internal/turns"
)

// DefaultDetector builds a Detector carrying every known provider's
// Sniffer, in the precedence order spec'd for ambiguity resolution.
func DefaultDetector() *provider.Detector {
	return provider.New(
		claudecode.Sniffer{},
		codex.Sniffer{},
		cursor.Sniffer{},
		geminicli.Sniffer{},
	)
}

// CandidateFile is one transcript file discovered by Scan, not yet parsed.
type CandidateFile struct {
	Path             string
	Provider         models.Provider
	SizeBytes        int64
	LastModified     time.Time
	EstimatedSessions int
}

// ScanResult is the outcome of scanning a directory.
type ScanResult struct {
	Files    []CandidateFile
	Duration time.Duration
}

// FileResult is the outcome of importing a single file.
type FileResult struct {
	Path             string
	SessionsImported int
	MessagesImported int
	Warnings         []string
	Err              error
}

// BatchResult aggregates a batch import's per-file outcomes.
type BatchResult struct {
	TotalFiles       int
	SuccessfulFiles  int
	FailedFiles      int
	SessionsImported int
	MessagesImported int
	Duration         time.Duration
	Errors           []string
}

// Service drives scan/import operations against a Store, detecting
// providers with a Detector and bounding import concurrency with a
// worker pool sized like the teacher's CPU-derived defaults.
type Service struct {
	store       *store.Store
	detector    *provider.Detector
	concurrency int
}

// New builds a Service. concurrency <= 0 selects clamp(NumCPU, 4, 16),
// mirroring the source pipeline's own default.
func New(st *store.Store, detector *provider.Detector, concurrency int) *Service {
	if detector == nil {
		detector = DefaultDetector()
	}
	if concurrency <= 0 {
		concurrency = clamp(runtime.NumCPU(), 4, 16)
	}
	return &Service{store: st, detector: detector, concurrency: concurrency}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// Scan walks directoryPath (recursively if recursive is true) and returns
// every file whose provider the detector recognizes, optionally filtered
// to a set of providers.
func (svc *Service) Scan(directoryPath string, providers []models.Provider, recursive bool) (ScanResult, error) {
	start := time.Now()

	info, err := os.Stat(directoryPath)
	if err != nil || !info.IsDir() {
		return ScanResult{}, fmt.Errorf("%w: invalid directory %s", ierrors.ErrInvalidInput, directoryPath)
	}

	allowed := make(map[models.Provider]bool, len(providers))
	for _, p := range providers {
		allowed[p] = true
	}

	var files []CandidateFile

	err = filepathWalk(directoryPath, recursive, func(path string, d os.FileInfo) error {
		prov, ok, detErr := svc.detector.Detect(path)
		if detErr != nil {
			L_debug("importer: skip unreadable file during scan", "path", path, "error", detErr)
			return nil
		}
		if !ok {
			return nil
		}
		if len(allowed) > 0 && !allowed[prov] {
			return nil
		}

		files = append(files, CandidateFile{
			Path:              path,
			Provider:          prov,
			SizeBytes:         d.Size(),
			LastModified:      d.ModTime(),
			EstimatedSessions: estimateSessions(d.Size()),
		})
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return ScanResult{Files: files, Duration: time.Since(start)}, nil
}

// estimateSessions gives a rough upper bound on how many sessions a file
// might decode into, for progress-reporting purposes only: one session per
// 10KB, floor of one.
func estimateSessions(sizeBytes int64) int {
	n := int(sizeBytes / 10240)
	if n < 1 {
		return 1
	}
	return n
}

// filepathWalk walks root, calling fn for every regular file. When
// recursive is false, only root's direct children are visited.
func filepathWalk(root string, recursive bool, fn func(path string, info os.FileInfo) error) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("%w: read directory %s: %v", ierrors.ErrInvalidInput, root, err)
	}
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			if recursive {
				if err := filepathWalk(path, recursive, fn); err != nil {
					return err
				}
			}
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if err := fn(path, info); err != nil {
			return err
		}
	}
	return nil
}

// ImportFile parses path with the parser matching provider (or the
// detector's guess when provider is empty) and persists every session it
// yields. overwrite controls whether an already-imported session is
// replaced or skipped.
func (svc *Service) ImportFile(path string, prov models.Provider, overwrite bool) FileResult {
	result := FileResult{Path: path}

	if prov == "" {
		detected, ok, err := svc.detector.Detect(path)
		if err != nil {
			result.Err = fmt.Errorf("detect provider for %s: %w", path, err)
			return result
		}
		if !ok {
			result.Err = fmt.Errorf("%w: %s", ierrors.ErrUnsupported, path)
			return result
		}
		prov = detected
	}

	parsed, err := parseFile(path, prov)
	if err != nil {
		if strings.Contains(err.Error(), "only summary entries") {
			return result // metadata-only file, not a failure
		}
		result.Err = fmt.Errorf("parse %s: %w", path, err)
		return result
	}

	if len(parsed) == 0 {
		return result // nothing to import (e.g. a summary-only file): skipped, not a warning
	}

	for _, p := range parsed {
		imported, messageCount, warning, err := svc.importSession(p.Session, p.Messages, overwrite)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("session %s: %v", p.Session.ID, err))
			continue
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		if imported {
			result.SessionsImported++
			result.MessagesImported += messageCount
		}
	}

	return result
}

// parseFile dispatches to the provider package matching prov.
func parseFile(path string, prov models.Provider) ([]parsedSession, error) {
	switch prov {
	case models.ProviderClaudeCode:
		out, err := claudecode.Parse(path)
		return adapt(out, err, func(p claudecode.Parsed) parsedSession {
			return parsedSession{Session: p.Session, Messages: p.Messages}
		})
	case models.ProviderCodex:
		out, err := codex.Parse(path)
		return adapt(out, err, func(p codex.Parsed) parsedSession {
			return parsedSession{Session: p.Session, Messages: p.Messages}
		})
	case models.ProviderCursor:
		out, err := cursor.Parse(path)
		return adapt(out, err, func(p cursor.Parsed) parsedSession {
			return parsedSession{Session: p.Session, Messages: p.Messages}
		})
	case models.ProviderGeminiCLI:
		out, err := geminicli.Parse(path)
		return adapt(out, err, func(p geminicli.Parsed) parsedSession {
			return parsedSession{Session: p.Session, Messages: p.Messages}
		})
	default:
		return nil, fmt.Errorf("%w: provider %s", ierrors.ErrUnsupported, prov)
	}
}

// parsedSession is the provider-agnostic shape every parser package's own
// Parsed type structurally matches, used to erase the per-package type
// once a file has been routed to its parser.
type parsedSession struct {
	Session  models.Session
	Messages []models.Message
}

func adapt[T any](in []T, err error, conv func(T) parsedSession) ([]parsedSession, error) {
	if err != nil {
		return nil, err
	}
	out := make([]parsedSession, len(in))
	for i, v := range in {
		out[i] = conv(v)
	}
	return out, nil
}

// importSession persists one session: existence/overwrite handling,
// project creation, the session row, tool operations (extracted before
// messages so messages can carry their tool_operation_id), the messages
// themselves, and the detected turns. Each stage is attempted best-effort:
// a failure rolls back the session row and reports a warning rather than
// aborting the whole batch.
func (svc *Service) importSession(sess models.Session, messages []models.Message, overwrite bool) (imported bool, messageCount int, warning string, err error) {
	exists, err := svc.store.SessionExists(sess.ID)
	if err != nil {
		return false, 0, "", err
	}
	if exists {
		if !overwrite {
			return false, 0, fmt.Sprintf("session %s already exists, skipping", sess.ID), nil
		}
		if err := svc.store.DeleteSessionCascade(sess.ID); err != nil {
			return false, 0, "", fmt.Errorf("overwrite existing session: %w", err)
		}
		warning = fmt.Sprintf("session %s overwritten", sess.ID)
	}

	if sess.ProjectName != "" {
		if err := svc.store.CreateProjectIfAbsent(sess.ProjectName); err != nil {
			L_warn("importer: failed to create project", "project", sess.ProjectName, "error", err)
		}
	}

	sess.State = models.SessionImported
	if err := svc.store.InsertSession(sess); err != nil {
		return false, 0, "", fmt.Errorf("%w: insert session: %v", ierrors.ErrConflict, err)
	}

	extraction, err := extractor.Extract(sess.ID, messages)
	if err != nil {
		_ = svc.store.DeleteSessionCascade(sess.ID)
		return false, 0, "", fmt.Errorf("extract tool operations: %w", err)
	}

	if err := svc.store.InsertToolOperations(sess.ID, extraction.Operations); err != nil {
		_ = svc.store.DeleteSessionCascade(sess.ID)
		return false, 0, "", fmt.Errorf("insert tool operations: %w", err)
	}

	rewritten := make([]models.Message, len(messages))
	for i, m := range messages {
		if link, ok := extraction.Links[m.ID]; ok {
			m.ToolOperationID = link.ToolOperationID
			m.Type = link.MessageType
		}
		m.ToolUses = nil
		m.ToolResult = nil
		rewritten[i] = m
	}

	if err := svc.store.InsertMessages(sess.ID, rewritten); err != nil {
		// Tool operations already committed at this point; spec.md §9 flags
		// this as an open rollback gap. We delete the session row (which
		// cascades messages/tool_operations via DeleteSessionCascade) so a
		// retried import does not collide with ErrConflict, rather than
		// leaving orphaned tool_operations behind.
		_ = svc.store.DeleteSessionCascade(sess.ID)
		return false, 0, "", fmt.Errorf("insert messages: %w", err)
	}

	detected := turns.Detect(sess.ID, rewritten, extraction.Operations)
	if err := svc.store.InsertDetectedTurns(sess.ID, detected); err != nil {
		L_warn("importer: failed to persist detected turns", "session", sess.ID, "error", err)
	}

	return true, len(rewritten), warning, nil
}

// ImportBatch scans directoryPath and imports every matching file
// concurrently, bounded by svc.concurrency. One file's parse or store
// failure never aborts the rest of the batch.
func (svc *Service) ImportBatch(directoryPath string, providers []models.Provider, overwrite, recursive bool) (BatchResult, error) {
	return svc.ImportBatchWithProgress(directoryPath, providers, overwrite, recursive, nil)
}

// ProgressFunc is called after each file completes, with (completed, total).
type ProgressFunc func(completed, total int)

// ImportBatchWithProgress is ImportBatch with an optional progress callback
// invoked once per completed file, in arbitrary completion order.
func (svc *Service) ImportBatchWithProgress(directoryPath string, providers []models.Provider, overwrite, recursive bool, progress ProgressFunc) (BatchResult, error) {
	start := time.Now()

	scan, err := svc.Scan(directoryPath, providers, recursive)
	if err != nil {
		return BatchResult{}, err
	}
	if len(scan.Files) == 0 {
		return BatchResult{Errors: []string{"no files found for import"}, Duration: time.Since(start)}, nil
	}

	sem := make(chan struct{}, svc.concurrency)
	results := make(chan FileResult, len(scan.Files))
	var wg sync.WaitGroup
	var completed int64
	var progressMu sync.Mutex

	for _, f := range scan.Files {
		wg.Add(1)
		go func(f CandidateFile) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := svc.ImportFile(f.Path, f.Provider, overwrite)
			if progress != nil {
				progressMu.Lock()
				completed++
				progress(int(completed), len(scan.Files))
				progressMu.Unlock()
			}
			results <- res
		}(f)
	}

	wg.Wait()
	close(results)

	batch := BatchResult{TotalFiles: len(scan.Files), Duration: time.Since(start)}
	for res := range results {
		if res.Err != nil {
			batch.FailedFiles++
			batch.Errors = append(batch.Errors, formatImportError(res.Path, res.Err))
			continue
		}
		batch.SuccessfulFiles++
		batch.SessionsImported += res.SessionsImported
		batch.MessagesImported += res.MessagesImported
	}

	return batch, nil
}

// Watch monitors paths for filesystem changes and calls onChange (debounced
// by settle) whenever any of them settle after activity. It never reads the
// changed files itself; onChange is expected to trigger a fresh
// ImportBatchWithProgress over the affected directory. This is rescan
// triggering, not log tailing: a changed file is picked up whole on the next
// batch import, never read incrementally.
func Watch(ctx context.Context, paths []string, settle time.Duration, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	go func() {
		defer watcher.Close()
		var mu sync.Mutex
		pending := map[string]*time.Timer{}

		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				for _, t := range pending {
					t.Stop()
				}
				mu.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				dir := filepath.Dir(event.Name)
				mu.Lock()
				if t, exists := pending[dir]; exists {
					t.Stop()
				}
				pending[dir] = time.AfterFunc(settle, func() {
					mu.Lock()
					delete(pending, dir)
					mu.Unlock()
					onChange(dir)
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				L_warn("importer: watch error", "error", err)
			}
		}
	}()

	return nil
}

// formatImportError prefixes an error with the file's basename and caps its
// length, since parser errors can embed the offending JSON record.
func formatImportError(path string, err error) string {
	const maxLen = 200
	msg := err.Error()
	if len(msg) > maxLen {
		if idx := strings.IndexAny(msg, "{["); idx >= 0 && idx < maxLen {
			msg = msg[:idx] + "... (truncated)"
		} else {
			msg = msg[:maxLen] + "..."
		}
	}
	return fmt.Sprintf("[%s] %s", filepath.Base(path), msg)
}
