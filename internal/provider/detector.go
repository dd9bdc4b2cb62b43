// Package provider dispatches a transcript file to the parser that can
// decode it, without assuming any parser package as a dependency: each
// parser registers a Sniffer describing how to recognize its own files.
package provider

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

// sniffPrefixBytes bounds how much of a candidate file a content sniffer may
// inspect. Detection must never read an entire large file just to reject it.
const sniffPrefixBytes = 64 * 1024

// Sniffer is implemented once per provider and registered with a Detector in
// precedence order (A before B before C before D, matching the dispatch
// order spec'd for ambiguity resolution).
type Sniffer interface {
	// Provider is the identifier this sniffer recognizes.
	Provider() models.Provider

	// SniffContent inspects a bounded prefix of the file (already opened and
	// read by the detector) and reports whether it looks like this
	// provider's format. Implementations must not assume the prefix ends on
	// a record boundary.
	SniffContent(prefix []byte) bool

	// AcceptsFilename gates the filename-heuristic and extension-dispatch
	// fallback steps: even when a filename or extension rule matches, the
	// provider is only chosen if this also returns true (e.g. Provider A
	// requires a UUID-shaped basename, Provider D requires a "session-"
	// prefix).
	AcceptsFilename(name string) bool

	// FilenameHints are substrings whose presence in the basename is a weak
	// signal for this provider, tried only after every sniffer's
	// SniffContent has failed to match.
	FilenameHints() []string

	// DefaultExtensions lists the file extensions (without the leading dot)
	// for which this provider is the default when extension-only dispatch
	// is reached.
	DefaultExtensions() []string
}

// Detector resolves a file path to the provider that should parse it.
type Detector struct {
	sniffers []Sniffer // precedence order
}

// New builds a Detector from sniffers, which must be supplied in the
// desired precedence order.
func New(sniffers ...Sniffer) *Detector {
	return &Detector{sniffers: sniffers}
}

// Detect returns the provider recognized for path, or ok=false if no
// sniffer claims it. A false result is not an error: the caller should
// silently skip the file.
func (d *Detector) Detect(path string) (models.Provider, bool, error) {
	prefix, err := readPrefix(path, sniffPrefixBytes)
	if err != nil {
		return "", false, err
	}

	if p, ok := d.byContent(prefix); ok {
		return p, true, nil
	}

	base := filepath.Base(path)
	if p, ok := d.byFilenameHint(base); ok {
		return p, true, nil
	}

	if p, ok := d.byExtension(base); ok {
		return p, true, nil
	}

	return "", false, nil
}

func (d *Detector) byContent(prefix []byte) (models.Provider, bool) {
	for _, s := range d.sniffers {
		if s.SniffContent(prefix) {
			return s.Provider(), true
		}
	}
	return "", false
}

func (d *Detector) byFilenameHint(base string) (models.Provider, bool) {
	lower := strings.ToLower(base)
	for _, s := range d.sniffers {
		if !s.AcceptsFilename(base) {
			continue
		}
		for _, hint := range s.FilenameHints() {
			if strings.Contains(lower, strings.ToLower(hint)) {
				return s.Provider(), true
			}
		}
	}
	return "", false
}

func (d *Detector) byExtension(base string) (models.Provider, bool) {
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if ext == "" {
		return "", false
	}
	for _, s := range d.sniffers {
		if !s.AcceptsFilename(base) {
			continue
		}
		for _, e := range s.DefaultExtensions() {
			if strings.EqualFold(e, ext) {
				return s.Provider(), true
			}
		}
	}
	return "", false
}

// readPrefix reads up to n bytes from path without holding the file open
// any longer than necessary.
func readPrefix(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	r := bufio.NewReader(f)
	read, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}
