package cursor

import (
	"bytes"
	"path/filepath"

	"github.com/roelfdiedericks/goclaw/internal/models"
)

// sqliteMagic is the fixed 16-byte header every SQLite database file starts
// with.
var sqliteMagic = []byte("SQLite format 3\x00")

// Sniffer recognizes Cursor's state.vscdb SQLite databases. Content is
// binary, so detection is the SQLite file magic rather than a JSON shape;
// table presence (ItemTable/cursorDiskKV) is confirmed once Parse opens it.
type Sniffer struct{}

func (Sniffer) Provider() models.Provider { return models.ProviderCursor }

func (Sniffer) SniffContent(prefix []byte) bool {
	return bytes.HasPrefix(prefix, sqliteMagic)
}

// AcceptsFilename requires the exact "state.vscdb" basename Cursor always
// uses for both workspace and global storage.
func (Sniffer) AcceptsFilename(name string) bool {
	return filepath.Base(name) == "state.vscdb"
}

func (Sniffer) FilenameHints() []string { return []string{"state.vscdb"} }

func (Sniffer) DefaultExtensions() []string { return []string{"vscdb"} }
