// Package idgen generates the deterministic identifiers the ingestion
// pipeline needs when a source provider does not supply its own: message
// UUIDs for line-oriented formats that omit per-message IDs, and a stable
// file hash used to detect whether a previously imported source file has
// since been rewritten.
package idgen

import (
	"fmt"
	"hash/fnv"
	"os"

	"github.com/google/uuid"
)

// DeterministicUUID derives a stable UUID from seed. The 64-bit FNV-1a sum
// of seed is concatenated with itself into 16 bytes and stamped as UUID
// version 4 / RFC 4122 variant bits, so the same seed always yields the
// same UUID regardless of host or run. FNV-1a is used rather than Go's
// map-seeded hash/maphash (which is randomized per process and cannot
// reproduce a prior run's IDs) and rather than a cryptographic hash (no
// collision-resistance requirement here, only stability).
func DeterministicUUID(seed string) uuid.UUID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum64()

	var b [16]byte
	for i := 0; i < 8; i++ {
		shift := uint(56 - 8*i)
		b[i] = byte(sum >> shift)
		b[i+8] = byte(sum >> shift)
	}

	var id uuid.UUID
	copy(id[:], b[:])
	id[6] = (id[6] & 0x0f) | 0x40 // version 4
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant
	return id
}

// MessageUUID derives a stable message ID from a session ID and the
// message's position (or native source ID, when one exists but isn't
// itself UUID-shaped).
func MessageUUID(sessionID string, indexOrSourceID string) uuid.UUID {
	return DeterministicUUID(fmt.Sprintf("%s:%s", sessionID, indexOrSourceID))
}

// FileHash returns a stable hash of a file's identity: its path, size, and
// modification time. Two imports of an unchanged file produce the same
// hash; editing, truncating, or replacing the file changes it.
func FileHash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	var sizeBuf [8]byte
	putUint64(&sizeBuf, uint64(info.Size()))
	h.Write(sizeBuf[:])
	var mtimeBuf [8]byte
	putUint64(&mtimeBuf, uint64(info.ModTime().Unix()))
	h.Write(mtimeBuf[:])

	return fmt.Sprintf("%x", h.Sum64()), nil
}

func putUint64(b *[8]byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> uint(56-8*i))
	}
}
