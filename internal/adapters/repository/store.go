// Package repository stores versioned segmentation artifacts.
//
// Artifacts are opaque byte blobs. Each save under a name gets the next
// version number; Load with version 0 returns the latest.
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Metadata describes one stored artifact version.
type Metadata struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	TrainedAt time.Time `json:"trained_at"`
	SavedAt   time.Time `json:"saved_at"`
	K         int       `json:"k"`
	RowsKept  int       `json:"rows_kept"`
	Checksum  string    `json:"checksum"`
	SizeBytes int64     `json:"size_bytes"`
}

// Store persists artifact versions.
type Store interface {
	// Save stores data as the next version of meta.Name and returns the
	// completed metadata.
	Save(ctx context.Context, meta Metadata, data []byte) (Metadata, error)
	// Load returns the artifact bytes for a version; 0 means latest.
	// Returns ErrNotFound if nothing matches.
	Load(ctx context.Context, name string, version int) ([]byte, Metadata, error)
	// List returns metadata for every stored version, oldest first.
	List(ctx context.Context, name string) ([]Metadata, error)
	// Prune deletes all but the newest keep versions and returns how many
	// were removed.
	Prune(ctx context.Context, name string, keep int) (int, error)
	// Close releases the backend.
	Close() error
}

// Open creates a store for the configured backend.
func Open(backend, dir string, opts ...Option) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(dir, opts...)
	case BackendBadger:
		return NewBadgerStore(dir, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}

// storedArtifact is the record layout shared by both backends.
type storedArtifact struct {
	Metadata Metadata
	Data     []byte
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\:`) || strings.Contains(name, "_v") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func verify(sa storedArtifact) error {
	if got := checksum(sa.Data); got != sa.Metadata.Checksum {
		return fmt.Errorf("%w: %s v%d", ErrChecksum, sa.Metadata.Name, sa.Metadata.Version)
	}
	return nil
}
