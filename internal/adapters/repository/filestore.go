package repository

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/okian/custseg/pkg/logger"
	"github.com/okian/custseg/pkg/metrics"
)

const (
	artifactExt  = ".cseg"
	sidecarExt   = ".json"
	dirPerm      = 0o750
	artifactPerm = 0o640
)

// FileStore keeps one file per version, named {name}_v{version}.cseg, next
// to a {name}_v{version}.json copy of its metadata for listing.
type FileStore struct {
	dir    string
	opts   options
	logger logger.Logger

	mu       sync.RWMutex
	versions map[string][]int // ascending
}

// NewFileStore opens or creates a store rooted at dir.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	o := applyOptions(opts)
	s := &FileStore{
		dir:      dir,
		opts:     o,
		logger:   o.logger.Named("artifact-store"),
		versions: make(map[string][]int),
	}
	if err := s.scan(); err != nil {
		return nil, fmt.Errorf("scan artifacts: %w", err)
	}
	return s, nil
}

func (s *FileStore) scan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactExt) {
			continue
		}
		name, version, ok := parseArtifactFilename(strings.TrimSuffix(e.Name(), artifactExt))
		if !ok {
			continue
		}
		s.versions[name] = append(s.versions[name], version)
	}
	for name := range s.versions {
		sort.Ints(s.versions[name])
	}
	return nil
}

// parseArtifactFilename splits "custseg_v12" into "custseg" and 12.
func parseArtifactFilename(base string) (string, int, bool) {
	i := strings.LastIndex(base, "_v")
	if i <= 0 {
		return "", 0, false
	}
	v, err := strconv.Atoi(base[i+2:])
	if err != nil || v <= 0 {
		return "", 0, false
	}
	return base[:i], v, true
}

func (s *FileStore) path(name string, version int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_v%d%s", name, version, artifactExt))
}

func (s *FileStore) sidecarPath(name string, version int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_v%d%s", name, version, sidecarExt))
}

// writeSidecar is best effort; List falls back to the artifact itself.
func (s *FileStore) writeSidecar(ctx context.Context, meta Metadata) {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err == nil {
		err = os.WriteFile(s.sidecarPath(meta.Name, meta.Version), b, artifactPerm)
	}
	if err != nil {
		s.logger.Warn(ctx, "metadata sidecar not written",
			logger.String("name", meta.Name), logger.Int("version", meta.Version), logger.Error(err))
	}
}

func (s *FileStore) readSidecar(name string, version int) (Metadata, bool) {
	var meta Metadata
	b, err := os.ReadFile(s.sidecarPath(name, version))
	if err != nil || json.Unmarshal(b, &meta) != nil {
		return Metadata{}, false
	}
	if meta.Name != name || meta.Version != version {
		return Metadata{}, false
	}
	return meta, true
}

// Save writes data as the next version.
func (s *FileStore) Save(ctx context.Context, meta Metadata, data []byte) (Metadata, error) {
	if err := checkName(meta.Name); err != nil {
		return Metadata{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	vs := s.versions[meta.Name]
	meta.Version = 1
	if len(vs) > 0 {
		meta.Version = vs[len(vs)-1] + 1
	}
	meta.Checksum = checksum(data)
	meta.SizeBytes = int64(len(data))
	meta.SavedAt = s.opts.now().UTC()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(storedArtifact{Metadata: meta, Data: data}); err != nil {
		metrics.RecordArtifactOp(BackendFile, "save", "failure")
		return Metadata{}, fmt.Errorf("encode artifact: %w", err)
	}

	// Write to a temp file first so a crash never leaves a half-written version.
	final := s.path(meta.Name, meta.Version)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), artifactPerm); err != nil {
		metrics.RecordArtifactOp(BackendFile, "save", "failure")
		return Metadata{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		metrics.RecordArtifactOp(BackendFile, "save", "failure")
		return Metadata{}, fmt.Errorf("commit artifact: %w", err)
	}
	s.versions[meta.Name] = append(vs, meta.Version)
	s.writeSidecar(ctx, meta)

	metrics.RecordArtifactOp(BackendFile, "save", "success")
	metrics.UpdateArtifactSize(meta.SizeBytes)
	s.logger.Info(ctx, "artifact saved",
		logger.String("name", meta.Name),
		logger.Int("version", meta.Version),
		logger.Int64("size_bytes", meta.SizeBytes),
	)

	if s.opts.keep > 0 {
		if _, err := s.pruneLocked(ctx, meta.Name, s.opts.keep); err != nil {
			s.logger.Warn(ctx, "prune after save failed", logger.Error(err))
		}
	}
	return meta, nil
}

// Load reads a version; 0 means latest.
func (s *FileStore) Load(ctx context.Context, name string, version int) ([]byte, Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == 0 {
		vs := s.versions[name]
		if len(vs) == 0 {
			return nil, Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		version = vs[len(vs)-1]
	}
	sa, err := s.read(name, version)
	if err != nil {
		metrics.RecordArtifactOp(BackendFile, "load", "failure")
		return nil, Metadata{}, err
	}
	metrics.RecordArtifactOp(BackendFile, "load", "success")
	return sa.Data, sa.Metadata, nil
}

func (s *FileStore) read(name string, version int) (storedArtifact, error) {
	var sa storedArtifact
	raw, err := os.ReadFile(s.path(name, version))
	if errors.Is(err, fs.ErrNotExist) {
		return sa, fmt.Errorf("%w: %s v%d", ErrNotFound, name, version)
	}
	if err != nil {
		return sa, fmt.Errorf("read artifact: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&sa); err != nil {
		return sa, fmt.Errorf("%w: decode %s v%d: %w", ErrChecksum, name, version, err)
	}
	if err := verify(sa); err != nil {
		return sa, err
	}
	return sa, nil
}

// List returns metadata for every version of name, oldest first. Unreadable
// files are skipped.
func (s *FileStore) List(ctx context.Context, name string) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Metadata, 0, len(s.versions[name]))
	for _, v := range s.versions[name] {
		if meta, ok := s.readSidecar(name, v); ok {
			out = append(out, meta)
			continue
		}
		sa, err := s.read(name, v)
		if err != nil {
			s.logger.Warn(ctx, "skipping unreadable artifact",
				logger.String("name", name), logger.Int("version", v), logger.Error(err))
			continue
		}
		out = append(out, sa.Metadata)
	}
	return out, nil
}

// Prune deletes all but the newest keep versions.
func (s *FileStore) Prune(ctx context.Context, name string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(ctx, name, keep)
}

func (s *FileStore) pruneLocked(ctx context.Context, name string, keep int) (int, error) {
	vs := s.versions[name]
	if keep < 1 || len(vs) <= keep {
		return 0, nil
	}
	drop := vs[:len(vs)-keep]
	removed := 0
	for _, v := range drop {
		if err := os.Remove(s.path(name, v)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.versions[name] = vs[removed:]
			return removed, fmt.Errorf("remove %s v%d: %w", name, v, err)
		}
		_ = os.Remove(s.sidecarPath(name, v))
		removed++
	}
	s.versions[name] = append([]int(nil), vs[len(vs)-keep:]...)
	metrics.RecordArtifactOp(BackendFile, "prune", "success")
	s.logger.Debug(ctx, "pruned artifacts", logger.String("name", name), logger.Int("removed", removed))
	return removed, nil
}

// Close is a no-op for files.
func (s *FileStore) Close() error { return nil }
