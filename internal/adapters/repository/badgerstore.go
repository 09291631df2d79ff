package repository

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/custseg/pkg/logger"
	"github.com/okian/custseg/pkg/metrics"
)

const artifactKeyPrefix = "artifact:"

// BadgerStore keeps artifacts in an embedded BadgerDB under
// "artifact:{name}:{version}" keys. Versions are zero padded so key order is
// version order.
type BadgerStore struct {
	db     *badger.DB
	opts   options
	logger logger.Logger
	closed atomic.Bool
}

// NewBadgerStore opens a BadgerDB at dir.
func NewBadgerStore(dir string, opts ...Option) (*BadgerStore, error) {
	o := applyOptions(opts)
	log := o.logger.Named("artifact-store")

	bopts := badger.DefaultOptions(dir)
	if o.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(badgerLogger{log: log})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger artifact store: %w", err)
	}
	return &BadgerStore{db: db, opts: o, logger: log}, nil
}

// NewBadgerStoreFromDB wraps an already open database.
func NewBadgerStoreFromDB(db *badger.DB, opts ...Option) *BadgerStore {
	o := applyOptions(opts)
	return &BadgerStore{db: db, opts: o, logger: o.logger.Named("artifact-store")}
}

func versionKey(name string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", artifactKeyPrefix, name, version))
}

func namePrefix(name string) []byte {
	return []byte(artifactKeyPrefix + name + ":")
}

// Save stores data as the next version. The version lookup and the write
// share one transaction, so concurrent saves cannot reuse a version.
func (s *BadgerStore) Save(ctx context.Context, meta Metadata, data []byte) (Metadata, error) {
	if s.closed.Load() {
		return Metadata{}, ErrClosed
	}
	if err := checkName(meta.Name); err != nil {
		return Metadata{}, err
	}
	meta.Checksum = checksum(data)
	meta.SizeBytes = int64(len(data))
	meta.SavedAt = s.opts.now().UTC()

	err := s.db.Update(func(txn *badger.Txn) error {
		latest, err := latestIn(txn, meta.Name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		meta.Version = latest.Version + 1

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(storedArtifact{Metadata: meta, Data: data}); err != nil {
			return fmt.Errorf("encode artifact: %w", err)
		}
		return txn.Set(versionKey(meta.Name, meta.Version), buf.Bytes())
	})
	if err != nil {
		metrics.RecordArtifactOp(BackendBadger, "save", "failure")
		return Metadata{}, fmt.Errorf("save artifact: %w", err)
	}

	metrics.RecordArtifactOp(BackendBadger, "save", "success")
	metrics.UpdateArtifactSize(meta.SizeBytes)
	s.logger.Info(ctx, "artifact saved",
		logger.String("name", meta.Name),
		logger.Int("version", meta.Version),
		logger.Int64("size_bytes", meta.SizeBytes),
	)

	if s.opts.keep > 0 {
		if _, err := s.Prune(ctx, meta.Name, s.opts.keep); err != nil {
			s.logger.Warn(ctx, "prune after save failed", logger.Error(err))
		}
	}
	return meta, nil
}

// latestIn returns the newest version's metadata within txn.
func latestIn(txn *badger.Txn, name string) (Metadata, error) {
	var (
		latest Metadata
		found  bool
	)
	err := scan(txn, name, func(sa storedArtifact) error {
		latest, found = sa.Metadata, true
		return nil
	})
	if err != nil {
		return Metadata{}, err
	}
	if !found {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return latest, nil
}

// scan visits every version of name in ascending order.
func scan(txn *badger.Txn, name string, fn func(storedArtifact) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := namePrefix(name)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var sa storedArtifact
		err := it.Item().Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&sa)
		})
		if err != nil {
			return fmt.Errorf("%w: decode %s: %w", ErrChecksum, it.Item().Key(), err)
		}
		if err := fn(sa); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a version; 0 means latest.
func (s *BadgerStore) Load(ctx context.Context, name string, version int) ([]byte, Metadata, error) {
	if s.closed.Load() {
		return nil, Metadata{}, ErrClosed
	}
	var sa storedArtifact
	err := s.db.View(func(txn *badger.Txn) error {
		if version == 0 {
			latest, err := latestIn(txn, name)
			if err != nil {
				return err
			}
			version = latest.Version
		}
		item, err := txn.Get(versionKey(name, version))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s v%d", ErrNotFound, name, version)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&sa); err != nil {
				return fmt.Errorf("%w: decode %s v%d: %w", ErrChecksum, name, version, err)
			}
			return nil
		})
	})
	if err == nil {
		err = verify(sa)
	}
	if err != nil {
		metrics.RecordArtifactOp(BackendBadger, "load", "failure")
		return nil, Metadata{}, err
	}
	metrics.RecordArtifactOp(BackendBadger, "load", "success")
	return sa.Data, sa.Metadata, nil
}

// List returns metadata for every version of name, oldest first.
func (s *BadgerStore) List(ctx context.Context, name string) ([]Metadata, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, name, func(sa storedArtifact) error {
			out = append(out, sa.Metadata)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

// Prune deletes all but the newest keep versions.
func (s *BadgerStore) Prune(ctx context.Context, name string, keep int) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if keep < 1 {
		return 0, nil
	}
	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		var versions []int
		if err := scan(txn, name, func(sa storedArtifact) error {
			versions = append(versions, sa.Metadata.Version)
			return nil
		}); err != nil {
			return err
		}
		if len(versions) <= keep {
			return nil
		}
		for _, v := range versions[:len(versions)-keep] {
			if err := txn.Delete(versionKey(name, v)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune artifacts: %w", err)
	}
	if removed > 0 {
		metrics.RecordArtifactOp(BackendBadger, "prune", "success")
		s.logger.Debug(ctx, "pruned artifacts", logger.String("name", name), logger.Int("removed", removed))
	}
	return removed, nil
}

// Close closes the database. Further calls return ErrClosed.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// badgerLogger routes badger's internal logging into the service logger.
// Info and debug chatter is demoted to debug.
type badgerLogger struct {
	log logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.log.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}
