// Package badger implements core.Store over an embedded BadgerDB database,
// used as a local blob cache tier when consumers re-read transitions across
// process restarts. An empty path opens an in-memory database for tests.
package badger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"snapfeed/internal/blob/core"
)

const metaSuffix = "\x00meta"

// Store implements core.Store backed by BadgerDB. Blob bytes live under the
// key itself; a metadata record lives under key+metaSuffix.
type Store struct {
	db *badger.DB
	// closeOnce guards Close, which Badger does not make idempotent.
	closeOnce sync.Once
	closeErr  error
}

type metaRecord struct {
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ETag         string            `json:"etag"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
}

// New opens a Badger-backed blob store at path, or in memory when path is
// empty. Badger's internal logging is disabled; callers own lifecycle via
// Close.
func New(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger blob store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database. Safe to call multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

func (s *Store) Driver() core.Driver { return core.DriverBadger }

// Put stores a new blob; errors if key exists.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	h := sha256.Sum256(b)
	meta := metaRecord{
		ContentType:  opts.ContentType,
		Metadata:     cloneMetadata(opts.Metadata),
		ETag:         hex.EncodeToString(h[:]),
		Size:         int64(len(b)),
		LastModified: time.Now().UTC(),
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return core.Info{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			return fmt.Errorf("blob %s already exists", key)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set([]byte(key), b); err != nil {
			return err
		}
		return txn.Set([]byte(key+metaSuffix), mb)
	})
	if err != nil {
		return core.Info{}, err
	}
	return infoFromMeta(key, meta), nil
}

// Get returns blob metadata and a read closer to its content.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, nil, err
	}
	var data []byte
	var meta metaRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return err
		}
		return readMeta(txn, key, &meta)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	return infoFromMeta(key, meta), io.NopCloser(bytes.NewReader(data)), nil
}

// Head returns blob metadata only.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	var meta metaRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return readMeta(txn, key, &meta)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, err
	}
	return infoFromMeta(key, meta), nil
}

// Delete removes the blob returning true if it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key + metaSuffix))
	})
	return existed, err
}

// List returns all blobs matching prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var infos []core.Info
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().KeyCopy(nil))
			if len(key) > len(metaSuffix) && key[len(key)-len(metaSuffix):] == metaSuffix {
				continue
			}
			var meta metaRecord
			if err := readMeta(txn, key, &meta); err != nil {
				return err
			}
			infos = append(infos, infoFromMeta(key, meta))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func readMeta(txn *badger.Txn, key string, out *metaRecord) error {
	item, err := txn.Get([]byte(key + metaSuffix))
	if err != nil {
		return err
	}
	return item.Value(func(v []byte) error { return json.Unmarshal(v, out) })
}

func infoFromMeta(key string, meta metaRecord) core.Info {
	return core.Info{
		Key:          key,
		Size:         meta.Size,
		ContentType:  meta.ContentType,
		ETag:         meta.ETag,
		Metadata:     cloneMetadata(meta.Metadata),
		LastModified: meta.LastModified,
	}
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
