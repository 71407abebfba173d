// Package storage implements the clipboard history store: an ordered,
// deduplicated, capacity-bounded collection of clipboard entries persisted
// in BoltDB.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/types"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	entriesBucket = "entries"
	idsBucket     = "ids"

	defaultMaxEntries = 100
	eventBuffer       = 16
)

var (
	// ErrDuplicateEntry reports an append whose derived identity already
	// exists. Benign: callers absorb it, but dedup logic can detect it.
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrNotFound reports an operation on an unknown entry id.
	ErrNotFound = errors.New("entry not found")
)

// BoltStore is the canonical clipboard history. Keys in the entries bucket
// are monotonic sequence numbers, so bucket order equals insertion order
// and LIFO pagination is a backwards cursor walk. A second bucket maps
// derived entry IDs to sequence keys for dedup.
type BoltStore struct {
	db     *bbolt.DB
	cap    int
	logger *zap.Logger

	mu    sync.Mutex // serializes mutation and guards count
	count int

	subsMu sync.Mutex
	subs   []chan types.Event
}

// StoreConfig holds configuration for BoltStore initialization
type StoreConfig struct {
	DBPath     string
	MaxEntries int
	Logger     *zap.Logger
}

// NewBoltStore opens (or creates) the history database at cfg.DBPath.
func NewBoltStore(cfg StoreConfig) (*BoltStore, error) {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := bbolt.Open(cfg.DBPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(entriesBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(idsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	var count int
	err = db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).ForEach(func(k, v []byte) error {
			count++
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	s := &BoltStore{
		db:     db,
		cap:    maxEntries,
		logger: logger.With(zap.String("component", "storage")),
		count:  count,
	}

	s.logger.Debug("Store opened",
		zap.String("db_path", cfg.DBPath),
		zap.Int("max_entries", maxEntries),
		zap.Int("count", count))

	return s, nil
}

// Append inserts an entry at the head of history. Returns ErrDuplicateEntry
// if an entry with the same derived identity is already resident. After a
// successful insert the tail is evicted until the store is within capacity.
func (s *BoltStore) Append(entry *types.ClipboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = entry.DeriveID()
	}
	if entry.Created.IsZero() {
		entry.Created = time.Now()
	}

	inserted := *entry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket([]byte(entriesBucket))
		ids := tx.Bucket([]byte(idsBucket))

		if ids.Get([]byte(inserted.ID)) != nil {
			return ErrDuplicateEntry
		}

		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)

		encoded, err := json.Marshal(&inserted)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if err := entries.Put(key, encoded); err != nil {
			return err
		}
		if err := ids.Put([]byte(inserted.ID), key); err != nil {
			return err
		}

		// Evict from the tail until within capacity.
		for resident := s.count + 1; resident > s.cap; resident-- {
			c := entries.Cursor()
			k, v := c.First()
			if k == nil {
				break
			}
			var old types.ClipboardEntry
			if err := json.Unmarshal(v, &old); err == nil {
				if err := ids.Delete([]byte(old.ID)); err != nil {
					return err
				}
			}
			if err := entries.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateEntry) {
		s.logger.Debug("Duplicate entry absorbed", zap.String("id", inserted.ID))
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}

	s.count++
	if s.count > s.cap {
		s.count = s.cap
	}

	s.logger.Debug("Entry appended",
		zap.String("id", inserted.ID),
		zap.String("type", string(inserted.Type)),
		zap.Int("count", s.count))

	s.publish(types.Event{Kind: types.EventEntryAdded, Entry: &inserted})
	return nil
}

// Delete removes the entry with the given id. Returns ErrNotFound if absent.
func (s *BoltStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed types.ClipboardEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket([]byte(entriesBucket))
		ids := tx.Bucket([]byte(idsBucket))

		key := ids.Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		if v := entries.Get(key); v != nil {
			if err := json.Unmarshal(v, &removed); err != nil {
				s.logger.Warn("Failed to unmarshal entry being deleted", zap.Error(err))
			}
		}
		if err := entries.Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(id))
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	s.count--
	s.logger.Debug("Entry deleted", zap.String("id", id), zap.Int("count", s.count))

	// Tombstone event; deletions stay local but subscribers see them.
	s.publish(types.Event{Kind: types.EventEntryRemoved, Entry: &removed})
	return nil
}

// Clear removes all entries and returns the cleared set, most recent first,
// so the caller can keep an undo buffer.
func (s *BoltStore) Clear() ([]types.ClipboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared []types.ClipboardEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket([]byte(entriesBucket))
		c := entries.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e types.ClipboardEntry
			if err := json.Unmarshal(v, &e); err != nil {
				s.logger.Warn("Skipping unreadable entry during clear", zap.Error(err))
				continue
			}
			cleared = append(cleared, e)
		}

		if err := tx.DeleteBucket([]byte(entriesBucket)); err != nil {
			return err
		}
		if err := tx.DeleteBucket([]byte(idsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket([]byte(entriesBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(idsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clear history: %w", err)
	}

	s.count = 0
	s.logger.Info("History cleared", zap.Int("removed", len(cleared)))
	s.publish(types.Event{Kind: types.EventHistoryCleared})
	return cleared, nil
}

// Page returns a slice of history ordered most recent first. An offset at
// or beyond the count yields an empty slice, never an error. Each call
// reads a consistent snapshot: eviction cannot shift entries mid-request.
func (s *BoltStore) Page(offset, limit int) ([]types.ClipboardEntry, error) {
	if limit <= 0 || offset < 0 {
		return []types.ClipboardEntry{}, nil
	}

	result := make([]types.ClipboardEntry, 0, limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(entriesBucket)).Cursor()

		k, v := c.Last()
		for i := 0; i < offset && k != nil; i++ {
			k, v = c.Prev()
		}
		for ; k != nil && len(result) < limit; k, v = c.Prev() {
			var e types.ClipboardEntry
			if err := json.Unmarshal(v, &e); err != nil {
				s.logger.Warn("Skipping unreadable entry", zap.Error(err))
				continue
			}
			result = append(result, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to page history: %w", err)
	}
	return result, nil
}

// Count returns the number of resident entries.
func (s *BoltStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Subscribe returns a channel of store events. Delivery is best effort:
// a subscriber that falls behind misses events rather than blocking writers.
func (s *BoltStore) Subscribe() <-chan types.Event {
	ch := make(chan types.Event, eventBuffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) publish(ev types.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
