// Package store implements the concurrent in-memory record store.
//
// The store is the single shared mutable resource between the dispatcher's
// synchronous path and the worker loop. It is sharded so operations on
// different keys proceed in parallel without a global lock; operations on the
// same key are serialized by that key's shard. Scan takes a snapshot at call
// time, so a long export never blocks an unrelated single-record update for
// longer than the snapshot copy of one shard.
package store

import (
	"hash/fnv"
	"iter"
	"strings"
	"sync"

	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/record"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	records map[string]record.Record
}

// Store is a concurrent map of record ID to Record with per-key versioning.
// The zero value is not usable; construct with New.
type Store struct {
	shards [shardCount]*shard
}

// New creates an empty store
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]record.Record)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// Put inserts or replaces the record under id, bumping its version.
// It returns the previous record, or nil if id was absent (last-writer-wins;
// use CompareAndPut to detect concurrent updates).
func (s *Store) Put(id string, rec record.Record) *record.Record {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec.ID = id
	prev, existed := sh.records[id]
	if existed {
		rec.Version = prev.Version + 1
	} else {
		rec.Version = 1
	}
	sh.records[id] = rec

	if existed {
		return &prev
	}
	return nil
}

// Get returns the record under id or ErrNotFound
func (s *Store) Get(id string) (record.Record, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.records[id]
	if !ok {
		return record.Record{}, errors.ErrNotFound
	}
	return rec, nil
}

// Delete removes and returns the record under id, or ErrNotFound
func (s *Store) Delete(id string) (record.Record, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return record.Record{}, errors.ErrNotFound
	}
	delete(sh.records, id)
	return rec, nil
}

// CompareAndPut replaces the record under id only if its current version
// equals expectedVersion. A stale version returns ErrVersionConflict without
// mutating the store; an absent id returns ErrNotFound.
func (s *Store) CompareAndPut(id string, expectedVersion int64, rec record.Record) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, ok := sh.records[id]
	if !ok {
		return errors.ErrNotFound
	}
	if current.Version != expectedVersion {
		return errors.ErrVersionConflict
	}

	rec.ID = id
	rec.Version = current.Version + 1
	sh.records[id] = rec
	return nil
}

// Scan returns an iterator over a snapshot of the store taken at call time.
// Each call yields an independent, restartable sequence. Ordering is not
// guaranteed.
func (s *Store) Scan() iter.Seq[record.Record] {
	snapshot := s.snapshot()
	return func(yield func(record.Record) bool) {
		for _, rec := range snapshot {
			if !yield(rec) {
				return
			}
		}
	}
}

func (s *Store) snapshot() []record.Record {
	var out []record.Record
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rec := range sh.records {
			out = append(out, rec)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of stored records
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}

// EmailExists reports whether any stored record carries the given email
// (case-insensitive). Used by the dispatcher to enforce email uniqueness on
// create before any side effect. The check and the subsequent Put are not
// one atomic operation, so uniqueness is best effort: two concurrent creates
// racing on the same email can both pass.
func (s *Store) EmailExists(email string) bool {
	email = strings.ToLower(email)
	for rec := range s.Scan() {
		if rec.Email == email {
			return true
		}
	}
	return false
}
