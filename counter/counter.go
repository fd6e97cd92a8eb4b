// Package counter implements the durable download-counter store: one JSON
// file mapping resource id to a count entry. All mutations pass through a
// single serialized lane so concurrent increments are never lost; reads
// come from the last committed snapshot and may trail an in-flight
// mutation, which is an accepted relaxation for display counts.
package counter

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mlindgren/vitrine/internal/util"
)

// Entry is the durable per-resource record.
type Entry struct {
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
	LastFile  string    `json:"lastFile,omitempty"`
	LastPath  string    `json:"lastPath,omitempty"`
}

// Store persists entries keyed by resource id in a single file.
//
// writeMu is the mutation lane: a mutation holds it from the moment it
// reads the current mapping until its rewrite has reached disk, so two
// increments can never interleave their read-modify-write cycles.
// snapMu only guards the published snapshot that readers consult.
type Store struct {
	path string

	writeMu sync.Mutex

	snapMu   sync.RWMutex
	snapshot map[string]Entry
}

// Open loads the store at path, persisting an empty mapping first if no
// backing file exists yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		entries := make(map[string]Entry)
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parsing counter file %s: %w", path, err)
		}
		s.snapshot = entries
	case os.IsNotExist(err):
		s.snapshot = make(map[string]Entry)
		if err := s.persist(s.snapshot); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("reading counter file %s: %w", path, err)
	}
	return s, nil
}

// Increment advances the count for id by one, stamping the update time and
// recording the triggering file/path references when provided. The new
// count is durable before Increment returns.
func (s *Store) Increment(id, fileRef, pathRef string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.copyCurrent()
	entry := next[id]
	entry.Count++
	entry.UpdatedAt = time.Now().UTC()
	if fileRef != "" {
		entry.LastFile = fileRef
	}
	if pathRef != "" {
		entry.LastPath = pathRef
	}
	next[id] = entry

	if err := s.persist(next); err != nil {
		return 0, err
	}

	s.snapMu.Lock()
	s.snapshot = next
	s.snapMu.Unlock()
	return entry.Count, nil
}

// Count returns the current count for id; zero for unknown ids.
func (s *Store) Count(id string) int64 {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapshot[id].Count
}

// Counts returns counts for the requested ids. Unknown ids are silently
// omitted from the result.
func (s *Store) Counts(ids []string) map[string]int64 {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()

	out := make(map[string]int64, len(ids))
	for _, id := range ids {
		if entry, ok := s.snapshot[id]; ok {
			out[id] = entry.Count
		}
	}
	return out
}

// Get returns the full entry for id.
func (s *Store) Get(id string) (Entry, bool) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	entry, ok := s.snapshot[id]
	return entry, ok
}

// copyCurrent clones the published snapshot for the next mutation.
// Callers must hold writeMu.
func (s *Store) copyCurrent() map[string]Entry {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	next := make(map[string]Entry, len(s.snapshot)+1)
	for k, v := range s.snapshot {
		next[k] = v
	}
	return next
}

func (s *Store) persist(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding counter file: %w", err)
	}
	if err := util.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing counter file: %w", err)
	}
	return nil
}
