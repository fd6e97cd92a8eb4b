// Package memory provides a thread-safe in-memory implementation of
// storage.Repository for tests and demos.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mlindgren/vitrine/storage"
)

// Repository is a thread-safe in-memory storage.Repository.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func (r *Repository) Put(kind, id string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[kind]; !ok {
		r.data[kind] = make(map[string][]byte)
	}
	r.data[kind][id] = append([]byte(nil), data...)
	return nil
}

func (r *Repository) Get(kind, id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records, ok := r.data[kind]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
	}
	v, ok := records[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (r *Repository) List(kind string) ([]string, error) {
	return r.ListPrefix(kind, "")
}

func (r *Repository) ListPrefix(kind, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id := range r.data[kind] {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Delete(kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, ok := r.data[kind]
	if !ok {
		return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
	}
	if _, ok := records[id]; !ok {
		return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
	}
	delete(records, id)
	return nil
}
