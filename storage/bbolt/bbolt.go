// Package bbolt provides a BBolt-backed storage repository. The whole
// catalog lives in one database file; BBolt serializes writers while
// letting readers proceed, which matches the single-instance deployment
// model (the file lock also rejects a second process).
package bbolt

import (
	"bytes"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/mlindgren/vitrine/storage"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and
// returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(kind, id string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(kind))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *Store) Get(kind, id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
		}
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) List(kind string) ([]string, error) {
	return s.ListPrefix(kind, "")
}

func (s *Store) ListPrefix(kind, prefix string) ([]string, error) {
	var ids []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			ids = append(ids, string(k))
		}
		return nil
	})
	return ids, err
}

func (s *Store) Delete(kind, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil || b.Get([]byte(id)) == nil {
			return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}
