// Package storage provides the record storage abstraction for identities,
// MFA credentials, and catalog projects.
package storage

import "errors"

// Record kinds. Each kind occupies its own key space; within a kind,
// List returns ids in lexicographic order.
const (
	KindIdentity   = "identity"
	KindCredential = "credential"
	KindProject    = "project"
)

// ErrNotFound is returned when no record exists for the requested key.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for durable record storage. Values are
// opaque byte slices; callers own the (de)serialization.
type Repository interface {
	Put(kind string, id string, data []byte) error
	Get(kind string, id string) ([]byte, error)
	// List returns all record ids of the given kind in key order.
	List(kind string) ([]string, error)
	// ListPrefix returns ids of the given kind whose id starts with
	// prefix, in key order. Used for per-identity credential lookups.
	ListPrefix(kind string, prefix string) ([]string, error)
	Delete(kind string, id string) error
}
