// Package uuid wraps google/uuid behind the one call sites need.
package uuid

import "github.com/google/uuid"

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}
