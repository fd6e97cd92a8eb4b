package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlindgren/vitrine/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewRepositoryFromFile(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Put(storage.KindIdentity, "sub-1", []byte(`{"email":"op@example.com"}`)))

	data, err := s.Get(storage.KindIdentity, "sub-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"op@example.com"}`, string(data))
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)

	_, err := s.Get(storage.KindProject, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Unknown bucket behaves the same as unknown key.
	_, err = s.Get("nonexistent-kind", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Put(storage.KindProject, "p1", []byte("x")))
	require.NoError(t, s.Delete(storage.KindProject, "p1"))

	_, err := s.Get(storage.KindProject, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.Delete(storage.KindProject, "p1"), storage.ErrNotFound)
}

func TestListPrefixKeyOrder(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Put(storage.KindCredential, "sub-b/c1", []byte("1")))
	require.NoError(t, s.Put(storage.KindCredential, "sub-a/c2", []byte("2")))
	require.NoError(t, s.Put(storage.KindCredential, "sub-a/c1", []byte("3")))

	ids, err := s.ListPrefix(storage.KindCredential, "sub-a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-a/c1", "sub-a/c2"}, ids)

	all, err := s.List(storage.KindCredential)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-a/c1", "sub-a/c2", "sub-b/c1"}, all)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(storage.KindProject, "keep", []byte("v")))
	require.NoError(t, s.Close())

	s2, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	data, err := s2.Get(storage.KindProject, "keep")
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
}
