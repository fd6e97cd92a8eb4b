package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlindgren/vitrine/storage"
)

func TestPutGetDelete(t *testing.T) {
	r := NewRepository()

	require.NoError(t, r.Put(storage.KindProject, "alpha", []byte(`{"title":"Alpha"}`)))

	data, err := r.Get(storage.KindProject, "alpha")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Alpha"}`, string(data))

	require.NoError(t, r.Delete(storage.KindProject, "alpha"))

	_, err = r.Get(storage.KindProject, "alpha")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetMissing(t *testing.T) {
	r := NewRepository()
	_, err := r.Get(storage.KindIdentity, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = r.Delete(storage.KindIdentity, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListPrefixOrdered(t *testing.T) {
	r := NewRepository()
	require.NoError(t, r.Put(storage.KindCredential, "bob/cred2", []byte("b2")))
	require.NoError(t, r.Put(storage.KindCredential, "alice/cred1", []byte("a1")))
	require.NoError(t, r.Put(storage.KindCredential, "bob/cred1", []byte("b1")))

	all, err := r.List(storage.KindCredential)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice/cred1", "bob/cred1", "bob/cred2"}, all)

	bobs, err := r.ListPrefix(storage.KindCredential, "bob/")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob/cred1", "bob/cred2"}, bobs)
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRepository()
	require.NoError(t, r.Put(storage.KindProject, "p", []byte("abc")))

	data, err := r.Get(storage.KindProject, "p")
	require.NoError(t, err)
	data[0] = 'x'

	again, err := r.Get(storage.KindProject, "p")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
