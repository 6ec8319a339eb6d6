package keyring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/allow2/internal/store"
)

type failingStore struct{ store.MemoryStore }

func (f *failingStore) Put(map[string]string) error { return errors.New("disk full") }

func TestOverlay_SplitsSecrets(t *testing.T) {
	gokeyring.MockInit()
	base := store.NewMemoryStore(nil)
	o := New(base, "", "dev1")

	require.NoError(t, o.Put(map[string]string{
		store.KeyPairToken: "tok",
		store.KeyUserID:    "5",
	}))

	assert.Equal(t, map[string]string{store.KeyUserID: "5"}, base.Snapshot())

	v, err := o.Get(store.KeyPairToken)
	require.NoError(t, err)
	assert.Equal(t, "tok", v)

	raw, err := gokeyring.Get(DefaultService, "dev1:"+store.KeyPairToken)
	require.NoError(t, err)
	assert.Equal(t, "tok", raw)
}

func TestOverlay_DeleteMissingSecretIsNoop(t *testing.T) {
	gokeyring.MockInit()
	o := New(store.NewMemoryStore(nil), "svc", "")

	require.NoError(t, o.Put(map[string]string{store.KeyPairToken: ""}))
	v, err := o.Get(store.KeyPairToken)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestOverlay_RestoresSecretsWhenBaseFails(t *testing.T) {
	gokeyring.MockInit()
	require.NoError(t, gokeyring.Set("svc", store.KeyPairToken, "old"))

	o := New(&failingStore{}, "svc", "")
	err := o.Put(map[string]string{store.KeyPairToken: "new", store.KeyUserID: "9"})
	require.Error(t, err)

	v, err := o.Get(store.KeyPairToken)
	require.NoError(t, err)
	assert.Equal(t, "old", v)
}
