package pairing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/allow2/internal/identity"
	"github.com/nextlevelbuilder/allow2/internal/store"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

func newTestStore(t *testing.T, initial map[string]string) (*Store, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore(initial)
	s := NewStore(store.KV{Store: mem}, identity.New("uuid-1", "dev-token", protocol.EnvProduction))
	require.NoError(t, s.Load())
	return s, mem
}

func TestStore_LoadDefaultsToUnpaired(t *testing.T) {
	s, _ := newTestStore(t, nil)
	assert.False(t, s.IsPaired())
	st := s.Snapshot()
	assert.Equal(t, 0, st.UserID)
	assert.Empty(t, st.PairToken)
	assert.Empty(t, st.Children)
}

func TestStore_LoadPersisted(t *testing.T) {
	s, _ := newTestStore(t, map[string]string{
		store.KeyUserID:    "12",
		store.KeyPairToken: "tok",
		store.KeyTimezone:  "Australia/Brisbane",
		store.KeyChildren:  `{"68":"Bob","69":"Alice"}`,
	})
	assert.True(t, s.IsPaired())
	st := s.Snapshot()
	assert.Equal(t, "Australia/Brisbane", st.Timezone)
	assert.Equal(t, map[int]string{68: "Bob", 69: "Alice"}, st.Children)
}

func TestStore_PairedRequiresBothFields(t *testing.T) {
	assert.False(t, State{UserID: 5}.Paired())
	assert.False(t, State{PairToken: "x"}.Paired())
	assert.True(t, State{UserID: 5, PairToken: "x"}.Paired())
}

func TestStore_ApplyPairingSuccessPersistsTogether(t *testing.T) {
	s, mem := newTestStore(t, nil)
	before := mem.Puts()

	require.NoError(t, s.ApplyPairingSuccess(9, "tok", 0, map[int]string{1: "Ann"}))
	assert.True(t, s.IsPaired())
	assert.Equal(t, before+1, mem.Puts())

	snap := mem.Snapshot()
	assert.Equal(t, "9", snap[store.KeyUserID])
	assert.Equal(t, "tok", snap[store.KeyPairToken])
	assert.JSONEq(t, `{"1":"Ann"}`, snap[store.KeyChildren])

	// A fresh store sees the same state.
	reloaded := NewStore(store.KV{Store: mem}, s.Identity())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, s.Snapshot(), reloaded.Snapshot())
}

func TestStore_ApplyRevocation(t *testing.T) {
	s, mem := newTestStore(t, map[string]string{
		store.KeyUserID:    "12",
		store.KeyPairToken: "tok",
		store.KeyChildID:   "68",
	})
	require.NoError(t, s.ApplyRevocation())
	assert.False(t, s.IsPaired())

	snap := mem.Snapshot()
	assert.Equal(t, "0", snap[store.KeyUserID])
	assert.NotContains(t, snap, store.KeyPairToken)
	assert.NotContains(t, snap, store.KeyChildID)
}

type brokenStore struct{ *store.MemoryStore }

func (brokenStore) Put(map[string]string) error { return errors.New("read-only") }

func TestStore_FailedPersistLeavesMemoryUntouched(t *testing.T) {
	s := NewStore(store.KV{Store: brokenStore{store.NewMemoryStore(nil)}}, identity.New("u", "t", protocol.EnvProduction))
	require.NoError(t, s.Load())

	assert.Error(t, s.ApplyPairingSuccess(1, "tok", 0, nil))
	assert.False(t, s.IsPaired())
}

func TestStore_RevocationClearsMemoryWhenPersistFails(t *testing.T) {
	mem := store.NewMemoryStore(map[string]string{store.KeyUserID: "7", store.KeyPairToken: "tok", store.KeyChildID: "3"})
	s := NewStore(store.KV{Store: brokenStore{mem}}, identity.New("u", "t", protocol.EnvProduction))
	require.NoError(t, s.Load())
	require.True(t, s.IsPaired())

	assert.Error(t, s.ApplyRevocation())
	assert.False(t, s.IsPaired())
	st := s.Snapshot()
	assert.Zero(t, st.UserID)
	assert.Empty(t, st.PairToken)
	assert.Zero(t, st.ChildID)
}

func TestStore_UpdateChildrenComparesByValue(t *testing.T) {
	s, mem := newTestStore(t, map[string]string{store.KeyChildren: `{"1":"Ann"}`})
	puts := mem.Puts()

	changed, err := s.UpdateChildren(map[int]string{1: "Ann"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, puts, mem.Puts())

	changed, err = s.UpdateChildren(map[int]string{1: "Ann", 2: "Ben"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, puts+1, mem.Puts())

	changed, err = s.UpdateChildren(map[int]string{1: "Annie", 2: "Ben"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, map[int]string{1: "Annie", 2: "Ben"}, s.Children())

	changed, err = s.UpdateChildren(nil)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStore_SetTimezone(t *testing.T) {
	s, mem := newTestStore(t, nil)
	require.NoError(t, s.SetTimezone("Europe/London"))
	assert.Equal(t, "Europe/London", mem.Snapshot()[store.KeyTimezone])
	assert.Error(t, s.SetTimezone("Mars/Olympus"))
	assert.Equal(t, "Europe/London", s.Snapshot().Timezone)
}

func TestStore_SetDeviceTokenFiresProbe(t *testing.T) {
	s, mem := newTestStore(t, nil)

	probed := make(chan string, 1)
	s.SetProber(func(ctx context.Context) error {
		probed <- s.Identity().DeviceToken()
		return errors.New("offline")
	})

	require.NoError(t, s.SetDeviceToken("new-token"))
	assert.Equal(t, "new-token", mem.Snapshot()[store.KeyDeviceToken])
	assert.Equal(t, "new-token", s.Identity().DeviceToken())

	select {
	case got := <-probed:
		assert.Equal(t, "new-token", got)
	case <-time.After(2 * time.Second):
		t.Fatal("probe not fired")
	}
}
