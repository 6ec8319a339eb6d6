package device

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/allow2/internal/authz"
	"github.com/nextlevelbuilder/allow2/internal/check"
	"github.com/nextlevelbuilder/allow2/internal/store"
	"github.com/nextlevelbuilder/allow2/internal/transport"
	"github.com/nextlevelbuilder/allow2/internal/transport/transporttest"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

type closeCounter struct {
	*store.MemoryStore
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func server() *transporttest.Fake {
	yes := true
	return transporttest.New(func(req transport.Request) (*transport.Response, error) {
		switch {
		case strings.HasSuffix(req.URL, protocol.PathPairDevice):
			return transporttest.JSON(200, protocol.PairDeviceResponse{
				Status:   protocol.StatusSuccess,
				UserID:   42,
				Token:    "pair-tok",
				Children: []protocol.ChildPayload{{ID: 68, Name: "Bob"}},
			}), nil
		case strings.HasSuffix(req.URL, protocol.PathCheck):
			return transporttest.JSON(200, protocol.CheckResponse{
				Allowed:    &yes,
				Activities: map[string]protocol.ActivityPayload{"1": {ID: protocol.ActivityInternet, Name: "Internet"}},
			}), nil
		case strings.HasSuffix(req.URL, protocol.PathIsDevicePaired):
			return transporttest.JSON(200, protocol.StatusResponse{Status: protocol.StatusSuccess}), nil
		}
		return transporttest.Raw(404, ""), nil
	})
}

func TestOpen_RequiresCollaborators(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestOpen_PersistsIdentityAndDefaults(t *testing.T) {
	mem := store.NewMemoryStore(nil)
	d, err := Open(Options{Store: mem, Transport: server(), DeviceToken: "dev-tok", Timezone: "Australia/Brisbane"})
	require.NoError(t, err)

	uuid := d.Identity().UUID()
	assert.NotEmpty(t, uuid)
	assert.Equal(t, "Australia/Brisbane", d.State().Timezone)
	assert.False(t, d.IsPaired())

	again, err := Open(Options{Store: mem, Transport: server(), Timezone: "Europe/London"})
	require.NoError(t, err)
	assert.Equal(t, uuid, again.Identity().UUID())
	assert.Equal(t, "dev-tok", again.Identity().DeviceToken())
	assert.Equal(t, "Australia/Brisbane", again.State().Timezone)
}

func TestDevice_PairThenCheck(t *testing.T) {
	fake := server()
	d, err := Open(Options{Store: store.NewMemoryStore(nil), Transport: fake, DeviceToken: "dev-tok"})
	require.NoError(t, err)
	defer d.Close()
	ctx := context.Background()

	_, err = d.Check(ctx, 68, []protocol.Activity{protocol.ActivityInternet}, true)
	assert.ErrorIs(t, err, protocol.ErrNotPaired)

	res, err := d.Pair(ctx, "fred@example.com", "pw", "Lounge")
	require.NoError(t, err)
	assert.Equal(t, 42, res.UserID)
	assert.Equal(t, map[int]string{68: "Bob"}, d.Children())

	out, err := d.Check(ctx, 68, []protocol.Activity{protocol.ActivityInternet}, true)
	require.NoError(t, err)
	assert.True(t, out.Allowed())
}

func TestDevice_SetDeviceTokenProbes(t *testing.T) {
	fake := server()
	d, err := Open(Options{Store: store.NewMemoryStore(nil), Transport: fake})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.SetDeviceToken("new-tok"))
	assert.Equal(t, "new-tok", d.Identity().DeviceToken())
	assert.Eventually(t, func() bool {
		return fake.CallsTo(protocol.PathIsDevicePaired) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestOpen_ConfiguredDeviceTokenProbes(t *testing.T) {
	fake := server()
	mem := store.NewMemoryStore(nil)
	d, err := Open(Options{Store: mem, Transport: fake, DeviceToken: "cfg-tok"})
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, "cfg-tok", d.Identity().DeviceToken())
	assert.Equal(t, "cfg-tok", mem.Snapshot()[store.KeyDeviceToken])
	assert.Eventually(t, func() bool {
		return fake.CallsTo(protocol.PathIsDevicePaired) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDevice_CloseStopsLoopsOnce(t *testing.T) {
	backend := &closeCounter{MemoryStore: store.NewMemoryStore(map[string]string{
		store.KeyUserID:    "42",
		store.KeyPairToken: "pair-tok",
	})}
	d, err := Open(Options{Store: backend, Transport: server(), CheckInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	d.StartChecking(context.Background(), 68, []protocol.Activity{protocol.ActivityInternet}, false, func(*authz.Result, error) {})
	assert.True(t, d.IsChecking())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.False(t, d.IsChecking())
	assert.False(t, d.IsPairing())
	assert.Equal(t, 1, backend.closes)
}

func TestDevice_RequestNeedsPairing(t *testing.T) {
	d, err := Open(Options{Store: store.NewMemoryStore(nil), Transport: server()})
	require.NoError(t, err)
	defer d.Close()

	err = d.Request(context.Background(), check.ChildRequest{ChildID: 68, DayType: 2})
	assert.ErrorIs(t, err, protocol.ErrNotPaired)
}

func TestDevice_Unpair(t *testing.T) {
	d, err := Open(Options{Store: store.NewMemoryStore(map[string]string{
		store.KeyUserID:    "42",
		store.KeyPairToken: "pair-tok",
		store.KeyChildren:  `{"68":"Bob"}`,
	}), Transport: server()})
	require.NoError(t, err)
	defer d.Close()

	require.True(t, d.IsPaired())
	require.NoError(t, d.Unpair())
	assert.False(t, d.IsPaired())
	assert.Equal(t, map[int]string{68: "Bob"}, d.Children())
}
