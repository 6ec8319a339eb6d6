package authz

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

const sampleResponse = `{
	"allowed": false,
	"activities": {
		"1": {"id": 1, "name": "Internet", "timed": true, "remaining": 0, "expires": 1700000300,
		      "timeblock": {"allowed": true, "ends": 1700003600}},
		"3": {"id": 3, "name": "Gaming", "banned": true, "expires": 1700000000,
		      "bans": {"ids": [11], "bans": [{"id": 11, "title": "Gaming", "appliedAt": 1699990000, "durationMinutes": 60}]}},
		"8": {"id": 8, "name": "Screen Time", "timed": true, "remaining": 1800,
		      "timeblock": {"allowed": false, "ends": 1700007200}}
	},
	"subscription": {"active": true, "type": 2, "maxChildren": 6, "childCount": 2},
	"dayTypes": {"today": {"id": 23, "name": "School Day"}, "tomorrow": {"id": 24, "name": "Weekend"}},
	"allDayTypes": [{"id": 23, "name": "School Day"}, {"id": 24, "name": "Weekend"}],
	"children": [{"id": 68, "name": "Bob", "pin": "1234"}]
}`

func decode(t *testing.T, raw string) *protocol.CheckResponse {
	t.Helper()
	var resp protocol.CheckResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	return &resp
}

func TestFromResponse(t *testing.T) {
	r, err := FromResponse(decode(t, sampleResponse))
	require.NoError(t, err)

	assert.False(t, r.Allowed())
	assert.False(t, r.IsFailOpen())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), r.Expires())

	acts := r.Activities()
	require.Len(t, acts, 3)
	assert.Equal(t, protocol.ActivityInternet, acts[0].ID)
	assert.Equal(t, protocol.ActivityGaming, acts[1].ID)
	assert.Equal(t, protocol.ActivityScreenTime, acts[2].ID)

	gaming, ok := r.Activity(protocol.ActivityGaming)
	require.True(t, ok)
	assert.False(t, gaming.Allowed())
	require.Len(t, gaming.Bans, 1)
	assert.Equal(t, time.Hour, gaming.Bans[0].Duration)
	assert.False(t, gaming.Bans[0].Selected)

	st, _ := r.Activity(protocol.ActivityScreenTime)
	assert.Equal(t, 30*time.Minute, st.Remaining)
	assert.False(t, st.TimeBlockAllowed)

	sub, ok := r.Subscription()
	require.True(t, ok)
	assert.Equal(t, 6, sub.MaxChildren)

	today, ok := r.Today()
	require.True(t, ok)
	assert.Equal(t, "School Day", today.Name)
	assert.Len(t, r.AllDayTypes(), 2)
	assert.Equal(t, map[int]string{68: "Bob"}, r.ChildMap())
	assert.Len(t, r.Bans(), 1)
}

func TestFromResponse_MissingAllowed(t *testing.T) {
	_, err := FromResponse(decode(t, `{"activities": {}}`))
	assert.ErrorIs(t, err, protocol.ErrInvalidResponse)
}

func TestFromResponse_NoExpiry(t *testing.T) {
	r, err := FromResponse(decode(t, `{"allowed": true, "activities": {"1": {"id": 1}}}`))
	require.NoError(t, err)
	assert.True(t, r.Expires().IsZero())
	assert.Nil(t, r.ChildMap())

	act, ok := r.Activity(protocol.ActivityInternet)
	require.True(t, ok)
	assert.Equal(t, "Internet", act.Name)
	assert.True(t, act.Allowed())
}

func TestExplanation(t *testing.T) {
	r, err := FromResponse(decode(t, sampleResponse))
	require.NoError(t, err)
	assert.Equal(t,
		"You have used all your Internet time today.\n"+
			"You are currently banned from Gaming.\n"+
			"You cannot use Screen Time at this time.",
		r.Explanation())

	ok, _ := FromResponse(decode(t, `{"allowed": true}`))
	assert.Empty(t, ok.Explanation())
}

func TestFailOpen(t *testing.T) {
	r := FailOpen()
	assert.True(t, r.Allowed())
	assert.True(t, r.IsFailOpen())
	assert.Empty(t, r.Activities())
	assert.Empty(t, r.AllDayTypes())
	assert.Empty(t, r.Children())
	assert.Empty(t, r.Bans())
	assert.True(t, r.Expires().IsZero())
	_, ok := r.Today()
	assert.False(t, ok)
}

func TestResult_AccessorsReturnCopies(t *testing.T) {
	r, _ := FromResponse(decode(t, sampleResponse))
	acts := r.Activities()
	acts[1].Bans[0].Title = "mutated"
	acts[0].Name = "mutated"

	again, _ := r.Activity(protocol.ActivityGaming)
	assert.Equal(t, "Gaming", again.Bans[0].Title)
	assert.Equal(t, "Internet", r.Activities()[0].Name)
}

func TestFingerprint(t *testing.T) {
	base := Key{UserID: 1, PairToken: "p", DeviceToken: "d", Timezone: "UTC", ChildID: 7,
		Activities: []protocol.Activity{1, 3}, Log: true}

	reordered := base
	reordered.Activities = []protocol.Activity{3, 1, 3}
	assert.Equal(t, Fingerprint(base), Fingerprint(reordered))

	for name, mutate := range map[string]func(*Key){
		"user":     func(k *Key) { k.UserID = 2 },
		"pair":     func(k *Key) { k.PairToken = "q" },
		"device":   func(k *Key) { k.DeviceToken = "e" },
		"timezone": func(k *Key) { k.Timezone = "Europe/Paris" },
		"child":    func(k *Key) { k.ChildID = 8 },
		"acts":     func(k *Key) { k.Activities = []protocol.Activity{1} },
		"log":      func(k *Key) { k.Log = false },
	} {
		k := base
		k.Activities = append([]protocol.Activity(nil), base.Activities...)
		mutate(&k)
		assert.NotEqual(t, Fingerprint(base), Fingerprint(k), name)
	}
}

func resultExpiring(t *testing.T, unixSec int64) *Result {
	t.Helper()
	r, err := FromResponse(decode(t, fmt.Sprintf(`{"allowed": true, "activities": {"1": {"id": 1, "expires": %d}}}`, unixSec)))
	require.NoError(t, err)
	return r
}

func TestCache_HitBeforeExpiry(t *testing.T) {
	c := NewCache(0)
	r := resultExpiring(t, 1700000000)
	c.Put("fp", r)

	got, ok := c.Get("fp", time.Unix(1699999999, 0))
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestCache_ExpiredEntryEvicted(t *testing.T) {
	c := NewCache(0)
	c.Put("fp", resultExpiring(t, 1700000000))

	_, ok := c.Get("fp", time.Unix(1700000000, 0))
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCache_ZeroExpiryNeverHits(t *testing.T) {
	c := NewCache(0)
	r, _ := FromResponse(decode(t, `{"allowed": true}`))
	c.Put("fp", r)
	_, ok := c.Get("fp", time.Unix(0, 0))
	assert.False(t, ok)
}

func TestCache_PutReplaces(t *testing.T) {
	c := NewCache(0)
	c.Put("fp", resultExpiring(t, 1700000000))
	newer := resultExpiring(t, 1800000000)
	c.Put("fp", newer)

	got, ok := c.Get("fp", time.Unix(1750000000, 0))
	require.True(t, ok)
	assert.Same(t, newer, got)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Bounded(t *testing.T) {
	c := NewCache(2)
	c.Put("a", resultExpiring(t, 1800000000))
	c.Put("b", resultExpiring(t, 1800000000))
	c.Put("c", resultExpiring(t, 1800000000))
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a", time.Unix(1700000000, 0))
	assert.False(t, ok)

	c.Purge()
	assert.Zero(t, c.Len())
}
