package authz

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"

	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// Key holds every field that makes two check requests logically identical.
type Key struct {
	UserID      int
	PairToken   string
	DeviceToken string
	Timezone    string
	ChildID     int
	Activities  []protocol.Activity
	Log         bool
}

// canonicalKey fixes field order and normalises the activity set.
type canonicalKey struct {
	UserID      int                 `json:"u"`
	PairToken   string              `json:"p"`
	DeviceToken string              `json:"d"`
	Timezone    string              `json:"tz"`
	ChildID     int                 `json:"c"`
	Activities  []protocol.Activity `json:"a"`
	Log         bool                `json:"l"`
}

// Fingerprint returns a deterministic digest of k. Activity order and
// duplicates do not affect the result.
func Fingerprint(k Key) string {
	acts := slices.Clone(k.Activities)
	slices.Sort(acts)
	acts = slices.Compact(acts)

	data, _ := json.Marshal(canonicalKey{
		UserID:      k.UserID,
		PairToken:   k.PairToken,
		DeviceToken: k.DeviceToken,
		Timezone:    k.Timezone,
		ChildID:     k.ChildID,
		Activities:  acts,
		Log:         k.Log,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
