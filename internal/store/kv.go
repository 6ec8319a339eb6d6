package store

import (
	"fmt"
	"strconv"
)

// Keys persisted for the device. Values are strings; ints are stored in decimal.
const (
	KeyDeviceUUID  = "deviceUuid"
	KeyDeviceToken = "deviceToken"
	KeyUserID      = "userId"
	KeyPairToken   = "pairToken"
	KeyChildID     = "childId"
	KeyTimezone    = "timezone"
	KeyChildren    = "children"
)

// SecretKeys are the keys whose values must be protected at rest.
var SecretKeys = []string{KeyPairToken, KeyDeviceToken}

// IsSecret reports whether key holds a credential.
func IsSecret(key string) bool {
	for _, k := range SecretKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Store is the persistence collaborator: a string key/value store.
//
// Get returns "" for absent keys. Put applies all values atomically
// (both-or-neither from the caller's perspective); an empty value deletes the key.
type Store interface {
	Get(key string) (string, error)
	Put(values map[string]string) error
	Close() error
}

// KV adds typed accessors on top of a Store.
type KV struct {
	Store
}

// GetString returns the value for key and whether it was present.
func (kv KV) GetString(key string) (string, bool, error) {
	v, err := kv.Get(key)
	if err != nil {
		return "", false, err
	}
	return v, v != "", nil
}

// SetString persists a single value.
func (kv KV) SetString(key, value string) error {
	return kv.Put(map[string]string{key: value})
}

// GetInt returns the integer stored at key, or 0 when absent.
func (kv KV) GetInt(key string) (int, error) {
	v, err := kv.Get(key)
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("store: key %s is not an integer: %w", key, err)
	}
	return n, nil
}

// SetInt persists a single integer value.
func (kv KV) SetInt(key string, value int) error {
	return kv.Put(map[string]string{key: strconv.Itoa(value)})
}
