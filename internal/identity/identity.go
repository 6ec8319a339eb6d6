// Package identity holds the stable identity of this device: its uuid, the
// developer-issued device token and the environment it talks to.
package identity

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/allow2/internal/store"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// Identity is loaded once at startup. Only the device token may change afterwards.
type Identity struct {
	uuid string
	env  protocol.Environment

	mu          sync.RWMutex
	deviceToken string
}

// Load reads the device uuid from kv, generating and persisting one when absent.
// deviceToken overrides the persisted token when non-empty.
func Load(kv store.KV, env protocol.Environment, deviceToken string) (*Identity, error) {
	id, ok, err := kv.GetString(store.KeyDeviceUUID)
	if err != nil {
		return nil, fmt.Errorf("load device uuid: %w", err)
	}
	if !ok {
		id = uuid.NewString()
		if err := kv.SetString(store.KeyDeviceUUID, id); err != nil {
			return nil, fmt.Errorf("persist device uuid: %w", err)
		}
		slog.Info("device uuid generated", "uuid", id)
	}

	if deviceToken == "" {
		if deviceToken, _, err = kv.GetString(store.KeyDeviceToken); err != nil {
			return nil, fmt.Errorf("load device token: %w", err)
		}
	}

	return &Identity{uuid: id, env: env, deviceToken: deviceToken}, nil
}

// New builds an identity without touching persistence.
func New(deviceUUID, deviceToken string, env protocol.Environment) *Identity {
	return &Identity{uuid: deviceUUID, env: env, deviceToken: deviceToken}
}

func (i *Identity) UUID() string                      { return i.uuid }
func (i *Identity) Environment() protocol.Environment { return i.env }
func (i *Identity) APIURL() string                    { return i.env.APIURL() }
func (i *Identity) ServiceURL() string                { return i.env.ServiceURL() }

// DeviceToken returns the current device token.
func (i *Identity) DeviceToken() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.deviceToken
}

// SetDeviceToken replaces the in-memory token. Persistence is the caller's job
// (see pairing.Store.SetDeviceToken).
func (i *Identity) SetDeviceToken(token string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deviceToken = token
}

// MaskToken shortens a token for logs: first 4 characters then "…".
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "…"
}
