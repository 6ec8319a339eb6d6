// Package pairing owns the device's pairing credentials and child roster
// (Store) and drives the two pairing handshakes (Coordinator).
package pairing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/nextlevelbuilder/allow2/internal/identity"
	"github.com/nextlevelbuilder/allow2/internal/store"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

const probeTimeout = 15 * time.Second

// State is a snapshot of the pairing credentials and roster.
// ChildID is set when the device was paired to a single child.
type State struct {
	UserID    int
	PairToken string
	ChildID   int
	Timezone  string
	Children  map[int]string
}

// Paired reports userId > 0 and a present pair token.
func (s State) Paired() bool {
	return s.UserID > 0 && s.PairToken != ""
}

// Prober asks the server whether this device is still known to be paired.
type Prober func(ctx context.Context) error

// Store is the single source of truth for pairing state. Every mutator
// persists before it updates memory, so a failed write leaves both unchanged.
type Store struct {
	kv    store.KV
	ident *identity.Identity

	mu     sync.RWMutex
	state  State
	prober Prober
}

// NewStore returns an empty (unpaired) store; call Load to read persisted state.
func NewStore(kv store.KV, ident *identity.Identity) *Store {
	return &Store{
		kv:    kv,
		ident: ident,
		state: State{Children: map[int]string{}},
	}
}

// Load reads persisted credentials. Absent values mean "unpaired".
func (s *Store) Load() error {
	userID, err := s.kv.GetInt(store.KeyUserID)
	if err != nil {
		return fmt.Errorf("load userId: %w", err)
	}
	pairToken, _, err := s.kv.GetString(store.KeyPairToken)
	if err != nil {
		return fmt.Errorf("load pairToken: %w", err)
	}
	childID, err := s.kv.GetInt(store.KeyChildID)
	if err != nil {
		return fmt.Errorf("load childId: %w", err)
	}
	tz, _, err := s.kv.GetString(store.KeyTimezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	children, err := s.loadChildren()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = State{
		UserID:    userID,
		PairToken: pairToken,
		ChildID:   childID,
		Timezone:  tz,
		Children:  children,
	}
	paired := s.state.Paired()
	s.mu.Unlock()

	slog.Debug("pairing state loaded", "paired", paired, "user_id", userID, "children", len(children))
	return nil
}

func (s *Store) loadChildren() (map[int]string, error) {
	raw, ok, err := s.kv.GetString(store.KeyChildren)
	if err != nil {
		return nil, fmt.Errorf("load children: %w", err)
	}
	children := map[int]string{}
	if !ok {
		return children, nil
	}
	var byID map[string]string
	if err := json.Unmarshal([]byte(raw), &byID); err != nil {
		slog.Warn("pairing: ignoring unreadable child roster", "error", err)
		return children, nil
	}
	for k, name := range byID {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		children[id] = name
	}
	return children, nil
}

// IsPaired reports whether credentials are present.
func (s *Store) IsPaired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Paired()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Children = maps.Clone(s.state.Children)
	return st
}

// Children returns a copy of the child roster.
func (s *Store) Children() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.state.Children)
}

// Identity returns the device identity the store was built with.
func (s *Store) Identity() *identity.Identity { return s.ident }

// ApplyPairingSuccess stores new credentials and replaces the roster.
// userId, pairToken, childId and the roster are written in a single Put.
func (s *Store) ApplyPairingSuccess(userID int, pairToken string, childID int, children map[int]string) error {
	if children == nil {
		children = map[int]string{}
	}
	rosterJSON, err := encodeChildren(children)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Put(map[string]string{
		store.KeyUserID:    strconv.Itoa(userID),
		store.KeyPairToken: pairToken,
		store.KeyChildID:   intOrEmpty(childID),
		store.KeyChildren:  rosterJSON,
	}); err != nil {
		return fmt.Errorf("persist pairing: %w", err)
	}

	s.state.UserID = userID
	s.state.PairToken = pairToken
	s.state.ChildID = childID
	s.state.Children = maps.Clone(children)

	slog.Info("device paired", "user_id", userID, "child_id", childID, "children", len(children))
	return nil
}

// ApplyRevocation clears credentials after the server rejected them.
// The roster is kept so the embedding application can still show names.
// Memory is cleared even when persisting fails, so the dead credentials are
// never sent again by this process.
func (s *Store) ApplyRevocation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevUser := s.state.UserID
	s.state.UserID = 0
	s.state.PairToken = ""
	s.state.ChildID = 0
	slog.Warn("pairing revoked by server", "user_id", prevUser)

	if err := s.kv.Put(map[string]string{
		store.KeyUserID:    "0",
		store.KeyPairToken: "",
		store.KeyChildID:   "",
	}); err != nil {
		slog.Error("pairing: failed to persist revocation", "error", err)
		return fmt.Errorf("persist revocation: %w", err)
	}
	return nil
}

// UpdateChildren replaces the roster when it differs by value from the
// current one. It reports whether anything changed (and was persisted).
func (s *Store) UpdateChildren(children map[int]string) (bool, error) {
	if children == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if maps.Equal(s.state.Children, children) {
		return false, nil
	}
	rosterJSON, err := encodeChildren(children)
	if err != nil {
		return false, err
	}
	if err := s.kv.SetString(store.KeyChildren, rosterJSON); err != nil {
		return false, fmt.Errorf("persist children: %w", err)
	}
	s.state.Children = maps.Clone(children)
	slog.Info("child roster updated", "children", len(children))
	return true, nil
}

// SetTimezone validates and persists the IANA timezone name used for checks.
func (s *Store) SetTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.SetString(store.KeyTimezone, tz); err != nil {
		return fmt.Errorf("persist timezone: %w", err)
	}
	s.state.Timezone = tz
	return nil
}

// SetProber installs the function used by SetDeviceToken's liveness probe.
func (s *Store) SetProber(p Prober) {
	s.mu.Lock()
	s.prober = p
	s.mu.Unlock()
}

// SetDeviceToken persists token, updates the identity and fires a
// best-effort probe in the background. Probe errors are only logged.
func (s *Store) SetDeviceToken(token string) error {
	if err := s.kv.SetString(store.KeyDeviceToken, token); err != nil {
		return fmt.Errorf("persist device token: %w", err)
	}
	s.ident.SetDeviceToken(token)

	s.mu.RLock()
	probe := s.prober
	s.mu.RUnlock()
	if probe == nil {
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if err := probe(ctx); err != nil {
			slog.Warn("pairing: device probe failed", "device_token", identity.MaskToken(token), "error", err)
		}
	}()
	return nil
}

// ChildMap converts a wire roster into id → name.
func ChildMap(children []protocol.ChildPayload) map[int]string {
	out := make(map[int]string, len(children))
	for _, c := range children {
		out[c.ID] = c.Name
	}
	return out
}

func encodeChildren(children map[int]string) (string, error) {
	if len(children) == 0 {
		return "", nil
	}
	byID := make(map[string]string, len(children))
	for id, name := range children {
		byID[strconv.Itoa(id)] = name
	}
	data, err := json.Marshal(byID)
	if err != nil {
		return "", fmt.Errorf("encode children: %w", err)
	}
	return string(data), nil
}

func intOrEmpty(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
