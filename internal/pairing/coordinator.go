package pairing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nextlevelbuilder/allow2/internal/generation"
	"github.com/nextlevelbuilder/allow2/internal/identity"
	"github.com/nextlevelbuilder/allow2/internal/transport"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// DefaultPollInterval is the wait between "pairing completed?" polls.
const DefaultPollInterval = 3 * time.Second

// Result describes a completed pairing.
type Result struct {
	UserID   int
	ChildID  int
	Children map[int]string
}

// Callback receives the outcome of a QR pairing session exactly once,
// unless the session is stopped or superseded first.
type Callback func(*Result, error)

// Coordinator runs direct (credential) pairing and the QR pairing poll loop.
type Coordinator struct {
	store        *Store
	transport    transport.Transport
	pollInterval time.Duration

	guard generation.Guard
	wg    sync.WaitGroup
}

// NewCoordinator wires a coordinator. pollInterval <= 0 uses DefaultPollInterval.
func NewCoordinator(st *Store, tr transport.Transport, pollInterval time.Duration) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Coordinator{store: st, transport: tr, pollInterval: pollInterval}
}

func (c *Coordinator) ident() *identity.Identity { return c.store.Identity() }

// Pair submits account credentials and stores the returned pairing.
func (c *Coordinator) Pair(ctx context.Context, user, pass, deviceName string) (*Result, error) {
	if c.store.IsPaired() {
		return nil, protocol.ErrAlreadyPaired
	}

	id := c.ident()
	resp, err := transport.PostJSON(ctx, c.transport, id.APIURL()+protocol.PathPairDevice, protocol.PairDeviceRequest{
		User:        user,
		Pass:        pass,
		DeviceToken: id.DeviceToken(),
		Name:        deviceName,
		UUID:        id.UUID(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrNoConnection, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, protocol.ErrNotAuthorised
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: HTTP %d", protocol.ErrNoConnection, resp.StatusCode)
	}

	var body protocol.PairDeviceResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidResponse, err)
	}
	if body.Status != protocol.StatusSuccess {
		if body.Message != "" {
			return nil, fmt.Errorf("%w: %s", protocol.ErrInvalidResponse, body.Message)
		}
		return nil, protocol.ErrInvalidResponse
	}
	if body.UserID <= 0 || body.Token == "" {
		return nil, fmt.Errorf("%w: missing userId or token", protocol.ErrInvalidResponse)
	}

	children := ChildMap(body.Children)
	if err := c.store.ApplyPairingSuccess(body.UserID, body.Token, 0, children); err != nil {
		return nil, err
	}
	return &Result{UserID: body.UserID, Children: children}, nil
}

// StartPairing begins polling for a QR-initiated pairing, superseding any
// running poll. cb is invoked once when pairing completes or the server
// reports an application error. Transport failures are retried on the next poll.
func (c *Coordinator) StartPairing(ctx context.Context, cb Callback) {
	if c.store.IsPaired() {
		c.guard.Stop()
		cb(nil, protocol.ErrAlreadyPaired)
		return
	}

	tok := c.guard.Begin(ctx)
	slog.Info("pairing poll started", "generation", tok.ID())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pollLoop(ctx, tok, cb)
	}()
}

// StopPairing cancels the running poll. Idempotent.
func (c *Coordinator) StopPairing() {
	if c.guard.Stop() {
		slog.Info("pairing poll stopped")
	}
}

// IsPairing reports whether a poll loop is live.
func (c *Coordinator) IsPairing() bool {
	return c.guard.Current() != nil
}

// Wait blocks until every poll goroutine has exited.
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) pollLoop(ctx context.Context, tok *generation.Token, cb Callback) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-tok.Done():
			return
		case <-timer.C:
		}

		body, err := c.poll(ctx)

		// Anything that arrives after the token was superseded is dropped.
		if tok.Cancelled() {
			slog.Debug("pairing poll: discarding stale response", "generation", tok.ID())
			return
		}

		switch {
		case err != nil:
			slog.Debug("pairing poll: transient failure", "error", err)
		case body.Status == protocol.StatusSuccess && body.UserID > 0 && body.PairToken != "":
			children := ChildMap(body.Children)
			if !c.guard.Release(tok) {
				slog.Debug("pairing poll: discarding stale response", "generation", tok.ID())
				return
			}
			if err := c.store.ApplyPairingSuccess(body.UserID, body.PairToken, body.ChildID, children); err != nil {
				cb(nil, err)
				return
			}
			cb(&Result{UserID: body.UserID, ChildID: body.ChildID, Children: children}, nil)
			return
		case body.Status != "" && body.Status != protocol.StatusSuccess:
			if !c.guard.Release(tok) {
				slog.Debug("pairing poll: discarding stale response", "generation", tok.ID())
				return
			}
			msg := body.Message
			if msg == "" {
				msg = body.Status
			}
			cb(nil, &protocol.ServerError{Message: msg})
			return
		}

		timer.Reset(c.pollInterval)
	}
}

// poll asks whether pairing completed. Any non-success transport outcome,
// including unreadable bodies, is reported as ErrNoConnection.
func (c *Coordinator) poll(ctx context.Context) (*protocol.CheckPairingResponse, error) {
	id := c.ident()
	resp, err := transport.PostJSON(ctx, c.transport, id.APIURL()+protocol.PathCheckPairing, protocol.DeviceRequest{
		UUID:        id.UUID(),
		DeviceToken: id.DeviceToken(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrNoConnection, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: HTTP %d", protocol.ErrNoConnection, resp.StatusCode)
	}
	var body protocol.CheckPairingResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrNoConnection, err)
	}
	return &body, nil
}

// ProbeDevicePaired is the lightweight liveness probe fired when the device
// token changes. Only the status code is inspected.
func (c *Coordinator) ProbeDevicePaired(ctx context.Context) error {
	id := c.ident()
	resp, err := transport.PostJSON(ctx, c.transport, id.APIURL()+protocol.PathIsDevicePaired, protocol.DeviceRequest{
		UUID:        id.UUID(),
		DeviceToken: id.DeviceToken(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrNoConnection, err)
	}
	if !resp.OK() {
		return fmt.Errorf("isDevicePaired: HTTP %d", resp.StatusCode)
	}
	slog.Debug("device probe ok", "paired_locally", c.store.IsPaired())
	return nil
}
