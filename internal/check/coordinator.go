// Package check performs one-shot and recurring authorization checks.
//
// A check consults the response cache first and only reaches the network on
// a miss. When the server revokes pairing the coordinator clears local
// credentials and returns a permissive fail-open result instead of an error.
//
// Recurring checks run one loop per generation. Starting a session for a
// different child, or stopping, cancels the current generation; an in-flight
// request of a cancelled generation still completes at the transport level
// but its result is dropped before it can touch state or reach a callback.
package check

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/nextlevelbuilder/allow2/internal/authz"
	"github.com/nextlevelbuilder/allow2/internal/generation"
	"github.com/nextlevelbuilder/allow2/internal/pairing"
	"github.com/nextlevelbuilder/allow2/internal/transport"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// DefaultInterval is the wait between recurring checks.
const DefaultInterval = 3 * time.Second

// Callback receives the outcome of each recurring check.
type Callback func(*authz.Result, error)

// Options tunes a Coordinator. Zero values select defaults.
type Options struct {
	Interval time.Duration
	Now      func() time.Time
}

// Coordinator composes the pairing store, response cache and transport.
type Coordinator struct {
	store     *pairing.Store
	transport transport.Transport
	cache     *authz.Cache
	interval  time.Duration
	now       func() time.Time

	guard generation.Guard
	mu    sync.Mutex
	sess  *session
	wg    sync.WaitGroup
}

type session struct {
	childID    int
	activities []protocol.Activity
	log        bool
	cb         Callback
}

// New returns a coordinator.
func New(st *pairing.Store, tr transport.Transport, cache *authz.Cache, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:     st,
		transport: tr,
		cache:     cache,
		interval:  opts.Interval,
		now:       opts.Now,
	}
}

// Check performs a single authorization check. childID 0 selects the child
// the device was paired to, if any.
func (c *Coordinator) Check(ctx context.Context, childID int, activities []protocol.Activity, log bool) (*authz.Result, error) {
	res, _, err := c.check(ctx, nil, childID, activities, log)
	return res, err
}

// check runs one request. tok may be nil for ad-hoc checks; otherwise it is
// consulted before the request and after the response.
func (c *Coordinator) check(ctx context.Context, tok *generation.Token, childID int, activities []protocol.Activity, logUsage bool) (*authz.Result, bool, error) {
	st := c.store.Snapshot()
	if !st.Paired() {
		return nil, false, protocol.ErrNotPaired
	}
	if childID <= 0 {
		childID = st.ChildID
	}
	if childID <= 0 {
		return nil, false, protocol.ErrMissingChildID
	}

	deviceToken := c.store.Identity().DeviceToken()
	fp := authz.Fingerprint(authz.Key{
		UserID:      st.UserID,
		PairToken:   st.PairToken,
		DeviceToken: deviceToken,
		Timezone:    st.Timezone,
		ChildID:     childID,
		Activities:  activities,
		Log:         logUsage,
	})
	if res, ok := c.cache.Get(fp, c.now()); ok {
		slog.Debug("check: cache hit", "child_id", childID)
		return res, false, nil
	}

	if tok != nil && tok.Cancelled() {
		return nil, false, errStale
	}

	body := protocol.CheckRequest{
		UserID:      st.UserID,
		PairToken:   st.PairToken,
		DeviceToken: deviceToken,
		Timezone:    st.Timezone,
		Activities:  make([]protocol.ActivityLog, 0, len(activities)),
		Log:         logUsage,
		ChildID:     childID,
	}
	for _, a := range activities {
		body.Activities = append(body.Activities, protocol.ActivityLog{ID: a, Log: logUsage})
	}

	resp, sendErr := transport.PostJSON(ctx, c.transport, c.store.Identity().ServiceURL()+protocol.PathCheck, body)

	if tok != nil && tok.Cancelled() {
		return nil, false, errStale
	}
	return c.interpret(fp, resp, sendErr)
}

// interpret applies the response state machine: revoked, transport failure,
// malformed success or success.
func (c *Coordinator) interpret(fp string, resp *transport.Response, sendErr error) (*authz.Result, bool, error) {
	if sendErr != nil {
		return nil, false, fmt.Errorf("%w: %v", protocol.ErrNoConnection, sendErr)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return c.revoke("HTTP 401"), true, nil
	}
	if !resp.OK() {
		return nil, false, fmt.Errorf("%w: HTTP %d", protocol.ErrNoConnection, resp.StatusCode)
	}

	var payload protocol.CheckResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, false, fmt.Errorf("%w: %v", protocol.ErrInvalidResponse, err)
	}
	if payload.Status == protocol.StatusError {
		if protocol.IsRevocationMessage(payload.Message) {
			return c.revoke(payload.Message), true, nil
		}
		return nil, false, &protocol.ServerError{Message: payload.Message}
	}

	res, err := authz.FromResponse(&payload)
	if err != nil {
		return nil, false, err
	}

	if roster := res.ChildMap(); roster != nil {
		if _, err := c.store.UpdateChildren(roster); err != nil {
			slog.Warn("check: failed to persist child roster", "error", err)
		}
	}
	c.cache.Put(fp, res)
	return res, false, nil
}

func (c *Coordinator) revoke(reason string) *authz.Result {
	if err := c.store.ApplyRevocation(); err != nil {
		slog.Error("check: failed to persist revocation", "error", err)
	}
	c.cache.Purge()
	slog.Warn("check: pairing revoked, failing open", "reason", reason)
	return authz.FailOpen()
}

// StartChecking runs checks every interval and delivers each outcome to cb.
// A call for the child already being checked only updates activities, log
// flag and callback; a call for a different child supersedes the running loop.
// After an in-place update the loop stops when either the original ctx or
// the updating call's ctx is cancelled.
func (c *Coordinator) StartChecking(ctx context.Context, childID int, activities []protocol.Activity, log bool, cb Callback) {
	next := &session{
		childID:    childID,
		activities: slices.Clone(activities),
		log:        log,
		cb:         cb,
	}

	c.mu.Lock()
	if live := c.guard.Current(); c.sess != nil && c.sess.childID == childID && live != nil {
		c.sess = next
		c.mu.Unlock()
		context.AfterFunc(ctx, func() { c.stopGeneration(live) })
		slog.Debug("check loop updated", "child_id", childID)
		return
	}
	tok := c.guard.Begin(ctx)
	c.sess = next
	c.mu.Unlock()

	slog.Info("check loop started", "child_id", childID, "generation", tok.ID(), "interval", c.interval)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx, tok)
	}()
}

// StopChecking cancels the running loop. Idempotent.
func (c *Coordinator) StopChecking() {
	c.mu.Lock()
	stopped := c.guard.Stop()
	c.sess = nil
	c.mu.Unlock()
	if stopped {
		slog.Info("check loop stopped")
	}
}

// stopGeneration stops the loop only if tok is still the live generation.
func (c *Coordinator) stopGeneration(tok *generation.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.guard.IsCurrent(tok) {
		return
	}
	c.guard.Stop()
	c.sess = nil
	slog.Info("check loop stopped", "generation", tok.ID(), "reason", "context cancelled")
}

// IsChecking reports whether a recurring loop is live.
func (c *Coordinator) IsChecking() bool {
	return c.guard.Current() != nil
}

// Wait blocks until every loop goroutine has exited.
func (c *Coordinator) Wait() { c.wg.Wait() }

// current returns the session parameters if tok is still the live generation.
func (c *Coordinator) current(tok *generation.Token) (session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || !c.guard.IsCurrent(tok) {
		return session{}, false
	}
	return *c.sess, true
}

func (c *Coordinator) loop(ctx context.Context, tok *generation.Token) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-tok.Done():
			return
		case <-timer.C:
		}

		sess, ok := c.current(tok)
		if !ok {
			return
		}

		res, revoked, err := c.check(ctx, tok, sess.childID, sess.activities, sess.log)
		if errors.Is(err, errStale) {
			slog.Debug("check loop: discarding stale response", "generation", tok.ID())
			return
		}

		// Re-read: the callback may have been replaced while the request was in flight.
		sess, ok = c.current(tok)
		if !ok {
			slog.Debug("check loop: discarding stale response", "generation", tok.ID())
			return
		}
		sess.cb(res, err)

		if revoked || errors.Is(err, protocol.ErrNotPaired) || errors.Is(err, protocol.ErrMissingChildID) {
			c.mu.Lock()
			if c.guard.IsCurrent(tok) {
				c.sess = nil
			}
			c.mu.Unlock()
			c.guard.Release(tok)
			slog.Info("check loop finished", "revoked", revoked, "error", err)
			return
		}

		timer.Reset(c.interval)
	}
}
