// Package generation provides cancellation tokens for "the currently
// authoritative loop". Starting a new loop supersedes the previous token;
// work tagged with a cancelled token checks Cancelled at each suspension
// boundary (before a request, after a response) and goes inert.
package generation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Token identifies one generation of a loop.
type Token struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a live token. It is also cancelled when parent is done.
func New(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{id: uuid.NewString(), ctx: ctx, cancel: cancel}
}

// ID is unique per token.
func (t *Token) ID() string { return t.id }

// Cancel marks the token stale. Safe to call more than once.
func (t *Token) Cancel() { t.cancel() }

// Cancelled reports whether work tagged with t must be discarded.
func (t *Token) Cancelled() bool { return t.ctx.Err() != nil }

// Done is closed once the token is cancelled; use it to cut waits short.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Guard holds the current token for one loop owner.
type Guard struct {
	mu      sync.Mutex
	current *Token
}

// Begin cancels the current token, if any, and installs a fresh one.
func (g *Guard) Begin(parent context.Context) *Token {
	t := New(parent)
	g.mu.Lock()
	prev := g.current
	g.current = t
	g.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
	return t
}

// Stop cancels the current token. It reports whether a live token was stopped.
func (g *Guard) Stop() bool {
	g.mu.Lock()
	prev := g.current
	g.current = nil
	g.mu.Unlock()
	if prev == nil || prev.Cancelled() {
		return false
	}
	prev.Cancel()
	return true
}

// Release clears t if it is still current, without cancelling another token.
// It reports whether t was the live generation; a loop that gets false has
// been superseded or stopped and must not act on its result.
// Loops call it when they finish on their own.
func (g *Guard) Release(t *Token) bool {
	g.mu.Lock()
	live := g.current == t && !t.Cancelled()
	if g.current == t {
		g.current = nil
	}
	g.mu.Unlock()
	t.Cancel()
	return live
}

// Current returns the live token, or nil.
func (g *Guard) Current() *Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil || g.current.Cancelled() {
		return nil
	}
	return g.current
}

// IsCurrent reports whether t is the live token.
func (g *Guard) IsCurrent(t *Token) bool {
	if t == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current == t && !t.Cancelled()
}
