// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/allow2/internal/transport"
)

// Handler answers one request.
type Handler func(req transport.Request) (*transport.Response, error)

// Fake records every request and answers with its handler.
type Fake struct {
	mu      sync.Mutex
	handler Handler
	calls   []transport.Request
}

// New returns a Fake using h.
func New(h Handler) *Fake {
	return &Fake{handler: h}
}

// SetHandler swaps the handler for subsequent calls.
func (f *Fake) SetHandler(h Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *Fake) Send(ctx context.Context, req transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	h := f.handler
	f.mu.Unlock()
	return h(req)
}

// Calls returns a copy of the recorded requests.
func (f *Fake) Calls() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of requests sent.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// CallsTo counts requests whose URL contains fragment.
func (f *Fake) CallsTo(fragment string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c.URL, fragment) {
			n++
		}
	}
	return n
}

// JSON builds a response with v marshalled as the body.
func JSON(status int, v any) *transport.Response {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &transport.Response{StatusCode: status, Body: data}
}

// Raw builds a response with a literal body.
func Raw(status int, body string) *transport.Response {
	return &transport.Response{StatusCode: status, Body: []byte(body)}
}
