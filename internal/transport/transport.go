// Package transport is the network collaborator: it sends a request and
// returns the status code and body. It never interprets payloads.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request is one outbound call.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Response carries the HTTP status code and raw body.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Transport sends requests. An error means no response was obtained at all.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// PostJSON marshals body and POSTs it to url.
func PostJSON(ctx context.Context, t Transport, url string, body any) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return t.Send(ctx, Request{
		Method: "POST",
		URL:    url,
		Header: map[string]string{"Content-Type": "application/json"},
		Body:   data,
	})
}

// Get issues a GET to url.
func Get(ctx context.Context, t Transport, url string) (*Response, error) {
	return t.Send(ctx, Request{Method: "GET", URL: url})
}
