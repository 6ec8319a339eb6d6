// Package qr fetches pairing QR codes and collapses bursts of requests
// made while a device name is being typed.
package qr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/allow2/internal/identity"
	"github.com/nextlevelbuilder/allow2/internal/transport"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// DefaultDelay is the quiet period before a pending request is sent.
const DefaultDelay = 500 * time.Millisecond

// Callback receives the decoded QR image or an error.
type Callback func(image.Image, error)

// Debouncer keeps at most one pending QR request. A newer request replaces
// the pending one, whose callback is never invoked. Requests already on the
// wire are not cancelled.
type Debouncer struct {
	ident     *identity.Identity
	transport transport.Transport
	delay     time.Duration

	mu      sync.Mutex
	pending *pending
	wg      sync.WaitGroup
}

type pending struct {
	ctx   context.Context
	name  string
	cb    Callback
	timer *time.Timer
}

// NewDebouncer returns a debouncer. delay <= 0 selects DefaultDelay.
func NewDebouncer(ident *identity.Identity, tr transport.Transport, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{ident: ident, transport: tr, delay: delay}
}

// Request schedules a QR fetch for name after the quiet period.
func (d *Debouncer) Request(ctx context.Context, name string, cb Callback) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		d.pending.timer.Stop()
		slog.Debug("qr debounce: replaced pending request", "name", d.pending.name)
	}

	p := &pending{ctx: ctx, name: name, cb: cb}
	p.timer = time.AfterFunc(d.delay, func() { d.fire(p) })
	d.pending = p
}

// Cancel drops the pending request, if any, without invoking its callback.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.timer.Stop()
		d.pending = nil
	}
}

// Flush sends the pending request immediately and waits for every
// outstanding fetch to deliver.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	p := d.pending
	d.mu.Unlock()
	if p != nil {
		d.fire(p)
	}
	d.wg.Wait()
}

// Stop drops the pending request and waits for fetches already on the wire.
func (d *Debouncer) Stop() {
	d.Cancel()
	d.wg.Wait()
}

// Pending reports whether a request is waiting for its quiet period.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// fire claims p if it is still the pending request and fetches it.
func (d *Debouncer) fire(p *pending) {
	d.mu.Lock()
	if d.pending != p {
		d.mu.Unlock()
		return
	}
	p.timer.Stop()
	d.pending = nil
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	img, err := Fetch(p.ctx, d.transport, d.ident, p.name)
	p.cb(img, err)
}

// Fetch downloads and decodes the QR image for name without debouncing.
func Fetch(ctx context.Context, tr transport.Transport, ident *identity.Identity, name string) (image.Image, error) {
	url := ident.APIURL() + protocol.QRPath(ident.DeviceToken(), ident.UUID(), name)
	resp, err := transport.Get(ctx, tr, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrNoConnection, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: HTTP %d", protocol.ErrNoConnection, resp.StatusCode)
	}
	img, err := imaging.Decode(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: qr image: %v", protocol.ErrInvalidResponse, err)
	}
	return img, nil
}
