// Package device is the session object an embedding application holds: it
// loads persisted identity and pairing state, wires the coordinators
// together and tears them down on Close.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nextlevelbuilder/allow2/internal/authz"
	"github.com/nextlevelbuilder/allow2/internal/check"
	"github.com/nextlevelbuilder/allow2/internal/identity"
	"github.com/nextlevelbuilder/allow2/internal/pairing"
	"github.com/nextlevelbuilder/allow2/internal/qr"
	"github.com/nextlevelbuilder/allow2/internal/store"
	"github.com/nextlevelbuilder/allow2/internal/transport"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// Options configures Open. Zero durations select package defaults.
type Options struct {
	// Store is owned by the Device and closed by Close.
	Store     store.Store
	Transport transport.Transport

	Environment protocol.Environment
	// DeviceToken, when set, replaces the persisted token and fires the
	// same liveness probe as SetDeviceToken.
	DeviceToken string
	// Timezone is applied when none has been persisted yet.
	Timezone string

	CheckInterval time.Duration
	PollInterval  time.Duration
	QRDebounce    time.Duration
	CacheSize     int
	Now           func() time.Time
}

// Device composes identity, pairing state and the coordinators.
type Device struct {
	backend store.Store
	ident   *identity.Identity
	state   *pairing.Store
	pairer  *pairing.Coordinator
	checker *check.Coordinator
	qr      *qr.Debouncer

	closeOnce sync.Once
	closeErr  error
}

// Open loads persisted state. On error the store is left open for the caller.
func Open(opts Options) (*Device, error) {
	if opts.Store == nil || opts.Transport == nil {
		return nil, fmt.Errorf("device: store and transport are required")
	}
	if opts.Environment == "" {
		opts.Environment = protocol.EnvProduction
	}
	kv := store.KV{Store: opts.Store}

	ident, err := identity.Load(kv, opts.Environment, opts.DeviceToken)
	if err != nil {
		return nil, err
	}
	st := pairing.NewStore(kv, ident)
	if err := st.Load(); err != nil {
		return nil, err
	}
	if st.Snapshot().Timezone == "" {
		if err := st.SetTimezone(defaultTimezone(opts.Timezone)); err != nil {
			return nil, err
		}
	}

	d := &Device{
		backend: opts.Store,
		ident:   ident,
		state:   st,
		pairer:  pairing.NewCoordinator(st, opts.Transport, opts.PollInterval),
		checker: check.New(st, opts.Transport, authz.NewCache(opts.CacheSize), check.Options{
			Interval: opts.CheckInterval,
			Now:      opts.Now,
		}),
		qr: qr.NewDebouncer(ident, opts.Transport, opts.QRDebounce),
	}
	st.SetProber(d.pairer.ProbeDevicePaired)
	if opts.DeviceToken != "" {
		if err := st.SetDeviceToken(opts.DeviceToken); err != nil {
			return nil, err
		}
	}

	slog.Info("device opened",
		"uuid", ident.UUID(),
		"environment", ident.Environment(),
		"device_token", identity.MaskToken(ident.DeviceToken()),
		"paired", st.IsPaired(),
	)
	return d, nil
}

// defaultTimezone prefers the configured zone, then $TZ, then UTC.
func defaultTimezone(configured string) string {
	for _, tz := range []string{configured, os.Getenv("TZ")} {
		if tz == "" {
			continue
		}
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	return "UTC"
}

func (d *Device) Identity() *identity.Identity { return d.ident }

// State returns a snapshot of the pairing credentials and roster.
func (d *Device) State() pairing.State { return d.state.Snapshot() }

func (d *Device) IsPaired() bool { return d.state.IsPaired() }

// Children returns the cached child roster.
func (d *Device) Children() map[int]string { return d.state.Children() }

func (d *Device) SetTimezone(tz string) error { return d.state.SetTimezone(tz) }

// SetDeviceToken persists token and probes the server in the background.
func (d *Device) SetDeviceToken(token string) error { return d.state.SetDeviceToken(token) }

// Unpair stops running loops and forgets the local pairing. The child
// roster is kept. The server side is not notified.
func (d *Device) Unpair() error {
	d.checker.StopChecking()
	d.pairer.StopPairing()
	return d.state.ApplyRevocation()
}

// Pair pairs with parent credentials.
func (d *Device) Pair(ctx context.Context, user, pass, deviceName string) (*pairing.Result, error) {
	return d.pairer.Pair(ctx, user, pass, deviceName)
}

// StartPairing polls for a QR-initiated pairing until it completes or is stopped.
func (d *Device) StartPairing(ctx context.Context, cb pairing.Callback) {
	d.pairer.StartPairing(ctx, cb)
}

func (d *Device) StopPairing()    { d.pairer.StopPairing() }
func (d *Device) IsPairing() bool { return d.pairer.IsPairing() }

// Probe asks the server whether it still knows this device.
func (d *Device) Probe(ctx context.Context) error { return d.pairer.ProbeDevicePaired(ctx) }

// Check performs one authorization check.
func (d *Device) Check(ctx context.Context, childID int, activities []protocol.Activity, log bool) (*authz.Result, error) {
	return d.checker.Check(ctx, childID, activities, log)
}

// StartChecking runs recurring checks for childID.
func (d *Device) StartChecking(ctx context.Context, childID int, activities []protocol.Activity, log bool, cb check.Callback) {
	d.checker.StartChecking(ctx, childID, activities, log, cb)
}

func (d *Device) StopChecking()    { d.checker.StopChecking() }
func (d *Device) IsChecking() bool { return d.checker.IsChecking() }

// Request submits a child request to the parent.
func (d *Device) Request(ctx context.Context, req check.ChildRequest) error {
	return d.checker.Request(ctx, req)
}

// RequestQR schedules a debounced QR fetch for deviceName.
func (d *Device) RequestQR(ctx context.Context, deviceName string, cb qr.Callback) {
	d.qr.Request(ctx, deviceName, cb)
}

// FlushQR sends a pending QR request immediately and waits for it.
func (d *Device) FlushQR() { d.qr.Flush() }

// Close stops every loop, waits for them and closes the store. Idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.checker.StopChecking()
		d.pairer.StopPairing()
		d.qr.Stop()
		d.checker.Wait()
		d.pairer.Wait()
		d.closeErr = d.backend.Close()
		slog.Debug("device closed", "uuid", d.ident.UUID())
	})
	return d.closeErr
}
