package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/allow2/internal/config"
	"github.com/nextlevelbuilder/allow2/internal/crypto"
	"github.com/nextlevelbuilder/allow2/internal/device"
	"github.com/nextlevelbuilder/allow2/internal/store"
	"github.com/nextlevelbuilder/allow2/internal/store/file"
	"github.com/nextlevelbuilder/allow2/internal/store/keyring"
	"github.com/nextlevelbuilder/allow2/internal/store/redis"
	"github.com/nextlevelbuilder/allow2/internal/store/sqlite"
	"github.com/nextlevelbuilder/allow2/internal/transport"
)

// openStore builds the state backend selected by the config.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	sealer, err := crypto.NewSealer(cfg.State.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("state secret: %w", err)
	}

	if cfg.State.Backend == config.BackendFile || cfg.State.Backend == config.BackendSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.State.Path), 0o700); err != nil {
			return nil, fmt.Errorf("state dir: %w", err)
		}
	}

	var base store.Store
	switch cfg.State.Backend {
	case config.BackendSQLite:
		base, err = sqlite.Open(cfg.State.Path, sealer)
	case config.BackendRedis:
		r := cfg.State.Redis
		base, err = redis.Open(ctx, redis.Options{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Key:      r.HashKey(),
		}, sealer)
	case config.BackendMemory:
		base = store.NewMemoryStore(nil)
	default:
		base, err = file.Open(cfg.State.Path, sealer)
	}
	if err != nil {
		return nil, err
	}

	if cfg.State.Keyring {
		return keyring.New(base, cfg.State.KeyringService, cfg.State.Path), nil
	}
	return base, nil
}

func newTransport(cfg *config.Config) transport.Transport {
	ua := cfg.Transport.UserAgent
	if ua == "" {
		ua = "allow2-cli/" + Version
	}
	return transport.NewHTTP(
		transport.WithTimeout(cfg.Transport.Timeout.Std()),
		transport.WithRateLimit(cfg.Transport.RequestsPerMinute, cfg.Transport.Burst),
		transport.WithUserAgent(ua),
	)
}

// openDevice opens the device session described by cfg. The returned
// cleanup closes the device and flushes telemetry.
func openDevice(ctx context.Context, cfg *config.Config) (*device.Device, func(), error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	d, err := device.Open(device.Options{
		Store:         st,
		Transport:     newTransport(cfg),
		Environment:   cfg.Env(),
		DeviceToken:   cfg.DeviceToken,
		Timezone:      cfg.Timezone,
		CheckInterval: cfg.Check.Interval.Std(),
		PollInterval:  cfg.Pairing.PollInterval.Std(),
		QRDebounce:    cfg.QR.Debounce.Std(),
		CacheSize:     cfg.Check.CacheSize,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	shutdownOTel := initOTelExporter(ctx, cfg, d.Identity().UUID())
	cleanup := func() {
		d.Close()
		shutdownOTel()
	}
	return d, cleanup, nil
}

// mustOpenDevice loads config and opens the device, or exits.
func mustOpenDevice(ctx context.Context) (*config.Config, *device.Device, func()) {
	cfg := mustLoadConfig()
	d, cleanup, err := openDevice(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening device state: %s\n", err)
		os.Exit(1)
	}
	return cfg, d, cleanup
}
