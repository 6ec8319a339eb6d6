// Package redis persists device state in a Redis hash, for fleets of
// devices that share a state server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/allow2/internal/crypto"
	"github.com/nextlevelbuilder/allow2/internal/store"
)

// Options configures the connection.
type Options struct {
	Addr        string
	Password    string
	DB          int
	Key         string // hash key holding this device's state
	DialTimeout time.Duration
}

// Store implements store.Store with one Redis hash per device.
type Store struct {
	client *goredis.Client
	key    string
	sealer *crypto.Sealer
	// op bounds each command; the store interface carries no context.
	op time.Duration
}

var _ store.Store = (*Store)(nil)

// Open connects and pings the server.
func Open(ctx context.Context, opts Options, sealer *crypto.Sealer) (*Store, error) {
	if opts.Key == "" {
		return nil, errors.New("redis store: empty hash key")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	slog.Debug("device state store opened", "backend", "redis", "addr", opts.Addr, "db", opts.DB, "key", opts.Key)
	return &Store{client: client, key: opts.Key, sealer: sealer, op: opts.DialTimeout}, nil
}

func (s *Store) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.op)
	defer cancel()

	v, err := s.client.HGet(ctx, s.key, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return s.sealer.Open(key, v)
}

// Put applies all values in one MULTI/EXEC transaction.
func (s *Store) Put(values map[string]string) error {
	set := make(map[string]any, len(values))
	var del []string
	for k, v := range values {
		if v == "" {
			del = append(del, k)
			continue
		}
		if store.IsSecret(k) {
			sealed, err := s.sealer.Seal(k, v)
			if err != nil {
				return fmt.Errorf("seal %s: %w", k, err)
			}
			v = sealed
		}
		set[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.op)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(set) > 0 {
			pipe.HSet(ctx, s.key, set)
		}
		if len(del) > 0 {
			pipe.HDel(ctx, s.key, del...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
