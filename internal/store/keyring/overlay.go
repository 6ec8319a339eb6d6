// Package keyring keeps device credentials in the OS keychain while the rest
// of the device state lives in another store.
package keyring

import (
	"errors"
	"fmt"
	"maps"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/allow2/internal/store"
)

// DefaultService is the keychain service name used when none is configured.
const DefaultService = "allow2"

// Overlay routes store.SecretKeys to the keychain and everything else to base.
type Overlay struct {
	service string
	account string
	base    store.Store
}

var _ store.Store = (*Overlay)(nil)

// New returns an overlay. account disambiguates several devices on one host
// (typically the state path); service defaults to DefaultService.
func New(base store.Store, service, account string) *Overlay {
	if service == "" {
		service = DefaultService
	}
	return &Overlay{service: service, account: account, base: base}
}

func (o *Overlay) user(key string) string {
	if o.account == "" {
		return key
	}
	return o.account + ":" + key
}

func (o *Overlay) Get(key string) (string, error) {
	if !store.IsSecret(key) {
		return o.base.Get(key)
	}
	v, err := gokeyring.Get(o.service, o.user(key))
	if errors.Is(err, gokeyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", key, err)
	}
	return v, nil
}

// Put writes secrets first, then the remaining values to base. If the base
// write fails, the secrets are restored to their previous values.
func (o *Overlay) Put(values map[string]string) error {
	plain := maps.Clone(values)
	prev := make(map[string]string)

	for k, v := range values {
		if !store.IsSecret(k) {
			continue
		}
		delete(plain, k)
		old, err := o.Get(k)
		if err != nil {
			return err
		}
		prev[k] = old
		if err := o.setSecret(k, v); err != nil {
			o.restore(prev)
			return err
		}
	}

	if len(plain) == 0 {
		return nil
	}
	if err := o.base.Put(plain); err != nil {
		o.restore(prev)
		return err
	}
	return nil
}

func (o *Overlay) setSecret(key, value string) error {
	if value == "" {
		err := gokeyring.Delete(o.service, o.user(key))
		if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
			return fmt.Errorf("keyring delete %s: %w", key, err)
		}
		return nil
	}
	if err := gokeyring.Set(o.service, o.user(key), value); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

func (o *Overlay) restore(prev map[string]string) {
	for k, v := range prev {
		_ = o.setSecret(k, v)
	}
}

func (o *Overlay) Close() error {
	return o.base.Close()
}
