package qr

import (
	"context"
	"image"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/allow2/internal/identity"
	"github.com/nextlevelbuilder/allow2/internal/transport"
	"github.com/nextlevelbuilder/allow2/internal/transport/transporttest"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

const testDelay = 50 * time.Millisecond

func pngHandler(t *testing.T) transporttest.Handler {
	return func(req transport.Request) (*transport.Response, error) {
		png, err := qrcode.Encode(req.URL, qrcode.Medium, 64)
		assert.NoError(t, err)
		return &transport.Response{StatusCode: 200, Body: png}, nil
	}
}

func newIdentity() *identity.Identity {
	return identity.New("uuid-1", "dev-token", protocol.EnvProduction)
}

func TestDebouncer_BurstSendsLastOnly(t *testing.T) {
	fake := transporttest.New(pngHandler(t))
	d := NewDebouncer(newIdentity(), fake, testDelay)
	ctx := context.Background()

	var stale atomic.Int32
	staleCB := func(image.Image, error) { stale.Add(1) }
	done := make(chan image.Image, 1)

	d.Request(ctx, "Al", staleCB)
	d.Request(ctx, "Ali", staleCB)
	d.Request(ctx, "Alice", func(img image.Image, err error) {
		assert.NoError(t, err)
		done <- img
	})

	select {
	case img := <-done:
		require.NotNil(t, img)
		assert.Equal(t, 64, img.Bounds().Dx())
	case <-time.After(2 * time.Second):
		t.Fatal("no callback")
	}

	time.Sleep(2 * testDelay)
	require.Equal(t, 1, fake.CallCount())
	assert.True(t, strings.HasSuffix(fake.Calls()[0].URL, "/genqr/dev-token/uuid-1/Alice"))
	assert.Zero(t, stale.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_Cancel(t *testing.T) {
	fake := transporttest.New(pngHandler(t))
	d := NewDebouncer(newIdentity(), fake, testDelay)

	d.Request(context.Background(), "Bob", func(image.Image, error) { t.Error("cancelled request delivered") })
	assert.True(t, d.Pending())
	d.Cancel()

	time.Sleep(3 * testDelay)
	assert.Zero(t, fake.CallCount())
}

func TestDebouncer_FlushSendsNow(t *testing.T) {
	fake := transporttest.New(pngHandler(t))
	d := NewDebouncer(newIdentity(), fake, time.Hour)

	var got atomic.Bool
	d.Request(context.Background(), "Kitchen PC", func(img image.Image, err error) {
		got.Store(err == nil && img != nil)
	})
	d.Flush()

	assert.True(t, got.Load())
	assert.Equal(t, 1, fake.CallsTo("Kitchen%20PC"))
}

func TestFetch_Errors(t *testing.T) {
	cases := []struct {
		name string
		h    transporttest.Handler
		want error
	}{
		{"server error", func(transport.Request) (*transport.Response, error) {
			return transporttest.Raw(502, ""), nil
		}, protocol.ErrNoConnection},
		{"not an image", func(transport.Request) (*transport.Response, error) {
			return transporttest.Raw(200, "nope"), nil
		}, protocol.ErrInvalidResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Fetch(context.Background(), transporttest.New(tc.h), newIdentity(), "x")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPlaceholderAndSave(t *testing.T) {
	img, err := Placeholder("uuid-1", 128)
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	path := filepath.Join(t.TempDir(), "qr.png")
	require.NoError(t, Save(img, path, 32))
	back, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, 32, back.Bounds().Dx())

	art, err := Terminal("uuid-1")
	require.NoError(t, err)
	assert.NotEmpty(t, art)
}
