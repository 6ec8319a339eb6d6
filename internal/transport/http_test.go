package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_PostJSON(t *testing.T) {
	var gotBody, gotCT, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotCT = r.Header.Get("Content-Type")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	h := NewHTTP(WithUserAgent("test-agent"))
	resp, err := PostJSON(context.Background(), h, srv.URL+"/api/pairDevice", map[string]int{"userId": 3})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.JSONEq(t, `{"status":"success"}`, string(resp.Body))
	assert.JSONEq(t, `{"userId":3}`, gotBody)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "test-agent", gotUA)
}

func TestHTTP_ErrorStatusIsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), NewHTTP(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, resp.OK())
}

func TestHTTP_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Get(context.Background(), NewHTTP(WithTimeout(time.Second)), url)
	assert.Error(t, err)
}

func TestHTTP_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	h := NewHTTP(WithRateLimit(1, 1))
	_, err := Get(context.Background(), h, srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Get(ctx, h, srv.URL)
	assert.Error(t, err)
}

func TestPathOf(t *testing.T) {
	assert.Equal(t, "/api/checkPairing", pathOf("https://api.allow2.com/api/checkPairing?x=1"))
	assert.Equal(t, "/serviceapi/check", pathOf("https://service.allow2.com/serviceapi/check"))
	assert.Equal(t, "/genqr", pathOf("https://api.allow2.com/genqr/abcdefghijklmnopqrstuvwxyz/u/n"))
	assert.Equal(t, "api.allow2.com", hostOf("https://api.allow2.com/genqr/x/y/z"))
}
