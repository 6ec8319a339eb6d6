package otelexport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/nextlevelbuilder/allow2/internal/transport"
)

func TestNew_EmptyEndpoint(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestExporter_NilIsSafe(t *testing.T) {
	var e *Exporter
	assert.NoError(t, e.ForceFlush(context.Background()))
	assert.NoError(t, e.Shutdown(context.Background()))
}

func TestAttributes(t *testing.T) {
	attrs := attributes(Config{InstanceID: "uuid-1"})
	assert.Contains(t, attrs, semconv.ServiceName("allow2-device"))
	assert.Contains(t, attrs, semconv.ServiceInstanceID("uuid-1"))
}

func TestTransportSpansReachExporter(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	e, err := NewWithExporter(context.Background(), Config{InstanceID: "uuid-1"}, mem)
	require.NoError(t, err)
	t.Cleanup(func() { e.Shutdown(context.Background()) })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	resp, err := transport.Get(context.Background(), transport.NewHTTP(), srv.URL+"/genqr/secret-token/uuid-1/Bob")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.NoError(t, e.ForceFlush(context.Background()))
	spans := mem.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "allow2 GET /genqr", spans[0].Name)
	for _, kv := range spans[0].Attributes {
		assert.NotContains(t, kv.Value.Emit(), "secret-token")
	}
}
