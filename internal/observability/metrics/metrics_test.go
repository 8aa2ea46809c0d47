package metrics

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/intent"
)

func TestOperationLabelsByCode(t *testing.T) {
	m := New("")
	m.Operation("fill_intent", nil, time.Millisecond)
	m.Operation("fill_intent", xerrors.New(xerrors.CodeConflict, "used"), time.Millisecond)
	m.Operation("fill_intent", errors.New("plain"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("fill_intent", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("fill_intent", string(xerrors.CodeConflict))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("fill_intent", string(xerrors.CodeUnknown))))
}

func TestFilledAndSkipped(t *testing.T) {
	m := New("test")
	m.Filled(intent.TypeDutch, big.NewInt(10_000), big.NewInt(5))
	m.Filled(intent.TypeDutch, big.NewInt(2_000), nil)
	m.Skipped(xerrors.CodeTimeout)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fills.WithLabelValues(intent.TypeDutch.String())))
	assert.Equal(t, 12_000.0, testutil.ToFloat64(m.FilledVolume.WithLabelValues(intent.TypeDutch.String())))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.FeesCollected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchSkips.WithLabelValues(string(xerrors.CodeTimeout))))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New("")
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/intents/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for _, path := range []string{"/v1/intents/0xaa", "/v1/intents/0xbb", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/v1/intents/{id}", http.MethodGet, "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestErrors.WithLabelValues("/boom", http.MethodGet)))
	assert.Zero(t, testutil.ToFloat64(m.RequestErrors.WithLabelValues("/v1/intents/{id}", http.MethodGet)))
}

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	m := New("")
	subscribers := 3.0
	m.Gauge("stream", "subscribers", "Open stream subscriptions.", func() float64 { return subscribers })
	m.Operation("commit_batch", nil, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "intent_settlement_stream_subscribers 3"))
	assert.True(t, strings.Contains(text, `intent_settlement_engine_operations_total{code="OK",operation="commit_batch"} 1`))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}

func TestStartServerRequiresAddress(t *testing.T) {
	err := New("").StartServer(context.Background(), "")
	require.Error(t, err)
}
