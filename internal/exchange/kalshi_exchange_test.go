package exchange

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kalshi-reversion-bot/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeTestKey generates an RSA key and writes it as a PKCS1 PEM file.
func writeTestKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.pem")
	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(path, pemData, 0600))
	return path
}

// newTestExchange builds a client pointed at a test server, with fast retries.
func newTestExchange(t *testing.T, baseURL string) *KalshiExchange {
	t.Helper()
	cfg := &models.Config{
		KeyID:               "test-key-id",
		PrivateKeyPath:      writeTestKey(t),
		APIBaseURL:          baseURL,
		RetryAttempts:       2,
		RetryInitialDelayMs: 1,
	}
	e, err := NewKalshiExchange(cfg, zap.NewNop())
	require.NoError(t, err)
	return e
}

// TestGetMarketConvertsCents verifies cents-to-dollars conversion and the
// signing headers on the outgoing request.
func TestGetMarketConvertsCents(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		assert.Equal(t, "/markets/KXTEST-26DEC31", r.URL.Path)
		w.Write([]byte(`{"market":{"ticker":"KXTEST-26DEC31","title":"Test market",` +
			`"status":"active","yes_bid":57,"yes_ask":59,"volume":1200,` +
			`"open_interest":800,"close_time":"2026-12-31T00:00:00Z"}}`))
	}))
	defer srv.Close()

	e := newTestExchange(t, srv.URL)
	snap, err := e.GetMarket("KXTEST-26DEC31")
	require.NoError(t, err)

	assert.Equal(t, 0.57, snap.YesBid)
	assert.Equal(t, 0.59, snap.YesAsk)
	assert.Equal(t, 0.57, snap.LastPrice, "last price tracks the yes bid")
	assert.Equal(t, int64(800), snap.OpenInterest)
	assert.Equal(t, int64(1200), snap.Volume)
	assert.Equal(t, 2026, snap.CloseTime.Year())

	assert.Equal(t, "test-key-id", gotHeaders.Get("KALSHI-ACCESS-KEY"))
	assert.NotEmpty(t, gotHeaders.Get("KALSHI-ACCESS-TIMESTAMP"))
	assert.NotEmpty(t, gotHeaders.Get("KALSHI-ACCESS-SIGNATURE"))
}

// TestRetryOnServerError verifies a 5xx response is retried and a later
// success wins.
func TestRetryOnServerError(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":"service_unavailable","message":"down"}}`))
			return
		}
		w.Write([]byte(`{"balance":123456}`))
	}))
	defer srv.Close()

	e := newTestExchange(t, srv.URL)
	balance, err := e.GetBalance()
	require.NoError(t, err)

	assert.Equal(t, 1234.56, balance)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts), "the 503 must be retried exactly once")
}

// TestClientErrorNotRetried verifies a 4xx API error returns immediately as a
// typed error without burning retry attempts.
func TestClientErrorNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"insufficient_balance","message":"not enough funds"}}`))
	}))
	defer srv.Close()

	e := newTestExchange(t, srv.URL)
	_, err := e.PlaceSell("KXTEST-26DEC31", 5)
	require.Error(t, err)

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr), "a 4xx must surface as a typed API error")
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "insufficient_balance", apiErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "client errors must not be retried")
}

// TestRetryExhaustion verifies a persistent 5xx gives up after the configured
// attempts and wraps the last error.
func TestRetryExhaustion(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"internal","message":"boom"}}`))
	}))
	defer srv.Close()

	e := newTestExchange(t, srv.URL)
	_, err := e.GetPositions()
	require.Error(t, err)

	// RetryAttempts=2 -> initial attempt + 2 retries.
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr), "the wrapped error must preserve the last API error")
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

// TestUndecodableErrorBody verifies a non-JSON error body still yields a
// typed error with the HTTP status.
func TestUndecodableErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	e := newTestExchange(t, srv.URL)
	_, err := e.GetBalance()
	require.Error(t, err)

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "http_error", apiErr.Code)
}

// TestMarketStreamStopsPromptly verifies stop() interrupts a connection
// blocked on reads instead of waiting out the read deadline.
func TestMarketStreamStopsPromptly(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the connection open without sending anything.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	e := newTestExchange(t, srv.URL)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := newMarketStream(wsURL, []string{"KXTEST-26DEC31"}, e, zap.NewNop())

	done := make(chan struct{})
	go func() {
		stream.run()
		close(done)
	}()

	// Give the stream a moment to establish the connection.
	time.Sleep(200 * time.Millisecond)
	stream.stop()

	select {
	case <-done:
		// stopped promptly
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop within 2s of stop()")
	}
}
