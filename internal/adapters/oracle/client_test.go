package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/pkg/logger"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Timeout:    2 * time.Second,
		MaxRetries: 1,
	}, logger.New("error", "test"))
}

func TestConvertStablecoinShortcut(t *testing.T) {
	// No server at all: stable pairs never hit the network
	c := testClient("http://127.0.0.1:1")

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(42), "usdt", "USD")
	require.NoError(t, err)
	assert.True(t, conv.Rate.Equal(decimal.NewFromInt(1)))
	assert.True(t, conv.Converted.Equal(decimal.NewFromInt(42)))

	conv, err = c.Convert(context.Background(), decimal.NewFromInt(7), "SOL", "SOL")
	require.NoError(t, err)
	assert.True(t, conv.Rate.Equal(decimal.NewFromInt(1)))
}

func TestConvertFetchesRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rates", r.URL.Path)
		assert.Equal(t, "SOL", r.URL.Query().Get("from"))
		assert.Equal(t, "USD", r.URL.Query().Get("to"))
		assert.Equal(t, "test-key", r.Header.Get("Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rate":"150"}`))
	}))
	defer server.Close()

	c := testClient(server.URL)

	conv, err := c.Convert(context.Background(), decimal.RequireFromString("2.5"), "SOL", "USD")
	require.NoError(t, err)
	assert.True(t, conv.Rate.Equal(decimal.NewFromInt(150)))
	assert.True(t, conv.Converted.Equal(decimal.NewFromInt(375)))
}

func TestConvertRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"rate":"0.999"}`))
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}, logger.New("error", "test"))

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(100), "TRX", "USD")
	require.NoError(t, err)
	assert.True(t, conv.Rate.Equal(decimal.RequireFromString("0.999")))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestConvertReportsOracleUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := testClient(server.URL)

	_, err := c.Convert(context.Background(), decimal.NewFromInt(1), "ETH", "USD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOracleUnavailable))
}

func TestConvertRejectsNonPositiveRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rate":"0"}`))
	}))
	defer server.Close()

	c := testClient(server.URL)

	_, err := c.Convert(context.Background(), decimal.NewFromInt(1), "ETH", "USD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOracleUnavailable))
}
