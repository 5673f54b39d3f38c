package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/account"
	. "bourse/internal/common"
	"bourse/internal/engine"
	"bourse/internal/exchange"
)

func newTestServer(t *testing.T) (*exchange.Exchange, http.Handler) {
	ex := exchange.New(account.NewManager(100000))
	return ex, NewServer(ex, []string{"http://localhost:3000"}).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestAPI_Health(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestAPI_Instruments(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/instruments", ListInstrumentRequest{Symbol: "acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	book := decodeBody[engine.BookSnapshot](t, rec)
	assert.Equal(t, "ACME", book.Ticker)
	assert.False(t, book.HasTraded)

	rec = do(t, h, http.MethodPost, "/api/v1/instruments", ListInstrumentRequest{Symbol: "ACME"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/instruments", ListInstrumentRequest{Symbol: "WAYTOOLONG"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/instruments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	quotes := decodeBody[[]exchange.Quote](t, rec)
	require.Len(t, quotes, 1)
	assert.Equal(t, "ACME", quotes[0].Ticker)

	rec = do(t, h, http.MethodGet, "/api/v1/instruments/NOPE/book", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Accounts(t *testing.T) {
	ex, h := newTestServer(t)
	require.NoError(t, ex.ListInstrument("ACME"))

	rec := do(t, h, http.MethodPost, "/api/v1/accounts", SignUpRequest{ID: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snap := decodeBody[account.Snapshot](t, rec)
	assert.Equal(t, "alice", snap.ID)
	assert.Equal(t, int64(100000), snap.Cash)

	rec = do(t, h, http.MethodPost, "/api/v1/accounts", SignUpRequest{ID: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/accounts", SignUpRequest{ID: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/accounts/alice/deposit", DepositRequest{Cash: 50, Ticker: "ACME", Quantity: 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decodeBody[account.Snapshot](t, rec)
	assert.Equal(t, int64(100050), snap.Cash)
	assert.Equal(t, int64(3), snap.Positions["ACME"])

	rec = do(t, h, http.MethodPost, "/api/v1/accounts/alice/deposit", DepositRequest{Cash: 500, Ticker: "NOPE", Quantity: 5})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/accounts/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decodeBody[account.Snapshot](t, rec)
	assert.Equal(t, int64(100050), snap.Cash, "failed deposit must not move cash")

	rec = do(t, h, http.MethodPost, "/api/v1/accounts/alice/deposit", DepositRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/accounts/bob/deposit", DepositRequest{Cash: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/accounts/bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Orders(t *testing.T) {
	ex, h := newTestServer(t)
	require.NoError(t, ex.ListInstrument("ACME"))
	_, err := ex.Accounts().SignUp("x")
	require.NoError(t, err)
	_, err = ex.Accounts().SignUp("y")
	require.NoError(t, err)
	require.NoError(t, ex.Credit("x", "ACME", 10))

	rec := do(t, h, http.MethodPost, "/api/v1/orders", OrderRequest{Account: "x", Ticker: "ACME", Side: "sell", Price: 50, Quantity: 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sell := decodeBody[OrderResponse](t, rec)
	assert.Equal(t, int64(10), sell.Resting)
	assert.Empty(t, sell.Fills)

	rec = do(t, h, http.MethodPost, "/api/v1/orders", OrderRequest{Account: "y", Ticker: "ACME", Side: "buy", Price: 55, Quantity: 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	buy := decodeBody[OrderResponse](t, rec)
	assert.Equal(t, int64(4), buy.Filled)
	require.Len(t, buy.Fills, 1)
	assert.Equal(t, int64(50), buy.Fills[0].Price)
	assert.Equal(t, sell.UUID, buy.Fills[0].SellOrder)

	rec = do(t, h, http.MethodGet, "/api/v1/instruments/ACME/book", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	book := decodeBody[engine.BookSnapshot](t, rec)
	assert.True(t, book.HasTraded)
	assert.Equal(t, int64(50), book.LastTradedPrice)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, int64(6), book.Asks[0].Quantity)

	path := fmt.Sprintf("/api/v1/orders/ACME/%s?account=y", sell.UUID)
	rec = do(t, h, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/orders/ACME/%s", sell.UUID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path = fmt.Sprintf("/api/v1/orders/ACME/%s?account=x", sell.UUID)
	rec = do(t, h, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[CancelResponse](t, rec).Cancelled)

	rec = do(t, h, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[CancelResponse](t, rec).Cancelled)
}

func TestAPI_OrderRejections(t *testing.T) {
	ex, h := newTestServer(t)
	require.NoError(t, ex.ListInstrument("ACME"))
	_, err := ex.Accounts().SignUp("a")
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    OrderRequest
		status int
	}{
		{"bad side", OrderRequest{Account: "a", Ticker: "ACME", Side: "hold", Price: 1, Quantity: 1}, http.StatusBadRequest},
		{"zero quantity", OrderRequest{Account: "a", Ticker: "ACME", Side: "buy", Price: 1, Quantity: 0}, http.StatusBadRequest},
		{"negative price", OrderRequest{Account: "a", Ticker: "ACME", Side: "buy", Price: -1, Quantity: 1}, http.StatusBadRequest},
		{"unknown instrument", OrderRequest{Account: "a", Ticker: "NOPE", Side: "buy", Price: 1, Quantity: 1}, http.StatusNotFound},
		{"unknown account", OrderRequest{Account: "ghost", Ticker: "ACME", Side: "buy", Price: 1, Quantity: 1}, http.StatusNotFound},
		{"insufficient funds", OrderRequest{Account: "a", Ticker: "ACME", Side: "buy", Price: 100001, Quantity: 1}, http.StatusPaymentRequired},
		{"insufficient position", OrderRequest{Account: "a", Ticker: "ACME", Side: "sell", Price: 1, Quantity: 1}, http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/orders", tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(`{"acct":`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CORS(t *testing.T) {
	_, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/instruments", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusPaymentRequired, statusOf(fmt.Errorf("buy ACME: %w", ErrInsufficientFunds)))
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("boom")))
}

func TestServer_ServeShutsDown(t *testing.T) {
	ex := exchange.New(account.NewManager(0))
	srv := NewServer(ex, nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	url := fmt.Sprintf("http://%s/health", listener.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
