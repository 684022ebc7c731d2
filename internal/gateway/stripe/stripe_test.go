package stripe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alovak/cardflow-terminal/internal/card"
	"github.com/alovak/cardflow-terminal/internal/expiry"
	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testRequest() gateway.Request {
	return gateway.Request{
		Reference:  "7f9c1e0a-0000-4000-8000-000000000001",
		Amount:     decimal.RequireFromString("12.34"),
		Currency:   "USD",
		Card:       card.NewProfile("4242424242424242", 10, 2028, "Jane Doe"),
		Expiry:     expiry.Date{Month: 10, Year: 2028},
		TerminalID: "T0000001",
	}
}

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, SecretKey: "sk_test_123", Timeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAuthorize_Approved(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/charges", r.URL.Path)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.Equal(t, "7f9c1e0a-0000-4000-8000-000000000001", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "1234", r.PostForm.Get("amount"))
		require.Equal(t, "usd", r.PostForm.Get("currency"))
		require.Equal(t, "4242424242424242", r.PostForm.Get("card[number]"))
		require.Equal(t, "10", r.PostForm.Get("card[exp_month]"))
		require.Equal(t, "2028", r.PostForm.Get("card[exp_year]"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ch_1","status":"succeeded","paid":true,"authorization_code":"123456"}`))
	})

	out := c.Authorize(context.Background(), testRequest())
	require.Equal(t, gateway.Approved, out.Status)
	require.Equal(t, "ch_1", out.TransactionID)
	require.Equal(t, "123456", out.AuthCode)
	require.Equal(t, "stripe", out.Processor)
}

func TestAuthorize_Classification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   gateway.Status
		reason string
	}{
		{"failed charge", 200, `{"id":"ch_2","status":"failed","outcome":{"reason":"insufficient_funds"}}`, gateway.Declined, "insufficient_funds"},
		{"card error", 402, `{"error":{"type":"card_error","code":"card_declined","decline_code":"do_not_honor"}}`, gateway.Declined, "do_not_honor"},
		{"invalid request", 400, `{"error":{"type":"invalid_request_error","message":"bad amount"}}`, gateway.PermanentError, ""},
		{"server error", 503, `upstream unavailable`, gateway.TransientError, ""},
		{"rate limited", 429, `{}`, gateway.TransientError, ""},
		{"malformed", 200, `<html>`, gateway.PermanentError, ""},
		{"pending", 200, `{"id":"ch_3","status":"pending"}`, gateway.PermanentError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			out := c.Authorize(context.Background(), testRequest())
			require.Equal(t, tc.want, out.Status)
			if tc.reason != "" {
				require.Equal(t, tc.reason, out.Reason)
			}
		})
	}
}

func TestAuthorize_Timeout(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := c.Authorize(ctx, testRequest())
	require.Equal(t, gateway.TransientError, out.Status)
}
