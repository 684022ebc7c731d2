package flutterwave

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alovak/cardflow-terminal/internal/card"
	"github.com/alovak/cardflow-terminal/internal/expiry"
	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/pin"
	"github.com/alovak/cardflow-terminal/internal/security"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

const encKey = "FLWSECK_TESTabcdef123456"

func testRequest(p pin.PIN) gateway.Request {
	return gateway.Request{
		Reference: "ref-1",
		Amount:    decimal.RequireFromString("150"),
		Currency:  "kes",
		Card:      card.NewProfile("5555555555554444", 3, 2029, "John Doe"),
		Expiry:    expiry.Date{Month: 3, Year: 2029},
		PIN:       p,
	}
}

func newClient(t *testing.T, mux *http.ServeMux) *Client {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:       srv.URL,
		PublicKey:     "FLWPUBK_TEST",
		SecretKey:     "FLWSECK_TEST",
		EncryptionKey: encKey,
		Timeout:       time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func decodeCharge(t *testing.T, r *http.Request) cardPayload {
	var body encryptedCharge
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	require.Equal(t, "FLWPUBK_TEST", body.PublicKey)

	raw, err := base64.StdEncoding.DecodeString(body.Client)
	require.NoError(t, err)
	plain, err := security.DecryptTripleDES([]byte(encKey), raw)
	require.NoError(t, err)

	var p cardPayload
	require.NoError(t, json.Unmarshal(plain, &p))
	return p
}

func TestAuthorize_PINFlow(t *testing.T) {
	var pinCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/charges", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "card", r.URL.Query().Get("type"))
		require.Equal(t, "Bearer FLWSECK_TEST", r.Header.Get("Authorization"))

		p := decodeCharge(t, r)
		require.Equal(t, "5555555555554444", p.CardNumber)
		require.Equal(t, "03", p.ExpiryMonth)
		require.Equal(t, "29", p.ExpiryYear)
		require.Equal(t, "150.00", p.Amount)
		require.Equal(t, "KES", p.Currency)
		require.Equal(t, "ref-1", p.TxRef)

		w.Write([]byte(`{"status":"success","message":"Charge initiated","data":{"id":1,"flw_ref":"FLW-MOCK-1","status":"pending","auth_model":"PIN"}}`))
	})
	mux.HandleFunc("/v3/charges/FLW-MOCK-1/authorize", func(w http.ResponseWriter, r *http.Request) {
		pinCalls.Add(1)
		require.Equal(t, http.MethodPut, r.Method)
		var auth pinAuthorization
		require.NoError(t, json.NewDecoder(r.Body).Decode(&auth))
		require.Equal(t, "pin", auth.Type)
		require.Equal(t, "1234", auth.PIN)

		w.Write([]byte(`{"status":"success","message":"Charge successful","data":{"id":288200108,"flw_ref":"FLW-MOCK-1","status":"successful"}}`))
	})

	out := newClient(t, mux).Authorize(context.Background(), testRequest("1234"))
	require.Equal(t, gateway.Approved, out.Status)
	require.Equal(t, "288200108", out.TransactionID)
	require.Equal(t, "FLW-MOCK-1", out.AuthCode)
	require.Equal(t, "flutterwave", out.Processor)
	require.EqualValues(t, 1, pinCalls.Load())
}

func TestAuthorize_PINRequiredButMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/charges", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","message":"Charge authorization data required","meta":{"authorization":{"mode":"pin"}}}`))
	})

	out := newClient(t, mux).Authorize(context.Background(), testRequest(""))
	require.Equal(t, gateway.PermanentError, out.Status)
}

func TestAuthorize_Classification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   gateway.Status
	}{
		{"direct success", 200, `{"status":"success","data":{"id":42,"flw_ref":"FLW-42","status":"successful"}}`, gateway.Approved},
		{"declined", 200, `{"status":"success","data":{"id":43,"flw_ref":"FLW-43","status":"failed","processor_response":"Insufficient funds"}}`, gateway.Declined},
		{"error status", 200, `{"status":"error","message":"Card declined"}`, gateway.Declined},
		{"otp required", 200, `{"status":"success","data":{"id":44,"flw_ref":"FLW-44","status":"pending","auth_model":"OTP"}}`, gateway.PermanentError},
		{"server error", 502, `bad gateway`, gateway.TransientError},
		{"malformed", 200, `not json`, gateway.PermanentError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v3/charges", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			out := newClient(t, mux).Authorize(context.Background(), testRequest("1234"))
			require.Equal(t, tc.want, out.Status)
		})
	}
}
