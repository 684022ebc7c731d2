package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatus_TruncatesOnRuneBoundary(t *testing.T) {
	// 199 ASCII bytes followed by two-byte runes put byte 200 inside a rune
	body := strings.Repeat("a", 199) + strings.Repeat("é", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	resp, err := gateway.NewRestClient(srv.URL, time.Second).R().
		SetContext(context.Background()).
		Get("/")
	require.NoError(t, err)

	outcome := gateway.FromHTTPStatus(resp)
	require.Equal(t, gateway.TransientError, outcome.Status)
	require.True(t, utf8.ValidString(outcome.Reason))
	require.Equal(t, "http status 503: "+strings.Repeat("a", 199), outcome.Reason)
}

func TestFromHTTPStatus_DropsInvalidBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad\xffgateway"))
	}))
	defer srv.Close()

	resp, err := gateway.NewRestClient(srv.URL, time.Second).R().Get("/")
	require.NoError(t, err)

	outcome := gateway.FromHTTPStatus(resp)
	require.Equal(t, "http status 502: badgateway", outcome.Reason)
}
