package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := chi.NewRouter()
	router.Use(NewStructuredLogger(logger))
	router.Get("/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hi"))
	})

	req := httptest.NewRequest(http.MethodGet, "/payments/42", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "request complete", rec["msg"])
	require.Equal(t, "GET", rec["http_method"])
	require.EqualValues(t, http.StatusTeapot, rec["resp_status"])
	require.EqualValues(t, 2, rec["resp_bytes_length"])
	require.Contains(t, rec["uri"], "/payments/42")
}
