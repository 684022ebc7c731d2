package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRestClient returns the HTTP client processor clients share: base URL,
// per-request timeout, JSON accept header and a traced transport.
func NewRestClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json")
}

// FromTransportError classifies a failed round trip. Nothing reached the
// processor (or nothing came back), so the attempt is transient.
func FromTransportError(err error) Outcome {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Transient("timeout: %v", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return Transient("timeout: %v", err)
	case errors.Is(err, context.Canceled):
		return Transient("request cancelled: %v", err)
	}
	return Transient("transport error: %v", err)
}

// FromHTTPStatus classifies a non-2xx response the processor client has no
// more specific rule for.
func FromHTTPStatus(resp *resty.Response) Outcome {
	body := truncate(strings.TrimSpace(resp.String()), maxReasonBody)
	return Transient("http status %d: %s", resp.StatusCode(), body)
}

const maxReasonBody = 200

// truncate cuts s to at most n bytes without splitting a rune. Invalid
// UTF-8 in s is dropped.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Malformed is returned when a 2xx response cannot be understood.
func Malformed(err error) Outcome {
	return Permanent("malformed response: %v", err)
}
