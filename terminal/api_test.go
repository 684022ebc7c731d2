package terminal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/payment"
	"github.com/alovak/cardflow-terminal/terminal"
	"github.com/alovak/cardflow-terminal/terminal/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubGateway struct {
	outcome gateway.Outcome
	calls   atomic.Int32
}

func (g *stubGateway) Name() string { return "stub" }
func (g *stubGateway) Kind() string { return "stub" }

func (g *stubGateway) Authorize(context.Context, gateway.Request) gateway.Outcome {
	g.calls.Add(1)
	return g.outcome
}

func newRouter(t *testing.T, requirePIN bool, g gateway.Gateway) (chi.Router, *terminal.Service) {
	cfg := payment.DefaultConfig()
	cfg.RequirePIN = requirePIN
	svc := terminal.NewService(terminal.ServiceConfig{Payment: cfg, PINTimeout: 5 * time.Second},
		gateway.NewChain(discard, time.Second, g), nil, terminal.NewRepository(), discard)
	t.Cleanup(svc.Close)

	router := chi.NewRouter()
	terminal.NewAPI(svc).AppendRoutes(router)
	return router, svc
}

func do(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w
}

func validPayment() models.CreatePayment {
	return models.CreatePayment{
		Amount:         "42.00",
		CardNumber:     "4111111111111111",
		Expiry:         "1239",
		CardholderName: "JANE DOE",
	}
}

func TestAPI_PaymentApproved(t *testing.T) {
	g := &stubGateway{outcome: gateway.Approve("", "ch_1", "AUTH01")}
	router, _ := newRouter(t, false, g)

	w := do(router, http.MethodPost, "/payments?wait=true", validPayment())
	require.Equal(t, http.StatusOK, w.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	require.Equal(t, payment.Done, session.State)
	require.Equal(t, payment.Approved, session.Result)
	require.NotNil(t, session.Transaction)
	require.Equal(t, "****-****-****-1111", session.Transaction.MaskedCard)
	require.NotContains(t, w.Body.String(), "4111111111111111")

	w = do(router, http.MethodGet, "/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var transactions []models.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &transactions))
	require.Len(t, transactions, 1)
	require.Equal(t, session.ID, transactions[0].ID)
	require.Equal(t, "AUTH01", transactions[0].AuthCode)

	w = do(router, http.MethodGet, "/transactions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_ValidationFailure(t *testing.T) {
	g := &stubGateway{outcome: gateway.Approve("", "ch_1", "AUTH01")}
	router, _ := newRouter(t, false, g)

	p := validPayment()
	p.CardNumber = "4111111111111112"
	w := do(router, http.MethodPost, "/payments?wait=true", p)
	require.Equal(t, http.StatusOK, w.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	require.Equal(t, payment.Error, session.Result)
	require.Equal(t, payment.InvalidCardNumber, session.Failure.Kind)
	require.Nil(t, session.Transaction)
	require.EqualValues(t, 0, g.calls.Load())
}

func TestAPI_UnparsableAmount(t *testing.T) {
	router, _ := newRouter(t, false, &stubGateway{})

	p := validPayment()
	p.Amount = "lots"
	w := do(router, http.MethodPost, "/payments", p)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func waitForPIN(t *testing.T, router http.Handler, id string) {
	require.Eventually(t, func() bool {
		w := do(router, http.MethodGet, "/payments/"+id, nil)
		var s models.Session
		json.Unmarshal(w.Body.Bytes(), &s)
		return s.PinRequired
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAPI_PINFlow(t *testing.T) {
	g := &stubGateway{outcome: gateway.Approve("", "ch_1", "AUTH01")}
	router, svc := newRouter(t, true, g)

	w := do(router, http.MethodPost, "/payments", validPayment())
	require.Equal(t, http.StatusAccepted, w.Code)
	var session models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))

	waitForPIN(t, router, session.ID)

	w = do(router, http.MethodPost, "/payments/"+session.ID+"/pin", models.SubmitPIN{PIN: "12a4"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(router, http.MethodPost, "/payments/"+session.ID+"/pin", models.SubmitPIN{PIN: "1234"})
	require.Equal(t, http.StatusNoContent, w.Code)

	done, err := svc.Wait(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, payment.Approved, done.Result)
	require.EqualValues(t, 1, g.calls.Load())

	w = do(router, http.MethodPost, "/payments/"+session.ID+"/pin", models.SubmitPIN{PIN: "1234"})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_CancelDuringPIN(t *testing.T) {
	g := &stubGateway{outcome: gateway.Approve("", "ch_1", "AUTH01")}
	router, svc := newRouter(t, true, g)

	w := do(router, http.MethodPost, "/payments", validPayment())
	var session models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))

	waitForPIN(t, router, session.ID)

	w = do(router, http.MethodPost, "/payments/"+session.ID+"/cancel", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	done, err := svc.Wait(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, payment.Cancelled, done.Result)
	require.Equal(t, payment.UserCancelled, done.Failure.Kind)
	require.EqualValues(t, 0, g.calls.Load())

	w = do(router, http.MethodGet, "/transactions", nil)
	require.JSONEq(t, `[]`, w.Body.String())
}

func TestAPI_UnknownPayment(t *testing.T) {
	router, _ := newRouter(t, false, &stubGateway{})

	require.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/payments/nope", nil).Code)
	require.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/payments/nope/cancel", nil).Code)
	require.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/transactions/nope", nil).Code)
}
