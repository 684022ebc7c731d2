package terminal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alovak/cardflow-terminal/internal/payment"
	"github.com/alovak/cardflow-terminal/internal/pin"
	"github.com/alovak/cardflow-terminal/terminal/models"
	"github.com/go-chi/chi/v5"
)

// API is a HTTP API for the terminal UI
type API struct {
	terminal *Service
}

func NewAPI(terminal *Service) *API {
	return &API{
		terminal: terminal,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", a.createPayment)
		r.Route("/{paymentID}", func(r chi.Router) {
			r.Get("/", a.getPayment)
			r.Post("/pin", a.submitPIN)
			r.Post("/cancel", a.cancelPayment)
		})
	})
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", a.listTransactions)
		r.Get("/{transactionID}", a.getTransaction)
	})
}

// createPayment starts a run. With ?wait=true the response is sent once the
// run has finished, which only makes sense when no PIN is required.
func (a *API) createPayment(w http.ResponseWriter, r *http.Request) {
	create := models.CreatePayment{}
	err := json.NewDecoder(r.Body).Decode(&create)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := a.terminal.StartPayment(create)
	if err != nil {
		var f *payment.Failure
		if errors.As(err, &f) {
			writeJSON(w, http.StatusUnprocessableEntity, f)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		session, err = a.terminal.Wait(r.Context(), session.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	writeJSON(w, http.StatusAccepted, session)
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	session, err := a.terminal.GetSession(paymentID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (a *API) submitPIN(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	var body models.SubmitPIN
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.terminal.SubmitPIN(paymentID, body.PIN); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) cancelPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	if err := a.terminal.Cancel(paymentID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	transactions, err := a.terminal.ListTransactions(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, transactions)
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")

	t, err := a.terminal.GetTransaction(r.Context(), transactionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pin.ErrInvalidPIN):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrNoPINPending), errors.Is(err, pin.ErrAlreadySettled):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
