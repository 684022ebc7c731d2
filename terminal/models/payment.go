package models

import (
	"time"

	"github.com/alovak/cardflow-terminal/internal/payment"
)

// CreatePayment is the body of POST /payments.
type CreatePayment struct {
	Amount         string `json:"amount"`
	CardNumber     string `json:"cardNumber"`
	Expiry         string `json:"expiry"`
	CardholderName string `json:"cardholderName,omitempty"`
}

// SubmitPIN is the body of POST /payments/{id}/pin.
type SubmitPIN struct {
	PIN string `json:"pin"`
}

// Session is what the terminal UI polls while a payment runs.
type Session struct {
	ID           string               `json:"id"`
	State        payment.State        `json:"state"`
	Result       payment.Result       `json:"result"`
	Gateway      int                  `json:"gateway"`
	PinRequired  bool                 `json:"pinRequired"`
	PinExpiresAt *time.Time           `json:"pinExpiresAt,omitempty"`
	MaskedCard   string               `json:"maskedCard,omitempty"`
	Transaction  *payment.Transaction `json:"transaction,omitempty"`
	Failure      *payment.Failure     `json:"failure,omitempty"`
}
