// Package payment drives a single card-present payment from the raw request
// to a normalized transaction: validation, card resolution, PIN, gateway
// authorization with fallback and settlement.
package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/settlement"
	"github.com/shopspring/decimal"
)

// Request is one payment attempt as entered at the terminal.
type Request struct {
	Amount         decimal.Decimal
	CardNumber     string
	Expiry         string
	CardholderName string
}

// ParseAmount reads a decimal amount string such as "12.50".
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	return amount, nil
}

// NewRequest builds a Request from the raw strings the terminal collects.
// An unparsable amount is reported as AmountOutOfRange.
func NewRequest(amount, cardNumber, expiry, holder string) (Request, error) {
	a, err := ParseAmount(amount)
	if err != nil {
		return Request{}, &Failure{Kind: AmountOutOfRange, Message: err.Error(), Err: err}
	}
	return Request{
		Amount:         a,
		CardNumber:     cardNumber,
		Expiry:         expiry,
		CardholderName: strings.TrimSpace(holder),
	}, nil
}

type Kind string

const (
	InvalidCardNumber  Kind = "invalid_card_number"
	InvalidExpiry      Kind = "invalid_expiry"
	ExpiredCard        Kind = "expired_card"
	AmountOutOfRange   Kind = "amount_out_of_range"
	UserCancelled      Kind = "user_cancelled"
	PinTimeout         Kind = "pin_timeout"
	GatewayDeclined    Kind = "gateway_declined"
	GatewayUnavailable Kind = "gateway_unavailable"
	SettlementFailed   Kind = "settlement_failed"
)

// Failure is the structured error a run ends with when no transaction is
// produced. Attempts holds every gateway attempt made before the failure.
type Failure struct {
	Kind     Kind              `json:"kind"`
	Message  string            `json:"message"`
	Attempts []gateway.Attempt `json:"attempts,omitempty"`
	Err      error             `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Warning is a non-fatal problem attached to an approved transaction.
type Warning struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Status is the status vocabulary of transaction records. The orchestrator
// only emits approved transactions; declined and error are reserved for
// journal rows written by other terminals sharing the journal schema.
type Status string

const (
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
	StatusError    Status = "error"
)

// ParseStatus accepts only the known statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusApproved, StatusDeclined, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// Transaction is the outgoing record of an approved payment. The card
// appears only masked.
type Transaction struct {
	ID                     string             `json:"id"`
	Amount                 decimal.Decimal    `json:"amount"`
	Currency               string             `json:"currency"`
	MaskedCard             string             `json:"maskedCard"`
	Brand                  string             `json:"brand"`
	CardholderName         string             `json:"cardholderName,omitempty"`
	CardFingerprint        string             `json:"cardFingerprint,omitempty"`
	AuthCode               string             `json:"authCode"`
	ProcessorTransactionID string             `json:"processorTransactionId"`
	Processor              string             `json:"processor"`
	Status                 Status             `json:"status"`
	Timestamp              time.Time          `json:"timestamp"`
	SettlementReference    string             `json:"settlementReference,omitempty"`
	Settlement             *settlement.Result `json:"settlement,omitempty"`
	Attempts               []gateway.Attempt  `json:"attempts,omitempty"`
	Warnings               []Warning          `json:"warnings,omitempty"`
}
