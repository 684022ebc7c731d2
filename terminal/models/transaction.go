package models

import (
	"time"

	"github.com/alovak/cardflow-terminal/internal/payment"
	"github.com/shopspring/decimal"
)

// Transaction is the journal record of an approved payment.
type Transaction struct {
	ID                     string          `json:"id"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	MaskedCard             string          `json:"maskedCard"`
	Brand                  string          `json:"brand"`
	CardFingerprint        string          `json:"cardFingerprint,omitempty"`
	AuthCode               string          `json:"authCode"`
	Processor              string          `json:"processor"`
	ProcessorTransactionID string          `json:"processorTransactionId"`
	Status                 payment.Status  `json:"status"`
	SettlementReference    string          `json:"settlementReference,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
}

func FromPayment(t *payment.Transaction) *Transaction {
	return &Transaction{
		ID:                     t.ID,
		Amount:                 t.Amount,
		Currency:               t.Currency,
		MaskedCard:             t.MaskedCard,
		Brand:                  t.Brand,
		CardFingerprint:        t.CardFingerprint,
		AuthCode:               t.AuthCode,
		Processor:              t.Processor,
		ProcessorTransactionID: t.ProcessorTransactionID,
		Status:                 t.Status,
		SettlementReference:    t.SettlementReference,
		CreatedAt:              t.Timestamp,
	}
}
