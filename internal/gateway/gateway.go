// Package gateway defines the contract every payment processor client
// implements and the ordered fallback chain the orchestrator authorizes
// through.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/alovak/cardflow-terminal/internal/card"
	"github.com/alovak/cardflow-terminal/internal/expiry"
	"github.com/alovak/cardflow-terminal/internal/pin"
	"github.com/shopspring/decimal"
)

type Status int

const (
	Approved Status = iota + 1
	Declined
	TransientError
	PermanentError
)

func (s Status) String() string {
	switch s {
	case Approved:
		return "approved"
	case Declined:
		return "declined"
	case TransientError:
		return "transient_error"
	case PermanentError:
		return "permanent_error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for c := Approved; c <= PermanentError; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Final reports whether the outcome ends the fallback chain.
func (s Status) Final() bool {
	return s == Approved || s == Declined
}

// Outcome is the normalized result of one authorization attempt.
type Outcome struct {
	Status        Status `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
	AuthCode      string `json:"authCode,omitempty"`
	Processor     string `json:"processor,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func Approve(processor, transactionID, authCode string) Outcome {
	return Outcome{Status: Approved, Processor: processor, TransactionID: transactionID, AuthCode: authCode}
}

func Decline(reason string) Outcome {
	return Outcome{Status: Declined, Reason: reason}
}

func Transient(format string, args ...any) Outcome {
	return Outcome{Status: TransientError, Reason: fmt.Sprintf(format, args...)}
}

func Permanent(format string, args ...any) Outcome {
	return Outcome{Status: PermanentError, Reason: fmt.Sprintf(format, args...)}
}

// Request carries everything a processor needs for one authorization. PIN is
// empty when no PIN was collected.
type Request struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Card        card.Profile
	Expiry      expiry.Date
	PIN         pin.PIN
	Description string
	TerminalID  string
	MerchantID  string
}

// Gateway is one processor client. Implementations classify every response
// into an Outcome and never return Approved without a transaction id. They
// keep no per-call state and are safe for concurrent use.
type Gateway interface {
	// Name identifies the configured instance and is reported as the
	// processor on approved transactions.
	Name() string
	// Kind identifies the processor API the client speaks.
	Kind() string
	Authorize(ctx context.Context, req Request) Outcome
}

// Attempt records what happened at one position of the chain.
type Attempt struct {
	Position int           `json:"position"`
	Gateway  string        `json:"gateway"`
	Kind     string        `json:"kind"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
}
