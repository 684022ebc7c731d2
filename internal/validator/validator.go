// Package validator holds the local checks a payment request must pass
// before any gateway is contacted. Nothing here performs I/O.
package validator

import (
	"errors"
	"fmt"
	"time"

	"github.com/alovak/cardflow-terminal/internal/card"
	"github.com/alovak/cardflow-terminal/internal/expiry"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCardNumber = errors.New("invalid card number")
	ErrInvalidExpiry     = errors.New("invalid expiry")
	ErrExpiredCard       = errors.New("card expired")
	ErrAmountOutOfRange  = errors.New("amount out of range")
)

// Limits bounds the amount a terminal accepts, inclusive on both ends.
type Limits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func DefaultLimits() Limits {
	return Limits{
		Min: decimal.RequireFromString("1.00"),
		Max: decimal.RequireFromString("10000.00"),
	}
}

func IsLuhnValid(number string) bool {
	return card.IsLuhnValid(number)
}

func ParseExpiry(raw string) (expiry.Date, error) {
	return expiry.Parse(raw)
}

func IsNotExpired(month, year int, asOf time.Time) bool {
	return expiry.IsNotExpired(month, year, asOf)
}

func IsAmountEligible(amount decimal.Decimal, limits Limits) bool {
	return amount.GreaterThanOrEqual(limits.Min) && amount.LessThanOrEqual(limits.Max)
}

// Input is the raw material a request is validated from.
type Input struct {
	Amount     decimal.Decimal
	CardNumber string
	Expiry     string
}

// Validate runs the checks in order and stops at the first failure. The
// returned error wraps one of the package sentinels.
func Validate(in Input, limits Limits, asOf time.Time) (expiry.Date, error) {
	if !IsLuhnValid(in.CardNumber) {
		return expiry.Date{}, ErrInvalidCardNumber
	}

	exp, err := ParseExpiry(in.Expiry)
	if err != nil {
		return expiry.Date{}, fmt.Errorf("%w: %v", ErrInvalidExpiry, err)
	}

	if !IsNotExpired(exp.Month, exp.Year, asOf) {
		return expiry.Date{}, fmt.Errorf("%w: %s", ErrExpiredCard, exp.CardFace())
	}

	if !IsAmountEligible(in.Amount, limits) {
		return expiry.Date{}, fmt.Errorf("%w: %s not in [%s, %s]", ErrAmountOutOfRange,
			in.Amount.StringFixed(2), limits.Min.StringFixed(2), limits.Max.StringFixed(2))
	}

	return exp, nil
}
