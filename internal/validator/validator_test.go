package validator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestIsAmountEligible(t *testing.T) {
	limits := Limits{Min: decimal.RequireFromString("1.00"), Max: decimal.RequireFromString("500.00")}

	require.True(t, IsAmountEligible(decimal.RequireFromString("1.00"), limits))
	require.True(t, IsAmountEligible(decimal.RequireFromString("500.00"), limits))
	require.True(t, IsAmountEligible(decimal.RequireFromString("42.50"), limits))
	require.False(t, IsAmountEligible(decimal.RequireFromString("0.99"), limits))
	require.False(t, IsAmountEligible(decimal.RequireFromString("500.01"), limits))
	require.False(t, IsAmountEligible(decimal.RequireFromString("-5"), limits))
}

func TestValidate(t *testing.T) {
	asOf := time.Date(2028, time.October, 15, 9, 30, 0, 0, time.UTC)
	limits := DefaultLimits()
	valid := Input{
		Amount:     decimal.RequireFromString("25.00"),
		CardNumber: "4242 4242 4242 4242",
		Expiry:     "1028",
	}

	t.Run("valid request", func(t *testing.T) {
		exp, err := Validate(valid, limits, asOf)
		require.NoError(t, err)
		require.Equal(t, 10, exp.Month)
		require.Equal(t, 2028, exp.Year)
	})

	t.Run("bad luhn", func(t *testing.T) {
		in := valid
		in.CardNumber = "4242424242424241"
		_, err := Validate(in, limits, asOf)
		require.ErrorIs(t, err, ErrInvalidCardNumber)
	})

	t.Run("unparseable expiry", func(t *testing.T) {
		in := valid
		in.Expiry = "13AB"
		_, err := Validate(in, limits, asOf)
		require.ErrorIs(t, err, ErrInvalidExpiry)
	})

	t.Run("expired card", func(t *testing.T) {
		in := valid
		in.Expiry = "0928"
		_, err := Validate(in, limits, asOf)
		require.ErrorIs(t, err, ErrExpiredCard)
	})

	t.Run("amount too large", func(t *testing.T) {
		in := valid
		in.Amount = decimal.RequireFromString("10000.01")
		_, err := Validate(in, limits, asOf)
		require.ErrorIs(t, err, ErrAmountOutOfRange)
	})

	t.Run("first failure wins", func(t *testing.T) {
		in := Input{Amount: decimal.Zero, CardNumber: "1234", Expiry: "xx"}
		_, err := Validate(in, limits, asOf)
		require.ErrorIs(t, err, ErrInvalidCardNumber)
	})
}
