// Package settlement converts an approved fiat amount into the settlement
// asset and requests the transfer to the merchant wallet. It runs after
// authorization and its failures never undo an approval.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/exp/slog"
)

var tracer = otel.Tracer("github.com/alovak/cardflow-terminal/internal/settlement")

var ErrNoRate = errors.New("no rate stored")

// Quoter prices one unit of the settlement asset, e.g. ETHUSDT.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Transferer moves the converted amount and returns an opaque reference.
type Transferer interface {
	Transfer(ctx context.Context, t Transfer) (string, error)
}

// RateStore keeps the last successfully quoted rate per symbol.
type RateStore interface {
	LastRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	SaveRate(ctx context.Context, symbol string, rate decimal.Decimal) error
}

type Transfer struct {
	Reference     string
	Asset         string
	Amount        decimal.Decimal
	FiatAmount    decimal.Decimal
	FiatCurrency  string
	WalletAddress string
}

type RateSource string

const (
	RateLive      RateSource = "live"
	RateLastKnown RateSource = "last_known"
	RateFixed     RateSource = "fixed"
)

// Result describes a completed settlement.
type Result struct {
	Reference   string          `json:"reference"`
	Asset       string          `json:"asset"`
	AssetAmount decimal.Decimal `json:"assetAmount"`
	Rate        decimal.Decimal `json:"rate"`
	RateSource  RateSource      `json:"rateSource"`
}

type Config struct {
	Asset  string
	Symbol string
	// FallbackRate is used when no live or stored rate is available.
	FallbackRate  decimal.Decimal
	WalletAddress string
	Timeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Asset:        "ETH",
		Symbol:       "ETHUSDT",
		FallbackRate: decimal.NewFromInt(2000),
		Timeout:      15 * time.Second,
	}
}

type Converter struct {
	cfg        Config
	quoter     Quoter
	transferer Transferer
	rates      RateStore
	logger     *slog.Logger
}

func NewConverter(cfg Config, quoter Quoter, transferer Transferer, rates RateStore, logger *slog.Logger) *Converter {
	if rates == nil {
		rates = NewMemoryRateStore()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Converter{
		cfg:        cfg,
		quoter:     quoter,
		transferer: transferer,
		rates:      rates,
		logger:     logger.With(slog.String("component", "settlement")),
	}
}

// Settle converts amount at the current rate and requests the transfer.
func (c *Converter) Settle(ctx context.Context, reference string, amount decimal.Decimal, currency string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "settlement.settle")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if c.cfg.WalletAddress == "" {
		err := fmt.Errorf("no settlement wallet configured")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rate, source := c.rate(ctx)
	if !rate.IsPositive() {
		err := fmt.Errorf("no usable rate for %s", c.cfg.Symbol)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	assetAmount := amount.DivRound(rate, 8)

	span.SetAttributes(
		attribute.String("settlement.symbol", c.cfg.Symbol),
		attribute.String("settlement.rate_source", string(source)),
	)

	ref, err := c.transferer.Transfer(ctx, Transfer{
		Reference:     reference,
		Asset:         c.cfg.Asset,
		Amount:        assetAmount,
		FiatAmount:    amount,
		FiatCurrency:  currency,
		WalletAddress: c.cfg.WalletAddress,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("requesting transfer: %w", err)
	}
	if ref == "" {
		span.SetStatus(codes.Error, "empty reference")
		return nil, fmt.Errorf("transfer returned an empty reference")
	}

	return &Result{
		Reference:   ref,
		Asset:       c.cfg.Asset,
		AssetAmount: assetAmount,
		Rate:        rate,
		RateSource:  source,
	}, nil
}

// rate prefers a live quote, then the last stored rate, then the configured
// fixed rate.
func (c *Converter) rate(ctx context.Context) (decimal.Decimal, RateSource) {
	rate, err := c.quoter.Quote(ctx, c.cfg.Symbol)
	if err == nil && rate.IsPositive() {
		if err := c.rates.SaveRate(ctx, c.cfg.Symbol, rate); err != nil {
			c.logger.WarnContext(ctx, "saving rate", slog.Any("err", err))
		}
		return rate, RateLive
	}
	if err == nil {
		err = fmt.Errorf("non-positive quote %s", rate)
	}
	c.logger.WarnContext(ctx, "quote failed, using fallback rate", slog.String("symbol", c.cfg.Symbol), slog.Any("err", err))

	last, err := c.rates.LastRate(ctx, c.cfg.Symbol)
	if err == nil && last.IsPositive() {
		return last, RateLastKnown
	}
	return c.cfg.FallbackRate, RateFixed
}
