// Package binance is the settlement conversion processor: it quotes the
// spot price of the settlement asset and places Binance Pay orders that move
// the converted amount to the merchant wallet.
package binance

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/security"
	"github.com/alovak/cardflow-terminal/internal/settlement"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

const Kind = "binance"

type Config struct {
	Name string
	// MarketURL serves the public ticker API.
	MarketURL string
	// PayURL serves the merchant pay API.
	PayURL    string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
}

type Client struct {
	name   string
	apiKey string
	secret string
	market *resty.Client
	pay    *resty.Client
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ settlement.Quoter     = (*Client)(nil)
	_ settlement.Transferer = (*Client)(nil)
)

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = Kind
	}
	if cfg.MarketURL == "" {
		cfg.MarketURL = "https://api.binance.com"
	}
	if cfg.PayURL == "" {
		cfg.PayURL = "https://bpay.binanceapi.com"
	}
	return &Client{
		name:   cfg.Name,
		apiKey: cfg.APIKey,
		secret: cfg.SecretKey,
		market: gateway.NewRestClient(cfg.MarketURL, cfg.Timeout),
		pay:    gateway.NewRestClient(cfg.PayURL, cfg.Timeout),
		now:    time.Now,
		logger: logger.With(slog.String("gateway", cfg.Name)),
	}
}

func (c *Client) Name() string { return c.name }

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Quote returns the last traded price for symbol, e.g. ETHUSDT.
func (c *Client) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	resp, err := c.market.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get("/api/v3/ticker/price")
	if err != nil {
		return decimal.Zero, fmt.Errorf("requesting ticker: %w", err)
	}
	if !resp.IsSuccess() {
		return decimal.Zero, fmt.Errorf("ticker http status %d: %s", resp.StatusCode(), resp.String())
	}

	var t tickerPrice
	if err := json.Unmarshal(resp.Body(), &t); err != nil {
		return decimal.Zero, fmt.Errorf("decoding ticker: %w", err)
	}
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing price %q: %w", t.Price, err)
	}
	return price, nil
}

type orderRequest struct {
	Env struct {
		TerminalType string `json:"terminalType"`
	} `json:"env"`
	MerchantTradeNo string `json:"merchantTradeNo"`
	OrderAmount     string `json:"orderAmount"`
	Currency        string `json:"currency"`
	Description     string `json:"description"`
	PassThroughInfo string `json:"passThroughInfo,omitempty"`
	Goods           struct {
		GoodsType        string `json:"goodsType"`
		GoodsCategory    string `json:"goodsCategory"`
		ReferenceGoodsID string `json:"referenceGoodsId"`
		GoodsName        string `json:"goodsName"`
	} `json:"goods"`
}

type orderResponse struct {
	Status       string `json:"status"`
	Code         string `json:"code"`
	ErrorMessage string `json:"errorMessage"`
	Data         *struct {
		PrepayID string `json:"prepayId"`
	} `json:"data"`
}

// Transfer places a pay order for the converted amount and returns the
// prepay id as the settlement reference.
func (c *Client) Transfer(ctx context.Context, t settlement.Transfer) (string, error) {
	var order orderRequest
	order.Env.TerminalType = "OTHERS"
	order.MerchantTradeNo = tradeNo(t.Reference)
	order.OrderAmount = t.Amount.StringFixed(8)
	order.Currency = t.Asset
	order.Description = fmt.Sprintf("POS settlement %s %s", t.FiatAmount.StringFixed(2), t.FiatCurrency)
	order.PassThroughInfo = t.WalletAddress
	order.Goods.GoodsType = "02"
	order.Goods.GoodsCategory = "Z000"
	order.Goods.ReferenceGoodsID = t.Reference
	order.Goods.GoodsName = "POS settlement"

	body, err := json.Marshal(order)
	if err != nil {
		return "", err
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce, err := nonce(32)
	if err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	signature := security.SignHMACSHA512(c.secret, timestamp+"\n"+nonce+"\n"+string(body)+"\n")

	resp, err := c.pay.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("BinancePay-Timestamp", timestamp).
		SetHeader("BinancePay-Nonce", nonce).
		SetHeader("BinancePay-Certificate-SN", c.apiKey).
		SetHeader("BinancePay-Signature", signature).
		SetBody(body).
		Post("/binancepay/openapi/v2/order")
	if err != nil {
		return "", fmt.Errorf("placing pay order: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("pay order http status %d: %s", resp.StatusCode(), resp.String())
	}

	var out orderResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decoding pay order: %w", err)
	}
	if out.Status != "SUCCESS" || out.Data == nil || out.Data.PrepayID == "" {
		return "", fmt.Errorf("pay order rejected: %s %s", out.Code, out.ErrorMessage)
	}

	c.logger.InfoContext(ctx, "settlement order placed",
		slog.String("reference", t.Reference),
		slog.String("prepay_id", out.Data.PrepayID))
	return out.Data.PrepayID, nil
}

// tradeNo derives the merchant trade number (letters and digits, at most 32)
// from the transaction id.
func tradeNo(reference string) string {
	s := strings.ReplaceAll(reference, "-", "")
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func nonce(n int) (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(nonceAlphabet)))
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(nonceAlphabet[v.Int64()])
	}
	return sb.String(), nil
}
