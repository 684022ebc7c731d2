// Package stripe authorizes card-present charges against a Stripe-style
// charges API using a bearer secret key.
package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/go-resty/resty/v2"
	"golang.org/x/exp/slog"
)

const Kind = "stripe"

type Config struct {
	Name      string
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

type Client struct {
	name   string
	key    string
	rest   *resty.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = Kind
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	return &Client{
		name:   cfg.Name,
		key:    cfg.SecretKey,
		rest:   gateway.NewRestClient(cfg.BaseURL, cfg.Timeout),
		logger: logger.With(slog.String("gateway", cfg.Name)),
	}
}

func (c *Client) Name() string { return c.name }
func (c *Client) Kind() string { return Kind }

type charge struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Paid              bool   `json:"paid"`
	AuthorizationCode string `json:"authorization_code"`
	FailureCode       string `json:"failure_code"`
	FailureMessage    string `json:"failure_message"`
	Outcome           struct {
		NetworkStatus string `json:"network_status"`
		Reason        string `json:"reason"`
		SellerMessage string `json:"seller_message"`
	} `json:"outcome"`
}

type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func (c *Client) Authorize(ctx context.Context, req gateway.Request) gateway.Outcome {
	form := map[string]string{
		"amount":                req.Amount.Shift(2).Round(0).String(),
		"currency":              strings.ToLower(req.Currency),
		"capture":               "true",
		"card[number]":          req.Card.PAN(),
		"card[exp_month]":       strconv.Itoa(req.Expiry.Month),
		"card[exp_year]":        strconv.Itoa(req.Expiry.Year),
		"metadata[reference]":   req.Reference,
		"metadata[terminal_id]": req.TerminalID,
		"metadata[merchant_id]": req.MerchantID,
	}
	if req.Card.Holder != "" {
		form["card[name]"] = req.Card.Holder
	}
	if req.Description != "" {
		form["description"] = req.Description
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(c.key).
		SetHeader("Idempotency-Key", req.Reference).
		SetFormData(form).
		Post("/v1/charges")
	if err != nil {
		return gateway.FromTransportError(err)
	}

	switch code := resp.StatusCode(); {
	case code/100 == 2:
		return c.classifyCharge(ctx, resp.Body())
	case code == http.StatusPaymentRequired:
		var e errorResponse
		if err := json.Unmarshal(resp.Body(), &e); err != nil {
			return gateway.Malformed(err)
		}
		if e.Error.Type == "card_error" {
			return gateway.Decline(firstNonEmpty(e.Error.DeclineCode, e.Error.Code, e.Error.Message))
		}
		return gateway.Permanent("%s: %s", e.Error.Type, e.Error.Message)
	case code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden:
		var e errorResponse
		_ = json.Unmarshal(resp.Body(), &e)
		return gateway.Permanent("http status %d: %s", code, firstNonEmpty(e.Error.Message, e.Error.Code, "request rejected"))
	default:
		return gateway.FromHTTPStatus(resp)
	}
}

func (c *Client) classifyCharge(ctx context.Context, body []byte) gateway.Outcome {
	var ch charge
	if err := json.Unmarshal(body, &ch); err != nil {
		return gateway.Malformed(err)
	}
	if ch.ID == "" {
		return gateway.Permanent("malformed response: missing charge id")
	}

	switch ch.Status {
	case "succeeded":
		return gateway.Approve(c.name, ch.ID, firstNonEmpty(ch.AuthorizationCode, ch.ID))
	case "failed":
		return gateway.Decline(firstNonEmpty(ch.Outcome.Reason, ch.FailureCode, ch.FailureMessage, "declined"))
	default:
		c.logger.WarnContext(ctx, "unexpected charge status", slog.String("charge", ch.ID), slog.String("status", ch.Status))
		return gateway.Permanent("unexpected charge status %q", ch.Status)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
