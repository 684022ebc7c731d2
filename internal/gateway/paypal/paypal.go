// Package paypal authorizes card payments with the PayPal Orders v2 API. A
// client-credentials token is fetched with basic auth, then an order is
// created for the card and captured.
package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/go-resty/resty/v2"
	"golang.org/x/exp/slog"
)

const Kind = "paypal"

type Config struct {
	Name         string
	BaseURL      string
	ClientID     string
	ClientSecret string
	// CountryCode goes into the card billing address.
	CountryCode string
	Timeout     time.Duration
}

type Client struct {
	name         string
	clientID     string
	clientSecret string
	country      string
	rest         *resty.Client
	logger       *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = Kind
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-m.paypal.com"
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "US"
	}
	return &Client{
		name:         cfg.Name,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		country:      cfg.CountryCode,
		rest:         gateway.NewRestClient(cfg.BaseURL, cfg.Timeout),
		logger:       logger.With(slog.String("gateway", cfg.Name)),
	}
}

func (c *Client) Name() string { return c.name }
func (c *Client) Kind() string { return Kind }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type orderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	PaymentSource paymentSource  `json:"payment_source"`
}

type purchaseUnit struct {
	ReferenceID string  `json:"reference_id"`
	Description string  `json:"description,omitempty"`
	Amount      *amount `json:"amount,omitempty"`
	Payments    *struct {
		Captures []capture `json:"captures"`
	} `json:"payments,omitempty"`
}

type paymentSource struct {
	Card cardSource `json:"card"`
}

type cardSource struct {
	Number         string `json:"number"`
	Expiry         string `json:"expiry"`
	Name           string `json:"name,omitempty"`
	BillingAddress struct {
		CountryCode string `json:"country_code"`
	} `json:"billing_address"`
}

type capture struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ProcessorResponse struct {
		ResponseCode string `json:"response_code"`
		AVSCode      string `json:"avs_code"`
	} `json:"processor_response"`
}

type order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

func (o order) capture() (capture, bool) {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			return pu.Payments.Captures[0], true
		}
	}
	return capture{}, false
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e apiError) issue() string {
	if len(e.Details) > 0 {
		return e.Details[0].Issue
	}
	return e.Name
}

// Issues that mean the card or issuer refused the payment.
var declineIssues = map[string]bool{
	"INSTRUMENT_DECLINED":        true,
	"TRANSACTION_REFUSED":        true,
	"CARD_EXPIRED":               true,
	"CARD_CLOSED":                true,
	"INSUFFICIENT_FUNDS":         true,
	"TRANSACTION_LIMIT_EXCEEDED": true,
	"PAYER_CANNOT_PAY":           true,
}

func (c *Client) Authorize(ctx context.Context, req gateway.Request) gateway.Outcome {
	token, failed := c.token(ctx)
	if failed != nil {
		return *failed
	}

	body := orderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.Reference,
			Description: req.Description,
			Amount: &amount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        req.Amount.StringFixed(2),
			},
		}},
	}
	body.PaymentSource.Card = cardSource{
		Number: req.Card.PAN(),
		Expiry: req.Expiry.YearMonth(),
		Name:   req.Card.Holder,
	}
	body.PaymentSource.Card.BillingAddress.CountryCode = c.country

	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("PayPal-Request-Id", req.Reference).
		SetBody(body).
		Post("/v2/checkout/orders")
	if err != nil {
		return gateway.FromTransportError(err)
	}
	if !resp.IsSuccess() {
		return c.classifyError(ctx, resp)
	}

	var created order
	if err := json.Unmarshal(resp.Body(), &created); err != nil {
		return gateway.Malformed(err)
	}
	if created.ID == "" {
		return gateway.Permanent("malformed response: missing order id")
	}

	// card orders may complete on creation
	if created.Status == "COMPLETED" {
		return c.classifyOrder(created)
	}

	resp, err = c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("PayPal-Request-Id", req.Reference+"-capture").
		SetBody(struct{}{}).
		Post("/v2/checkout/orders/" + url.PathEscape(created.ID) + "/capture")
	if err != nil {
		return gateway.FromTransportError(err)
	}
	if !resp.IsSuccess() {
		return c.classifyError(ctx, resp)
	}

	var captured order
	if err := json.Unmarshal(resp.Body(), &captured); err != nil {
		return gateway.Malformed(err)
	}
	if captured.ID == "" {
		captured.ID = created.ID
	}
	return c.classifyOrder(captured)
}

// token returns a bearer token or the outcome to report when it cannot be
// obtained.
func (c *Client) token(ctx context.Context) (string, *gateway.Outcome) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBasicAuth(c.clientID, c.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		Post("/v1/oauth2/token")
	if err != nil {
		o := gateway.FromTransportError(err)
		return "", &o
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		o := gateway.Permanent("authentication rejected: http status %d", code)
		return "", &o
	case code/100 != 2:
		o := gateway.FromHTTPStatus(resp)
		return "", &o
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp.Body(), &tok); err != nil {
		o := gateway.Malformed(err)
		return "", &o
	}
	if tok.AccessToken == "" {
		o := gateway.Permanent("malformed response: empty access token")
		return "", &o
	}
	return tok.AccessToken, nil
}

func (c *Client) classifyOrder(o order) gateway.Outcome {
	cp, ok := c.captureOf(o)
	if !ok {
		return gateway.Permanent("malformed response: order %s has no capture", o.ID)
	}
	switch cp.Status {
	case "COMPLETED":
		return gateway.Approve(c.name, cp.ID, o.ID)
	case "DECLINED", "FAILED":
		return gateway.Decline(firstNonEmpty(cp.ProcessorResponse.ResponseCode, cp.Status))
	default:
		return gateway.Permanent("unexpected capture status %q", cp.Status)
	}
}

func (c *Client) captureOf(o order) (capture, bool) {
	cp, ok := o.capture()
	if !ok || cp.ID == "" {
		return capture{}, false
	}
	return cp, true
}

func (c *Client) classifyError(ctx context.Context, resp *resty.Response) gateway.Outcome {
	if resp.StatusCode() != http.StatusUnprocessableEntity && resp.StatusCode() != http.StatusBadRequest {
		return gateway.FromHTTPStatus(resp)
	}
	var e apiError
	if err := json.Unmarshal(resp.Body(), &e); err != nil {
		return gateway.Permanent("http status %d: %s", resp.StatusCode(), resp.String())
	}
	issue := e.issue()
	c.logger.InfoContext(ctx, "order rejected", slog.String("issue", issue), slog.Int("status", resp.StatusCode()))
	if declineIssues[issue] {
		return gateway.Decline(issue)
	}
	return gateway.Permanent("%s: %s", issue, firstNonEmpty(e.Message, fmt.Sprintf("http status %d", resp.StatusCode())))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
