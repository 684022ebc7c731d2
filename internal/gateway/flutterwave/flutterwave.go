// Package flutterwave charges cards through the Flutterwave v3 direct card
// API. The card payload is 3DES encrypted with the account's encryption key
// and a second PIN authorization call follows when the issuer asks for it.
package flutterwave

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/security"
	"github.com/go-resty/resty/v2"
	"golang.org/x/exp/slog"
)

const Kind = "flutterwave"

type Config struct {
	Name          string
	BaseURL       string
	PublicKey     string
	SecretKey     string
	EncryptionKey string
	// Email is sent as the customer email, which the API requires.
	Email   string
	Timeout time.Duration
}

type Client struct {
	name      string
	publicKey string
	secretKey string
	encKey    []byte
	email     string
	rest      *resty.Client
	logger    *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = Kind
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.flutterwave.com"
	}
	if cfg.Email == "" {
		cfg.Email = "customer@pos.local"
	}
	return &Client{
		name:      cfg.Name,
		publicKey: cfg.PublicKey,
		secretKey: cfg.SecretKey,
		encKey:    []byte(cfg.EncryptionKey),
		email:     cfg.Email,
		rest:      gateway.NewRestClient(cfg.BaseURL, cfg.Timeout),
		logger:    logger.With(slog.String("gateway", cfg.Name)),
	}
}

func (c *Client) Name() string { return c.name }
func (c *Client) Kind() string { return Kind }

type cardPayload struct {
	TxRef       string `json:"tx_ref"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CardNumber  string `json:"card_number"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	Email       string `json:"email"`
	Fullname    string `json:"fullname,omitempty"`
}

type encryptedCharge struct {
	PublicKey string `json:"public_key"`
	Client    string `json:"client"`
}

type pinAuthorization struct {
	Type string `json:"type"`
	PIN  string `json:"pin"`
}

type chargeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		ID                json.Number `json:"id"`
		FlwRef            string      `json:"flw_ref"`
		Status            string      `json:"status"`
		ProcessorResponse string      `json:"processor_response"`
		AuthModel         string      `json:"auth_model"`
	} `json:"data"`
	Meta *struct {
		Authorization struct {
			Mode string `json:"mode"`
		} `json:"authorization"`
	} `json:"meta"`
}

// authMode is the extra authorization the issuer asked for, if any.
func (r chargeResponse) authMode() string {
	if r.Meta != nil && r.Meta.Authorization.Mode != "" {
		return strings.ToUpper(r.Meta.Authorization.Mode)
	}
	if r.Data != nil {
		switch m := strings.ToUpper(r.Data.AuthModel); m {
		case "PIN", "OTP", "3DS", "AVS_VBVSECURECODE", "AVS_NOAUTH", "REDIRECT":
			return m
		}
	}
	return ""
}

func (c *Client) Authorize(ctx context.Context, req gateway.Request) gateway.Outcome {
	payload := cardPayload{
		TxRef:       req.Reference,
		Amount:      req.Amount.StringFixed(2),
		Currency:    strings.ToUpper(req.Currency),
		CardNumber:  req.Card.PAN(),
		ExpiryMonth: fmt.Sprintf("%02d", req.Expiry.Month),
		ExpiryYear:  fmt.Sprintf("%02d", req.Expiry.Year%100),
		Email:       c.email,
		Fullname:    req.Card.Holder,
	}
	client, err := c.encrypt(payload)
	if err != nil {
		return gateway.Permanent("encrypting card payload: %v", err)
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(c.secretKey).
		SetQueryParam("type", "card").
		SetBody(encryptedCharge{PublicKey: c.publicKey, Client: client}).
		Post("/v3/charges")
	if err != nil {
		return gateway.FromTransportError(err)
	}
	if !resp.IsSuccess() {
		return gateway.FromHTTPStatus(resp)
	}

	var charge chargeResponse
	if err := json.Unmarshal(resp.Body(), &charge); err != nil {
		return gateway.Malformed(err)
	}

	switch mode := charge.authMode(); mode {
	case "":
		return c.classify(charge)
	case "PIN":
		if req.PIN == "" {
			return gateway.Permanent("issuer requires a PIN and none was collected")
		}
		if charge.Data == nil || charge.Data.FlwRef == "" {
			return gateway.Permanent("malformed response: pin requested without flw_ref")
		}
		return c.authorizePIN(ctx, charge.Data.FlwRef, string(req.PIN))
	default:
		c.logger.WarnContext(ctx, "unsupported authorization mode", slog.String("mode", mode))
		return gateway.Permanent("authorization mode %s is not supported at the terminal", mode)
	}
}

// authorizePIN is the second phase of a PIN-verified charge.
func (c *Client) authorizePIN(ctx context.Context, flwRef, pin string) gateway.Outcome {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(c.secretKey).
		SetBody(pinAuthorization{Type: "pin", PIN: pin}).
		Put("/v3/charges/" + url.PathEscape(flwRef) + "/authorize")
	if err != nil {
		return gateway.FromTransportError(err)
	}
	if !resp.IsSuccess() {
		return gateway.FromHTTPStatus(resp)
	}

	var charge chargeResponse
	if err := json.Unmarshal(resp.Body(), &charge); err != nil {
		return gateway.Malformed(err)
	}
	if mode := charge.authMode(); mode != "" && mode != "PIN" {
		return gateway.Permanent("authorization mode %s is not supported at the terminal", mode)
	}
	return c.classify(charge)
}

func (c *Client) classify(charge chargeResponse) gateway.Outcome {
	if charge.Status != "success" {
		return gateway.Decline(firstNonEmpty(charge.Message, "charge failed"))
	}
	if charge.Data == nil {
		return gateway.Permanent("malformed response: missing data")
	}

	switch strings.ToLower(charge.Data.Status) {
	case "successful":
		id := charge.Data.ID.String()
		if id == "" {
			return gateway.Permanent("malformed response: missing transaction id")
		}
		return gateway.Approve(c.name, id, charge.Data.FlwRef)
	case "failed":
		return gateway.Decline(firstNonEmpty(charge.Data.ProcessorResponse, "declined"))
	default:
		return gateway.Permanent("unexpected charge status %q", charge.Data.Status)
	}
}

func (c *Client) encrypt(p cardPayload) (string, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	enc, err := security.EncryptTripleDES(c.encKey, plain)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
