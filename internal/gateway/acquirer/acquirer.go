// Package acquirer authorizes payments directly with an acquirer host over
// an ISO 8583 link. It is an alternative to the REST processors and can sit
// at any position of the fallback chain.
package acquirer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/security"
	"github.com/moov-io/iso8583"
	connection "github.com/moov-io/iso8583-connection"
	"golang.org/x/exp/slog"
)

const Kind = "acquirer"

const (
	processingCodePurchase = "000000"
	entryModeChipWithPIN   = "051"
	entryModeChipNoPIN     = "052"
)

// Response codes the issuer uses to refuse a payment.
var declineCodes = map[string]string{
	"04": "pick up card",
	"05": "do not honor",
	"14": "invalid card number",
	"41": "lost card",
	"43": "stolen card",
	"51": "insufficient funds",
	"54": "expired card",
	"55": "incorrect pin",
	"57": "transaction not permitted to cardholder",
	"61": "exceeds withdrawal limit",
	"62": "restricted card",
	"65": "exceeds withdrawal frequency",
	"75": "pin tries exceeded",
}

// Response codes that mean the issuer side was not reachable.
var unavailableCodes = map[string]bool{
	"68": true,
	"91": true,
	"96": true,
}

var currencyNumeric = map[string]string{
	"USD": "840",
	"EUR": "978",
	"GBP": "826",
	"KES": "404",
	"NGN": "566",
	"ZAR": "710",
	"GHS": "936",
}

// Sender is the part of an ISO 8583 connection the client needs.
type Sender interface {
	Send(message *iso8583.Message) (*iso8583.Message, error)
}

type Config struct {
	Name    string
	Addr    string
	Timeout time.Duration
}

type Client struct {
	name   string
	sender Sender
	pins   security.PINEncryptor
	stan   atomic.Uint32
	now    func() time.Time
	logger *slog.Logger

	conn *connection.Connection
}

// New wraps an existing sender. pins may be nil when the acquirer does not
// take PIN blocks.
func New(name string, sender Sender, pins security.PINEncryptor, logger *slog.Logger) *Client {
	if name == "" {
		name = Kind
	}
	return &Client{
		name:   name,
		sender: sender,
		pins:   pins,
		now:    time.Now,
		logger: logger.With(slog.String("gateway", name)),
	}
}

// Dial connects to the acquirer host and returns a client that owns the
// connection.
func Dial(cfg Config, pins security.PINEncryptor, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	conn, err := connection.New(cfg.Addr, Spec, readMessageLength, writeMessageLength,
		connection.SendTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iso8583 connection: %w", err)
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to acquirer %s: %w", cfg.Addr, err)
	}

	c := New(cfg.Name, conn, pins, logger)
	c.conn = conn
	return c, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Name() string { return c.name }
func (c *Client) Kind() string { return Kind }

func (c *Client) nextSTAN() string {
	return fmt.Sprintf("%06d", c.stan.Add(1)%1000000)
}

func (c *Client) Authorize(ctx context.Context, req gateway.Request) gateway.Outcome {
	msg, err := c.buildRequest(req)
	if err != nil {
		return gateway.Permanent("building authorization request: %v", err)
	}

	type sent struct {
		resp *iso8583.Message
		err  error
	}
	done := make(chan sent, 1)
	go func() {
		resp, err := c.sender.Send(msg)
		done <- sent{resp, err}
	}()

	var resp *iso8583.Message
	select {
	case <-ctx.Done():
		return gateway.FromTransportError(ctx.Err())
	case s := <-done:
		if s.err != nil {
			if errors.Is(s.err, connection.ErrSendTimeout) {
				return gateway.Transient("timeout: %v", s.err)
			}
			return gateway.FromTransportError(s.err)
		}
		resp = s.resp
	}

	return c.classify(ctx, resp)
}

func (c *Client) buildRequest(req gateway.Request) (*iso8583.Message, error) {
	currency, ok := currencyNumeric[strings.ToUpper(req.Currency)]
	if !ok {
		return nil, fmt.Errorf("no numeric code for currency %q", req.Currency)
	}

	msg := iso8583.NewMessage(Spec)
	msg.MTI("0100")

	fields := map[int]string{
		2:  req.Card.PAN(),
		3:  processingCodePurchase,
		4:  req.Amount.Shift(2).Round(0).String(),
		7:  c.now().UTC().Format("0102150405"),
		11: c.nextSTAN(),
		14: req.Expiry.YYMM(),
		22: entryModeChipNoPIN,
		41: fmt.Sprintf("%-8.8s", req.TerminalID),
		42: fmt.Sprintf("%-15.15s", req.MerchantID),
		49: currency,
	}

	if req.PIN != "" {
		if c.pins == nil {
			return nil, fmt.Errorf("pin collected but no pin encryptor configured")
		}
		clear, err := security.PINBlockFormat0(string(req.PIN), req.Card.PAN())
		if err != nil {
			return nil, err
		}
		block, err := c.pins.EncryptPINBlock(clear)
		security.Wipe(clear)
		if err != nil {
			return nil, fmt.Errorf("encrypting pin block: %w", err)
		}
		fields[52] = strings.ToUpper(hex.EncodeToString(block))
		fields[22] = entryModeChipWithPIN
	}

	for id, v := range fields {
		if err := msg.Field(id, v); err != nil {
			return nil, fmt.Errorf("setting field %d: %w", id, err)
		}
	}
	return msg, nil
}

func (c *Client) classify(ctx context.Context, resp *iso8583.Message) gateway.Outcome {
	if resp == nil {
		return gateway.Permanent("malformed response: empty message")
	}
	mti, err := resp.GetMTI()
	if err != nil || mti != "0110" {
		return gateway.Permanent("malformed response: unexpected mti %q", mti)
	}
	code, err := resp.GetString(39)
	if err != nil || code == "" {
		return gateway.Permanent("malformed response: missing response code")
	}

	switch {
	case code == "00":
		rrn, _ := resp.GetString(37)
		authCode, _ := resp.GetString(38)
		stan, _ := resp.GetString(11)
		id := strings.TrimSpace(rrn)
		if id == "" {
			id = stan
		}
		return gateway.Approve(c.name, id, strings.TrimSpace(authCode))
	case declineCodes[code] != "":
		return gateway.Decline(fmt.Sprintf("%s (%s)", declineCodes[code], code))
	case unavailableCodes[code]:
		return gateway.Transient("issuer unavailable (%s)", code)
	default:
		c.logger.WarnContext(ctx, "unmapped response code", slog.String("code", code))
		return gateway.Permanent("unmapped response code %s", code)
	}
}
