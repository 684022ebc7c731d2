package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alovak/cardflow-terminal/internal/card"
	"github.com/alovak/cardflow-terminal/internal/expiry"
	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/pin"
	"github.com/alovak/cardflow-terminal/internal/settlement"
	"github.com/alovak/cardflow-terminal/internal/validator"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slog"
)

const instrumentationName = "github.com/alovak/cardflow-terminal/internal/payment"

var (
	tracer = otel.Tracer(instrumentationName)

	ErrRunStarted = errors.New("run already started")
)

// PINRequester collects a PIN for the card. It is satisfied by
// *pin.Coordinator.
type PINRequester interface {
	Request(ctx context.Context, profile card.Profile) (pin.PIN, error)
}

// Settler converts an approved amount. It is satisfied by
// *settlement.Converter.
type Settler interface {
	Settle(ctx context.Context, reference string, amount decimal.Decimal, currency string) (*settlement.Result, error)
}

type Config struct {
	Limits   validator.Limits
	Currency string
	// Location is the time zone card expiry is evaluated in.
	Location   *time.Location
	TerminalID string
	MerchantID string
	RequirePIN bool
	// FingerprintKey enables a keyed card fingerprint on transactions.
	FingerprintKey []byte
	Description    string
}

func DefaultConfig() Config {
	return Config{
		Limits:   validator.DefaultLimits(),
		Currency: "USD",
		Location: time.UTC,
	}
}

type Orchestrator struct {
	cfg     Config
	chain   *gateway.Chain
	pins    PINRequester
	settler Settler
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	runs metric.Int64Counter
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New builds an orchestrator. pins may be nil when PINs are never
// collected and settler may be nil to skip settlement. RequirePIN without
// a requester is logged as a misconfiguration and runs go without a PIN.
func New(cfg Config, chain *gateway.Chain, pins PINRequester, settler Settler, logger *slog.Logger, opts ...Option) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	runs, _ := otel.Meter(instrumentationName).Int64Counter("payment.runs",
		metric.WithDescription("Payment runs by result"))

	o := &Orchestrator{
		cfg:     cfg,
		chain:   chain,
		pins:    pins,
		settler: settler,
		logger:  logger.With(slog.String("component", "orchestrator")),
		now:     time.Now,
		newID:   uuid.NewString,
		runs:    runs,
	}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.RequirePIN && pins == nil {
		o.logger.Error("PIN required but no PIN requester configured; payments will be authorized without a PIN",
			slog.String("terminal_id", cfg.TerminalID))
	}
	return o
}

// ProcessPayment runs req to completion. It returns the transaction on
// approval and a *Failure otherwise.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req Request) (*Transaction, error) {
	return o.NewRun(req).Execute(ctx)
}

// Run is a single payment attempt. It is executed once.
type Run struct {
	ID string

	o   *Orchestrator
	req Request

	mu        sync.Mutex
	started   bool
	state     State
	result    Result
	listeners []func(Transition)
}

func (o *Orchestrator) NewRun(req Request) *Run {
	return &Run{
		ID:    o.newID(),
		o:     o,
		req:   req,
		state: Validating,
	}
}

// OnTransition registers fn to be called synchronously on every state
// change. Register before Execute.
func (r *Run) OnTransition(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Run) State() (State, Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.result
}

func (r *Run) transition(to State, gw int, result Result) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.result = result
	listeners := append(([]func(Transition))(nil), r.listeners...)
	r.mu.Unlock()

	t := Transition{RunID: r.ID, From: from, To: to, Gateway: gw, Result: result}
	for _, fn := range listeners {
		fn(t)
	}
}

// Execute drives the run through its states. Cancelling ctx only has an
// effect while waiting for the PIN; gateway calls and settlement that have
// been issued run to completion or their own timeout.
func (r *Run) Execute(ctx context.Context) (*Transaction, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, ErrRunStarted
	}
	r.started = true
	r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "payment.run", trace.WithAttributes(
		attribute.String("payment.id", r.ID),
	))
	defer span.End()

	txn, err := r.execute(ctx)

	_, result := r.State()
	span.SetAttributes(attribute.String("payment.result", result.String()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	r.o.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result.String())))

	return txn, err
}

func (r *Run) execute(ctx context.Context) (*Transaction, error) {
	o := r.o
	logger := o.logger.With(slog.String("payment_id", r.ID))

	// validating
	exp, err := validator.Validate(validator.Input{
		Amount:     r.req.Amount,
		CardNumber: r.req.CardNumber,
		Expiry:     r.req.Expiry,
	}, o.cfg.Limits, o.now().In(o.cfg.Location))
	if err != nil {
		f := validationFailure(err)
		logger.InfoContext(ctx, "payment rejected locally", slog.String("kind", string(f.Kind)))
		r.transition(Done, -1, Error)
		return nil, f
	}

	r.transition(ResolvingCard, -1, Pending)
	profile := card.NewProfile(r.req.CardNumber, exp.Month, exp.Year, r.req.CardholderName)

	var p pin.PIN
	if o.cfg.RequirePIN && o.pins != nil {
		r.transition(AwaitingPin, -1, Pending)
		p, err = o.pins.Request(ctx, profile)
		if err != nil {
			f := pinFailure(err)
			logger.InfoContext(ctx, "payment cancelled", slog.String("kind", string(f.Kind)))
			r.transition(Done, -1, Cancelled)
			return nil, f
		}
	}

	// Only the PIN wait honours cancellation from here on.
	ctx = context.WithoutCancel(ctx)

	r.transition(Authorizing, 0, Pending)
	res := o.chain.Authorize(ctx, r.gatewayRequest(profile, exp, p), func(i int, _ gateway.Gateway) {
		if i > 0 {
			r.transition(Authorizing, i, Pending)
		}
	})

	switch res.Outcome.Status {
	case gateway.Declined:
		logger.InfoContext(ctx, "payment declined", slog.Any("card", profile), slog.String("reason", res.Outcome.Reason))
		r.transition(Done, -1, Declined)
		return nil, &Failure{Kind: GatewayDeclined, Message: res.Outcome.Reason, Attempts: res.Attempts}
	case gateway.Approved:
	default:
		msg := unavailableMessage(res.Attempts)
		logger.WarnContext(ctx, "all gateways failed", slog.String("reasons", msg))
		r.transition(Done, -1, Error)
		return nil, &Failure{Kind: GatewayUnavailable, Message: msg, Attempts: res.Attempts}
	}

	txn := &Transaction{
		ID:                     r.ID,
		Amount:                 r.req.Amount,
		Currency:               o.cfg.Currency,
		MaskedCard:             profile.Masked,
		Brand:                  string(profile.Brand),
		CardholderName:         profile.Holder,
		AuthCode:               res.Outcome.AuthCode,
		ProcessorTransactionID: res.Outcome.TransactionID,
		Processor:              res.Outcome.Processor,
		Status:                 StatusApproved,
		Timestamp:              o.now().UTC(),
		Attempts:               res.Attempts,
	}
	if len(o.cfg.FingerprintKey) > 0 {
		txn.CardFingerprint = card.Fingerprint(profile.PAN(), o.cfg.FingerprintKey)
	}

	if o.settler != nil {
		r.transition(Settling, -1, Pending)
		settled, err := o.settler.Settle(ctx, r.ID, r.req.Amount, o.cfg.Currency)
		if err != nil {
			logger.WarnContext(ctx, "settlement failed", slog.Any("err", err))
			txn.Warnings = append(txn.Warnings, Warning{Kind: SettlementFailed, Message: err.Error()})
		} else {
			txn.Settlement = settled
			txn.SettlementReference = settled.Reference
		}
	}

	logger.InfoContext(ctx, "payment approved",
		slog.Any("card", profile),
		slog.String("processor", txn.Processor),
		slog.String("amount", txn.Amount.StringFixed(2)))
	r.transition(Done, -1, Approved)
	return txn, nil
}

func (r *Run) gatewayRequest(profile card.Profile, exp expiry.Date, p pin.PIN) gateway.Request {
	return gateway.Request{
		Reference:   r.ID,
		Amount:      r.req.Amount,
		Currency:    r.o.cfg.Currency,
		Card:        profile,
		Expiry:      exp,
		PIN:         p,
		Description: r.o.cfg.Description,
		TerminalID:  r.o.cfg.TerminalID,
		MerchantID:  r.o.cfg.MerchantID,
	}
}

func validationFailure(err error) *Failure {
	kind := InvalidCardNumber
	switch {
	case errors.Is(err, validator.ErrInvalidExpiry):
		kind = InvalidExpiry
	case errors.Is(err, validator.ErrExpiredCard):
		kind = ExpiredCard
	case errors.Is(err, validator.ErrAmountOutOfRange):
		kind = AmountOutOfRange
	}
	return &Failure{Kind: kind, Message: err.Error(), Err: err}
}

func pinFailure(err error) *Failure {
	if errors.Is(err, pin.ErrTimeout) {
		return &Failure{Kind: PinTimeout, Message: "no PIN entered in time", Err: err}
	}
	return &Failure{Kind: UserCancelled, Message: "PIN entry cancelled", Err: err}
}

func unavailableMessage(attempts []gateway.Attempt) string {
	if len(attempts) == 0 {
		return "no gateways configured"
	}
	reasons := make([]string, 0, len(attempts))
	for _, a := range attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.Gateway, a.Outcome.Reason))
	}
	return strings.Join(reasons, "; ")
}
