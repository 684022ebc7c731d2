package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alovak/cardflow-terminal/internal/card"
	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/pin"
	"github.com/alovak/cardflow-terminal/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeGateway struct {
	name    string
	kind    string
	outcome gateway.Outcome
	calls   atomic.Int32
	lastReq gateway.Request
	mu      sync.Mutex
}

func (g *fakeGateway) Name() string { return g.name }
func (g *fakeGateway) Kind() string { return g.kind }

func (g *fakeGateway) Authorize(_ context.Context, req gateway.Request) gateway.Outcome {
	g.calls.Add(1)
	g.mu.Lock()
	g.lastReq = req
	g.mu.Unlock()
	return g.outcome
}

func gw(name string, outcome gateway.Outcome) *fakeGateway {
	return &fakeGateway{name: name, kind: name, outcome: outcome}
}

type fakeSettler struct {
	calls int
	err   error
}

func (s *fakeSettler) Settle(_ context.Context, reference string, amount decimal.Decimal, _ string) (*settlement.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &settlement.Result{
		Reference:   "settle-" + reference,
		Asset:       "ETH",
		AssetAmount: amount.DivRound(decimal.NewFromInt(2000), 8),
		Rate:        decimal.NewFromInt(2000),
		RateSource:  settlement.RateLive,
	}, nil
}

var fixedNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func newOrchestrator(cfg Config, pins PINRequester, settler Settler, gateways ...gateway.Gateway) *Orchestrator {
	chain := gateway.NewChain(discard, time.Second, gateways...)
	return New(cfg, chain, pins, settler, discard, WithClock(func() time.Time { return fixedNow }))
}

func validRequest() Request {
	return Request{
		Amount:         decimal.RequireFromString("25.00"),
		CardNumber:     "4111 1111 1111 1111",
		Expiry:         "1228",
		CardholderName: "Jane Doe",
	}
}

func TestProcessPayment_Approved(t *testing.T) {
	g := gw("stripe", gateway.Approve("", "ch_1", "A1B2C3"))
	settler := &fakeSettler{}
	o := newOrchestrator(DefaultConfig(), nil, settler, g)

	txn, err := o.ProcessPayment(context.Background(), validRequest())
	require.NoError(t, err)

	require.Equal(t, StatusApproved, txn.Status)
	require.True(t, decimal.RequireFromString("25.00").Equal(txn.Amount))
	require.Equal(t, "****-****-****-1111", txn.MaskedCard)
	require.Equal(t, string(card.Visa), txn.Brand)
	require.Equal(t, "A1B2C3", txn.AuthCode)
	require.Equal(t, "ch_1", txn.ProcessorTransactionID)
	require.Equal(t, "stripe", txn.Processor)
	require.Equal(t, fixedNow, txn.Timestamp)
	require.Equal(t, "settle-"+txn.ID, txn.SettlementReference)
	require.Empty(t, txn.Warnings)
	require.Equal(t, 1, settler.calls)

	require.Equal(t, txn.ID, g.lastReq.Reference)
	require.Equal(t, "4111111111111111", g.lastReq.Card.PAN())
	require.Equal(t, 12, g.lastReq.Expiry.Month)
	require.Equal(t, 2028, g.lastReq.Expiry.Year)
}

func TestProcessPayment_FallsBackToSecondGateway(t *testing.T) {
	g1 := gw("primary", gateway.Transient("http status 503"))
	g2 := gw("backup1", gateway.Approve("", "flw_9", "OK1"))
	g3 := gw("backup2", gateway.Approve("", "pp_1", "OK2"))
	o := newOrchestrator(DefaultConfig(), nil, nil, g1, g2, g3)

	txn, err := o.ProcessPayment(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, "backup1", txn.Processor)
	require.Equal(t, "flw_9", txn.ProcessorTransactionID)
	require.EqualValues(t, 1, g1.calls.Load())
	require.EqualValues(t, 1, g2.calls.Load())
	require.EqualValues(t, 0, g3.calls.Load())
	require.Len(t, txn.Attempts, 2)
}

func TestProcessPayment_DeclineShortCircuits(t *testing.T) {
	g1 := gw("primary", gateway.Decline("insufficient funds"))
	g2 := gw("backup1", gateway.Approve("", "x", "y"))
	settler := &fakeSettler{}
	o := newOrchestrator(DefaultConfig(), nil, settler, g1, g2)

	txn, err := o.ProcessPayment(context.Background(), validRequest())
	require.Nil(t, txn)

	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, GatewayDeclined, f.Kind)
	require.Equal(t, "insufficient funds", f.Message)
	require.EqualValues(t, 0, g2.calls.Load())
	require.Equal(t, 0, settler.calls)
}

func TestProcessPayment_AllGatewaysFail(t *testing.T) {
	g1 := gw("primary", gateway.Transient("timeout"))
	g2 := gw("backup1", gateway.Permanent("malformed response"))
	o := newOrchestrator(DefaultConfig(), nil, nil, g1, g2)

	run := o.NewRun(validRequest())
	_, err := run.Execute(context.Background())

	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, GatewayUnavailable, f.Kind)
	require.Len(t, f.Attempts, 2)
	require.Contains(t, f.Message, "primary: timeout")
	require.Contains(t, f.Message, "backup1: malformed response")

	state, result := run.State()
	require.Equal(t, Done, state)
	require.Equal(t, Error, result)
}

func TestProcessPayment_NoGateways(t *testing.T) {
	o := newOrchestrator(DefaultConfig(), nil, nil)

	_, err := o.ProcessPayment(context.Background(), validRequest())
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, GatewayUnavailable, f.Kind)
}

func TestProcessPayment_ValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		kind   Kind
	}{
		{"bad luhn", func(r *Request) { r.CardNumber = "4111111111111112" }, InvalidCardNumber},
		{"short number", func(r *Request) { r.CardNumber = "411111111111" }, InvalidCardNumber},
		{"bad expiry", func(r *Request) { r.Expiry = "13" }, InvalidExpiry},
		{"expired", func(r *Request) { r.Expiry = "0225" }, ExpiredCard},
		{"amount below minimum", func(r *Request) { r.Amount = decimal.RequireFromString("0.99") }, AmountOutOfRange},
		{"amount above maximum", func(r *Request) { r.Amount = decimal.RequireFromString("10000.01") }, AmountOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gw("primary", gateway.Approve("", "x", "y"))
			o := newOrchestrator(DefaultConfig(), nil, nil, g)

			req := validRequest()
			tt.mutate(&req)
			_, err := o.ProcessPayment(context.Background(), req)

			var f *Failure
			require.ErrorAs(t, err, &f)
			require.Equal(t, tt.kind, f.Kind)
			require.EqualValues(t, 0, g.calls.Load())
		})
	}
}

func TestProcessPayment_ExpiryMonthStillValid(t *testing.T) {
	g := gw("primary", gateway.Approve("", "x", "y"))
	o := newOrchestrator(DefaultConfig(), nil, nil, g)

	req := validRequest()
	req.Expiry = "0325"
	_, err := o.ProcessPayment(context.Background(), req)
	require.NoError(t, err)
}

func TestProcessPayment_PINCancelledMakesNoGatewayCalls(t *testing.T) {
	g := gw("primary", gateway.Approve("", "x", "y"))
	coordinator := pin.NewCoordinator(pin.PrompterFunc(func(_ context.Context, ch *pin.Challenge) {
		go ch.Cancel()
	}), time.Second)

	cfg := DefaultConfig()
	cfg.RequirePIN = true
	o := newOrchestrator(cfg, coordinator, nil, g)

	run := o.NewRun(validRequest())
	_, err := run.Execute(context.Background())

	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, UserCancelled, f.Kind)
	require.ErrorIs(t, err, pin.ErrCancelled)
	require.EqualValues(t, 0, g.calls.Load())

	_, result := run.State()
	require.Equal(t, Cancelled, result)
}

func TestProcessPayment_PINTimeout(t *testing.T) {
	g := gw("primary", gateway.Approve("", "x", "y"))
	coordinator := pin.NewCoordinator(pin.PrompterFunc(func(context.Context, *pin.Challenge) {}), 20*time.Millisecond)

	cfg := DefaultConfig()
	cfg.RequirePIN = true
	o := newOrchestrator(cfg, coordinator, nil, g)

	_, err := o.ProcessPayment(context.Background(), validRequest())
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, PinTimeout, f.Kind)
	require.EqualValues(t, 0, g.calls.Load())
}

func TestProcessPayment_PINReachesGateway(t *testing.T) {
	g := gw("primary", gateway.Approve("", "x", "y"))
	coordinator := pin.NewCoordinator(pin.PrompterFunc(func(_ context.Context, ch *pin.Challenge) {
		go func() {
			if err := ch.Resolve("1234"); err != nil {
				panic(err)
			}
		}()
	}), time.Second)

	cfg := DefaultConfig()
	cfg.RequirePIN = true
	o := newOrchestrator(cfg, coordinator, nil, g)

	_, err := o.ProcessPayment(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, pin.PIN("1234"), g.lastReq.PIN)
}

func TestProcessPayment_SettlementFailureKeepsApproval(t *testing.T) {
	g := gw("primary", gateway.Approve("", "ch_1", "AUTH01"))
	settler := &fakeSettler{err: errors.New("pay order rejected")}
	o := newOrchestrator(DefaultConfig(), nil, settler, g)

	txn, err := o.ProcessPayment(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, StatusApproved, txn.Status)
	require.Empty(t, txn.SettlementReference)
	require.Len(t, txn.Warnings, 1)
	require.Equal(t, SettlementFailed, txn.Warnings[0].Kind)
}

func TestProcessPayment_DistinctIDs(t *testing.T) {
	g := gw("primary", gateway.Approve("", "ch", "A"))
	o := New(DefaultConfig(), gateway.NewChain(discard, time.Second, g), nil, nil, discard)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		txn, err := o.ProcessPayment(context.Background(), validRequest())
		require.NoError(t, err)
		require.False(t, seen[txn.ID], "duplicate id %s", txn.ID)
		seen[txn.ID] = true
	}
}

func TestProcessPayment_IDGenerator(t *testing.T) {
	g := gw("primary", gateway.Approve("", "ch", "A"))
	var n int
	o := New(DefaultConfig(), gateway.NewChain(discard, time.Second, g), nil, nil, discard,
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("txn-%d", n)
		}),
	)

	txn, err := o.ProcessPayment(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, "txn-1", txn.ID)
	require.Equal(t, "txn-1", g.lastReq.Reference)
}

func TestRun_Transitions(t *testing.T) {
	g1 := gw("primary", gateway.Transient("down"))
	g2 := gw("backup1", gateway.Approve("", "id", "code"))
	coordinator := pin.NewCoordinator(pin.PrompterFunc(func(_ context.Context, ch *pin.Challenge) {
		go ch.Resolve("4321")
	}), time.Second)

	cfg := DefaultConfig()
	cfg.RequirePIN = true
	o := newOrchestrator(cfg, coordinator, &fakeSettler{}, g1, g2)

	run := o.NewRun(validRequest())
	var got []string
	run.OnTransition(func(tr Transition) {
		got = append(got, fmt.Sprintf("%s>%s/%d/%s", tr.From, tr.To, tr.Gateway, tr.Result))
	})

	_, err := run.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		"validating>resolving_card/-1/pending",
		"resolving_card>awaiting_pin/-1/pending",
		"awaiting_pin>authorizing/0/pending",
		"authorizing>authorizing/1/pending",
		"authorizing>settling/-1/pending",
		"settling>done/-1/approved",
	}, got)

	_, err = run.Execute(context.Background())
	require.ErrorIs(t, err, ErrRunStarted)
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(" 12.50 ", "4111111111111111", "1228", " Jane ")
	require.NoError(t, err)
	require.Equal(t, "12.5", req.Amount.String())
	require.Equal(t, "Jane", req.CardholderName)

	_, err = NewRequest("abc", "4111111111111111", "1228", "")
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, AmountOutOfRange, f.Kind)
}

func TestNew_RequirePINWithoutRequesterIsLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	cfg := DefaultConfig()
	cfg.RequirePIN = true
	g := gw("primary", gateway.Approve("", "ch", "A"))
	o := New(cfg, gateway.NewChain(discard, time.Second, g), nil, nil, logger)

	require.Contains(t, logs.String(), `"level":"ERROR"`)
	require.Contains(t, logs.String(), "no PIN requester configured")

	txn, err := o.ProcessPayment(context.Background(), validRequest())
	require.NoError(t, err)
	require.Empty(t, g.lastReq.PIN)
	require.Equal(t, StatusApproved, txn.Status)

	logs.Reset()
	New(DefaultConfig(), gateway.NewChain(discard, time.Second, g), nil, nil, logger)
	require.NotContains(t, logs.String(), "no PIN requester configured")
}
