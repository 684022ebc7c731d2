package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/payment"
	"github.com/alovak/cardflow-terminal/terminal"
	"github.com/alovak/cardflow-terminal/terminal/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type approveAll struct{ got gateway.Request }

func (g *approveAll) Name() string { return "sim" }
func (g *approveAll) Kind() string { return "sim" }

func (g *approveAll) Authorize(_ context.Context, req gateway.Request) gateway.Outcome {
	g.got = req
	return gateway.Approve("", "sim_1", "000001")
}

func newService(t *testing.T, g gateway.Gateway) *terminal.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := payment.DefaultConfig()
	cfg.RequirePIN = true
	svc := terminal.NewService(terminal.ServiceConfig{Payment: cfg, PINTimeout: 5 * time.Second},
		gateway.NewChain(logger, time.Second, g), nil, terminal.NewRepository(), logger)
	t.Cleanup(svc.Close)
	return svc
}

func testPayment() models.CreatePayment {
	return models.CreatePayment{Amount: "10.00", CardNumber: "5555555555554444", Expiry: "0139"}
}

func TestPay_ReadsPINFromInput(t *testing.T) {
	g := &approveAll{}
	svc := newService(t, g)

	var prompt bytes.Buffer
	session, err := pay(context.Background(), svc, testPayment(), strings.NewReader("12\n4321\n"), &prompt)
	require.NoError(t, err)
	require.Equal(t, payment.Approved, session.Result)
	require.Equal(t, "4321", string(g.got.PIN))
	require.Contains(t, prompt.String(), "****-****-****-4444")
	require.Contains(t, prompt.String(), "exactly 4 digits")
}

func TestPay_EmptyLineCancels(t *testing.T) {
	svc := newService(t, &approveAll{})

	session, err := pay(context.Background(), svc, testPayment(), strings.NewReader("\n"), io.Discard)
	require.NoError(t, err)
	require.Equal(t, payment.Cancelled, session.Result)
	require.Equal(t, payment.UserCancelled, session.Failure.Kind)
}
