package terminal

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/payment"
	"github.com/alovak/cardflow-terminal/terminal/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type approvingGateway struct{}

func (approvingGateway) Name() string { return "approving" }
func (approvingGateway) Kind() string { return "approving" }

func (approvingGateway) Authorize(context.Context, gateway.Request) gateway.Outcome {
	return gateway.Approve("", "ch_1", "AUTH01")
}

func TestService_FinishedSessionIsEvicted(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := payment.DefaultConfig()
	cfg.RequirePIN = true

	svc := NewService(ServiceConfig{
		Payment:          cfg,
		PINTimeout:       5 * time.Second,
		SessionRetention: 200 * time.Millisecond,
	}, gateway.NewChain(logger, time.Second, approvingGateway{}), nil, NewRepository(), logger)
	t.Cleanup(svc.Close)

	started, err := svc.StartPayment(models.CreatePayment{
		Amount:     "10.00",
		CardNumber: "4111111111111111",
		Expiry:     "1239",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := svc.GetSession(started.ID)
		return err == nil && s.PinRequired
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.SubmitPIN(started.ID, "1234"))

	finished, err := svc.Wait(context.Background(), started.ID)
	require.NoError(t, err)
	require.Equal(t, payment.Approved, finished.Result)

	sess, ok := svc.session(started.ID)
	require.True(t, ok)
	sess.mu.Lock()
	require.Nil(t, sess.challenge)
	sess.mu.Unlock()

	require.Eventually(t, func() bool {
		_, err := svc.GetSession(started.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
	_, err = svc.GetSession(started.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// the journal outlives the session
	_, err = svc.GetTransaction(context.Background(), started.ID)
	require.NoError(t, err)
}
