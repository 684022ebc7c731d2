package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alovak/cardflow-terminal/internal/card"
	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/payment"
	"github.com/alovak/cardflow-terminal/internal/pin"
	"github.com/alovak/cardflow-terminal/terminal/models"
	"golang.org/x/exp/slog"
)

var ErrNoPINPending = errors.New("no PIN entry pending")

const defaultSessionRetention = 15 * time.Minute

type sessionKey struct{}

// session tracks one payment run for the API. The PIN challenge is parked
// here until the terminal UI resolves or cancels it.
type session struct {
	mu         sync.Mutex
	id         string
	state      payment.State
	result     payment.Result
	gateway    int
	maskedCard string
	challenge  *pin.Challenge
	txn        *payment.Transaction
	failure    *payment.Failure
	done       chan struct{}
}

func (s *session) view() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &models.Session{
		ID:          s.id,
		State:       s.state,
		Result:      s.result,
		Gateway:     s.gateway,
		MaskedCard:  s.maskedCard,
		Transaction: s.txn,
		Failure:     s.failure,
	}
	if s.challenge != nil && s.challenge.State() == pin.AwaitingPin {
		expires := s.challenge.Expires
		v.PinRequired = true
		v.PinExpiresAt = &expires
	}
	return v
}

// Service runs payments in the background and exposes their progress.
type Service struct {
	orchestrator *payment.Orchestrator
	repo         *Repository
	logger       *slog.Logger
	retention    time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

type ServiceConfig struct {
	Payment    payment.Config
	PINTimeout time.Duration
	// SessionRetention is how long a finished session stays readable.
	SessionRetention time.Duration
}

// NewService wires an orchestrator whose PIN prompts are answered through
// the service's sessions. settler may be nil.
func NewService(cfg ServiceConfig, chain *gateway.Chain, settler payment.Settler, repo *Repository, logger *slog.Logger) *Service {
	if cfg.SessionRetention <= 0 {
		cfg.SessionRetention = defaultSessionRetention
	}
	s := &Service{
		repo:      repo,
		logger:    logger,
		retention: cfg.SessionRetention,
		sessions:  make(map[string]*session),
	}
	var pins payment.PINRequester
	if cfg.Payment.RequirePIN {
		pins = pin.NewCoordinator(s, cfg.PINTimeout)
	}
	s.orchestrator = payment.New(cfg.Payment, chain, pins, settler, logger)
	return s
}

// OnPinRequired parks the challenge on the session the run belongs to.
func (s *Service) OnPinRequired(ctx context.Context, ch *pin.Challenge) {
	id, _ := ctx.Value(sessionKey{}).(string)
	sess, ok := s.session(id)
	if !ok {
		s.logger.ErrorContext(ctx, "pin requested for unknown session", slog.String("session", id))
		ch.Cancel()
		return
	}
	sess.mu.Lock()
	sess.challenge = ch
	sess.mu.Unlock()
}

// StartPayment begins a run and returns its session id immediately.
func (s *Service) StartPayment(req models.CreatePayment) (*models.Session, error) {
	r, err := payment.NewRequest(req.Amount, req.CardNumber, req.Expiry, req.CardholderName)
	if err != nil {
		return nil, err
	}

	run := s.orchestrator.NewRun(r)
	sess := &session{
		id:      run.ID,
		state:   payment.Validating,
		gateway: -1,
		done:    make(chan struct{}),
	}
	if card.IsLuhnValid(req.CardNumber) {
		sess.maskedCard = card.Mask(card.Normalize(req.CardNumber))
	}
	run.OnTransition(func(t payment.Transition) {
		sess.mu.Lock()
		sess.state = t.To
		sess.result = t.Result
		sess.gateway = t.Gateway
		sess.mu.Unlock()
	})

	s.mu.Lock()
	s.sessions[run.ID] = sess
	s.mu.Unlock()

	ctx := context.WithValue(context.Background(), sessionKey{}, run.ID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, run, sess)
		s.finish(sess)
	}()

	return sess.view(), nil
}

func (s *Service) execute(ctx context.Context, run *payment.Run, sess *session) {
	txn, err := run.Execute(ctx)

	var failure *payment.Failure
	if err != nil && !errors.As(err, &failure) {
		failure = &payment.Failure{Kind: payment.GatewayUnavailable, Message: err.Error(), Err: err}
	}

	sess.mu.Lock()
	sess.txn = txn
	sess.failure = failure
	sess.mu.Unlock()

	if txn == nil {
		return
	}
	if err := s.repo.CreateTransaction(ctx, models.FromPayment(txn)); err != nil {
		s.logger.ErrorContext(ctx, "journaling transaction", slog.String("id", txn.ID), slog.Any("err", err))
	}
}

// finish drops the PIN challenge of a completed run and schedules the
// session for eviction.
func (s *Service) finish(sess *session) {
	sess.mu.Lock()
	sess.challenge = nil
	sess.mu.Unlock()
	close(sess.done)

	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
	})
}

func (s *Service) session(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Service) GetSession(id string) (*models.Session, error) {
	sess, ok := s.session(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess.view(), nil
}

// Wait blocks until the session's run has finished or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*models.Session, error) {
	sess, ok := s.session(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	select {
	case <-sess.done:
		return sess.view(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) pendingChallenge(id string) (*pin.Challenge, error) {
	sess, ok := s.session(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	sess.mu.Lock()
	ch := sess.challenge
	sess.mu.Unlock()
	if ch == nil || ch.State() != pin.AwaitingPin {
		return nil, ErrNoPINPending
	}
	return ch, nil
}

func (s *Service) SubmitPIN(id, p string) error {
	ch, err := s.pendingChallenge(id)
	if err != nil {
		return err
	}
	return ch.Resolve(p)
}

// Cancel ends a run that is waiting for the PIN. Runs past that point can
// no longer be cancelled.
func (s *Service) Cancel(id string) error {
	ch, err := s.pendingChallenge(id)
	if err != nil {
		return err
	}
	return ch.Cancel()
}

func (s *Service) ListTransactions(ctx context.Context, limit int) ([]*models.Transaction, error) {
	transactions, err := s.repo.ListTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return transactions, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding transaction: %w", err)
	}
	return t, nil
}

// Close waits for running payments to finish.
func (s *Service) Close() {
	s.wg.Wait()
}
