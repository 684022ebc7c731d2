// Package pin suspends a payment run until the cardholder enters a PIN or
// cancels. A Challenge is a single-shot continuation: exactly one of Resolve
// or Cancel takes effect, once.
package pin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alovak/cardflow-terminal/internal/card"
	"golang.org/x/exp/slog"
)

var (
	ErrCancelled      = errors.New("pin entry cancelled")
	ErrTimeout        = errors.New("pin entry timed out")
	ErrAlreadySettled = errors.New("pin challenge already settled")
	ErrInvalidPIN     = errors.New("pin must be exactly 4 digits")
)

const pinLength = 4

// PIN is a cleartext PIN held only for the duration of one authorization.
type PIN string

func (p PIN) String() string       { return "[REDACTED]" }
func (p PIN) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }
func (p PIN) GoString() string     { return "[REDACTED]" }

func (p PIN) Valid() bool {
	if len(p) != pinLength {
		return false
	}
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return false
		}
	}
	return true
}

type State int

const (
	Idle State = iota
	AwaitingPin
	PinSupplied
	PinCancelled
	PinTimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPin:
		return "awaiting_pin"
	case PinSupplied:
		return "pin_supplied"
	case PinCancelled:
		return "pin_cancelled"
	case PinTimedOut:
		return "pin_timed_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type result struct {
	pin PIN
	err error
}

// CardView is what the PIN-entry collaborator may show about the card.
type CardView struct {
	Masked string     `json:"masked"`
	Brand  card.Brand `json:"brand"`
}

// Challenge is handed to the PIN-entry collaborator. It never holds the
// card number.
type Challenge struct {
	Card    CardView
	Expires time.Time

	mu    sync.Mutex
	state State
	done  chan result
}

func newChallenge(profile card.Profile, expires time.Time) *Challenge {
	return &Challenge{
		Card:    CardView{Masked: profile.Masked, Brand: profile.Brand},
		Expires: expires,
		state:   AwaitingPin,
		done:    make(chan result, 1),
	}
}

// Resolve supplies the PIN. A malformed PIN is rejected and the challenge
// stays open for another attempt.
func (c *Challenge) Resolve(p string) error {
	pin := PIN(p)
	if !pin.Valid() {
		return ErrInvalidPIN
	}
	return c.settle(PinSupplied, result{pin: pin})
}

func (c *Challenge) Cancel() error {
	return c.settle(PinCancelled, result{err: ErrCancelled})
}

func (c *Challenge) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Challenge) settle(to State, r result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AwaitingPin {
		return fmt.Errorf("%w (%s)", ErrAlreadySettled, c.state)
	}
	c.state = to
	c.done <- r
	return nil
}

// Prompter is the PIN-entry collaborator (PIN pad, UI, API session). It must
// not block; the answer comes back through the challenge.
type Prompter interface {
	OnPinRequired(ctx context.Context, ch *Challenge)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, ch *Challenge)

func (f PrompterFunc) OnPinRequired(ctx context.Context, ch *Challenge) { f(ctx, ch) }

// Coordinator issues challenges and waits for them with a bounded timeout.
type Coordinator struct {
	prompter Prompter
	timeout  time.Duration
	now      func() time.Time
}

func NewCoordinator(prompter Prompter, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Coordinator{prompter: prompter, timeout: timeout, now: time.Now}
}

// Request asks the prompter for a PIN and blocks until it is resolved,
// cancelled, the timeout elapses or ctx is done.
func (c *Coordinator) Request(ctx context.Context, profile card.Profile) (PIN, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch := newChallenge(profile, c.now().Add(c.timeout))
	c.prompter.OnPinRequired(ctx, ch)

	select {
	case r := <-ch.done:
		return r.pin, r.err
	case <-ctx.Done():
		to, err := PinCancelled, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			to, err = PinTimedOut, ErrTimeout
		}
		// the collaborator may have answered at the same instant
		if settleErr := ch.settle(to, result{err: err}); settleErr != nil {
			r := <-ch.done
			return r.pin, r.err
		}
		return "", err
	}
}
