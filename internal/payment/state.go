package payment

import "fmt"

type State int

const (
	Validating State = iota
	ResolvingCard
	AwaitingPin
	Authorizing
	Settling
	Done
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case ResolvingCard:
		return "resolving_card"
	case AwaitingPin:
		return "awaiting_pin"
	case Authorizing:
		return "authorizing"
	case Settling:
		return "settling"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is how a run ended. It is set only in the Done state.
type Result int

const (
	Pending Result = iota
	Approved
	Declined
	Error
	Cancelled
)

func (r Result) String() string {
	switch r {
	case Pending:
		return "pending"
	case Approved:
		return "approved"
	case Declined:
		return "declined"
	case Error:
		return "error"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Transition is emitted every time a run changes state. Gateway is the
// zero-based chain position while Authorizing, and -1 otherwise.
type Transition struct {
	RunID   string
	From    State
	To      State
	Gateway int
	Result  Result
}

func (s *State) UnmarshalText(b []byte) error {
	for c := Validating; c <= Done; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

func (r *Result) UnmarshalText(b []byte) error {
	for c := Pending; c <= Cancelled; c++ {
		if c.String() == string(b) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown result %q", b)
}
