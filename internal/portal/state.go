package portal

import "fmt"

// State is the position of one authorization request in its lifecycle.
type State string

const (
	// StateReceived is the state of a request that has not been validated yet.
	StateReceived State = "received"
	// StateAuthorizing means the controller sequence is running.
	StateAuthorizing State = "authorizing"
	// StateAuthorized means the device was bound to a voucher.
	StateAuthorized State = "authorized"
	// StateDenied means validation or authorization failed.
	StateDenied State = "denied"
	// StateResponded means the caller has been answered.
	StateResponded State = "responded"
)

var transitions = map[State][]State{
	StateReceived:    {StateAuthorizing, StateDenied},
	StateAuthorizing: {StateAuthorized, StateDenied},
	StateAuthorized:  {StateResponded},
	StateDenied:      {StateResponded},
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state carries a final decision.
func (s State) Terminal() bool {
	return s == StateAuthorized || s == StateDenied
}

// TransitionError is returned for an illegal state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}
