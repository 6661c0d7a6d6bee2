package signal

import "orderflow/internal/core"

// State is the confirmation state of an Engine. It is one of Idle, Pending or Confirmed.
type State interface {
	isState()
	String() string
}

// Idle means no candidate is being tracked
type Idle struct{}

// Pending tracks consecutive same-direction candidates
type Pending struct {
	Direction core.Side
	Count     int
	Last      *core.Signal
}

// Confirmed holds the signal emitted on the previous evaluation.
// The next evaluation starts from scratch as if Idle.
type Confirmed struct {
	Signal *core.Signal
}

func (Idle) isState()      {}
func (Pending) isState()   {}
func (Confirmed) isState() {}

func (Idle) String() string      { return "idle" }
func (Pending) String() string   { return "pending" }
func (Confirmed) String() string { return "confirmed" }

// step computes the next state for a candidate (or lack of one).
// It returns the signal to emit when the transition reaches Confirmed.
func step(s State, candidate *core.Signal, required int) (State, *core.Signal) {
	if candidate == nil {
		return Idle{}, nil
	}

	next := Pending{Direction: candidate.Direction, Count: 1, Last: candidate}
	if p, ok := s.(Pending); ok && p.Direction == candidate.Direction {
		next.Count = p.Count + 1
	}

	if next.Count >= required {
		candidate.Confirm()
		return Confirmed{Signal: candidate}, candidate
	}
	return next, nil
}
