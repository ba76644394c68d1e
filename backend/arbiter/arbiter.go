// Package arbiter decides who may publish snapshots in a room.
//
// The claim is either Unclaimed or Claimed by exactly one holder. Apply is a
// pure function so the room actor can fold events in receipt order and any
// replay of the same sequence yields the same claim.
package arbiter

import (
	"errors"
	"fmt"
)

var ErrUnknownAction = errors.New("unknown host action")

type State int

const (
	Unclaimed State = iota
	Claimed
)

func (s State) String() string {
	switch s {
	case Unclaimed:
		return "unclaimed"
	case Claimed:
		return "claimed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Action int

const (
	Request Action = iota
	Acquire
	Release
	Disconnect
)

func (a Action) String() string {
	switch a {
	case Request:
		return "request"
	case Acquire:
		return "acquire"
	case Release:
		return "release"
	case Disconnect:
		return "disconnect"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps client-sent host actions. Disconnect is never accepted
// from the wire, it is produced by the room when a session leaves.
func ParseAction(s string) (Action, error) {
	switch s {
	case "request":
		return Request, nil
	case "acquire":
		return Acquire, nil
	case "release":
		return Release, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

type Holder struct {
	ID       string
	Nickname string
}

type Claim struct {
	state  State
	holder Holder
}

func None() Claim {
	return Claim{}
}

func ClaimedBy(h Holder) Claim {
	return Claim{state: Claimed, holder: h}
}

func (c Claim) State() State { return c.state }

// Holder returns the current holder and whether the claim is held.
func (c Claim) Holder() (Holder, bool) {
	if c.state != Claimed {
		return Holder{}, false
	}
	return c.holder, true
}

func (c Claim) HeldBy(id string) bool {
	return c.state == Claimed && c.holder.ID == id
}

// Apply returns the claim after actor applies action, and whether the
// claim changed. Only changes are broadcast by the room.
func Apply(c Claim, a Action, actor Holder) (Claim, bool) {
	var next Claim
	switch a {
	case Request:
		if c.state == Claimed {
			return c, false
		}
		next = ClaimedBy(actor)
	case Acquire:
		next = ClaimedBy(actor)
	case Release, Disconnect:
		if !c.HeldBy(actor.ID) {
			return c, false
		}
		next = None()
	default:
		return c, false
	}
	return next, next != c
}

type Event struct {
	Action Action
	Actor  Holder
}

// Fold applies events in order starting from an unclaimed room.
func Fold(events []Event) Claim {
	c := None()
	for _, ev := range events {
		c, _ = Apply(c, ev.Action, ev.Actor)
	}
	return c
}
