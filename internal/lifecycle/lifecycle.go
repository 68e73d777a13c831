// Package lifecycle holds the order state machine. Every entry point that
// changes an order's status or payment status goes through Next.
package lifecycle

import (
	"errors"
	"fmt"
)

// Status is the fulfillment lifecycle of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// PaymentStatus is the payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Event is something that happened to an order.
type Event string

const (
	EventCapture Event = "capture" // card charge captured by the gateway
	EventDecline Event = "decline" // card charge declined by the gateway
	EventApprove Event = "approve" // manual payment verified by staff
	EventReject  Event = "reject"  // manual payment rejected by staff
	EventShip    Event = "ship"
	EventDeliver Event = "deliver"
)

var (
	ErrAlreadyProcessed  = errors.New("payment already processed")
	ErrIllegalTransition = errors.New("illegal order transition")
	ErrInconsistentState = errors.New("inconsistent order state")
	errUnknownOrderEvent = errors.New("unknown order event")
)

// State is the pair of status fields persisted on an order.
type State struct {
	Status  Status
	Payment PaymentStatus
}

// Initial is the state of a freshly placed order.
func Initial() State {
	return State{Status: StatusPending, Payment: PaymentPending}
}

// Validate reports whether the status pair is one the machine can produce.
// PAID, SHIPPED and DELIVERED all require a captured payment, and only a
// failed payment cancels an order.
func (s State) Validate() error {
	switch s.Status {
	case StatusPaid, StatusShipped, StatusDelivered:
		if s.Payment != PaymentPaid {
			return ErrInconsistentState
		}
	case StatusPending:
		if s.Payment != PaymentPending {
			return ErrInconsistentState
		}
	case StatusCancelled:
		if s.Payment != PaymentFailed {
			return ErrInconsistentState
		}
	default:
		return ErrInconsistentState
	}
	switch s.Payment {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return nil
	}
	return ErrInconsistentState
}

// TransitionError describes a rejected transition.
type TransitionError struct {
	From  State
	Event Event
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s on %s/%s: %v", e.Event, e.From.Status, e.From.Payment, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Next returns the state reached by applying ev to from. Payment events are
// only legal while the payment is PENDING; anything else is reported as
// ErrAlreadyProcessed so callers never re-run side effects.
func Next(from State, ev Event) (State, error) {
	if err := from.Validate(); err != nil {
		return from, &TransitionError{From: from, Event: ev, Err: err}
	}

	var to State
	switch ev {
	case EventCapture, EventApprove:
		if from.Payment != PaymentPending {
			return from, &TransitionError{From: from, Event: ev, Err: ErrAlreadyProcessed}
		}
		to = State{Status: StatusPaid, Payment: PaymentPaid}
	case EventDecline, EventReject:
		if from.Payment != PaymentPending {
			return from, &TransitionError{From: from, Event: ev, Err: ErrAlreadyProcessed}
		}
		to = State{Status: StatusCancelled, Payment: PaymentFailed}
	case EventShip:
		if from.Status != StatusPaid {
			return from, &TransitionError{From: from, Event: ev, Err: ErrIllegalTransition}
		}
		to = State{Status: StatusShipped, Payment: from.Payment}
	case EventDeliver:
		if from.Status != StatusShipped {
			return from, &TransitionError{From: from, Event: ev, Err: ErrIllegalTransition}
		}
		to = State{Status: StatusDelivered, Payment: from.Payment}
	default:
		return from, &TransitionError{From: from, Event: ev, Err: errUnknownOrderEvent}
	}

	if err := to.Validate(); err != nil {
		return from, &TransitionError{From: from, Event: ev, Err: err}
	}
	return to, nil
}

// IsTerminal reports whether no further payment event can apply.
func (s State) IsTerminal() bool {
	return s.Payment != PaymentPending
}
