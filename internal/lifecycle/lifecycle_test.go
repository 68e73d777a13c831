package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPaymentEvents(t *testing.T) {
	t.Run("capture moves pending order to paid", func(t *testing.T) {
		next, err := Next(Initial(), EventCapture)
		require.NoError(t, err)
		assert.Equal(t, State{Status: StatusPaid, Payment: PaymentPaid}, next)
	})

	t.Run("approve moves pending order to paid", func(t *testing.T) {
		next, err := Next(Initial(), EventApprove)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, next.Status)
		assert.Equal(t, PaymentPaid, next.Payment)
	})

	t.Run("reject cancels and fails the payment", func(t *testing.T) {
		next, err := Next(Initial(), EventReject)
		require.NoError(t, err)
		assert.Equal(t, State{Status: StatusCancelled, Payment: PaymentFailed}, next)
	})

	t.Run("decline cancels and fails the payment", func(t *testing.T) {
		next, err := Next(Initial(), EventDecline)
		require.NoError(t, err)
		assert.Equal(t, PaymentFailed, next.Payment)
	})
}

func TestNextRejectsSecondPaymentEvent(t *testing.T) {
	paid := State{Status: StatusPaid, Payment: PaymentPaid}
	failed := State{Status: StatusCancelled, Payment: PaymentFailed}
	shipped := State{Status: StatusShipped, Payment: PaymentPaid}

	for _, from := range []State{paid, failed, shipped} {
		for _, ev := range []Event{EventCapture, EventApprove, EventDecline, EventReject} {
			got, err := Next(from, ev)
			require.Error(t, err, "%s from %+v", ev, from)
			assert.True(t, errors.Is(err, ErrAlreadyProcessed), "%s from %+v: %v", ev, from, err)
			assert.Equal(t, from, got)

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, ev, te.Event)
		}
	}
}

func TestNextFulfillment(t *testing.T) {
	paid := State{Status: StatusPaid, Payment: PaymentPaid}

	shipped, err := Next(paid, EventShip)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, shipped.Status)

	delivered, err := Next(shipped, EventDeliver)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, delivered.Status)
	assert.Equal(t, PaymentPaid, delivered.Payment)

	_, err = Next(Initial(), EventShip)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = Next(State{Status: StatusCancelled, Payment: PaymentFailed}, EventShip)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = Next(paid, EventDeliver)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestShippedImpliesPaid(t *testing.T) {
	events := []Event{EventCapture, EventDecline, EventApprove, EventReject, EventShip, EventDeliver}

	// Walk every reachable state from Initial and check the invariant holds
	// both before and after each transition.
	seen := map[State]bool{}
	queue := []State{Initial()}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if seen[s] {
			continue
		}
		seen[s] = true
		require.NoError(t, s.Validate(), "reachable state %+v", s)
		if s.Status == StatusShipped || s.Status == StatusDelivered {
			assert.Equal(t, PaymentPaid, s.Payment)
		}
		for _, ev := range events {
			if next, err := Next(s, ev); err == nil {
				queue = append(queue, next)
			}
		}
	}
	assert.Len(t, seen, 5)
}

func TestNextRefusesInconsistentInput(t *testing.T) {
	broken := State{Status: StatusShipped, Payment: PaymentPending}
	_, err := Next(broken, EventDeliver)
	assert.ErrorIs(t, err, ErrInconsistentState)

	_, err = Next(State{Status: "LOST", Payment: PaymentPending}, EventCapture)
	assert.ErrorIs(t, err, ErrInconsistentState)
}

func TestCancelledOrderAcceptsNoEvent(t *testing.T) {
	for _, payment := range []PaymentStatus{PaymentPending, PaymentPaid} {
		assert.ErrorIs(t, State{Status: StatusCancelled, Payment: payment}.Validate(), ErrInconsistentState, payment)
	}

	for _, from := range []State{
		{Status: StatusCancelled, Payment: PaymentPending},
		{Status: StatusCancelled, Payment: PaymentFailed},
	} {
		for _, ev := range []Event{EventCapture, EventApprove, EventDecline, EventReject, EventShip, EventDeliver} {
			to, err := Next(from, ev)
			assert.Error(t, err, "%s/%s on %s", from.Status, from.Payment, ev)
			assert.Equal(t, from, to)
		}
	}
}
