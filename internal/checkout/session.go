package checkout

import (
	"time"

	"github.com/google/uuid"

	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
)

// Session is one checkout attempt, tracked server-side from bootstrap to a
// terminal state. All state transitions go through Advance so an out-of-order
// request can never skip a step.
type Session struct {
	ID                   uuid.UUID           `json:"id"`
	UserID               uuid.UUID           `json:"user_id"`
	Email                string              `json:"email"`
	Name                 string              `json:"name"`
	PlanID               int64               `json:"plan_id"`
	StripePlanID         string              `json:"stripe_plan_id"`
	AmountCents          int64               `json:"amount_cents"`
	CustomerID           string              `json:"customer_id"`
	PaymentMethod        enums.PaymentMethod `json:"payment_method,omitempty"`
	State                enums.CheckoutState `json:"state"`
	ClientSecret         string              `json:"client_secret,omitempty"`
	StripeSubscriptionID string              `json:"stripe_subscription_id,omitempty"`
	LastError            string              `json:"last_error,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// allowedTransitions encodes the checkout state machine. The invoice branch
// jumps from cleanup_done straight to succeeded; the card branch walks
// through awaiting_card and card_confirmed. Every state may fail.
var allowedTransitions = map[enums.CheckoutState][]enums.CheckoutState{
	enums.CheckoutStateStarted:          {enums.CheckoutStateCustomerResolved, enums.CheckoutStateFailed},
	enums.CheckoutStateCustomerResolved: {enums.CheckoutStateCleanupDone, enums.CheckoutStateFailed},
	enums.CheckoutStateCleanupDone:      {enums.CheckoutStateAwaitingCard, enums.CheckoutStateSucceeded, enums.CheckoutStateFailed},
	enums.CheckoutStateAwaitingCard:     {enums.CheckoutStateCardConfirmed, enums.CheckoutStateFailed},
	enums.CheckoutStateCardConfirmed:    {enums.CheckoutStateSucceeded, enums.CheckoutStateFailed},
}

// NewSession opens a session in the started state.
func NewSession(userID uuid.UUID, email, name string, planID int64, stripePlanID string, amountCents int64) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           uuid.New(),
		UserID:       userID,
		Email:        email,
		Name:         name,
		PlanID:       planID,
		StripePlanID: stripePlanID,
		AmountCents:  amountCents,
		State:        enums.CheckoutStateStarted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Advance moves the session to the next state, rejecting transitions the
// state machine does not allow.
func (s *Session) Advance(next enums.CheckoutState) error {
	if s.State.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeConflict, "checkout session has already finished").
			WithDetails(map[string]string{"state": s.State.String()})
	}
	for _, candidate := range allowedTransitions[s.State] {
		if candidate == next {
			s.State = next
			s.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "checkout step out of order").
		WithDetails(map[string]string{"from": s.State.String(), "to": next.String()})
}

// Fail records the error and moves the session to the failed state.
func (s *Session) Fail(cause error) {
	if s.State.IsTerminal() {
		return
	}
	if cause != nil {
		s.LastError = cause.Error()
	}
	s.State = enums.CheckoutStateFailed
	s.UpdatedAt = time.Now().UTC()
}

// Age reports how long the session has been open.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}
