package checkout

import (
	"github.com/google/uuid"

	"github.com/JannieHamberg/equibox-sub000/internal/subscriptions"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
)

// Identity is the authenticated shopper entering checkout, taken from the
// verified token rather than from the request body.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Name   string
}

// StartInput opens a checkout session for a selected plan.
type StartInput struct {
	PlanID int64 `json:"plan_id" validate:"required"`
}

// SubmitInput executes the payment step of an open session.
type SubmitInput struct {
	PaymentMethod   enums.PaymentMethod           `json:"payment_method" validate:"required"`
	PaymentMethodID string                        `json:"payment_method_id"`
	BillingDetails  *subscriptions.BillingDetails `json:"billing_details"`
}

// ConfirmCardInput finalizes a card session after the client confirmed the intent.
type ConfirmCardInput struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

// SessionView is the transport shape of a checkout session.
type SessionView struct {
	ID                   uuid.UUID           `json:"id"`
	State                enums.CheckoutState `json:"state"`
	PlanID               int64               `json:"plan_id"`
	StripePlanID         string              `json:"stripe_plan_id"`
	CustomerID           string              `json:"customer_id,omitempty"`
	PaymentMethod        enums.PaymentMethod `json:"payment_method,omitempty"`
	ClientSecret         string              `json:"client_secret,omitempty"`
	StripeSubscriptionID string              `json:"stripe_subscription_id,omitempty"`
	LastError            string              `json:"last_error,omitempty"`
}

// ClientSecretInput requests a one-off payment intent secret.
type ClientSecretInput struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amount" validate:"required,gt=0"`
	CustomerID  string `json:"customer_id" validate:"required"`
	ForceNew    bool   `json:"force_new"`
}

// ClientSecretResult carries the secret in the shape the storefront expects.
type ClientSecretResult struct {
	ClientSecret string `json:"clientSecret"`
}

func viewOf(session *Session) *SessionView {
	if session == nil {
		return nil
	}
	return &SessionView{
		ID:                   session.ID,
		State:                session.State,
		PlanID:               session.PlanID,
		StripePlanID:         session.StripePlanID,
		CustomerID:           session.CustomerID,
		PaymentMethod:        session.PaymentMethod,
		ClientSecret:         session.ClientSecret,
		StripeSubscriptionID: session.StripeSubscriptionID,
		LastError:            session.LastError,
	}
}
