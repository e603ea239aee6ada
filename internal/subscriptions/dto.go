package subscriptions

import (
	"time"

	"github.com/google/uuid"

	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
)

// SubscriptionDTO is the transport shape for a local subscription record.
type SubscriptionDTO struct {
	ID                   uuid.UUID                `json:"id"`
	UserID               uuid.UUID                `json:"user_id"`
	PlanID               int64                    `json:"plan_id"`
	StripePlanID         string                   `json:"stripe_plan_id"`
	StripeSubscriptionID string                   `json:"stripe_subscription_id"`
	StripeCustomerID     string                   `json:"stripe_customer_id"`
	PaymentMethod        enums.PaymentMethod      `json:"payment_method"`
	Status               enums.SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time               `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool                     `json:"cancel_at_period_end"`
	CanceledAt           *time.Time               `json:"canceled_at,omitempty"`
	CreatedAt            time.Time                `json:"created_at"`
}

// CreateSubscriptionInput carries everything needed to open a subscription
// with the payment processor.
type CreateSubscriptionInput struct {
	UserID          uuid.UUID
	Email           string
	Name            string
	CustomerID      string
	PlanID          int64
	StripePlanID    string
	PaymentMethod   enums.PaymentMethod
	PaymentMethodID string
	BillingDetails  *BillingDetails
	CreateInDB      bool
}

// CreateSubscriptionResult mirrors what the checkout flow needs back: the
// processor subscription id always, and a client secret on the card branch.
type CreateSubscriptionResult struct {
	StripeSubscriptionID string                   `json:"stripe_subscription_id"`
	ClientSecret         string                   `json:"client_secret,omitempty"`
	Status               enums.SubscriptionStatus `json:"status"`
	Subscription         *SubscriptionDTO         `json:"subscription,omitempty"`
}

// RecordInput carries the payload persisting a confirmed subscription locally.
type RecordInput struct {
	UserID               uuid.UUID
	PlanID               int64
	StripePlanID         string
	PaymentMethod        enums.PaymentMethod
	StripeSubscriptionID string
}

// CleanupResult summarizes a best-effort cleanup pass.
type CleanupResult struct {
	Examined int `json:"examined"`
	Canceled int `json:"canceled"`
	Failed   int `json:"failed"`
}

func FromModel(s *models.Subscription) *SubscriptionDTO {
	if s == nil {
		return nil
	}
	return &SubscriptionDTO{
		ID:                   s.ID,
		UserID:               s.UserID,
		PlanID:               s.PlanID,
		StripePlanID:         s.StripePlanID,
		StripeSubscriptionID: s.StripeSubscriptionID,
		StripeCustomerID:     s.StripeCustomerID,
		PaymentMethod:        s.PaymentMethod,
		Status:               s.Status,
		CurrentPeriodStart:   s.CurrentPeriodStart,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		CanceledAt:           s.CanceledAt,
		CreatedAt:            s.CreatedAt,
	}
}

func FromModels(items []models.Subscription) []SubscriptionDTO {
	out := make([]SubscriptionDTO, 0, len(items))
	for i := range items {
		out = append(out, *FromModel(&items[i]))
	}
	return out
}
