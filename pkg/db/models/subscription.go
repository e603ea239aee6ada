package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
)

// Subscription is the application's own record of a user's subscription,
// separate from the payment processor's subscription object. The unique
// index on stripe_subscription_id is the guard against duplicate rows for
// one processor-side subscription.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID               int64                    `gorm:"column:plan_id;not null;index"`
	StripePlanID         string                   `gorm:"column:stripe_plan_id;not null"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;uniqueIndex"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;not null;index"`
	PaymentMethod        enums.PaymentMethod      `gorm:"column:payment_method;type:payment_method;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	Metadata             json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
