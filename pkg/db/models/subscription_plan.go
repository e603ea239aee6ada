package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
)

// SubscriptionPlan is the local catalog entry for a subscription box offering.
// Plans are immutable to shoppers; only the admin surface mutates them.
type SubscriptionPlan struct {
	ID           int64                 `gorm:"column:id;primaryKey;autoIncrement"`
	Name         string                `gorm:"column:name;not null"`
	Description  string                `gorm:"column:description;not null;default:''"`
	Status       enums.PlanStatus      `gorm:"column:status;type:plan_status;not null;default:'active'"`
	StripePlanID string                `gorm:"column:stripe_plan_id;not null;uniqueIndex"`
	Interval     enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null"`
	Price        decimal.Decimal       `gorm:"column:price;type:numeric(12,2);not null"`
	CurrencyCode string                `gorm:"column:currency_code;not null;default:'sek'"`
	Features     pq.StringArray        `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// PriceCents converts the decimal price into the minor unit Stripe expects.
func (p SubscriptionPlan) PriceCents() int64 {
	return p.Price.Mul(decimal.NewFromInt(100)).IntPart()
}
