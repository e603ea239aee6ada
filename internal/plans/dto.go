package plans

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
)

// PlanDTO is the transport shape for a subscription plan.
type PlanDTO struct {
	ID           int64                 `json:"id"`
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Status       enums.PlanStatus      `json:"status"`
	StripePlanID string                `json:"stripe_plan_id"`
	Interval     enums.BillingInterval `json:"interval"`
	Price        decimal.Decimal       `json:"price"`
	CurrencyCode string                `json:"currency"`
	Features     []string              `json:"features"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// CreatePlanRequest captures the admin payload for a new plan.
type CreatePlanRequest struct {
	Name         string   `json:"name" validate:"required"`
	Description  string   `json:"description"`
	StripePlanID string   `json:"stripe_plan_id" validate:"required"`
	Interval     string   `json:"interval" validate:"required"`
	Price        string   `json:"price" validate:"required"`
	CurrencyCode string   `json:"currency"`
	Features     []string `json:"features"`
}

// UpdatePlanRequest captures partial updates to an existing plan.
type UpdatePlanRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Price       *string   `json:"price"`
	Features    *[]string `json:"features"`
}

func FromModel(p *models.SubscriptionPlan) *PlanDTO {
	if p == nil {
		return nil
	}
	features := append([]string(nil), []string(p.Features)...)
	if features == nil {
		features = []string{}
	}
	return &PlanDTO{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Status:       p.Status,
		StripePlanID: p.StripePlanID,
		Interval:     p.Interval,
		Price:        p.Price,
		CurrencyCode: p.CurrencyCode,
		Features:     features,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func FromModels(items []models.SubscriptionPlan) []PlanDTO {
	out := make([]PlanDTO, 0, len(items))
	for i := range items {
		out = append(out, *FromModel(&items[i]))
	}
	return out
}
