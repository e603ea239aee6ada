package plans

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
)

// Service exposes the plan catalog to shoppers and CRUD to admins.
type Service interface {
	ListCatalog(ctx context.Context) ([]PlanDTO, error)
	ListAll(ctx context.Context) ([]PlanDTO, error)
	Get(ctx context.Context, id int64) (*PlanDTO, error)
	Create(ctx context.Context, req CreatePlanRequest) (*PlanDTO, error)
	Update(ctx context.Context, id int64, req UpdatePlanRequest) (*PlanDTO, error)
	Archive(ctx context.Context, id int64) error
}

type planRepository interface {
	ListActive(ctx context.Context) ([]models.SubscriptionPlan, error)
	ListAll(ctx context.Context) ([]models.SubscriptionPlan, error)
	FindByID(ctx context.Context, id int64) (*models.SubscriptionPlan, error)
	Create(ctx context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error)
	Update(ctx context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error)
	Archive(ctx context.Context, id int64) error
}

type service struct {
	repo            planRepository
	defaultCurrency string
}

// ServiceParams bundles the dependencies required to build a plans service.
type ServiceParams struct {
	Repo            planRepository
	DefaultCurrency string
}

// NewService constructs a plans service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("plan repository is required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = "sek"
	}
	return &service{repo: params.Repo, defaultCurrency: currency}, nil
}

func (s *service) ListCatalog(ctx context.Context) ([]PlanDTO, error) {
	items, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list plans")
	}
	return FromModels(items), nil
}

func (s *service) ListAll(ctx context.Context) ([]PlanDTO, error) {
	items, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list all plans")
	}
	return FromModels(items), nil
}

func (s *service) Get(ctx context.Context, id int64) (*PlanDTO, error) {
	plan, err := s.findPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromModel(plan), nil
}

func (s *service) Create(ctx context.Context, req CreatePlanRequest) (*PlanDTO, error) {
	interval, err := enums.ParseBillingInterval(req.Interval)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing interval").
			WithDetails(map[string]string{"interval": req.Interval})
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		return nil, err
	}

	currency := strings.ToLower(strings.TrimSpace(req.CurrencyCode))
	if currency == "" {
		currency = s.defaultCurrency
	}

	plan := &models.SubscriptionPlan{
		Name:         strings.TrimSpace(req.Name),
		Description:  strings.TrimSpace(req.Description),
		Status:       enums.PlanStatusActive,
		StripePlanID: strings.TrimSpace(req.StripePlanID),
		Interval:     interval,
		Price:        price,
		CurrencyCode: currency,
		Features:     req.Features,
	}

	created, err := s.repo.Create(ctx, plan)
	if err != nil {
		if pkgerrors.IsUniqueViolation(err) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a plan with that stripe price already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create plan")
	}
	return FromModel(created), nil
}

func (s *service) Update(ctx context.Context, id int64, req UpdatePlanRequest) (*PlanDTO, error) {
	plan, err := s.findPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		plan.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		plan.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		price, err := parsePrice(*req.Price)
		if err != nil {
			return nil, err
		}
		plan.Price = price
	}
	if req.Features != nil {
		plan.Features = *req.Features
	}

	updated, err := s.repo.Update(ctx, plan)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update plan")
	}
	return FromModel(updated), nil
}

func (s *service) Archive(ctx context.Context, id int64) error {
	if _, err := s.findPlan(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Archive(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archive plan")
	}
	return nil
}

func (s *service) findPlan(ctx context.Context, id int64) (*models.SubscriptionPlan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	return plan, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || price.IsNegative() {
		return decimal.Decimal{}, pkgerrors.New(pkgerrors.CodeValidation, "price must be a non-negative decimal").
			WithDetails(map[string]string{"price": raw})
	}
	return price, nil
}
