package plans

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
)

func TestServiceListCatalogReturnsActivePlans(t *testing.T) {
	repo := &stubPlanRepo{
		active: []models.SubscriptionPlan{
			{ID: 1, Name: "Mini Box", StripePlanID: "price_mini", Interval: enums.BillingIntervalMonth, Price: decimal.NewFromInt(249), CurrencyCode: "sek"},
			{ID: 2, Name: "Original Box", StripePlanID: "price_original", Interval: enums.BillingIntervalMonth, Price: decimal.NewFromInt(349), CurrencyCode: "sek"},
		},
	}
	svc := buildPlanService(t, repo)

	out, err := svc.ListCatalog(context.Background())
	if err != nil {
		t.Fatalf("list catalog: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(out))
	}
	if out[0].Name != "Mini Box" || out[0].StripePlanID != "price_mini" {
		t.Fatalf("unexpected first plan %+v", out[0])
	}
	if out[0].Features == nil {
		t.Fatalf("expected features to serialize as empty array, not null")
	}
}

func TestServiceListAllIncludesArchivedPlans(t *testing.T) {
	repo := &stubPlanRepo{
		all: []models.SubscriptionPlan{
			{ID: 1, Name: "Mini Box", Status: enums.PlanStatusActive, StripePlanID: "price_mini", Interval: enums.BillingIntervalMonth, Price: decimal.NewFromInt(249), CurrencyCode: "sek"},
			{ID: 3, Name: "Retired Box", Status: enums.PlanStatusArchived, StripePlanID: "price_retired", Interval: enums.BillingIntervalMonth, Price: decimal.NewFromInt(299), CurrencyCode: "sek"},
		},
	}
	svc := buildPlanService(t, repo)

	out, err := svc.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(out))
	}
	if out[1].Status != enums.PlanStatusArchived {
		t.Fatalf("expected archived plan in admin listing, got %s", out[1].Status)
	}
}

func TestServiceCreatePlanValidatesInterval(t *testing.T) {
	svc := buildPlanService(t, &stubPlanRepo{})

	_, err := svc.Create(context.Background(), CreatePlanRequest{
		Name:         "Weekly Box",
		StripePlanID: "price_weekly",
		Interval:     "week",
		Price:        "199",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceCreatePlanRejectsBadPrice(t *testing.T) {
	svc := buildPlanService(t, &stubPlanRepo{})

	for _, price := range []string{"abc", "-5"} {
		_, err := svc.Create(context.Background(), CreatePlanRequest{
			Name:         "Box",
			StripePlanID: "price_x",
			Interval:     "month",
			Price:        price,
		})
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("price %q: expected validation error, got %v", price, err)
		}
	}
}

func TestServiceCreatePlanDefaultsCurrency(t *testing.T) {
	repo := &stubPlanRepo{}
	svc := buildPlanService(t, repo)

	out, err := svc.Create(context.Background(), CreatePlanRequest{
		Name:         " Original Box ",
		StripePlanID: "price_original",
		Interval:     "month",
		Price:        "349.00",
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if out.CurrencyCode != "sek" {
		t.Fatalf("expected default currency sek, got %q", out.CurrencyCode)
	}
	if out.Name != "Original Box" {
		t.Fatalf("expected trimmed name, got %q", out.Name)
	}
	if out.Status != enums.PlanStatusActive {
		t.Fatalf("expected new plan to be active, got %s", out.Status)
	}
}

func TestServiceUpdateUnknownPlan(t *testing.T) {
	svc := buildPlanService(t, &stubPlanRepo{})

	name := "Renamed"
	_, err := svc.Update(context.Background(), 42, UpdatePlanRequest{Name: &name})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestServiceArchivePlan(t *testing.T) {
	repo := &stubPlanRepo{
		byID: map[int64]*models.SubscriptionPlan{
			7: {ID: 7, Name: "Retiring Box", Status: enums.PlanStatusActive},
		},
	}
	svc := buildPlanService(t, repo)

	if err := svc.Archive(context.Background(), 7); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if repo.archived != 7 {
		t.Fatalf("expected plan 7 archived, got %d", repo.archived)
	}
}

type stubPlanRepo struct {
	active   []models.SubscriptionPlan
	all      []models.SubscriptionPlan
	byID     map[int64]*models.SubscriptionPlan
	archived int64
}

func (s *stubPlanRepo) ListActive(context.Context) ([]models.SubscriptionPlan, error) {
	return s.active, nil
}

func (s *stubPlanRepo) ListAll(context.Context) ([]models.SubscriptionPlan, error) {
	return s.all, nil
}

func (s *stubPlanRepo) FindByID(_ context.Context, id int64) (*models.SubscriptionPlan, error) {
	if plan, ok := s.byID[id]; ok {
		return plan, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPlanRepo) Create(_ context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error) {
	plan.ID = int64(len(s.active) + 1)
	return plan, nil
}

func (s *stubPlanRepo) Update(_ context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error) {
	return plan, nil
}

func (s *stubPlanRepo) Archive(_ context.Context, id int64) error {
	s.archived = id
	return nil
}

func buildPlanService(t *testing.T, repo planRepository) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Repo: repo})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}
