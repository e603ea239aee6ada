package subscriptions

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/JannieHamberg/equibox-sub000/pkg/config"
	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
)

func TestCreateCardSubscriptionReturnsClientSecret(t *testing.T) {
	stripeStub := &stubStripeClient{
		created: &stripe.Subscription{
			ID:     "sub_new",
			Status: stripe.SubscriptionStatusIncomplete,
			LatestInvoice: &stripe.Invoice{
				ConfirmationSecret: &stripe.InvoiceConfirmationSecret{ClientSecret: "pi_secret"},
			},
		},
	}
	svc, _ := buildSubscriptionService(t, &stubSubscriptionStore{}, stripeStub)

	result, err := svc.CreateStripeSubscription(context.Background(), cardInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.ClientSecret != "pi_secret" {
		t.Fatalf("expected client secret, got %q", result.ClientSecret)
	}
	if result.StripeSubscriptionID != "sub_new" {
		t.Fatalf("unexpected subscription id %q", result.StripeSubscriptionID)
	}
	if stripeStub.lastCreate.PaymentBehavior == nil || *stripeStub.lastCreate.PaymentBehavior != "default_incomplete" {
		t.Fatalf("expected default_incomplete payment behavior")
	}
}

func TestCreateCardSubscriptionMissingClientSecretFails(t *testing.T) {
	stripeStub := &stubStripeClient{
		created: &stripe.Subscription{ID: "sub_new", Status: stripe.SubscriptionStatusIncomplete},
	}
	store := &stubSubscriptionStore{}
	svc, _ := buildSubscriptionService(t, store, stripeStub)

	_, err := svc.CreateStripeSubscription(context.Background(), cardInput())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodePayment {
		t.Fatalf("expected payment error for missing client secret, got %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("card branch must not persist locally")
	}
}

func TestCreateCardSubscriptionRequiresPaymentMethodID(t *testing.T) {
	svc, _ := buildSubscriptionService(t, &stubSubscriptionStore{}, &stubStripeClient{})

	input := cardInput()
	input.PaymentMethodID = ""
	_, err := svc.CreateStripeSubscription(context.Background(), input)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateInvoiceSubscriptionValidatesBillingBeforeStripe(t *testing.T) {
	stripeStub := &stubStripeClient{}
	svc, _ := buildSubscriptionService(t, &stubSubscriptionStore{}, stripeStub)

	input := invoiceInput()
	input.BillingDetails.PostalCode = "12"
	_, err := svc.CreateStripeSubscription(context.Background(), input)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if stripeStub.createCalls != 0 {
		t.Fatalf("invalid billing details must block the stripe call, got %d calls", stripeStub.createCalls)
	}
}

func TestCreateInvoiceSubscriptionPersistsWhenRequested(t *testing.T) {
	stripeStub := &stubStripeClient{
		created: &stripe.Subscription{
			ID:       "sub_inv",
			Status:   stripe.SubscriptionStatusActive,
			Customer: &stripe.Customer{ID: "cus_1"},
		},
	}
	store := &stubSubscriptionStore{}
	svc, _ := buildSubscriptionService(t, store, stripeStub)

	input := invoiceInput()
	input.CreateInDB = true
	result, err := svc.CreateStripeSubscription(context.Background(), input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if stripeStub.lastCreate.CollectionMethod == nil || *stripeStub.lastCreate.CollectionMethod != "send_invoice" {
		t.Fatalf("expected send_invoice collection method")
	}
	if stripeStub.lastCreate.DaysUntilDue == nil || *stripeStub.lastCreate.DaysUntilDue != 14 {
		t.Fatalf("expected 14 days until due")
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one local record, got %d", len(store.created))
	}
	if result.Subscription == nil || result.Subscription.PaymentMethod != enums.PaymentMethodInvoice {
		t.Fatalf("expected invoice subscription dto, got %+v", result.Subscription)
	}
}

func TestCreateSubscriptionRejectsMismatchedPrice(t *testing.T) {
	svc, _ := buildSubscriptionService(t, &stubSubscriptionStore{}, &stubStripeClient{})

	input := cardInput()
	input.StripePlanID = "price_other"
	_, err := svc.CreateStripeSubscription(context.Background(), input)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCleanupStaleCancelsDebrisOnly(t *testing.T) {
	stripeStub := &stubStripeClient{
		listed: []*stripe.Subscription{
			{ID: "sub_incomplete", Status: stripe.SubscriptionStatusIncomplete},
			{ID: "sub_active", Status: stripe.SubscriptionStatusActive},
			{ID: "sub_unpaid", Status: stripe.SubscriptionStatusUnpaid},
			{
				ID:     "sub_pastdue_same_price",
				Status: stripe.SubscriptionStatusPastDue,
				Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
					{Price: &stripe.Price{ID: "price_abc"}},
				}},
			},
			{
				ID:     "sub_pastdue_other_price",
				Status: stripe.SubscriptionStatusPastDue,
				Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
					{Price: &stripe.Price{ID: "price_other"}},
				}},
			},
		},
	}
	svc, _ := buildSubscriptionService(t, &stubSubscriptionStore{}, stripeStub)

	result, err := svc.CleanupStale(context.Background(), "cus_1", "price_abc")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if result.Canceled != 3 {
		t.Fatalf("expected 3 cancellations, got %d", result.Canceled)
	}
	for _, id := range []string{"sub_incomplete", "sub_unpaid", "sub_pastdue_same_price"} {
		if !stripeStub.canceled[id] {
			t.Fatalf("expected %s to be canceled", id)
		}
	}
	if stripeStub.canceled["sub_active"] || stripeStub.canceled["sub_pastdue_other_price"] {
		t.Fatalf("canceled a subscription that should have been kept")
	}
}

func TestCleanupStaleCountsFailuresWithoutAborting(t *testing.T) {
	stripeStub := &stubStripeClient{
		listed: []*stripe.Subscription{
			{ID: "sub_a", Status: stripe.SubscriptionStatusIncomplete},
			{ID: "sub_b", Status: stripe.SubscriptionStatusIncomplete},
		},
		cancelErrs: map[string]error{"sub_a": fmt.Errorf("stripe unavailable")},
	}
	svc, _ := buildSubscriptionService(t, &stubSubscriptionStore{}, stripeStub)

	result, err := svc.CleanupStale(context.Background(), "cus_1", "")
	if err != nil {
		t.Fatalf("cleanup should not fail on per-subscription errors: %v", err)
	}
	if result.Canceled != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 canceled and 1 failed, got %+v", result)
	}
}

func TestRecordRequiresConfirmedPayment(t *testing.T) {
	stripeStub := &stubStripeClient{
		fetched: &stripe.Subscription{ID: "sub_x", Status: stripe.SubscriptionStatusIncomplete},
	}
	store := &stubSubscriptionStore{}
	svc, _ := buildSubscriptionService(t, store, stripeStub)

	_, err := svc.Record(context.Background(), recordInput())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodePayment {
		t.Fatalf("expected payment error for unconfirmed subscription, got %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("local record must not be created before payment is confirmed")
	}
}

func TestRecordPersistsActiveSubscription(t *testing.T) {
	stripeStub := &stubStripeClient{
		fetched: &stripe.Subscription{
			ID:       "sub_x",
			Status:   stripe.SubscriptionStatusActive,
			Customer: &stripe.Customer{ID: "cus_1"},
		},
	}
	store := &stubSubscriptionStore{}
	svc, _ := buildSubscriptionService(t, store, stripeStub)

	dto, err := svc.Record(context.Background(), recordInput())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if dto.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %s", dto.Status)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one local record, got %d", len(store.created))
	}
}

func TestRecordDuplicateResolvesToExistingRow(t *testing.T) {
	existing := &models.Subscription{
		ID:                   uuid.New(),
		StripeSubscriptionID: "sub_x",
		Status:               enums.SubscriptionStatusActive,
	}
	stripeStub := &stubStripeClient{
		fetched: &stripe.Subscription{ID: "sub_x", Status: stripe.SubscriptionStatusActive},
	}
	store := &stubSubscriptionStore{
		createErr: &pgconn.PgError{Code: "23505", ConstraintName: "idx_subscriptions_stripe_subscription_id"},
		byStripe:  map[string]*models.Subscription{"sub_x": existing},
	}
	svc, _ := buildSubscriptionService(t, store, stripeStub)

	dto, err := svc.Record(context.Background(), recordInput())
	if err != nil {
		t.Fatalf("expected duplicate record to resolve, got %v", err)
	}
	if dto.ID != existing.ID {
		t.Fatalf("expected existing row, got %+v", dto)
	}
}

func TestCancelAtPeriodEndChecksOwnership(t *testing.T) {
	owner := uuid.New()
	sub := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               owner,
		StripeSubscriptionID: "sub_x",
		Status:               enums.SubscriptionStatusActive,
	}
	store := &stubSubscriptionStore{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	svc, _ := buildSubscriptionService(t, store, &stubStripeClient{})

	_, err := svc.CancelAtPeriodEnd(context.Background(), uuid.New(), sub.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestSyncFromStripeIgnoresUntrackedSubscription(t *testing.T) {
	store := &stubSubscriptionStore{}
	svc, _ := buildSubscriptionService(t, store, &stubStripeClient{})

	err := svc.SyncFromStripe(context.Background(), &stripe.Subscription{
		ID:     "sub_unknown",
		Status: stripe.SubscriptionStatusCanceled,
	})
	if err != nil {
		t.Fatalf("expected untracked subscription to be ignored, got %v", err)
	}
	if len(store.updated) != 0 {
		t.Fatalf("expected no updates")
	}
}

func TestSyncFromStripeUpdatesTrackedSubscription(t *testing.T) {
	local := &models.Subscription{
		ID:                   uuid.New(),
		StripeSubscriptionID: "sub_x",
		Status:               enums.SubscriptionStatusActive,
	}
	store := &stubSubscriptionStore{byStripe: map[string]*models.Subscription{"sub_x": local}}
	svc, _ := buildSubscriptionService(t, store, &stubStripeClient{})

	err := svc.SyncFromStripe(context.Background(), &stripe.Subscription{
		ID:     "sub_x",
		Status: stripe.SubscriptionStatusPastDue,
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(store.updated) != 1 || store.updated[0].Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due update, got %+v", store.updated)
	}
}

func cardInput() CreateSubscriptionInput {
	return CreateSubscriptionInput{
		UserID:          uuid.New(),
		Email:           "rider@example.com",
		Name:            "Rider",
		CustomerID:      "cus_1",
		PlanID:          1,
		StripePlanID:    "price_abc",
		PaymentMethod:   enums.PaymentMethodCard,
		PaymentMethodID: "pm_123",
	}
}

func invoiceInput() CreateSubscriptionInput {
	return CreateSubscriptionInput{
		UserID:        uuid.New(),
		Email:         "rider@example.com",
		Name:          "Rider",
		CustomerID:    "cus_1",
		PlanID:        1,
		StripePlanID:  "price_abc",
		PaymentMethod: enums.PaymentMethodInvoice,
		BillingDetails: &BillingDetails{
			Name:       "Anna Andersson",
			Address:    "Stallvägen 12",
			City:       "Uppsala",
			PostalCode: "75323",
		},
	}
}

func recordInput() RecordInput {
	return RecordInput{
		UserID:               uuid.New(),
		PlanID:               1,
		StripePlanID:         "price_abc",
		PaymentMethod:        enums.PaymentMethodCard,
		StripeSubscriptionID: "sub_x",
	}
}

type stubSubscriptionStore struct {
	created   []*models.Subscription
	updated   []*models.Subscription
	createErr error
	byID      map[uuid.UUID]*models.Subscription
	byStripe  map[string]*models.Subscription
}

func (s *stubSubscriptionStore) Create(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	sub.ID = uuid.New()
	s.created = append(s.created, sub)
	return sub, nil
}

func (s *stubSubscriptionStore) Update(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	s.updated = append(s.updated, sub)
	return sub, nil
}

func (s *stubSubscriptionStore) FindByID(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	if sub, ok := s.byID[id]; ok {
		return sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubSubscriptionStore) FindByStripeSubscriptionID(_ context.Context, stripeID string) (*models.Subscription, error) {
	if sub, ok := s.byStripe[stripeID]; ok {
		return sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubSubscriptionStore) ListByUser(context.Context, uuid.UUID) ([]models.Subscription, error) {
	return nil, nil
}

type stubPlanStore struct{}

func (stubPlanStore) FindByID(_ context.Context, id int64) (*models.SubscriptionPlan, error) {
	if id != 1 {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.SubscriptionPlan{
		ID:           1,
		Name:         "Original Box",
		Status:       enums.PlanStatusActive,
		StripePlanID: "price_abc",
		Interval:     enums.BillingIntervalMonth,
		Price:        decimal.NewFromInt(299),
		CurrencyCode: "sek",
	}, nil
}

type stubStripeClient struct {
	created     *stripe.Subscription
	fetched     *stripe.Subscription
	listed      []*stripe.Subscription
	createCalls int
	lastCreate  *stripe.SubscriptionParams
	canceled    map[string]bool
	cancelErrs  map[string]error
}

func (s *stubStripeClient) Create(_ context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.createCalls++
	s.lastCreate = params
	if s.created == nil {
		return nil, fmt.Errorf("no subscription configured")
	}
	return s.created, nil
}

func (s *stubStripeClient) Cancel(_ context.Context, id string, _ *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	if err, ok := s.cancelErrs[id]; ok {
		return nil, err
	}
	if s.canceled == nil {
		s.canceled = map[string]bool{}
	}
	s.canceled[id] = true
	return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusCanceled}, nil
}

func (s *stubStripeClient) Get(_ context.Context, id string) (*stripe.Subscription, error) {
	if s.fetched == nil {
		return nil, fmt.Errorf("no subscription %s", id)
	}
	return s.fetched, nil
}

func (s *stubStripeClient) Update(_ context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	sub := &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusActive}
	if params != nil && params.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *params.CancelAtPeriodEnd
	}
	return sub, nil
}

func (s *stubStripeClient) ListByCustomer(context.Context, string) ([]*stripe.Subscription, error) {
	return s.listed, nil
}

func buildSubscriptionService(t *testing.T, store *stubSubscriptionStore, client *stubStripeClient) (Service, *stubSubscriptionStore) {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:         store,
		Plans:        stubPlanStore{},
		StripeClient: client,
		StripeConfig: config.StripeConfig{InvoiceDueDays: 14, Currency: "sek"},
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc, store
}
