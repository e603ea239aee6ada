package checkout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/JannieHamberg/equibox-sub000/internal/customers"
	"github.com/JannieHamberg/equibox-sub000/internal/subscriptions"
	"github.com/JannieHamberg/equibox-sub000/pkg/config"
	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
)

func TestStartMissingIdentityRedirectsWithoutCalls(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)

	cases := []Identity{
		{},
		{UserID: uuid.New(), Email: "", Name: "Rider"},
		{UserID: uuid.New(), Email: "rider@example.com", Name: ""},
	}
	for _, identity := range cases {
		_, err := svc.Start(context.Background(), identity, StartInput{PlanID: 1})
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
			t.Fatalf("identity %+v: expected unauthorized, got %v", identity, err)
		}
		if typed.Redirect() != "/login" {
			t.Fatalf("identity %+v: expected /login redirect, got %q", identity, typed.Redirect())
		}
	}
	if deps.resolver.calls != 0 || deps.workflow.createCalls != 0 || deps.workflow.cleanupCalls != 0 {
		t.Fatalf("missing identity must not trigger outbound calls")
	}
}

func TestStartMissingPlanRedirectsWithoutCalls(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)

	for _, planID := range []int64{0, 99} {
		_, err := svc.Start(context.Background(), testIdentity(), StartInput{PlanID: planID})
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("plan %d: expected validation error, got %v", planID, err)
		}
		if typed.Redirect() != "/userprofile" {
			t.Fatalf("plan %d: expected /userprofile redirect, got %q", planID, typed.Redirect())
		}
	}
	if deps.resolver.calls != 0 || deps.workflow.cleanupCalls != 0 {
		t.Fatalf("missing plan must not trigger outbound calls")
	}
}

func TestStartResolvesCustomerAndRunsCleanup(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)

	view, err := svc.Start(context.Background(), testIdentity(), StartInput{PlanID: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if view.State != enums.CheckoutStateCleanupDone {
		t.Fatalf("expected cleanup_done state, got %s", view.State)
	}
	if view.CustomerID != "cus_1" {
		t.Fatalf("expected resolved customer, got %q", view.CustomerID)
	}
	if deps.workflow.cleanupCalls != 1 {
		t.Fatalf("expected one cleanup call, got %d", deps.workflow.cleanupCalls)
	}
	if deps.workflow.lastCleanupPrice != "price_abc" {
		t.Fatalf("cleanup should target the selected price, got %q", deps.workflow.lastCleanupPrice)
	}
}

func TestStartCleanupFailureDoesNotBlockCheckout(t *testing.T) {
	deps := newTestDeps()
	deps.workflow.cleanupErr = pkgerrors.New(pkgerrors.CodeDependency, "stripe unavailable")
	svc := buildCheckoutService(t, deps)

	view, err := svc.Start(context.Background(), testIdentity(), StartInput{PlanID: 1})
	if err != nil {
		t.Fatalf("cleanup failure must not block checkout: %v", err)
	}
	if view.State != enums.CheckoutStateCleanupDone {
		t.Fatalf("expected cleanup_done state, got %s", view.State)
	}
}

func TestSubmitDoubleSubmissionIsRejected(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)
	identity := testIdentity()

	view, err := svc.Start(context.Background(), identity, StartInput{PlanID: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deps.guard.inFlight = true
	_, err = svc.Submit(context.Background(), identity, view.ID, SubmitInput{
		PaymentMethod:   enums.PaymentMethodCard,
		PaymentMethodID: "pm_1",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict while a submit is in flight, got %v", err)
	}
	if deps.workflow.createCalls != 0 {
		t.Fatalf("guarded submit must not create a subscription, got %d calls", deps.workflow.createCalls)
	}
}

func TestSubmitCardReturnsClientSecret(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)
	identity := testIdentity()

	view, err := svc.Start(context.Background(), identity, StartInput{PlanID: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	view, err = svc.Submit(context.Background(), identity, view.ID, SubmitInput{
		PaymentMethod:   enums.PaymentMethodCard,
		PaymentMethodID: "pm_1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.State != enums.CheckoutStateAwaitingCard {
		t.Fatalf("expected awaiting_card state, got %s", view.State)
	}
	if view.ClientSecret != "pi_1_secret_abc" {
		t.Fatalf("expected client secret, got %q", view.ClientSecret)
	}
	if !deps.guard.released {
		t.Fatalf("expected submit guard to be released")
	}
}

func TestSubmitInvoiceCompletesSession(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)
	identity := testIdentity()

	view, err := svc.Start(context.Background(), identity, StartInput{PlanID: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	view, err = svc.Submit(context.Background(), identity, view.ID, SubmitInput{
		PaymentMethod: enums.PaymentMethodInvoice,
		BillingDetails: &subscriptions.BillingDetails{
			Name:       "Anna Andersson",
			Address:    "Stallvägen 12",
			City:       "Uppsala",
			PostalCode: "75323",
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.State != enums.CheckoutStateSucceeded {
		t.Fatalf("expected succeeded state, got %s", view.State)
	}
	if !deps.workflow.lastCreate.CreateInDB {
		t.Fatalf("invoice branch must request local persistence in the same call")
	}
}

func TestSubmitFailureLeavesSessionRetryable(t *testing.T) {
	deps := newTestDeps()
	deps.workflow.createErr = pkgerrors.New(pkgerrors.CodePayment, "card declined")
	svc := buildCheckoutService(t, deps)
	identity := testIdentity()

	view, err := svc.Start(context.Background(), identity, StartInput{PlanID: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = svc.Submit(context.Background(), identity, view.ID, SubmitInput{
		PaymentMethod:   enums.PaymentMethodCard,
		PaymentMethodID: "pm_1",
	})
	if pkgerrors.As(err) == nil {
		t.Fatalf("expected submit error, got %v", err)
	}

	// The session stays in cleanup_done so the same submit can be retried.
	deps.workflow.createErr = nil
	retried, err := svc.Submit(context.Background(), identity, view.ID, SubmitInput{
		PaymentMethod:   enums.PaymentMethodCard,
		PaymentMethodID: "pm_1",
	})
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if retried.State != enums.CheckoutStateAwaitingCard {
		t.Fatalf("expected awaiting_card after retry, got %s", retried.State)
	}
}

func TestConfirmCardRequiresSucceededIntent(t *testing.T) {
	deps := newTestDeps()
	deps.payments.intent = &stripe.PaymentIntent{
		ID:     "pi_1",
		Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
	}
	svc := buildCheckoutService(t, deps)
	identity := testIdentity()

	view := startAndSubmitCard(t, svc, identity)

	_, err := svc.ConfirmCard(context.Background(), identity, view.ID, ConfirmCardInput{PaymentIntentID: "pi_1"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodePayment {
		t.Fatalf("expected payment error for unconfirmed intent, got %v", err)
	}
	if deps.workflow.recordCalls != 0 {
		t.Fatalf("local persistence must never happen before the intent succeeds")
	}
}

func TestConfirmCardPersistsAndCompletes(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)
	identity := testIdentity()

	view := startAndSubmitCard(t, svc, identity)

	view, err := svc.ConfirmCard(context.Background(), identity, view.ID, ConfirmCardInput{PaymentIntentID: "pi_1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if view.State != enums.CheckoutStateSucceeded {
		t.Fatalf("expected succeeded state, got %s", view.State)
	}
	if deps.workflow.recordCalls != 1 {
		t.Fatalf("expected exactly one local record, got %d", deps.workflow.recordCalls)
	}
	if deps.workflow.lastRecord.StripeSubscriptionID != "sub_1" {
		t.Fatalf("record should reference the processor subscription, got %+v", deps.workflow.lastRecord)
	}
}

func TestConfirmCardRejectsUnrelatedIntent(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)
	identity := testIdentity()

	view := startAndSubmitCard(t, svc, identity)

	// The session stored the secret for pi_1, so another succeeded intent
	// must not complete it.
	_, err := svc.ConfirmCard(context.Background(), identity, view.ID, ConfirmCardInput{PaymentIntentID: "pi_2"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for mismatched intent, got %v", err)
	}
	if deps.payments.getCalls != 0 {
		t.Fatalf("mismatched intent must be rejected before touching the processor")
	}
	if deps.workflow.recordCalls != 0 {
		t.Fatalf("mismatched intent must never persist a subscription")
	}

	// The rejection is not terminal: the right intent still completes.
	done, err := svc.ConfirmCard(context.Background(), identity, view.ID, ConfirmCardInput{PaymentIntentID: "pi_1"})
	if err != nil {
		t.Fatalf("confirm with owning intent: %v", err)
	}
	if done.State != enums.CheckoutStateSucceeded {
		t.Fatalf("expected succeeded state, got %s", done.State)
	}
}

func TestConfirmCardRejectsForeignSession(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)
	identity := testIdentity()

	view := startAndSubmitCard(t, svc, identity)

	other := Identity{UserID: uuid.New(), Email: "other@example.com", Name: "Other"}
	_, err := svc.ConfirmCard(context.Background(), other, view.ID, ConfirmCardInput{PaymentIntentID: "pi_1"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestCreateClientSecretCachesPerCustomerAndAmount(t *testing.T) {
	deps := newTestDeps()
	svc := buildCheckoutService(t, deps)
	identity := testIdentity()

	input := ClientSecretInput{AmountCents: 29900, CustomerID: "cus_1"}
	first, err := svc.CreateClientSecret(context.Background(), identity, input)
	if err != nil {
		t.Fatalf("first secret: %v", err)
	}
	second, err := svc.CreateClientSecret(context.Background(), identity, input)
	if err != nil {
		t.Fatalf("second secret: %v", err)
	}
	if first.ClientSecret != second.ClientSecret {
		t.Fatalf("expected cached secret to be reused")
	}
	if deps.payments.createCalls != 1 {
		t.Fatalf("expected one intent creation, got %d", deps.payments.createCalls)
	}

	input.ForceNew = true
	if _, err := svc.CreateClientSecret(context.Background(), identity, input); err != nil {
		t.Fatalf("forced secret: %v", err)
	}
	if deps.payments.createCalls != 2 {
		t.Fatalf("force_new must bypass the cache, got %d creations", deps.payments.createCalls)
	}
}

func TestSessionStateMachineRejectsSkippedSteps(t *testing.T) {
	session := NewSession(uuid.New(), "rider@example.com", "Rider", 1, "price_abc", 29900)

	if err := session.Advance(enums.CheckoutStateSucceeded); err == nil {
		t.Fatalf("started session must not jump straight to succeeded")
	}
	if err := session.Advance(enums.CheckoutStateCustomerResolved); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := session.Advance(enums.CheckoutStateCardConfirmed); err == nil {
		t.Fatalf("customer_resolved must not jump to card_confirmed")
	}

	session.Fail(fmt.Errorf("boom"))
	if err := session.Advance(enums.CheckoutStateCleanupDone); err == nil {
		t.Fatalf("terminal session must reject further transitions")
	}
}

func startAndSubmitCard(t *testing.T, svc Service, identity Identity) *SessionView {
	t.Helper()
	view, err := svc.Start(context.Background(), identity, StartInput{PlanID: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	view, err = svc.Submit(context.Background(), identity, view.ID, SubmitInput{
		PaymentMethod:   enums.PaymentMethodCard,
		PaymentMethodID: "pm_1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return view
}

func testIdentity() Identity {
	return Identity{UserID: uuid.New(), Email: "rider@example.com", Name: "Rider"}
}

type testDeps struct {
	resolver *stubResolver
	workflow *stubWorkflow
	guard    *stubGuard
	payments *stubPayments
	sessions *memorySessionStore
}

func newTestDeps() *testDeps {
	return &testDeps{
		resolver: &stubResolver{ref: customers.CustomerRef{ID: "cus_1"}},
		workflow: &stubWorkflow{},
		guard:    &stubGuard{},
		payments: &stubPayments{
			intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded},
		},
		sessions: &memorySessionStore{sessions: map[uuid.UUID]*Session{}},
	}
}

func buildCheckoutService(t *testing.T, deps *testDeps) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Customers:     deps.resolver,
		Subscriptions: deps.workflow,
		Plans:         stubCatalog{},
		Sessions:      deps.sessions,
		Guard:         deps.guard,
		Payments:      deps.payments,
		CheckoutConfig: config.CheckoutConfig{
			SessionTTL:      30 * time.Minute,
			SubmitGuardTTL:  2 * time.Minute,
			ClientSecretTTL: 15 * time.Minute,
		},
		StripeConfig: config.StripeConfig{Currency: "sek"},
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}

type stubResolver struct {
	ref   customers.CustomerRef
	err   error
	calls int
}

func (s *stubResolver) GetOrCreate(context.Context, uuid.UUID) (customers.CustomerRef, error) {
	s.calls++
	if s.err != nil {
		return customers.CustomerRef{}, s.err
	}
	return s.ref, nil
}

type stubWorkflow struct {
	createCalls      int
	cleanupCalls     int
	recordCalls      int
	createErr        error
	cleanupErr       error
	lastCreate       subscriptions.CreateSubscriptionInput
	lastRecord       subscriptions.RecordInput
	lastCleanupPrice string
}

func (s *stubWorkflow) CreateStripeSubscription(_ context.Context, input subscriptions.CreateSubscriptionInput) (*subscriptions.CreateSubscriptionResult, error) {
	s.createCalls++
	s.lastCreate = input
	if s.createErr != nil {
		return nil, s.createErr
	}
	result := &subscriptions.CreateSubscriptionResult{
		StripeSubscriptionID: "sub_1",
		Status:               enums.SubscriptionStatusIncomplete,
	}
	if input.PaymentMethod == enums.PaymentMethodCard {
		result.ClientSecret = "pi_1_secret_abc"
	} else {
		result.Status = enums.SubscriptionStatusActive
	}
	return result, nil
}

func (s *stubWorkflow) CleanupStale(_ context.Context, _ string, targetPriceID string) (subscriptions.CleanupResult, error) {
	s.cleanupCalls++
	s.lastCleanupPrice = targetPriceID
	if s.cleanupErr != nil {
		return subscriptions.CleanupResult{}, s.cleanupErr
	}
	return subscriptions.CleanupResult{Examined: 1, Canceled: 1}, nil
}

func (s *stubWorkflow) Record(_ context.Context, input subscriptions.RecordInput) (*subscriptions.SubscriptionDTO, error) {
	s.recordCalls++
	s.lastRecord = input
	return &subscriptions.SubscriptionDTO{
		ID:                   uuid.New(),
		StripeSubscriptionID: input.StripeSubscriptionID,
		Status:               enums.SubscriptionStatusActive,
	}, nil
}

type stubCatalog struct{}

func (stubCatalog) FindByID(_ context.Context, id int64) (*models.SubscriptionPlan, error) {
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

type memorySessionStore struct {
	sessions map[uuid.UUID]*Session
}

func (m *memorySessionStore) Save(_ context.Context, session *Session) error {
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memorySessionStore) Load(_ context.Context, id uuid.UUID) (*Session, error) {
	session, ok := m.sessions[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found or expired")
	}
	copied := *session
	return &copied, nil
}

func (m *memorySessionStore) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.sessions, id)
	return nil
}

type stubGuard struct {
	inFlight bool
	released bool
	values   map[string]string
}

func (s *stubGuard) SetNX(_ context.Context, _ string, _ any, _ time.Duration) (bool, error) {
	return !s.inFlight, nil
}

func (s *stubGuard) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *stubGuard) Get(_ context.Context, key string) (string, error) {
	if value, ok := s.values[key]; ok {
		return value, nil
	}
	return "", nil
}

func (s *stubGuard) Del(_ context.Context, _ ...string) error {
	s.released = true
	return nil
}

func (s *stubGuard) SubmitGuardKey(customerID, planID string) string {
	return "eqx:guard:submit:" + customerID + ":" + planID
}

func (s *stubGuard) ClientSecretKey(customerID string, amountCents int64) string {
	return fmt.Sprintf("eqx:secret:%s:%d", customerID, amountCents)
}

type stubPayments struct {
	intent      *stripe.PaymentIntent
	createCalls int
	getCalls    int
}

func (s *stubPayments) Create(_ context.Context, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.createCalls++
	return &stripe.PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", s.createCalls),
		ClientSecret: fmt.Sprintf("secret_%d", s.createCalls),
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}, nil
}

func (s *stubPayments) Get(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	s.getCalls++
	if s.intent == nil {
		return nil, fmt.Errorf("no intent %s", id)
	}
	return s.intent, nil
}
