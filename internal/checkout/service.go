package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/JannieHamberg/equibox-sub000/internal/customers"
	"github.com/JannieHamberg/equibox-sub000/internal/subscriptions"
	"github.com/JannieHamberg/equibox-sub000/pkg/config"
	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
	"github.com/JannieHamberg/equibox-sub000/pkg/logger"
	"github.com/JannieHamberg/equibox-sub000/pkg/metrics"
)

type customerResolver interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (customers.CustomerRef, error)
}

type subscriptionWorkflow interface {
	CreateStripeSubscription(ctx context.Context, input subscriptions.CreateSubscriptionInput) (*subscriptions.CreateSubscriptionResult, error)
	CleanupStale(ctx context.Context, customerID, targetPriceID string) (subscriptions.CleanupResult, error)
	Record(ctx context.Context, input subscriptions.RecordInput) (*subscriptions.SubscriptionDTO, error)
}

type planCatalog interface {
	FindByID(ctx context.Context, id int64) (*models.SubscriptionPlan, error)
}

type sessionPersister interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, id uuid.UUID) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// submitGuard is the slice of the redis client used for double-submit
// protection and client-secret caching.
type submitGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	SubmitGuardKey(customerID, planID string) string
	ClientSecretKey(customerID string, amountCents int64) string
}

// Service drives one checkout from bootstrap to a terminal state.
type Service interface {
	Start(ctx context.Context, identity Identity, input StartInput) (*SessionView, error)
	Submit(ctx context.Context, identity Identity, sessionID uuid.UUID, input SubmitInput) (*SessionView, error)
	ConfirmCard(ctx context.Context, identity Identity, sessionID uuid.UUID, input ConfirmCardInput) (*SessionView, error)
	GetSession(ctx context.Context, identity Identity, sessionID uuid.UUID) (*SessionView, error)
	CreateClientSecret(ctx context.Context, identity Identity, input ClientSecretInput) (*ClientSecretResult, error)
}

type service struct {
	customers     customerResolver
	subscriptions subscriptionWorkflow
	plans         planCatalog
	sessions      sessionPersister
	guard         submitGuard
	payments      StripePaymentIntentClient
	checkoutCfg   config.CheckoutConfig
	stripeCfg     config.StripeConfig
	metrics       *metrics.CheckoutMetrics
	logger        *logger.Logger
}

// ServiceParams bundles the dependencies required to build the checkout service.
type ServiceParams struct {
	Customers      customerResolver
	Subscriptions  subscriptionWorkflow
	Plans          planCatalog
	Sessions       sessionPersister
	Guard          submitGuard
	Payments       StripePaymentIntentClient
	CheckoutConfig config.CheckoutConfig
	StripeConfig   config.StripeConfig
	Metrics        *metrics.CheckoutMetrics
	Logger         *logger.Logger
}

// NewService constructs the checkout orchestrator with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Customers == nil {
		return nil, fmt.Errorf("customer resolver is required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription workflow is required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan catalog is required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("submit guard is required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment intent client is required")
	}
	return &service{
		customers:     params.Customers,
		subscriptions: params.Subscriptions,
		plans:         params.Plans,
		sessions:      params.Sessions,
		guard:         params.Guard,
		payments:      params.Payments,
		checkoutCfg:   params.CheckoutConfig,
		stripeCfg:     params.StripeConfig,
		metrics:       params.Metrics,
		logger:        params.Logger,
	}, nil
}

// Start runs the bootstrap, customer resolution, and cleanup steps. Identity
// and plan checks happen before anything leaves the process: a missing
// identity redirects to login, a missing plan back to the profile page, and
// neither issues a single outbound call.
func (s *service) Start(ctx context.Context, identity Identity, input StartInput) (*SessionView, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if input.PlanID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no plan selected").WithRedirect("/userprofile")
	}

	plan, err := s.plans.FindByID(ctx, input.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "selected plan does not exist").WithRedirect("/userprofile")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "selected plan is no longer available").WithRedirect("/userprofile")
	}

	session := NewSession(identity.UserID, identity.Email, identity.Name, plan.ID, plan.StripePlanID, plan.PriceCents())
	s.metrics.IncStarted()
	lctx := s.sessionContext(ctx, session)

	ref, err := s.customers.GetOrCreate(ctx, identity.UserID)
	if err != nil {
		session.Fail(err)
		s.saveBestEffort(lctx, session)
		s.observeTerminal(session)
		return nil, err
	}
	session.CustomerID = ref.ID
	if err := session.Advance(enums.CheckoutStateCustomerResolved); err != nil {
		return nil, err
	}

	// Cleanup is deliberately best-effort: a failure here is logged and the
	// checkout carries on.
	result, err := s.subscriptions.CleanupStale(ctx, session.CustomerID, session.StripePlanID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(lctx, "subscription cleanup failed", err)
		}
		s.metrics.IncCleanup("failed")
	} else {
		for i := 0; i < result.Canceled; i++ {
			s.metrics.IncCleanup("canceled")
		}
		for i := 0; i < result.Failed; i++ {
			s.metrics.IncCleanup("failed")
		}
	}
	if err := session.Advance(enums.CheckoutStateCleanupDone); err != nil {
		return nil, err
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return viewOf(session), nil
}

// Submit executes the payment step. A redis SETNX guard keyed on customer and
// plan admits at most one in-flight submission even across instances.
func (s *service) Submit(ctx context.Context, identity Identity, sessionID uuid.UUID, input SubmitInput) (*SessionView, error) {
	session, err := s.ownedSession(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != enums.CheckoutStateCleanupDone {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "checkout session is not ready for payment").
			WithDetails(map[string]string{"state": session.State.String()})
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method must be card or invoice")
	}

	guardKey := s.guard.SubmitGuardKey(session.CustomerID, fmt.Sprintf("%d", session.PlanID))
	acquired, err := s.guard.SetNX(ctx, guardKey, session.ID.String(), s.checkoutCfg.SubmitGuardTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire submit guard")
	}
	if !acquired {
		s.metrics.IncGuardHit()
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a checkout submission is already in progress")
	}
	defer s.releaseGuard(ctx, guardKey)

	createInput := subscriptions.CreateSubscriptionInput{
		UserID:          session.UserID,
		Email:           session.Email,
		Name:            session.Name,
		CustomerID:      session.CustomerID,
		PlanID:          session.PlanID,
		StripePlanID:    session.StripePlanID,
		PaymentMethod:   input.PaymentMethod,
		PaymentMethodID: input.PaymentMethodID,
		BillingDetails:  input.BillingDetails,
		CreateInDB:      input.PaymentMethod == enums.PaymentMethodInvoice,
	}

	result, err := s.subscriptions.CreateStripeSubscription(ctx, createInput)
	if err != nil {
		// Recoverable: the shopper fixes the input or retries. The session
		// keeps its state so the next submit starts from the same place.
		session.LastError = err.Error()
		s.saveBestEffort(ctx, session)
		return nil, err
	}

	session.PaymentMethod = input.PaymentMethod
	session.StripeSubscriptionID = result.StripeSubscriptionID
	session.LastError = ""

	switch input.PaymentMethod {
	case enums.PaymentMethodInvoice:
		if err := session.Advance(enums.CheckoutStateSucceeded); err != nil {
			return nil, err
		}
		s.observeTerminal(session)
	default:
		session.ClientSecret = result.ClientSecret
		if err := session.Advance(enums.CheckoutStateAwaitingCard); err != nil {
			return nil, err
		}
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return viewOf(session), nil
}

// ConfirmCard finalizes a card session. The local record is written only
// after Stripe reports the payment intent as succeeded; a declined card
// leaves the session retryable and writes nothing.
func (s *service) ConfirmCard(ctx context.Context, identity Identity, sessionID uuid.UUID, input ConfirmCardInput) (*SessionView, error) {
	session, err := s.ownedSession(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != enums.CheckoutStateAwaitingCard {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "checkout session has no pending card payment").
			WithDetails(map[string]string{"state": session.State.String()})
	}
	if strings.TrimSpace(input.PaymentIntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	// The client secret is "<intent id>_secret_<nonce>", so the session pins
	// the one intent it may be confirmed with. A mismatch is a bad request,
	// not a terminal failure: the session stays retryable.
	if session.ClientSecret != "" && !strings.HasPrefix(session.ClientSecret, input.PaymentIntentID+"_secret_") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent does not belong to this checkout session")
	}

	intent, err := s.payments.Get(ctx, input.PaymentIntentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		payErr := pkgerrors.New(pkgerrors.CodePayment, "card payment has not succeeded").
			WithDetails(map[string]string{"status": string(intent.Status)})
		session.LastError = payErr.Error()
		s.saveBestEffort(ctx, session)
		return nil, payErr
	}

	if err := session.Advance(enums.CheckoutStateCardConfirmed); err != nil {
		return nil, err
	}

	if _, err := s.subscriptions.Record(ctx, subscriptions.RecordInput{
		UserID:               session.UserID,
		PlanID:               session.PlanID,
		StripePlanID:         session.StripePlanID,
		PaymentMethod:        enums.PaymentMethodCard,
		StripeSubscriptionID: session.StripeSubscriptionID,
	}); err != nil {
		session.Fail(err)
		s.saveBestEffort(ctx, session)
		s.observeTerminal(session)
		return nil, err
	}

	if err := session.Advance(enums.CheckoutStateSucceeded); err != nil {
		return nil, err
	}
	s.observeTerminal(session)

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return viewOf(session), nil
}

func (s *service) GetSession(ctx context.Context, identity Identity, sessionID uuid.UUID) (*SessionView, error) {
	session, err := s.ownedSession(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	return viewOf(session), nil
}

// CreateClientSecret hands out a payment intent secret for the given
// customer and amount, reusing a cached one unless the caller forces a
// fresh intent.
func (s *service) CreateClientSecret(ctx context.Context, identity Identity, input ClientSecretInput) (*ClientSecretResult, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.CustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	cacheKey := s.guard.ClientSecretKey(input.CustomerID, input.AmountCents)
	if !input.ForceNew {
		cached, err := s.guard.Get(ctx, cacheKey)
		if err == nil && cached != "" {
			return &ClientSecretResult{ClientSecret: cached}, nil
		}
		if err != nil && !errors.Is(err, goredis.Nil) && s.logger != nil {
			s.logger.Error(ctx, "client secret cache read failed", err)
		}
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(input.AmountCents),
		Currency: stripe.String(s.stripeCfg.Currency),
		Customer: stripe.String(input.CustomerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	intent, err := s.payments.Create(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePayment, err, "create payment intent")
	}
	if intent.ClientSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodePayment, "stripe returned no client secret")
	}

	if err := s.guard.Set(ctx, cacheKey, intent.ClientSecret, s.checkoutCfg.ClientSecretTTL); err != nil && s.logger != nil {
		s.logger.Error(ctx, "client secret cache write failed", err)
	}
	return &ClientSecretResult{ClientSecret: intent.ClientSecret}, nil
}

func (s *service) ownedSession(ctx context.Context, identity Identity, sessionID uuid.UUID) (*Session, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	session, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != identity.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "checkout session belongs to another user")
	}
	return session, nil
}

func (s *service) releaseGuard(ctx context.Context, key string) {
	if err := s.guard.Del(ctx, key); err != nil && s.logger != nil {
		s.logger.Error(ctx, "failed to release submit guard", err)
	}
}

func (s *service) saveBestEffort(ctx context.Context, session *Session) {
	if err := s.sessions.Save(ctx, session); err != nil && s.logger != nil {
		s.logger.Error(ctx, "failed to save checkout session", err)
	}
}

func (s *service) observeTerminal(session *Session) {
	method := session.PaymentMethod.String()
	switch session.State {
	case enums.CheckoutStateSucceeded:
		s.metrics.IncCompleted(method)
	case enums.CheckoutStateFailed:
		s.metrics.IncFailed(method)
	}
	s.metrics.ObserveDuration(method, session.Age())
}

func (s *service) sessionContext(ctx context.Context, session *Session) context.Context {
	if s.logger == nil {
		return ctx
	}
	lctx := s.logger.WithCheckoutSessionID(ctx, session.ID.String())
	return s.logger.WithUserID(lctx, session.UserID.String())
}

func validateIdentity(identity Identity) error {
	if identity.UserID == uuid.Nil ||
		strings.TrimSpace(identity.Email) == "" ||
		strings.TrimSpace(identity.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to continue").WithRedirect("/login")
	}
	return nil
}
