package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/JannieHamberg/equibox-sub000/pkg/config"
	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
	"github.com/JannieHamberg/equibox-sub000/pkg/logger"
)

// Service owns the subscription lifecycle on both sides of the processor
// boundary: opening subscriptions with Stripe, recording confirmed ones
// locally, and keeping the two in sync.
type Service interface {
	CreateStripeSubscription(ctx context.Context, input CreateSubscriptionInput) (*CreateSubscriptionResult, error)
	CleanupStale(ctx context.Context, customerID, targetPriceID string) (CleanupResult, error)
	Record(ctx context.Context, input RecordInput) (*SubscriptionDTO, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]SubscriptionDTO, error)
	CancelAtPeriodEnd(ctx context.Context, userID, subscriptionID uuid.UUID) (*SubscriptionDTO, error)
	SyncFromStripe(ctx context.Context, stripeSub *stripe.Subscription) error
}

type subscriptionStore interface {
	Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
}

type planStore interface {
	FindByID(ctx context.Context, id int64) (*models.SubscriptionPlan, error)
}

type service struct {
	repo      subscriptionStore
	plans     planStore
	stripe    StripeSubscriptionClient
	stripeCfg config.StripeConfig
	logger    *logger.Logger
}

// ServiceParams bundles the dependencies required to build a subscription service.
type ServiceParams struct {
	Repo         subscriptionStore
	Plans        planStore
	StripeClient StripeSubscriptionClient
	StripeConfig config.StripeConfig
	Logger       *logger.Logger
}

// NewService constructs a subscription service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan store is required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client is required")
	}
	return &service{
		repo:      params.Repo,
		plans:     params.Plans,
		stripe:    params.StripeClient,
		stripeCfg: params.StripeConfig,
		logger:    params.Logger,
	}, nil
}

func (s *service) CreateStripeSubscription(ctx context.Context, input CreateSubscriptionInput) (*CreateSubscriptionResult, error) {
	if strings.TrimSpace(input.CustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method must be card or invoice")
	}

	plan, err := s.loadPlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	priceID := plan.StripePlanID
	if input.StripePlanID != "" && input.StripePlanID != priceID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe plan id does not match the selected plan").
			WithDetails(map[string]string{"stripe_plan_id": input.StripePlanID})
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan is no longer available")
	}

	switch input.PaymentMethod {
	case enums.PaymentMethodInvoice:
		return s.createInvoiceSubscription(ctx, input, plan, priceID)
	default:
		return s.createCardSubscription(ctx, input, plan, priceID)
	}
}

// createInvoiceSubscription opens a send-invoice subscription. This is the
// one branch where local persistence may ride along in the same call;
// Stripe bills by email so there is no payment to confirm first.
func (s *service) createInvoiceSubscription(ctx context.Context, input CreateSubscriptionInput, plan *models.SubscriptionPlan, priceID string) (*CreateSubscriptionResult, error) {
	if err := input.BillingDetails.Validate(); err != nil {
		return nil, err
	}

	params := s.baseParams(input, priceID)
	params.CollectionMethod = stripe.String(string(stripe.SubscriptionCollectionMethodSendInvoice))
	params.DaysUntilDue = stripe.Int64(int64(s.stripeCfg.InvoiceDueDays))
	params.AddMetadata("billing_name", strings.TrimSpace(input.BillingDetails.Name))
	params.AddMetadata("billing_city", strings.TrimSpace(input.BillingDetails.City))
	if vat := strings.TrimSpace(input.BillingDetails.VATNumber); vat != "" {
		params.AddMetadata("vat_number", vat)
	}

	stripeSub, err := s.stripe.Create(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePayment, err, "create invoice subscription")
	}

	result := &CreateSubscriptionResult{
		StripeSubscriptionID: stripeSub.ID,
		Status:               statusOrDefault(stripeSub.Status),
	}

	if input.CreateInDB {
		recorded, err := s.persist(ctx, stripeSub, input.UserID, plan, enums.PaymentMethodInvoice)
		if err != nil {
			return nil, err
		}
		result.Subscription = recorded
	}
	return result, nil
}

// createCardSubscription opens an incomplete subscription and hands back the
// payment intent's client secret. Nothing is persisted locally here; the
// record lands only after the client confirms the payment.
func (s *service) createCardSubscription(ctx context.Context, input CreateSubscriptionInput, _ *models.SubscriptionPlan, priceID string) (*CreateSubscriptionResult, error) {
	if strings.TrimSpace(input.PaymentMethodID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method id is required for card payment")
	}

	params := s.baseParams(input, priceID)
	params.DefaultPaymentMethod = stripe.String(input.PaymentMethodID)
	params.PaymentBehavior = stripe.String("default_incomplete")
	params.AddExpand("latest_invoice.confirmation_secret")

	stripeSub, err := s.stripe.Create(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePayment, err, "create card subscription")
	}

	secret := clientSecretOf(stripeSub)
	if secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodePayment, "stripe returned no client secret for the payment intent")
	}

	return &CreateSubscriptionResult{
		StripeSubscriptionID: stripeSub.ID,
		ClientSecret:         secret,
		Status:               statusOrDefault(stripeSub.Status),
	}, nil
}

// CleanupStale cancels checkout debris a customer has accumulated: incomplete
// or unpaid subscriptions, plus past-due ones on the price about to be bought
// again. Per-subscription failures are counted and logged, never propagated.
func (s *service) CleanupStale(ctx context.Context, customerID, targetPriceID string) (CleanupResult, error) {
	if strings.TrimSpace(customerID) == "" {
		return CleanupResult{}, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	subs, err := s.stripe.ListByCustomer(ctx, customerID)
	if err != nil {
		return CleanupResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list customer subscriptions")
	}

	result := CleanupResult{Examined: len(subs)}
	for _, sub := range subs {
		if sub == nil || !shouldCancel(sub, targetPriceID) {
			continue
		}
		if _, err := s.stripe.Cancel(ctx, sub.ID, &stripe.SubscriptionCancelParams{}); err != nil {
			result.Failed++
			if s.logger != nil {
				lctx := s.logger.WithCustomerID(ctx, customerID)
				s.logger.Error(lctx, fmt.Sprintf("failed to cancel stale subscription %s", sub.ID), err)
			}
			continue
		}
		result.Canceled++
	}
	return result, nil
}

// Record persists a confirmed subscription locally. The processor is
// consulted first: a record is only written for a subscription Stripe
// reports as paid, so local state can never precede confirmed payment.
func (s *service) Record(ctx context.Context, input RecordInput) (*SubscriptionDTO, error) {
	if strings.TrimSpace(input.StripeSubscriptionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription id is required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method must be card or invoice")
	}

	plan, err := s.loadPlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}

	stripeSub, err := s.stripe.Get(ctx, input.StripeSubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify stripe subscription")
	}
	status, err := mapStripeStatus(stripeSub.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalid stripe subscription status")
	}
	if !IsActiveStatus(status) {
		return nil, pkgerrors.New(pkgerrors.CodePayment, "subscription payment has not been confirmed").
			WithDetails(map[string]string{"status": status.String()})
	}

	return s.persist(ctx, stripeSub, input.UserID, plan, input.PaymentMethod)
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]SubscriptionDTO, error) {
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscriptions")
	}
	return FromModels(subs), nil
}

func (s *service) CancelAtPeriodEnd(ctx context.Context, userID, subscriptionID uuid.UUID) (*SubscriptionDTO, error) {
	sub, err := s.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "subscription belongs to another user")
	}
	if sub.Status == enums.SubscriptionStatusCanceled {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "subscription is already canceled")
	}

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	stripeSub, err := s.stripe.Update(ctx, sub.StripeSubscriptionID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule cancellation")
	}

	if err := UpdateSubscriptionFromStripe(sub, stripeSub); err != nil {
		return nil, err
	}
	updated, err := s.repo.Update(ctx, sub)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save subscription")
	}
	return FromModel(updated), nil
}

// SyncFromStripe applies a processor-side lifecycle change to the local row.
// Events for subscriptions we never recorded locally are ignored; the record
// appears only through the checkout flow.
func (s *service) SyncFromStripe(ctx context.Context, stripeSub *stripe.Subscription) error {
	if stripeSub == nil || stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription is required")
	}

	local, err := s.repo.FindByStripeSubscriptionID(ctx, stripeSub.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if s.logger != nil {
				s.logger.Info(ctx, fmt.Sprintf("ignoring event for untracked subscription %s", stripeSub.ID))
			}
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}

	if err := UpdateSubscriptionFromStripe(local, stripeSub); err != nil {
		return err
	}
	if _, err := s.repo.Update(ctx, local); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save subscription")
	}
	return nil
}

func (s *service) persist(ctx context.Context, stripeSub *stripe.Subscription, userID uuid.UUID, plan *models.SubscriptionPlan, method enums.PaymentMethod) (*SubscriptionDTO, error) {
	record, err := BuildSubscriptionFromStripe(stripeSub, userID, plan.ID, plan.StripePlanID, method)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if pkgerrors.IsUniqueViolation(err) {
			return s.existingRecord(ctx, stripeSub.ID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist subscription")
	}
	return FromModel(created), nil
}

// existingRecord resolves a duplicate insert to the row that won the race,
// making Record idempotent per processor subscription id.
func (s *service) existingRecord(ctx context.Context, stripeSubscriptionID string) (*SubscriptionDTO, error) {
	existing, err := s.repo.FindByStripeSubscriptionID(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load existing subscription")
	}
	return FromModel(existing), nil
}

func (s *service) loadPlan(ctx context.Context, planID int64) (*models.SubscriptionPlan, error) {
	if planID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	return plan, nil
}

func (s *service) baseParams(input CreateSubscriptionInput, priceID string) *stripe.SubscriptionParams {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(input.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	params.AddMetadata("user_id", input.UserID.String())
	params.AddMetadata("plan_id", fmt.Sprintf("%d", input.PlanID))
	return params
}

func shouldCancel(sub *stripe.Subscription, targetPriceID string) bool {
	if IsStaleStripeStatus(sub.Status) {
		return true
	}
	if targetPriceID == "" || sub.Status != stripe.SubscriptionStatusPastDue {
		return false
	}
	if sub.Items == nil {
		return false
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID == targetPriceID {
			return true
		}
	}
	return false
}

func clientSecretOf(sub *stripe.Subscription) string {
	if sub == nil || sub.LatestInvoice == nil || sub.LatestInvoice.ConfirmationSecret == nil {
		return ""
	}
	return sub.LatestInvoice.ConfirmationSecret.ClientSecret
}

func statusOrDefault(raw stripe.SubscriptionStatus) enums.SubscriptionStatus {
	status, err := mapStripeStatus(raw)
	if err != nil {
		return enums.SubscriptionStatusIncomplete
	}
	return status
}
