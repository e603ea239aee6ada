package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
	"github.com/JannieHamberg/equibox-sub000/pkg/logger"
)

type subscriptionSyncer interface {
	SyncFromStripe(ctx context.Context, stripeSub *stripe.Subscription) error
}

type subscriptionFetcher interface {
	Get(ctx context.Context, id string) (*stripe.Subscription, error)
}

// eventGuard deduplicates webhook deliveries; Stripe retries aggressively.
type eventGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
}

// ServiceParams bundles the dependencies required to build the webhook service.
type ServiceParams struct {
	Subscriptions subscriptionSyncer
	StripeClient  subscriptionFetcher
	Guard         eventGuard
	EventTTL      time.Duration
	Logger        *logger.Logger
}

// Service applies Stripe webhook events to local subscription state.
type Service struct {
	subscriptions subscriptionSyncer
	stripe        subscriptionFetcher
	guard         eventGuard
	eventTTL      time.Duration
	logger        *logger.Logger
}

// NewService constructs a webhook service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription syncer required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event guard required")
	}
	ttl := params.EventTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{
		subscriptions: params.Subscriptions,
		stripe:        params.StripeClient,
		guard:         params.Guard,
		eventTTL:      ttl,
		logger:        params.Logger,
	}, nil
}

// HandleEvent routes a verified Stripe event. Events seen before are
// acknowledged without reprocessing; unhandled event types are acknowledged
// so Stripe stops retrying them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	fresh, err := s.markSeen(ctx, event.ID)
	if err != nil {
		return err
	}
	if !fresh {
		if s.logger != nil {
			s.logger.Info(ctx, fmt.Sprintf("skipping duplicate stripe event %s", event.ID))
		}
		return nil
	}

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		return s.subscriptions.SyncFromStripe(ctx, &stripeSub)
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		subscriptionID := event.GetObjectValue("subscription")
		if subscriptionID == "" {
			// One-off invoices carry no subscription; nothing to sync.
			return nil
		}
		stripeSub, err := s.stripe.Get(ctx, subscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
		}
		return s.subscriptions.SyncFromStripe(ctx, stripeSub)
	default:
		return nil
	}
}

// markSeen records the event id, reporting whether this is the first delivery.
func (s *Service) markSeen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id required")
	}
	key := s.guard.IdempotencyKey("stripe-event", eventID)
	fresh, err := s.guard.SetNX(ctx, key, "1", s.eventTTL)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stripe event")
	}
	return fresh, nil
}
