package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
	"github.com/JannieHamberg/equibox-sub000/pkg/logger"
)

// Service resolves the Stripe customer backing a local user, creating the
// customer on first use. Resolution is idempotent: repeated calls for the
// same user yield the same customer id.
type Service interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (CustomerRef, error)
}

type userStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}

type service struct {
	users  userStore
	stripe StripeCustomerClient
	logger *logger.Logger
}

// ServiceParams bundles the dependencies required to build the resolver.
type ServiceParams struct {
	Users        userStore
	StripeClient StripeCustomerClient
	Logger       *logger.Logger
}

// NewService constructs a customer resolver with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client is required")
	}
	return &service{
		users:  params.Users,
		stripe: params.StripeClient,
		logger: params.Logger,
	}, nil
}

func (s *service) GetOrCreate(ctx context.Context, userID uuid.UUID) (CustomerRef, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CustomerRef{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "unknown user").WithRedirect("/login")
		}
		return CustomerRef{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}

	if cached := cachedCustomerID(user); cached != "" {
		return CustomerRef{ID: cached}, nil
	}

	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" {
		return CustomerRef{}, pkgerrors.New(pkgerrors.CodeValidation, "user has no email on file")
	}

	existing, err := s.stripe.FindByEmail(ctx, email)
	if err != nil {
		return CustomerRef{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup stripe customer")
	}
	if existing != nil && existing.ID != "" {
		return s.cache(ctx, user, existing.ID)
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(strings.TrimSpace(user.Name)),
	}
	params.AddMetadata("user_id", user.ID.String())

	created, err := s.stripe.Create(ctx, params)
	if err != nil {
		return CustomerRef{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}
	if created == nil || created.ID == "" {
		return CustomerRef{}, pkgerrors.New(pkgerrors.CodeDependency, "stripe returned no customer id")
	}
	return s.cache(ctx, user, created.ID)
}

// cache persists the resolved id so later checkouts skip the Stripe lookup.
// A cache write failure is logged but does not fail the resolution.
func (s *service) cache(ctx context.Context, user *models.User, customerID string) (CustomerRef, error) {
	if err := s.users.UpdateStripeCustomerID(ctx, user.ID, customerID); err != nil && s.logger != nil {
		lctx := s.logger.WithUserID(ctx, user.ID.String())
		s.logger.Error(lctx, "failed to cache stripe customer id", err)
	}
	return CustomerRef{ID: customerID}, nil
}

func cachedCustomerID(user *models.User) string {
	if user == nil || user.StripeCustomerID == nil {
		return ""
	}
	return strings.TrimSpace(*user.StripeCustomerID)
}
