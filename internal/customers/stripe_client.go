package customers

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"

	pkgstripe "github.com/JannieHamberg/equibox-sub000/pkg/stripe"
)

// StripeCustomerClient exposes the subset of Stripe operations required by the resolver.
type StripeCustomerClient interface {
	FindByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	Create(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	Retrieve(ctx context.Context, id string) (*stripe.Customer, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the shared Stripe client so the resolver can be tested.
func NewStripeClient(api *pkgstripe.Client) StripeCustomerClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

// FindByEmail returns the most recent customer matching the email, or nil
// when Stripe knows no such customer.
func (w *stripeClientWrapper) FindByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	it := customer.List(params)
	for it.Next() {
		return it.Customer(), nil
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (w *stripeClientWrapper) Create(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	if params != nil {
		params.Context = ctx
	}
	return customer.New(params)
}

func (w *stripeClientWrapper) Retrieve(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return customer.Get(id, params)
}
