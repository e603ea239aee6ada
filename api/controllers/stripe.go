package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/JannieHamberg/equibox-sub000/api/responses"
	"github.com/JannieHamberg/equibox-sub000/api/validators"
	checkoutsvc "github.com/JannieHamberg/equibox-sub000/internal/checkout"
	customerssvc "github.com/JannieHamberg/equibox-sub000/internal/customers"
	planssvc "github.com/JannieHamberg/equibox-sub000/internal/plans"
	subssvc "github.com/JannieHamberg/equibox-sub000/internal/subscriptions"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
	"github.com/JannieHamberg/equibox-sub000/pkg/logger"
)

// GetOrCreateCustomer resolves the caller to a Stripe customer, creating one
// when no match exists. The identity comes from the verified token; the body
// is accepted for storefront compatibility but never trusted.
func GetOrCreateCustomer(svc customerssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}

		identity := identityFromRequest(r)
		if identity.UserID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to continue").WithRedirect("/login"))
			return
		}

		ref, err := svc.GetOrCreate(r.Context(), identity.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"stripe_customer_id": ref.ID})
	}
}

type cleanupRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	PlanID     int64  `json:"plan_id" validate:"required"`
}

// CleanupSubscriptions cancels stale subscription debris for a customer ahead
// of a new purchase. The catalog plan id is resolved to its Stripe price so
// the past-due match works on what Stripe actually stores. Failures are
// reported, never escalated.
func CleanupSubscriptions(svc subssvc.Service, plans planssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || plans == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		var payload cleanupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		plan, err := plans.Get(r.Context(), payload.PlanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CleanupStale(r.Context(), payload.CustomerID, plan.StripePlanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// CreateClientSecret issues (or reuses) a payment-intent client secret for
// the storefront's card form.
func CreateClientSecret(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutsvc.ClientSecretInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateClientSecret(r.Context(), identityFromRequest(r), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

type createSubscriptionRequest struct {
	Email           string                  `json:"email"`
	Name            string                  `json:"name"`
	StripePlanID    string                  `json:"stripe_plan_id" validate:"required"`
	PaymentMethod   enums.PaymentMethod     `json:"payment_method" validate:"required"`
	PaymentMethodID string                  `json:"payment_method_id"`
	CustomerID      string                  `json:"customer_id" validate:"required"`
	BillingDetails  *subssvc.BillingDetails `json:"billing_details"`
	CreateInDB      bool                    `json:"create_in_db"`
	PlanID          int64                   `json:"plan_id" validate:"required"`
}

type createSubscriptionResponse struct {
	StripeSubscriptionID string `json:"stripe_subscription_id,omitempty"`
	ClientSecret         string `json:"client_secret,omitempty"`
}

// CreateStripeSubscription creates the Stripe-side subscription directly:
// the invoice branch completes in one call, the card branch hands back a
// client secret for on-page confirmation.
func CreateStripeSubscription(svc subssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		identity := identityFromRequest(r)

		var payload createSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateStripeSubscription(r.Context(), subssvc.CreateSubscriptionInput{
			UserID:          identity.UserID,
			Email:           identity.Email,
			Name:            identity.Name,
			CustomerID:      payload.CustomerID,
			PlanID:          payload.PlanID,
			StripePlanID:    payload.StripePlanID,
			PaymentMethod:   payload.PaymentMethod,
			PaymentMethodID: payload.PaymentMethodID,
			BillingDetails:  payload.BillingDetails,
			CreateInDB:      payload.CreateInDB,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createSubscriptionResponse{
			StripeSubscriptionID: result.StripeSubscriptionID,
			ClientSecret:         result.ClientSecret,
		})
	}
}
