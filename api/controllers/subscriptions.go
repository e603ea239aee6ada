package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JannieHamberg/equibox-sub000/api/responses"
	"github.com/JannieHamberg/equibox-sub000/api/validators"
	subssvc "github.com/JannieHamberg/equibox-sub000/internal/subscriptions"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
	"github.com/JannieHamberg/equibox-sub000/pkg/logger"
)

// Email, name and status arrive with the storefront payload but are never
// trusted: identity is token-derived and status is decided server-side.
type subscribeRequest struct {
	Email                string              `json:"email"`
	Name                 string              `json:"name"`
	Status               string              `json:"status"`
	PlanID               int64               `json:"plan_id" validate:"required"`
	StripePlanID         string              `json:"stripe_plan_id" validate:"required"`
	StripeSubscriptionID string              `json:"stripe_subscription_id" validate:"required"`
	PaymentMethod        enums.PaymentMethod `json:"payment_method" validate:"required"`
}

// Subscribe records a confirmed subscription locally. The Stripe-side state
// is re-verified before anything is written, so an unpaid or abandoned
// checkout can never produce a local row.
func Subscribe(svc subssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		identity := identityFromRequest(r)
		if identity.UserID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to continue").WithRedirect("/login"))
			return
		}

		var payload subscribeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := svc.Record(r.Context(), subssvc.RecordInput{
			UserID:               identity.UserID,
			PlanID:               payload.PlanID,
			StripePlanID:         payload.StripePlanID,
			PaymentMethod:        payload.PaymentMethod,
			StripeSubscriptionID: payload.StripeSubscriptionID,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]bool{"success": true})
	}
}

// ListUserSubscriptions returns the caller's subscriptions, newest first.
func ListUserSubscriptions(svc subssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		identity := identityFromRequest(r)
		if identity.UserID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to continue").WithRedirect("/login"))
			return
		}

		subs, err := svc.ListForUser(r.Context(), identity.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subs)
	}
}

// CancelUserSubscription flags the caller's subscription to end at the
// current period boundary.
func CancelUserSubscription(svc subssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		identity := identityFromRequest(r)
		if identity.UserID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to continue").WithRedirect("/login"))
			return
		}

		subID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription id"))
			return
		}

		sub, err := svc.CancelAtPeriodEnd(r.Context(), identity.UserID, subID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, sub)
	}
}
