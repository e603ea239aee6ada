package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/JannieHamberg/equibox-sub000/api/middleware"
	checkoutsvc "github.com/JannieHamberg/equibox-sub000/internal/checkout"
)

// identityFromRequest rebuilds the shopper identity from the verified token
// claims seeded by the auth middleware. A zero value means the surrounding
// handler should treat the caller as unauthenticated.
func identityFromRequest(r *http.Request) checkoutsvc.Identity {
	ctx := r.Context()

	userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
	if err != nil {
		return checkoutsvc.Identity{}
	}

	return checkoutsvc.Identity{
		UserID: userID,
		Email:  middleware.EmailFromContext(ctx),
		Name:   middleware.NameFromContext(ctx),
	}
}
