package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/api/middleware"
	"github.com/angelmondragon/visamarket-backend/api/responses"
	"github.com/angelmondragon/visamarket-backend/internal/applications"
	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

// callerIdentity writes a 401 when Auth has not seeded the request.
func callerIdentity(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return middleware.Identity{}, false
	}
	return id, true
}

// agencyIdentity additionally requires the agency claim.
func agencyIdentity(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (middleware.Identity, bool) {
	id, ok := callerIdentity(w, r, logg)
	if !ok {
		return id, false
	}
	if id.Role != enums.ActorRoleAgency || id.AgencyID == uuid.Nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "agency context missing"))
		return middleware.Identity{}, false
	}
	return id, true
}

func actorFor(id middleware.Identity) applications.Actor {
	switch id.Role {
	case enums.ActorRoleAdmin:
		return applications.AdminActor(id.UserID)
	case enums.ActorRoleAgency:
		return applications.AgencyActor(id.AgencyID, id.UserID)
	}
	return applications.UserActor(id.UserID)
}

func agencyRef(id middleware.Identity) assignment.AgencyRef {
	return assignment.AgencyRef{ID: id.AgencyID}
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger, name string) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, name+" service unavailable"))
}
