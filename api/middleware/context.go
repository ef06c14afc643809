package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxRole     contextKey = "actor_role"
	ctxAgencyID contextKey = "agency_id"
)

// Identity is the verified caller of a request.
type Identity struct {
	UserID   uuid.UUID
	Role     enums.ActorRole
	AgencyID uuid.UUID
}

// WithIdentity seeds ctx with the caller. Tests use it to skip token parsing.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxRole, id.Role)
	if id.AgencyID != uuid.Nil {
		ctx = context.WithValue(ctx, ctxAgencyID, id.AgencyID)
	}
	return ctx
}

// IdentityFromContext returns the caller, if Auth ran.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	userID, ok := ctx.Value(ctxUserID).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return Identity{}, false
	}
	id := Identity{UserID: userID}
	id.Role, _ = ctx.Value(ctxRole).(enums.ActorRole)
	id.AgencyID, _ = ctx.Value(ctxAgencyID).(uuid.UUID)
	return id, true
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}
