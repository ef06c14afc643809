package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// AccessTokenPayload is what the identity service puts into a token.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	Role     enums.ActorRole
	AgencyID *uuid.UUID
	JTI      string
}

// AccessTokenClaims are the typed JWT claims the API trusts.
type AccessTokenClaims struct {
	UserID   uuid.UUID       `json:"user_id"`
	Role     enums.ActorRole `json:"role"`
	AgencyID *uuid.UUID      `json:"agency_id,omitempty"`
	jwt.RegisteredClaims
}
