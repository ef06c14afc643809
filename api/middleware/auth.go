package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/api/responses"
	pkgAuth "github.com/angelmondragon/visamarket-backend/pkg/auth"
	"github.com/angelmondragon/visamarket-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the caller.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get("Authorization"))
			if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			id := Identity{UserID: claims.UserID, Role: claims.Role}
			if claims.AgencyID != nil {
				id.AgencyID = *claims.AgencyID
			}
			ctx := WithIdentity(r.Context(), id)
			if logg != nil {
				ctx = logg.WithUserID(ctx, id.UserID.String())
				ctx = logg.WithActorRole(ctx, string(id.Role))
				if id.AgencyID != uuid.Nil {
					ctx = logg.WithAgencyID(ctx, id.AgencyID.String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
