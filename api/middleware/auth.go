package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/deeplux/deeplux-backend/api/responses"
	pkgauth "github.com/deeplux/deeplux-backend/pkg/auth"
	"github.com/deeplux/deeplux-backend/pkg/config"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID.String())
			ctx = context.WithValue(ctx, ctxEmail, claims.Email)
			if claims.ClinicID != nil {
				ctx = context.WithValue(ctx, ctxClinicID, claims.ClinicID.String())
			}

			if logg != nil {
				fields := map[string]any{"user_id": claims.UserID.String()}
				if claims.ClinicID != nil {
					fields["clinic_id"] = claims.ClinicID.String()
				}
				ctx = logg.WithFields(ctx, fields)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CronAuth guards the manual reconcile trigger with a shared bearer secret.
// When no secret is configured the endpoint is open, which is only acceptable
// in dev.
func CronAuth(secret string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				provided := strings.TrimSpace(r.Header.Get("Authorization"))
				if strings.HasPrefix(strings.ToLower(provided), "bearer ") {
					provided = strings.TrimSpace(provided[7:])
				}
				if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid cron secret"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
