package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"catalog-api/internal/service"

	"go.uber.org/zap"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	TokenKey  contextKey = "token"
)

// TokenVerifier checks a bearer token
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*service.Claims, error)
}

// AuthMiddleware verifies the bearer token and stores the caller's id and
// token in the request context
func AuthMiddleware(tokens TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := TokenFromRequest(r)
			if tokenString == "" {
				logger.Debug("Missing token")
				RespondWithError(w, http.StatusUnauthorized, "Token not provided")
				return
			}

			claims, err := tokens.Verify(r.Context(), tokenString)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrTokenExpired):
					logger.Debug("Token expired")
					RespondWithError(w, http.StatusUnauthorized, "Token has expired")
				case errors.Is(err, service.ErrTokenRevoked):
					logger.Debug("Token revoked")
					RespondWithError(w, http.StatusUnauthorized, "Token has been invalidated")
				case errors.Is(err, service.ErrInvalidToken):
					logger.Debug("Token validation failed", zap.Error(err))
					RespondWithError(w, http.StatusUnauthorized, "Token is invalid")
				default:
					logger.Error("Token verification failed", zap.Error(err))
					RespondWithError(w, http.StatusInternalServerError, "Sorry, something went wrong")
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, TokenKey, tokenString)

			logger.Debug("User authenticated", zap.Int64("user_id", claims.UserID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest reads "Authorization: Bearer <token>", falling back to the
// token query parameter
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// GetToken extracts the verified raw token from request context
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}
