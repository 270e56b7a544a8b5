package middleware

import (
	"context"
	"errors"
	"net/http"

	"catalog-api/internal/domain"
	"catalog-api/internal/service"

	"go.uber.org/zap"
)

const currentUserKey contextKey = "current_user"

// UserLoader resolves a verified user id to its account
type UserLoader interface {
	CurrentUser(ctx context.Context, userID int64) (*domain.User, error)
}

// RequireUser loads the token's account for every request. A token whose
// account no longer exists is rejected. Must run after AuthMiddleware.
func RequireUser(users UserLoader, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserID(r.Context())
			if !ok {
				logger.Warn("User ID not found in context")
				RespondWithError(w, http.StatusUnauthorized, "Token not provided")
				return
			}

			user, err := users.CurrentUser(r.Context(), userID)
			if err != nil {
				if errors.Is(err, service.ErrInvalidToken) {
					logger.Warn("Token refers to a missing user", zap.Int64("user_id", userID))
					RespondWithError(w, http.StatusUnauthorized, "Token is invalid")
					return
				}
				logger.Error("Failed to load current user", zap.Int64("user_id", userID), zap.Error(err))
				RespondWithError(w, http.StatusInternalServerError, "Sorry, something went wrong")
				return
			}

			ctx := context.WithValue(r.Context(), currentUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCurrentUser returns the account loaded by RequireUser
func GetCurrentUser(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(currentUserKey).(*domain.User)
	return user, ok
}
