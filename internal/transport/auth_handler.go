package transport

import (
	"errors"
	"net/http"

	"catalog-api/internal/middleware"
	"catalog-api/internal/repository"
	"catalog-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=10"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the login response data
type LoginResponse struct {
	Token string `json:"token"`
}

// AuthHandler handles HTTP requests for accounts and sessions
type AuthHandler struct {
	authService service.AuthService
	logger      *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// RegisterRoutes registers the account routes. Register and login run behind
// the public middlewares, logout and user behind the protected ones.
func (h *AuthHandler) RegisterRoutes(r chi.Router, public, protected []func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(public...)
		r.Post("/api/register", h.Register)
		r.Post("/api/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(protected...)
		r.Get("/api/logout", h.Logout)
		r.Get("/api/user", h.CurrentUser)
	})
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.respondBindError(w, err, "Registration validation failed")
		return
	}

	user, err := h.authService.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			h.logger.Debug("Registration with taken email")
			errs := middleware.ValidationErrors{}
			errs.Add("email", "The email has already been taken.")
			middleware.RespondWithValidationErrors(w, errs)
			return
		}

		h.logger.Error("Registration failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, registration failed")
		return
	}

	h.logger.Info("User registered successfully", zap.Int64("user_id", user.ID))
	middleware.RespondSuccess(w, "Registration successful", user.Public())
}

// Login handles user authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.respondBindError(w, err, "Login validation failed")
		return
	}

	token, err := h.authService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.logger.Debug("Login failed", zap.Error(err))
			middleware.RespondWithError(w, http.StatusUnauthorized, "Invalid Email or Password")
			return
		}

		h.logger.Error("Login failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, something went wrong")
		return
	}

	middleware.RespondSuccess(w, "Login successful", LoginResponse{Token: token})
}

// Logout invalidates the token the request was authenticated with
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.GetToken(r.Context())
	if !ok {
		h.logger.Error("Token not found in context")
		middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, cannot be logged out")
		return
	}

	if err := h.authService.Invalidate(r.Context(), token); err != nil {
		h.logger.Error("Logout failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, cannot be logged out")
		return
	}

	userID, _ := middleware.GetUserID(r.Context())
	h.logger.Info("User logged out successfully", zap.Int64("user_id", userID))
	middleware.RespondSuccess(w, "Logged out successfully", nil)
}

// CurrentUser returns the authenticated account
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetCurrentUser(r.Context())
	if !ok {
		h.logger.Error("Current user not found in context")
		middleware.RespondWithError(w, http.StatusUnauthorized, "Token not provided")
		return
	}

	middleware.RespondSuccess(w, "", user.Public())
}

func (h *AuthHandler) respondBindError(w http.ResponseWriter, err error, logMessage string) {
	h.logger.Debug(logMessage, zap.Error(err))

	if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
		middleware.RespondWithValidationErrors(w, validationErrors)
		return
	}

	middleware.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
}
