package middleware

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Response is the envelope every API response is wrapped in
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// RespondWithError sends a failure envelope carrying a message
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithJSON(w, statusCode, Response{
		Success: false,
		Message: message,
	})
}

// RespondWithValidationErrors sends a 400 envelope with the field errors under "error"
func RespondWithValidationErrors(w http.ResponseWriter, errors ValidationErrors) {
	RespondWithJSON(w, http.StatusBadRequest, Response{
		Success: false,
		Error:   errors,
	})
}

// RespondSuccess sends a 200 envelope with an optional message and data
func RespondSuccess(w http.ResponseWriter, message string, data interface{}) {
	RespondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorHandlingMiddleware catches panics and converts them to 500 errors
func ErrorHandlingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
						zap.Stack("stack"),
					)

					RespondWithError(w, http.StatusInternalServerError, "Sorry, something went wrong")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}
