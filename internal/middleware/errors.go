package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorResponder writes JSON error responses without leaking backend details
type ErrorResponder struct {
	logger *zap.Logger
}

// NewErrorResponder creates a new ErrorResponder
func NewErrorResponder(logger *zap.Logger) *ErrorResponder {
	return &ErrorResponder{logger: logger}
}

// Respond logs err with request details and sends a sanitized message with the given status
func (e *ErrorResponder) Respond(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	e.logger.Error("Request error",
		zap.Error(err),
		zap.Int("status", statusCode),
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
		zap.String("requestId", middleware.GetReqID(r.Context())),
		zap.String("remoteAddr", r.RemoteAddr))

	WriteError(w, statusCode, sanitizeErrorMessage(err.Error(), statusCode))
}

// WriteError sends {"error": message, "status": statusCode}
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  message,
		"status": statusCode,
	})
}

// sanitizeErrorMessage hides connection strings, queries and paths from clients
func sanitizeErrorMessage(message string, statusCode int) string {
	sensitive := []string{
		"password", "secret", "token", "credential",
		"database", "sql", "postgres", "query", "connection",
		"dial", "broker", "mqtt",
	}

	lower := strings.ToLower(message)
	for _, pattern := range sensitive {
		if strings.Contains(lower, pattern) {
			return genericErrorMessage(statusCode)
		}
	}

	if idx := strings.Index(message, "\n"); idx != -1 {
		message = message[:idx]
	}
	if strings.ContainsAny(message, "/\\") {
		return genericErrorMessage(statusCode)
	}
	if len(message) > 100 {
		message = message[:100] + "..."
	}
	if len(strings.TrimSpace(message)) < 5 {
		return genericErrorMessage(statusCode)
	}

	return message
}

func genericErrorMessage(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Invalid request."
	case http.StatusNotFound:
		return "The requested resource was not found."
	case http.StatusConflict:
		return "The request conflicts with the current state."
	case http.StatusTooManyRequests:
		return "Too many requests. Please wait a moment and try again."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable."
	default:
		return "An internal server error occurred."
	}
}
