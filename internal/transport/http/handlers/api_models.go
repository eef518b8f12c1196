package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mermac/goblincave-auth/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterRequest carries the registration form fields. DeviceID scopes the
// pending username stash so the choice survives until the account verifies.
type RegisterRequest struct {
	DeviceID        string `json:"device_id" binding:"required"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// LoginRequest carries the login form fields.
type LoginRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResendRequest asks for a fresh verification email.
type ResendRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Email    string `json:"email"`
}

// CallbackRequest carries the full redirect URL the verification link landed on.
type CallbackRequest struct {
	DeviceID    string `json:"device_id" binding:"required"`
	RedirectURL string `json:"redirect_url" binding:"required"`
}

// LogoutRequest revokes the provider session.
type LogoutRequest struct {
	DeviceID    string `json:"device_id" binding:"required"`
	AccessToken string `json:"access_token"`
}

// FlowRequest changes the device's flow screen.
type FlowRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

// AppUserResponse is the authenticated identity returned after login or callback.
type AppUserResponse struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

func newAppUserResponse(user domain.AppUser) AppUserResponse {
	return AppUserResponse{
		Email:    user.Email,
		Username: user.Username,
	}
}

// CallbackResponse pairs the authenticated identity with the cleaned URL the
// client should display after the hash fragment is consumed.
type CallbackResponse struct {
	User     AppUserResponse `json:"user"`
	CleanURL string          `json:"clean_url"`
}

// FlowStateResponse reports the device's current flow screen.
type FlowStateResponse struct {
	DeviceID string           `json:"device_id"`
	State    domain.FlowState `json:"state"`
	User     *AppUserResponse `json:"user,omitempty"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
