package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mermac/goblincave-auth/internal/core/domain"
	"github.com/mermac/goblincave-auth/internal/usecase"
)

// AuthHandler exposes the registration, login, and callback endpoints. Every
// request is scoped to a device whose flow controller tracks which screen the
// client is on; submissions from the wrong screen are rejected.
type AuthHandler struct {
	flows *usecase.FlowRegistry
}

func NewAuthHandler(flows *usecase.FlowRegistry) *AuthHandler {
	return &AuthHandler{flows: flows}
}

// RegisterRoutes binds the auth endpoints. The extra middlewares guard the
// submission endpoints only; flow navigation stays unthrottled.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, limits AuthRouteLimits) {
	r.GET("/flow/:device_id", h.FlowState)
	r.POST("/flow/login", h.ShowLogin)
	r.POST("/flow/register", h.ShowRegister)
	r.POST("/flow/callback", h.BeginCallback)

	r.POST("/register", wrap(limits.Register, h.Register)...)
	r.POST("/login", wrap(limits.Login, h.Login)...)
	r.POST("/resend", wrap(limits.Resend, h.Resend)...)
	r.POST("/callback", wrap(limits.Callback, h.Callback)...)
	r.POST("/logout", h.Logout)
}

// AuthRouteLimits carries optional per-endpoint middlewares (rate limiting).
type AuthRouteLimits struct {
	Register []gin.HandlerFunc
	Login    []gin.HandlerFunc
	Resend   []gin.HandlerFunc
	Callback []gin.HandlerFunc
}

func wrap(limits []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := append([]gin.HandlerFunc{}, limits...)
	return append(out, handler)
}

// FlowState reports the device's current screen and, when authenticated, the user.
func (h *AuthHandler) FlowState(c *gin.Context) {
	deviceID := c.Param("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "device_id is required"))
		return
	}

	flow := h.flows.Controller(deviceID)

	resp := FlowStateResponse{
		DeviceID: deviceID,
		State:    flow.State(),
	}
	if user := flow.CurrentUser(); user != nil {
		summary := newAppUserResponse(*user)
		resp.User = &summary
	}

	c.JSON(http.StatusOK, resp)
}

// ShowLogin navigates the device to the login form.
func (h *AuthHandler) ShowLogin(c *gin.Context) {
	h.navigate(c, func(flow *usecase.FlowController) error { return flow.ShowLogin() })
}

// ShowRegister navigates the device to the registration form.
func (h *AuthHandler) ShowRegister(c *gin.Context) {
	h.navigate(c, func(flow *usecase.FlowController) error { return flow.ShowRegister() })
}

// BeginCallback marks the device as waiting for the verification redirect.
func (h *AuthHandler) BeginCallback(c *gin.Context) {
	h.navigate(c, func(flow *usecase.FlowController) error { return flow.BeginCallback() })
}

func (h *AuthHandler) navigate(c *gin.Context, transition func(*usecase.FlowController) error) {
	var req FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "device_id is required"))
		return
	}

	flow := h.flows.Controller(req.DeviceID)
	if err := transition(flow); err != nil {
		c.JSON(http.StatusConflict, NewErrorResponse(c, "transition not allowed from the current screen"))
		return
	}

	c.JSON(http.StatusOK, FlowStateResponse{DeviceID: req.DeviceID, State: flow.State()})
}

// Register submits the registration form. On success the account exists at
// the provider in an unverified state and the chosen username is stashed for
// the first verified sign-in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	flow := h.flows.Controller(req.DeviceID)

	err := flow.SubmitRegistration(c.Request.Context(), domain.Registration{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.respondAuthError(c, err, http.StatusUnprocessableEntity, "registration failed")
		return
	}

	c.JSON(http.StatusAccepted, MessageResponse{
		Message: "registration successful, check your email to verify your account",
	})
}

// Login submits the login form. Unverified accounts are signed out server-side
// and rejected.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	flow := h.flows.Controller(req.DeviceID)

	user, err := flow.SubmitLogin(c.Request.Context(), domain.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.respondAuthError(c, err, http.StatusUnauthorized, "login failed")
		return
	}

	c.JSON(http.StatusOK, newAppUserResponse(user))
}

// Resend requests a fresh verification email. The response does not reveal
// whether an account exists for the address.
func (h *AuthHandler) Resend(c *gin.Context) {
	var req ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid resend payload"))
		return
	}

	flow := h.flows.Controller(req.DeviceID)

	if err := flow.ResendVerification(c.Request.Context(), req.Email); err != nil {
		h.respondAuthError(c, err, http.StatusBadGateway, "could not resend verification email")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{
		Message: "if the account needs verification, an email is on its way",
	})
}

// Callback completes the email-verification redirect. The redirect URL's
// fragment carries the session; the response returns the authenticated user
// and the cleaned URL the client should show.
func (h *AuthHandler) Callback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid callback payload"))
		return
	}

	flow := h.flows.Controller(req.DeviceID)

	user, cleanURL, err := flow.CompleteCallback(c.Request.Context(), req.RedirectURL)
	if err != nil {
		h.respondAuthError(c, err, http.StatusUnauthorized, "callback failed")
		return
	}

	c.JSON(http.StatusOK, CallbackResponse{
		User:     newAppUserResponse(user),
		CleanURL: cleanURL,
	})
}

// Logout revokes the provider session and returns the device to the login form.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid logout payload"))
		return
	}

	flow := h.flows.Controller(req.DeviceID)

	if err := flow.SignOut(c.Request.Context(), req.AccessToken); err != nil {
		h.respondAuthError(c, err, http.StatusInternalServerError, "logout failed")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) respondAuthError(c *gin.Context, err error, fallbackStatus int, fallbackMessage string) {
	var validation *usecase.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, validation.Reason))
		return
	}

	cases := []ErrorCase{
		{Err: usecase.ErrFlowTransition, Status: http.StatusConflict, Message: "action not allowed from the current screen"},
		{Err: usecase.ErrUnverifiedEmail, Status: http.StatusForbidden, Message: "verify your email before logging in"},
		{Err: usecase.ErrProfileConflict, Status: http.StatusConflict, Message: "username already taken"},
		{Err: usecase.ErrNoCallbackSession, Status: http.StatusBadRequest, Message: "no session found in the redirect URL"},
		{Err: usecase.ErrSignIn, Status: http.StatusUnauthorized, Message: "invalid email or password"},
		{Err: usecase.ErrSignUp, Status: http.StatusUnprocessableEntity, Message: "registration was rejected"},
		{Err: usecase.ErrCallback, Status: http.StatusUnauthorized, Message: "could not complete verification"},
	}

	RespondWithMappedError(c, err, cases, fallbackStatus, fallbackMessage)
}
