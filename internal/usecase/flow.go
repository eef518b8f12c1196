package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mermac/goblincave-auth/internal/core/domain"
)

// ErrFlowTransition indicates the requested operation is not legal from the
// device's current flow state.
var ErrFlowTransition = errors.New("invalid flow transition")

// FlowController owns the authentication flow state for a single device and
// is the only place transitions happen, instead of scattering flow logic
// across view callbacks.
//
// Transitions:
//
//	Landing|LoginForm      -> RegisterForm       (ShowRegister)
//	Landing|RegisterForm   -> LoginForm          (ShowLogin)
//	RegisterForm           -> LoginForm          (SubmitRegistration, success)
//	LoginForm              -> Authenticated      (SubmitLogin, success)
//	any unauthenticated    -> AwaitingCallback   (BeginCallback)
//	AwaitingCallback       -> Authenticated      (CompleteCallback, success)
//	AwaitingCallback       -> LoginForm          (CompleteCallback, failure)
//	Authenticated          -> LoginForm          (SignOut)
type FlowController struct {
	mu       sync.Mutex
	auth     *AuthService
	deviceID string
	state    domain.FlowState
	user     *domain.AppUser
}

// NewFlowController constructs a controller for the given device, starting at
// the landing state.
func NewFlowController(auth *AuthService, deviceID string) *FlowController {
	return &FlowController{
		auth:     auth,
		deviceID: deviceID,
		state:    domain.FlowLanding,
	}
}

// State returns the current flow state.
func (f *FlowController) State() domain.FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// CurrentUser returns the authenticated identity, or nil before
// authentication completes.
func (f *FlowController) CurrentUser() *domain.AppUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return nil
	}
	copied := *f.user
	return &copied
}

// ShowLogin moves an unauthenticated device to the login form.
func (f *FlowController) ShowLogin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == domain.FlowAuthenticated {
		return fmt.Errorf("%w: %s -> login form", ErrFlowTransition, f.state)
	}
	f.state = domain.FlowLoginForm
	return nil
}

// ShowRegister moves an unauthenticated device to the registration form.
func (f *FlowController) ShowRegister() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == domain.FlowAuthenticated || f.state == domain.FlowAwaitingCallback {
		return fmt.Errorf("%w: %s -> register form", ErrFlowTransition, f.state)
	}
	f.state = domain.FlowRegisterForm
	return nil
}

// SubmitRegistration runs the registration flow. On success the device is
// returned to the login form to await email verification; on failure it stays
// on the registration form.
func (f *FlowController) SubmitRegistration(ctx context.Context, reg domain.Registration) error {
	f.mu.Lock()
	if f.state != domain.FlowRegisterForm {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: registration submitted from %s", ErrFlowTransition, state)
	}
	f.mu.Unlock()

	if err := f.auth.Register(ctx, f.deviceID, reg); err != nil {
		return err
	}

	f.mu.Lock()
	f.state = domain.FlowLoginForm
	f.mu.Unlock()
	return nil
}

// SubmitLogin runs the password login flow and transitions to Authenticated
// on success.
func (f *FlowController) SubmitLogin(ctx context.Context, creds domain.Credentials) (domain.AppUser, error) {
	f.mu.Lock()
	if f.state != domain.FlowLoginForm {
		state := f.state
		f.mu.Unlock()
		return domain.AppUser{}, fmt.Errorf("%w: login submitted from %s", ErrFlowTransition, state)
	}
	f.mu.Unlock()

	appUser, err := f.auth.Login(ctx, f.deviceID, creds)
	if err != nil {
		return domain.AppUser{}, err
	}

	f.mu.Lock()
	f.state = domain.FlowAuthenticated
	f.user = &appUser
	f.mu.Unlock()
	return appUser, nil
}

// ResendVerification requests a fresh verification email. Allowed from the
// login form only, matching where the action is offered.
func (f *FlowController) ResendVerification(ctx context.Context, email string) error {
	f.mu.Lock()
	if f.state != domain.FlowLoginForm {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: resend requested from %s", ErrFlowTransition, state)
	}
	f.mu.Unlock()

	return f.auth.ResendVerification(ctx, email)
}

// BeginCallback records that the device arrived via the provider's redirect.
func (f *FlowController) BeginCallback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == domain.FlowAuthenticated {
		return fmt.Errorf("%w: callback started from %s", ErrFlowTransition, f.state)
	}
	f.state = domain.FlowAwaitingCallback
	return nil
}

// CompleteCallback finishes the redirect flow. Failure returns the device to
// the login form; success transitions to Authenticated.
func (f *FlowController) CompleteCallback(ctx context.Context, rawURL string) (domain.AppUser, string, error) {
	f.mu.Lock()
	if f.state != domain.FlowAwaitingCallback {
		state := f.state
		f.mu.Unlock()
		return domain.AppUser{}, "", fmt.Errorf("%w: callback completed from %s", ErrFlowTransition, state)
	}
	f.mu.Unlock()

	appUser, cleanURL, err := f.auth.CompleteCallback(ctx, f.deviceID, rawURL)
	if err != nil {
		f.mu.Lock()
		f.state = domain.FlowLoginForm
		f.user = nil
		f.mu.Unlock()
		return domain.AppUser{}, "", err
	}

	f.mu.Lock()
	f.state = domain.FlowAuthenticated
	f.user = &appUser
	f.mu.Unlock()
	return appUser, cleanURL, nil
}

// SignOut revokes the session (when a token is supplied) and returns the
// device to the login form.
func (f *FlowController) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	if f.state != domain.FlowAuthenticated {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: sign out from %s", ErrFlowTransition, state)
	}
	f.mu.Unlock()

	if accessToken != "" {
		if err := f.auth.Logout(ctx, accessToken); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.state = domain.FlowLoginForm
	f.user = nil
	f.mu.Unlock()
	return nil
}

// FlowRegistry hands out one FlowController per device.
type FlowRegistry struct {
	mu          sync.Mutex
	auth        *AuthService
	controllers map[string]*FlowController
}

// NewFlowRegistry constructs an empty registry bound to the auth service.
func NewFlowRegistry(auth *AuthService) *FlowRegistry {
	return &FlowRegistry{
		auth:        auth,
		controllers: make(map[string]*FlowController),
	}
}

// Controller returns the controller for the device, creating it on first use.
func (r *FlowRegistry) Controller(deviceID string) *FlowController {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctrl, ok := r.controllers[deviceID]
	if !ok {
		ctrl = NewFlowController(r.auth, deviceID)
		r.controllers[deviceID] = ctrl
	}
	return ctrl
}
