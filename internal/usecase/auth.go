package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mermac/goblincave-auth/internal/core/domain"
	"github.com/mermac/goblincave-auth/internal/core/port"
	"github.com/mermac/goblincave-auth/internal/infra/config"
	"github.com/mermac/goblincave-auth/internal/infra/logger"
	"github.com/mermac/goblincave-auth/internal/infra/security"
	"github.com/mermac/goblincave-auth/internal/repository"
)

const (
	authMethodPassword = "password"
	authMethodCallback = "callback"
)

var (
	// ErrSignUp indicates the identity provider rejected the sign-up call.
	ErrSignUp = errors.New("sign up rejected")
	// ErrSignIn indicates the identity provider rejected the credentials.
	ErrSignIn = errors.New("sign in rejected")
	// ErrCallback indicates the redirect callback could not be completed.
	ErrCallback = errors.New("callback failed")
	// ErrNoCallbackSession indicates the redirect URL carried no session.
	ErrNoCallbackSession = fmt.Errorf("%w: no session in URL", ErrCallback)
	// ErrUnverifiedEmail indicates the account's email is not verified yet. Always paired with a forced sign-out.
	ErrUnverifiedEmail = errors.New("email not verified")
	// ErrProfileConflict indicates the chosen username collides with an existing profile.
	ErrProfileConflict = errors.New("username already taken")
)

// ValidationError reports a local, pre-network input violation. No side
// effects have occurred when it is returned.
type ValidationError struct {
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Reason
}

func validationErr(reason string) error {
	return &ValidationError{Reason: reason}
}

// AuthService orchestrates registration, verification-gated login, and
// redirect-callback completion against the external identity provider.
type AuthService struct {
	cfg               *config.AppConfig
	identity          port.IdentityProvider
	profiles          port.ProfileRepository
	pending           port.PendingRegistrationCache
	redirects         port.RedirectPolicy
	events            port.EventPublisher
	passwordValidator *security.PasswordValidator
	logger            *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	cfg *config.AppConfig,
	identity port.IdentityProvider,
	profiles port.ProfileRepository,
	pending port.PendingRegistrationCache,
	redirects port.RedirectPolicy,
	events port.EventPublisher,
	validator *security.PasswordValidator,
	log *zap.Logger,
) (*AuthService, error) {
	if identity == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if profiles == nil {
		return nil, fmt.Errorf("profile repository is required")
	}
	if pending == nil {
		return nil, fmt.Errorf("pending registration cache is required")
	}
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		cfg:               cfg,
		identity:          identity,
		profiles:          profiles,
		pending:           pending,
		redirects:         redirects,
		events:            events,
		passwordValidator: validator,
		logger:            log,
	}, nil
}

// Register validates the registration form and submits it to the identity
// provider. The chosen username is stashed in the pending cache BEFORE the
// network call so a later login or callback can recover it even if the
// process dies mid-flow; a provider rejection rolls the stash back. No profile
// row is written yet: the username is not reserved until the email is
// verified.
func (s *AuthService) Register(ctx context.Context, deviceID string, reg domain.Registration) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return validationErr("device id is required")
	}

	username := strings.TrimSpace(reg.Username)
	email := strings.TrimSpace(reg.Email)

	if username == "" || email == "" || reg.Password == "" || reg.ConfirmPassword == "" {
		return validationErr("please fill in all fields")
	}
	if !strings.Contains(email, "@") {
		return validationErr("please enter a valid email address")
	}
	if err := s.passwordValidator.Validate(reg.Password); err != nil {
		return validationErr(err.Error())
	}
	if reg.Password != reg.ConfirmPassword {
		return validationErr("passwords do not match")
	}

	if err := s.pending.Put(ctx, deviceID, username); err != nil {
		return fmt.Errorf("stash pending username: %w", err)
	}

	if err := s.identity.SignUp(ctx, email, reg.Password, s.redirectTarget()); err != nil {
		if delErr := s.pending.Delete(ctx, deviceID); delErr != nil {
			s.logger.Warn("failed to roll back pending username",
				zap.String("device_id", deviceID),
				zap.Error(delErr),
			)
		}
		return fmt.Errorf("%w: %v", ErrSignUp, err)
	}

	s.publishAccountRegistered(ctx, deviceID, email, username)

	s.logger.Info("registration submitted, awaiting email verification",
		zap.String("device_id", deviceID),
		zap.String("email", logger.MaskEmail(email)),
	)

	return nil
}

// Login exchanges credentials for a session, enforces the verified-email
// gate, and runs the pending-username reconciliation.
func (s *AuthService) Login(ctx context.Context, deviceID string, creds domain.Credentials) (domain.AppUser, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.AppUser{}, validationErr("device id is required")
	}

	email := strings.TrimSpace(creds.Email)
	if email == "" || creds.Password == "" {
		return domain.AppUser{}, validationErr("please enter both email and password")
	}

	session, err := s.identity.SignInWithPassword(ctx, email, creds.Password)
	if err != nil {
		return domain.AppUser{}, fmt.Errorf("%w: %v", ErrSignIn, err)
	}
	if session == nil {
		return domain.AppUser{}, fmt.Errorf("%w: no session returned", ErrSignIn)
	}

	if err := s.enforceVerified(ctx, session); err != nil {
		return domain.AppUser{}, err
	}

	appUser, err := s.reconcileProfile(ctx, deviceID, session.User)
	if err != nil {
		return domain.AppUser{}, err
	}

	s.publishUserAuthenticated(ctx, session.User, appUser, authMethodPassword)

	return appUser, nil
}

// ResendVerification requests a fresh verification email. The provider does
// not reveal whether the address exists; callers must not infer account
// existence from the outcome.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return validationErr("enter your email first")
	}

	if err := s.identity.ResendVerification(ctx, email, s.redirectTarget()); err != nil {
		return fmt.Errorf("resend verification: %w", err)
	}

	s.publishVerificationResent(ctx, email)

	return nil
}

// CompleteCallback finishes authentication after the verification link
// redirected back to the application. It resolves the session encoded in the
// URL, enforces the verified-email gate, runs the pending-username
// reconciliation, and returns the URL stripped of its auth fragment so a
// reload does not re-run the callback. Safe to invoke twice with the same
// inputs: the profile upsert and cache delete are both idempotent.
func (s *AuthService) CompleteCallback(ctx context.Context, deviceID, rawURL string) (domain.AppUser, string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.AppUser{}, "", validationErr("device id is required")
	}
	if strings.TrimSpace(rawURL) == "" {
		return domain.AppUser{}, "", validationErr("callback url is required")
	}

	session, err := s.identity.SessionFromURL(ctx, rawURL)
	if err != nil {
		return domain.AppUser{}, "", fmt.Errorf("%w: %v", ErrCallback, err)
	}
	if session == nil {
		return domain.AppUser{}, "", ErrNoCallbackSession
	}

	if err := s.enforceVerified(ctx, session); err != nil {
		return domain.AppUser{}, "", err
	}

	appUser, err := s.reconcileProfile(ctx, deviceID, session.User)
	if err != nil {
		return domain.AppUser{}, "", err
	}

	cleanURL := rawURL
	if s.redirects != nil {
		cleanURL = s.redirects.StripAuthFragment(rawURL)
	}

	s.publishUserAuthenticated(ctx, session.User, appUser, authMethodCallback)

	return appUser, cleanURL, nil
}

// Logout revokes the session at the identity provider.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return validationErr("access token is required")
	}

	if err := s.identity.SignOut(ctx, accessToken); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}

	return nil
}

// enforceVerified is the hard verification gate: an unverified account never
// reaches the authenticated state, even with correct credentials. The
// just-issued session is revoked before the error is returned.
func (s *AuthService) enforceVerified(ctx context.Context, session *domain.Session) error {
	if session.User.Verified() {
		return nil
	}

	if err := s.identity.SignOut(ctx, session.AccessToken); err != nil {
		s.logger.Warn("failed to revoke unverified session",
			zap.String("email", logger.MaskEmail(session.User.Email)),
			zap.Error(err),
		)
	}

	return ErrUnverifiedEmail
}

// reconcileProfile is the single shared saga behind login and callback
// completion: read the pending username, upsert the profile if one exists,
// clear the stash, and derive the authenticated identity. The upsert resolves
// conflicts on id, so replays are safe; a username collision preserves the
// stash so the user can retry with a new name without re-registering.
func (s *AuthService) reconcileProfile(ctx context.Context, deviceID string, user domain.User) (domain.AppUser, error) {
	pendingUsername, err := s.pending.Get(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.AppUser{}, fmt.Errorf("read pending username: %w", err)
		}
		pendingUsername = ""
	}

	if pendingUsername != "" {
		profile := domain.Profile{ID: user.ID, Username: pendingUsername}
		if err := s.profiles.Upsert(ctx, profile); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return domain.AppUser{}, fmt.Errorf("%w: %q", ErrProfileConflict, pendingUsername)
			}
			return domain.AppUser{}, fmt.Errorf("upsert profile: %w", err)
		}

		s.publishProfileCreated(ctx, user.ID, pendingUsername)

		if err := s.pending.Delete(ctx, deviceID); err != nil {
			return domain.AppUser{}, fmt.Errorf("clear pending username: %w", err)
		}
	}

	return domain.NewAppUser(user.Email, pendingUsername), nil
}

func (s *AuthService) redirectTarget() string {
	if s.cfg == nil {
		return ""
	}
	return s.cfg.Identity.RedirectURL
}

func (s *AuthService) publishAccountRegistered(ctx context.Context, deviceID, email, username string) {
	if s.events == nil {
		return
	}
	event := domain.AccountRegisteredEvent{
		EventID:      uuid.NewString(),
		DeviceID:     deviceID,
		Email:        email,
		Username:     username,
		RegisteredAt: time.Now().UTC(),
	}
	if err := s.events.PublishAccountRegistered(ctx, event); err != nil {
		s.logger.Warn("failed to publish account registered event", zap.Error(err))
	}
}

func (s *AuthService) publishUserAuthenticated(ctx context.Context, user domain.User, appUser domain.AppUser, method string) {
	if s.events == nil {
		return
	}
	event := domain.UserAuthenticatedEvent{
		EventID:         uuid.NewString(),
		UserID:          user.ID,
		Email:           appUser.Email,
		Username:        appUser.Username,
		Method:          method,
		AuthenticatedAt: time.Now().UTC(),
	}
	if err := s.events.PublishUserAuthenticated(ctx, event); err != nil {
		s.logger.Warn("failed to publish user authenticated event", zap.Error(err))
	}
}

func (s *AuthService) publishProfileCreated(ctx context.Context, userID, username string) {
	if s.events == nil {
		return
	}
	event := domain.ProfileCreatedEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.events.PublishProfileCreated(ctx, event); err != nil {
		s.logger.Warn("failed to publish profile created event", zap.Error(err))
	}
}

func (s *AuthService) publishVerificationResent(ctx context.Context, email string) {
	if s.events == nil {
		return
	}
	event := domain.VerificationResentEvent{
		EventID:     uuid.NewString(),
		Email:       logger.MaskEmail(email),
		RequestedAt: time.Now().UTC(),
	}
	if err := s.events.PublishVerificationResent(ctx, event); err != nil {
		s.logger.Warn("failed to publish verification resent event", zap.Error(err))
	}
}
