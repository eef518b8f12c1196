package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mermac/goblincave-auth/internal/core/domain"
	"github.com/mermac/goblincave-auth/internal/infra/config"
	"github.com/mermac/goblincave-auth/internal/repository"
)

const testRedirectURL = "https://mermac.github.io/goblincave/#/auth/callback"

type stubIdentityProvider struct {
	signUpCalls    int
	signUpEmail    string
	signUpRedirect string
	signUpErr      error
	onSignUp       func()

	signInCalls   int
	signInSession *domain.Session
	signInErr     error

	signOutCalls  int
	signOutTokens []string
	signOutErr    error

	resendCalls    int
	resendEmail    string
	resendRedirect string
	resendErr      error

	sessionCalls   int
	sessionFromURL *domain.Session
	sessionErr     error
}

func (s *stubIdentityProvider) SignUp(_ context.Context, email, _, redirectTo string) error {
	s.signUpCalls++
	s.signUpEmail = email
	s.signUpRedirect = redirectTo
	if s.onSignUp != nil {
		s.onSignUp()
	}
	return s.signUpErr
}

func (s *stubIdentityProvider) SignInWithPassword(_ context.Context, _, _ string) (*domain.Session, error) {
	s.signInCalls++
	if s.signInErr != nil {
		return nil, s.signInErr
	}
	return s.signInSession, nil
}

func (s *stubIdentityProvider) SignOut(_ context.Context, accessToken string) error {
	s.signOutCalls++
	s.signOutTokens = append(s.signOutTokens, accessToken)
	return s.signOutErr
}

func (s *stubIdentityProvider) ResendVerification(_ context.Context, email, redirectTo string) error {
	s.resendCalls++
	s.resendEmail = email
	s.resendRedirect = redirectTo
	return s.resendErr
}

func (s *stubIdentityProvider) SessionFromURL(_ context.Context, _ string) (*domain.Session, error) {
	s.sessionCalls++
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return s.sessionFromURL, nil
}

type stubProfileRepository struct {
	upsertCalls int
	upserts     []domain.Profile
	upsertErr   error
}

func (s *stubProfileRepository) Upsert(_ context.Context, profile domain.Profile) error {
	s.upsertCalls++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, profile)
	return nil
}

func (s *stubProfileRepository) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	for i := range s.upserts {
		if s.upserts[i].ID == id {
			return &s.upserts[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

type stubPendingCache struct {
	entries map[string]string

	putCalls    int
	putErr      error
	getCalls    int
	getErr      error
	deleteCalls int
	deleteErr   error
}

func newStubPendingCache() *stubPendingCache {
	return &stubPendingCache{entries: make(map[string]string)}
}

func (s *stubPendingCache) Get(_ context.Context, deviceID string) (string, error) {
	s.getCalls++
	if s.getErr != nil {
		return "", s.getErr
	}
	username, ok := s.entries[deviceID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return username, nil
}

func (s *stubPendingCache) Put(_ context.Context, deviceID, username string) error {
	s.putCalls++
	if s.putErr != nil {
		return s.putErr
	}
	s.entries[deviceID] = username
	return nil
}

func (s *stubPendingCache) Delete(_ context.Context, deviceID string) error {
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.entries, deviceID)
	return nil
}

type stubRedirectPolicy struct{}

func (stubRedirectPolicy) IsCallback(rawURL string) bool {
	return strings.Contains(rawURL, "#/auth/callback")
}

func (stubRedirectPolicy) StripAuthFragment(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

type stubEventPublisher struct {
	registered    int
	authenticated int
	profiles      int
	resent        int
	lastMethod    string
}

func (s *stubEventPublisher) PublishAccountRegistered(_ context.Context, _ domain.AccountRegisteredEvent) error {
	s.registered++
	return nil
}

func (s *stubEventPublisher) PublishUserAuthenticated(_ context.Context, event domain.UserAuthenticatedEvent) error {
	s.authenticated++
	s.lastMethod = event.Method
	return nil
}

func (s *stubEventPublisher) PublishProfileCreated(_ context.Context, _ domain.ProfileCreatedEvent) error {
	s.profiles++
	return nil
}

func (s *stubEventPublisher) PublishVerificationResent(_ context.Context, _ domain.VerificationResentEvent) error {
	s.resent++
	return nil
}

type authFixture struct {
	service  *AuthService
	identity *stubIdentityProvider
	profiles *stubProfileRepository
	pending  *stubPendingCache
	events   *stubEventPublisher
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	identity := &stubIdentityProvider{}
	profiles := &stubProfileRepository{}
	pending := newStubPendingCache()
	events := &stubEventPublisher{}

	cfg := &config.AppConfig{
		Identity: config.IdentitySettings{RedirectURL: testRedirectURL},
	}

	service, err := NewAuthService(cfg, identity, profiles, pending, stubRedirectPolicy{}, events, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	return &authFixture{
		service:  service,
		identity: identity,
		profiles: profiles,
		pending:  pending,
		events:   events,
	}
}

func verifiedUser(id, email string) domain.User {
	confirmed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return domain.User{ID: id, Email: email, EmailVerifiedAt: &confirmed}
}

func validRegistration() domain.Registration {
	return domain.Registration{
		Username:        "Grog",
		Email:           "grog@cave.com",
		Password:        "secret1",
		ConfirmPassword: "secret1",
	}
}

func TestRegisterValidationRunsBeforeAnySideEffect(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Registration)
		reason string
	}{
		{
			name:   "missing username",
			mutate: func(r *domain.Registration) { r.Username = "" },
			reason: "please fill in all fields",
		},
		{
			name:   "missing email",
			mutate: func(r *domain.Registration) { r.Email = "  " },
			reason: "please fill in all fields",
		},
		{
			name:   "missing password",
			mutate: func(r *domain.Registration) { r.Password = "" },
			reason: "please fill in all fields",
		},
		{
			name:   "email without at sign",
			mutate: func(r *domain.Registration) { r.Email = "grog.cave.com" },
			reason: "please enter a valid email address",
		},
		{
			name:   "short password",
			mutate: func(r *domain.Registration) { r.Password = "abc"; r.ConfirmPassword = "abc" },
		},
		{
			name:   "password mismatch",
			mutate: func(r *domain.Registration) { r.ConfirmPassword = "secret2" },
			reason: "passwords do not match",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newAuthFixture(t)

			reg := validRegistration()
			tc.mutate(&reg)

			err := fx.service.Register(context.Background(), "device-1", reg)

			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if tc.reason != "" && validation.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, validation.Reason)
			}
			if fx.identity.signUpCalls != 0 {
				t.Fatalf("expected no provider call, got %d", fx.identity.signUpCalls)
			}
			if fx.pending.putCalls != 0 {
				t.Fatalf("expected pending cache untouched, got %d puts", fx.pending.putCalls)
			}
		})
	}
}

func TestRegisterStashesUsernameBeforeSignUp(t *testing.T) {
	fx := newAuthFixture(t)

	var stashedAtSignUp string
	fx.identity.onSignUp = func() {
		stashedAtSignUp = fx.pending.entries["device-1"]
	}

	if err := fx.service.Register(context.Background(), "device-1", validRegistration()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if stashedAtSignUp != "Grog" {
		t.Fatalf("expected username stashed before provider call, got %q", stashedAtSignUp)
	}
	if fx.identity.signUpRedirect != testRedirectURL {
		t.Fatalf("unexpected redirect target %q", fx.identity.signUpRedirect)
	}
	if fx.pending.entries["device-1"] != "Grog" {
		t.Fatal("expected stash to survive successful registration")
	}
	if fx.profiles.upsertCalls != 0 {
		t.Fatal("no profile row may be written at registration time")
	}
	if fx.events.registered != 1 {
		t.Fatalf("expected one registered event, got %d", fx.events.registered)
	}
}

func TestRegisterRollsBackStashWhenProviderRejects(t *testing.T) {
	fx := newAuthFixture(t)
	fx.identity.signUpErr = errors.New("email rate limit exceeded")

	err := fx.service.Register(context.Background(), "device-1", validRegistration())
	if !errors.Is(err, ErrSignUp) {
		t.Fatalf("expected ErrSignUp, got %v", err)
	}

	if _, ok := fx.pending.entries["device-1"]; ok {
		t.Fatal("expected stash rolled back after provider rejection")
	}
	if fx.pending.deleteCalls != 1 {
		t.Fatalf("expected one rollback delete, got %d", fx.pending.deleteCalls)
	}
	if fx.events.registered != 0 {
		t.Fatal("no event may be published for a failed registration")
	}
}

func TestLoginRejectsUnverifiedAndRevokesSession(t *testing.T) {
	fx := newAuthFixture(t)
	fx.pending.entries["device-1"] = "Grog"
	fx.identity.signInSession = &domain.Session{
		AccessToken: "fresh-token",
		User:        domain.User{ID: "user-1", Email: "grog@cave.com"},
	}

	_, err := fx.service.Login(context.Background(), "device-1", domain.Credentials{
		Email:    "grog@cave.com",
		Password: "secret1",
	})
	if !errors.Is(err, ErrUnverifiedEmail) {
		t.Fatalf("expected ErrUnverifiedEmail, got %v", err)
	}

	if fx.identity.signOutCalls != 1 {
		t.Fatalf("expected forced sign-out, got %d calls", fx.identity.signOutCalls)
	}
	if fx.identity.signOutTokens[0] != "fresh-token" {
		t.Fatalf("expected the fresh session revoked, got %q", fx.identity.signOutTokens[0])
	}
	if fx.profiles.upsertCalls != 0 {
		t.Fatal("no profile may be written for an unverified account")
	}
	if fx.pending.entries["device-1"] != "Grog" {
		t.Fatal("pending username must survive an unverified login attempt")
	}
}

func TestLoginReconcilesPendingUsername(t *testing.T) {
	fx := newAuthFixture(t)
	fx.pending.entries["device-1"] = "Grog"
	fx.identity.signInSession = &domain.Session{
		AccessToken: "token",
		User:        verifiedUser("user-1", "grog@cave.com"),
	}

	user, err := fx.service.Login(context.Background(), "device-1", domain.Credentials{
		Email:    "grog@cave.com",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if user.Email != "grog@cave.com" || user.Username != "Grog" {
		t.Fatalf("unexpected app user %+v", user)
	}
	if fx.profiles.upsertCalls != 1 {
		t.Fatalf("expected one profile upsert, got %d", fx.profiles.upsertCalls)
	}
	if got := fx.profiles.upserts[0]; got.ID != "user-1" || got.Username != "Grog" {
		t.Fatalf("unexpected profile %+v", got)
	}
	if _, ok := fx.pending.entries["device-1"]; ok {
		t.Fatal("expected stash cleared after successful reconciliation")
	}
	if fx.events.profiles != 1 {
		t.Fatalf("expected one profile created event, got %d", fx.events.profiles)
	}
	if fx.events.authenticated != 1 || fx.events.lastMethod != "password" {
		t.Fatalf("expected password authentication event, got %d (%q)", fx.events.authenticated, fx.events.lastMethod)
	}
}

func TestLoginWithoutPendingFallsBackToEmailLocalPart(t *testing.T) {
	fx := newAuthFixture(t)
	fx.identity.signInSession = &domain.Session{
		AccessToken: "token",
		User:        verifiedUser("user-2", "tina@cave.com"),
	}

	user, err := fx.service.Login(context.Background(), "device-2", domain.Credentials{
		Email:    "tina@cave.com",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if user.Username != "tina" {
		t.Fatalf("expected local-part username, got %q", user.Username)
	}
	if fx.profiles.upsertCalls != 0 {
		t.Fatal("no profile write expected without a pending username")
	}
}

func TestLoginProfileConflictPreservesStash(t *testing.T) {
	fx := newAuthFixture(t)
	fx.pending.entries["device-1"] = "Grog"
	fx.profiles.upsertErr = repository.ErrConflict
	fx.identity.signInSession = &domain.Session{
		AccessToken: "token",
		User:        verifiedUser("user-1", "grog@cave.com"),
	}

	_, err := fx.service.Login(context.Background(), "device-1", domain.Credentials{
		Email:    "grog@cave.com",
		Password: "secret1",
	})
	if !errors.Is(err, ErrProfileConflict) {
		t.Fatalf("expected ErrProfileConflict, got %v", err)
	}

	if fx.pending.entries["device-1"] != "Grog" {
		t.Fatal("stash must survive a username conflict so the user can retry")
	}
	if fx.pending.deleteCalls != 0 {
		t.Fatalf("expected no stash delete on conflict, got %d", fx.pending.deleteCalls)
	}
}

func TestCompleteCallbackWithoutSession(t *testing.T) {
	fx := newAuthFixture(t)

	_, _, err := fx.service.CompleteCallback(context.Background(), "device-1", testRedirectURL)
	if !errors.Is(err, ErrNoCallbackSession) {
		t.Fatalf("expected ErrNoCallbackSession, got %v", err)
	}
	if !errors.Is(err, ErrCallback) {
		t.Fatal("ErrNoCallbackSession must match ErrCallback")
	}
}

func TestCompleteCallbackReconcilesAndStripsFragment(t *testing.T) {
	fx := newAuthFixture(t)
	fx.pending.entries["device-1"] = "Grog"
	fx.identity.sessionFromURL = &domain.Session{
		AccessToken: "token",
		User:        verifiedUser("user-1", "grog@cave.com"),
	}

	rawURL := "https://mermac.github.io/goblincave/#/auth/callback?access_token=abc"
	user, cleanURL, err := fx.service.CompleteCallback(context.Background(), "device-1", rawURL)
	if err != nil {
		t.Fatalf("CompleteCallback: %v", err)
	}

	if user.Username != "Grog" {
		t.Fatalf("unexpected username %q", user.Username)
	}
	if cleanURL != "https://mermac.github.io/goblincave/" {
		t.Fatalf("expected auth fragment stripped, got %q", cleanURL)
	}
	if fx.events.lastMethod != "callback" {
		t.Fatalf("expected callback authentication event, got %q", fx.events.lastMethod)
	}
}

func TestCompleteCallbackIsIdempotent(t *testing.T) {
	fx := newAuthFixture(t)
	fx.pending.entries["device-1"] = "grog"
	fx.identity.sessionFromURL = &domain.Session{
		AccessToken: "token",
		User:        verifiedUser("user-1", "grog@cave.com"),
	}

	rawURL := "https://mermac.github.io/goblincave/#/auth/callback?access_token=abc"

	first, _, err := fx.service.CompleteCallback(context.Background(), "device-1", rawURL)
	if err != nil {
		t.Fatalf("first CompleteCallback: %v", err)
	}

	// A reload replays the callback after the stash has been consumed.
	second, _, err := fx.service.CompleteCallback(context.Background(), "device-1", rawURL)
	if err != nil {
		t.Fatalf("second CompleteCallback: %v", err)
	}

	if first != second {
		t.Fatalf("expected identical app user on replay: %+v vs %+v", first, second)
	}
	if fx.profiles.upsertCalls != 1 {
		t.Fatalf("expected a single profile upsert across replays, got %d", fx.profiles.upsertCalls)
	}
}

func TestCallbackUnverifiedSessionIsRejected(t *testing.T) {
	fx := newAuthFixture(t)
	fx.identity.sessionFromURL = &domain.Session{
		AccessToken: "stale-token",
		User:        domain.User{ID: "user-3", Email: "sneak@cave.com"},
	}

	_, _, err := fx.service.CompleteCallback(context.Background(), "device-3", testRedirectURL)
	if !errors.Is(err, ErrUnverifiedEmail) {
		t.Fatalf("expected ErrUnverifiedEmail, got %v", err)
	}
	if fx.identity.signOutCalls != 1 {
		t.Fatalf("expected forced sign-out, got %d", fx.identity.signOutCalls)
	}
}

func TestResendVerification(t *testing.T) {
	fx := newAuthFixture(t)

	if err := fx.service.ResendVerification(context.Background(), "grog@cave.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	if fx.identity.resendCalls != 1 {
		t.Fatalf("expected one resend call, got %d", fx.identity.resendCalls)
	}
	if fx.identity.resendRedirect != testRedirectURL {
		t.Fatalf("unexpected redirect %q", fx.identity.resendRedirect)
	}
	if fx.events.resent != 1 {
		t.Fatalf("expected one resent event, got %d", fx.events.resent)
	}

	var validation *ValidationError
	if err := fx.service.ResendVerification(context.Background(), "not-an-email"); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	fx := newAuthFixture(t)

	if err := fx.service.Logout(context.Background(), "token-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if fx.identity.signOutCalls != 1 || fx.identity.signOutTokens[0] != "token-1" {
		t.Fatalf("expected sign-out with token-1, got %+v", fx.identity.signOutTokens)
	}

	var validation *ValidationError
	if err := fx.service.Logout(context.Background(), "  "); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for blank token, got %v", err)
	}
}
