package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mermac/goblincave-auth/internal/core/domain"
	"github.com/mermac/goblincave-auth/internal/core/port"
	"github.com/mermac/goblincave-auth/internal/infra/config"
)

const defaultRequestTimeout = 10 * time.Second

// Client implements port.IdentityProvider against a GoTrue-style REST API.
// The provider owns credentials, sessions, and verification email delivery.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient constructs the identity provider client.
func NewClient(cfg config.IdentitySettings, log *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("identity base url is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL: baseURL,
		anonKey: strings.TrimSpace(cfg.AnonKey),
		http:    &http.Client{Timeout: timeout},
		logger:  log,
	}, nil
}

type userPayload struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
}

func (p userPayload) toDomain() domain.User {
	return domain.User{
		ID:              p.ID,
		Email:           p.Email,
		EmailVerifiedAt: p.EmailConfirmedAt,
	}
}

type sessionPayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         userPayload `json:"user"`
}

type apiError struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorField       string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e apiError) text() string {
	for _, candidate := range []string{e.Msg, e.Message, e.ErrorDescription, e.ErrorField, e.ErrorCode} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// SignUp creates an unverified account. The redirect target is forwarded so
// the verification link routes back to the callback handler.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) error {
	endpoint := c.endpoint("/auth/v1/signup", redirectTo)
	body := map[string]string{"email": email, "password": password}

	var ignored json.RawMessage
	if err := c.post(ctx, endpoint, "", body, &ignored); err != nil {
		return err
	}
	return nil
}

// SignInWithPassword exchanges credentials for a session via the password grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	endpoint := c.endpoint("/auth/v1/token", "") + "?grant_type=password"
	body := map[string]string{"email": email, "password": password}

	var payload sessionPayload
	if err := c.post(ctx, endpoint, "", body, &payload); err != nil {
		return nil, err
	}
	if payload.AccessToken == "" {
		return nil, errors.New("no session returned from sign-in")
	}

	session := c.sessionFromPayload(payload)
	return &session, nil
}

// SignOut revokes the session identified by the access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	endpoint := c.endpoint("/auth/v1/logout", "")
	return c.post(ctx, endpoint, accessToken, nil, nil)
}

// ResendVerification asks the provider for a fresh signup verification email.
// The response is deliberately non-revealing about account existence.
func (c *Client) ResendVerification(ctx context.Context, email, redirectTo string) error {
	endpoint := c.endpoint("/auth/v1/resend", redirectTo)
	body := map[string]string{"type": "signup", "email": email}

	var ignored json.RawMessage
	return c.post(ctx, endpoint, "", body, &ignored)
}

// SessionFromURL resolves the session encoded in a redirect URL. The tokens
// ride in the URL fragment; the user projection is fetched with the resolved
// access token. Returns (nil, nil) when the URL carries no session.
func (c *Client) SessionFromURL(ctx context.Context, rawURL string) (*domain.Session, error) {
	params, err := AuthParams(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse callback url: %w", err)
	}

	accessToken := params.Get("access_token")
	if accessToken == "" {
		return nil, nil
	}

	user, err := c.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	session := domain.Session{
		AccessToken:  accessToken,
		RefreshToken: params.Get("refresh_token"),
		TokenType:    params.Get("token_type"),
		ExpiresAt:    sessionExpiry(accessToken, params),
		User:         user,
	}
	return &session, nil
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (domain.User, error) {
	endpoint := c.endpoint("/auth/v1/user", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.User{}, fmt.Errorf("build user request: %w", err)
	}
	c.setHeaders(req, accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.User{}, fmt.Errorf("read user response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.User{}, c.decodeError(resp.StatusCode, raw)
	}

	var payload userPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.User{}, fmt.Errorf("decode user response: %w", err)
	}
	if payload.ID == "" {
		return domain.User{}, errors.New("user response missing id")
	}

	return payload.toDomain(), nil
}

func (c *Client) post(ctx context.Context, endpoint, accessToken string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.decodeError(resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Content-Type", "application/json")
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	bearer := accessToken
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
}

func (c *Client) decodeError(status int, raw []byte) error {
	var payload apiError
	if err := json.Unmarshal(raw, &payload); err == nil {
		if text := payload.text(); text != "" {
			return errors.New(text)
		}
	}
	return fmt.Errorf("identity provider returned status %d", status)
}

func (c *Client) endpoint(path, redirectTo string) string {
	endpoint := c.baseURL + path
	if redirectTo != "" {
		endpoint += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return endpoint
}

func (c *Client) sessionFromPayload(payload sessionPayload) domain.Session {
	expiresAt := time.Time{}
	if payload.ExpiresIn > 0 {
		expiresAt = time.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
	} else {
		expiresAt = tokenExpiry(payload.AccessToken)
	}

	return domain.Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		ExpiresAt:    expiresAt,
		User:         payload.User.toDomain(),
	}
}

// sessionExpiry prefers the expires_at fragment parameter and falls back to
// the access token's exp claim.
func sessionExpiry(accessToken string, params url.Values) time.Time {
	if raw := params.Get("expires_at"); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(unix, 0).UTC()
		}
	}
	if raw := params.Get("expires_in"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			return time.Now().UTC().Add(time.Duration(seconds) * time.Second)
		}
	}
	return tokenExpiry(accessToken)
}

// tokenExpiry decodes the access token without verifying the signature; the
// provider signed it and only the exp claim is needed here.
func tokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time.UTC()
}

var _ port.IdentityProvider = (*Client)(nil)
