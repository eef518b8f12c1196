package identity

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mermac/goblincave-auth/internal/core/port"
)

const defaultCallbackRoute = "/auth/callback"

// Redirects decides whether a URL is the verification callback and strips
// auth artifacts from it once the session has been consumed.
//
// The verification email points the browser at a hash-routed target such as
// https://host/app/#/auth/callback, and the provider appends the session
// tokens to the fragment. Both shapes are recognized:
//
//	https://host/app/#/auth/callback?access_token=...&refresh_token=...
//	https://host/app/#access_token=...&refresh_token=...
type Redirects struct {
	route string
}

// NewRedirects derives the callback route from the configured redirect URL.
// A redirect URL without a fragment falls back to the default route.
func NewRedirects(redirectURL string) (*Redirects, error) {
	route := defaultCallbackRoute

	if redirectURL != "" {
		parsed, err := url.Parse(redirectURL)
		if err != nil {
			return nil, fmt.Errorf("parse redirect url: %w", err)
		}
		if frag := strings.TrimSpace(parsed.Fragment); frag != "" {
			route = "/" + strings.Trim(frag, "/")
		}
	}

	return &Redirects{route: route}, nil
}

// IsCallback reports whether the URL's fragment targets the callback route.
func (r *Redirects) IsCallback(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	frag := parsed.Fragment
	if frag == "" {
		return false
	}
	if !strings.HasPrefix(frag, "/") {
		frag = "/" + frag
	}

	if frag == r.route {
		return true
	}
	// Matches the route followed by a query or a sub-path.
	return strings.HasPrefix(frag, r.route+"?") || strings.HasPrefix(frag, r.route+"/")
}

// StripAuthFragment returns the URL reduced to scheme, host, and path, with
// the query and fragment removed. The caller uses it to replace the address
// the user sees once the callback has been handled.
func (r *Redirects) StripAuthFragment(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}

// AuthParams extracts the token parameters carried in a redirect URL. Tokens
// may ride in the fragment's pseudo-query, in a bare fragment, or in the
// regular query string. An empty set is returned when none are present.
func AuthParams(rawURL string) (url.Values, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	frag := parsed.Fragment
	if i := strings.Index(frag, "?"); i >= 0 {
		frag = frag[i+1:]
	}

	if values, err := url.ParseQuery(frag); err == nil && values.Get("access_token") != "" {
		return values, nil
	}

	if values, err := url.ParseQuery(parsed.RawQuery); err == nil && values.Get("access_token") != "" {
		return values, nil
	}

	return url.Values{}, nil
}

var _ port.RedirectPolicy = (*Redirects)(nil)
