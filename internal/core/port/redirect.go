package port

// RedirectPolicy abstracts "did we arrive via the identity provider's
// redirect?" so the callback flow is testable without a real address bar.
type RedirectPolicy interface {
	// IsCallback reports whether the URL targets the configured callback
	// fragment.
	IsCallback(rawURL string) bool
	// StripAuthFragment returns the URL with the auth fragment (and query)
	// removed, so a reload does not re-run the callback.
	StripAuthFragment(rawURL string) string
}
