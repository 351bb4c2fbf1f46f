package types

import (
	"fmt"
	"time"
)

// Credential holds the login identity for a target site. The password is
// sensitive: it is never logged and never persisted unencrypted. The
// zero-value Options fall back to engine defaults.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"-"`
	URL      string `json:"url"`

	// Tenant disambiguates multi-tenant targets sharing one login page.
	Tenant string `json:"tenant,omitempty"`

	Options CredentialOptions `json:"options,omitempty"`
}

// CredentialOptions tunes how a login with this credential behaves.
type CredentialOptions struct {
	// NavigationTimeout bounds the navigation to the login page.
	// Zero means the engine default (30s).
	NavigationTimeout time.Duration `json:"navigationTimeout,omitempty"`

	// SubmitTimeout bounds the wait for the post-submit navigation.
	SubmitTimeout time.Duration `json:"submitTimeout,omitempty"`
}

// String renders the credential with the secret redacted. This is the only
// representation that may reach logs.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{username: %s, url: %s, tenant: %s}", c.Username, c.URL, c.Tenant)
}

// Cookie is a browser cookie captured from or applied to a page context.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // Unix seconds; -1 means session cookie
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Expired reports whether the cookie's expiry has passed. Session cookies
// (Expires <= 0) never report expired.
func (c Cookie) Expired(now time.Time) bool {
	if c.Expires <= 0 {
		return false
	}
	return float64(now.Unix()) >= c.Expires
}

// Session is a reusable authenticated browser state derived from one login.
// Sessions are owned exclusively by the vault and stored encrypted; at most
// one live session exists per (credential identity, target) pair.
type Session struct {
	Cookies        []Cookie          `json:"cookies"`
	LocalStorage   map[string]string `json:"localStorage,omitempty"`
	SessionStorage map[string]string `json:"sessionStorage,omitempty"`
	UserAgent      string            `json:"userAgent,omitempty"`

	// Timestamp is when the session was captured.
	Timestamp time.Time `json:"timestamp"`

	// TTL is the validity window from Timestamp. Zero means the vault default.
	TTL time.Duration `json:"ttl,omitempty"`
}

// Valid reports whether the session is inside its validity window and still
// carries at least one unexpired cookie. This is the cheap probe used before
// reusing a cached session; it never touches the network.
func (s *Session) Valid(now time.Time, defaultTTL time.Duration) bool {
	if s == nil {
		return false
	}
	ttl := s.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	if ttl > 0 && now.After(s.Timestamp.Add(ttl)) {
		return false
	}
	if len(s.Cookies) == 0 {
		return false
	}
	for _, c := range s.Cookies {
		if !c.Expired(now) {
			return true
		}
	}
	return false
}
