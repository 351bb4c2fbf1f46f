package types

// DomainScopeConfig restricts which hosts a recording or replay may touch.
// The base domain is always implicitly allowed. Checks are case-insensitive
// and host-only (path and query are ignored).
//
// A nil or empty config means domain scoping is not enabled and every URL is
// allowed. Scoping is an explicitly opt-in feature, not a security default.
type DomainScopeConfig struct {
	// BaseDomain anchors the scope: the host itself and all of its
	// subdomains are allowed.
	BaseDomain string `json:"baseDomain"`

	// AllowedDomains are additional hosts allowed verbatim.
	AllowedDomains []string `json:"allowedDomains,omitempty"`

	// SSOProviders are glob patterns (e.g. "*.auth0.com") for identity
	// provider hosts. Navigation to a matching host is a temporary detour:
	// capture and replay continue, flagged but never treated as a violation.
	SSOProviders []string `json:"ssoProviders,omitempty"`

	// AutoResume resumes a paused capture automatically when navigation
	// returns to an allowed host. When false the operator must resume
	// explicitly.
	AutoResume bool `json:"autoResume"`
}
