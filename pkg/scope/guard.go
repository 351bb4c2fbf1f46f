// Package scope implements the domain scope guard: the policy boundary
// deciding which hosts a recording or replay may touch.
package scope

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"golang.org/x/net/idna"

	"github.com/entrhq/reprise/pkg/types"
)

// Decision is the outcome of classifying a URL against the scope.
type Decision string

const (
	// Allowed means the host is the base domain, one of its subdomains, or
	// listed verbatim in the allowed set.
	Allowed Decision = "ALLOWED"

	// SSOAllowed means the host matched an SSO provider pattern. The
	// navigation is a temporary detour: it proceeds, flagged, and is never
	// persisted as a scope violation.
	SSOAllowed Decision = "SSO_ALLOWED"

	// Blocked means the host is outside the scope. During capture a blocked
	// navigation pauses recording rather than erroring.
	Blocked Decision = "BLOCKED"
)

// Guard evaluates URLs against a domain scope configuration. All checks are
// case-insensitive and host-only. A Guard constructed without a base domain
// is a no-op that allows everything: scoping is an explicitly opt-in
// feature, and the fail-open default is a deliberate product decision.
//
// Guards are safe for concurrent use; mutations take effect for subsequent
// classifications.
type Guard struct {
	mu         sync.RWMutex
	baseDomain string
	allowed    map[string]struct{}
	ssoGlobs   []glob.Glob
	ssoRaw     []string
	autoResume bool
}

// NewGuard builds a guard from the given configuration. A nil config yields
// a guard that allows every URL. Invalid SSO glob patterns are rejected.
func NewGuard(cfg *types.DomainScopeConfig) (*Guard, error) {
	g := &Guard{
		allowed:    make(map[string]struct{}),
		autoResume: true,
	}
	if cfg == nil {
		return g, nil
	}

	g.baseDomain = normalizeHost(cfg.BaseDomain)
	g.autoResume = cfg.AutoResume
	for _, d := range cfg.AllowedDomains {
		g.allowed[normalizeHost(d)] = struct{}{}
	}
	for _, pattern := range cfg.SSOProviders {
		compiled, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to compile sso provider pattern %q: %w", pattern, err)
		}
		g.ssoGlobs = append(g.ssoGlobs, compiled)
		g.ssoRaw = append(g.ssoRaw, pattern)
	}
	return g, nil
}

// Classify decides whether a navigation to rawURL is in scope. URLs that
// cannot be parsed are Blocked when scoping is enabled.
func (g *Guard) Classify(rawURL string) Decision {
	// No guard configured: scoping disabled, everything allowed.
	if g == nil {
		return Allowed
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.baseDomain == "" {
		return Allowed
	}

	host := hostOf(rawURL)
	if host == "" {
		return Blocked
	}

	if host == g.baseDomain || strings.HasSuffix(host, "."+g.baseDomain) {
		return Allowed
	}
	if _, ok := g.allowed[host]; ok {
		return Allowed
	}
	for _, sso := range g.ssoGlobs {
		if sso.Match(host) {
			return SSOAllowed
		}
	}
	return Blocked
}

// AutoResume reports whether a paused capture should resume automatically
// once navigation returns to an allowed host.
func (g *Guard) AutoResume() bool {
	if g == nil {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.autoResume
}

// AddAllowedDomain permits an additional host. Takes effect for subsequent
// classifications; the page currently being captured is unaffected until its
// next navigation.
func (g *Guard) AddAllowedDomain(domain string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed[normalizeHost(domain)] = struct{}{}
}

// RemoveAllowedDomain revokes a host from the allowed set. Removing the base
// domain has no effect: it is always implicitly allowed.
func (g *Guard) RemoveAllowedDomain(domain string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.allowed, normalizeHost(domain))
}

// UpdateConfig replaces the entire scope configuration.
func (g *Guard) UpdateConfig(cfg *types.DomainScopeConfig) error {
	fresh, err := NewGuard(cfg)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baseDomain = fresh.baseDomain
	g.allowed = fresh.allowed
	g.ssoGlobs = fresh.ssoGlobs
	g.ssoRaw = fresh.ssoRaw
	g.autoResume = fresh.autoResume
	return nil
}

// Config returns a snapshot of the current configuration.
func (g *Guard) Config() types.DomainScopeConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()

	allowed := make([]string, 0, len(g.allowed))
	for d := range g.allowed {
		allowed = append(allowed, d)
	}
	return types.DomainScopeConfig{
		BaseDomain:     g.baseDomain,
		AllowedDomains: allowed,
		SSOProviders:   append([]string(nil), g.ssoRaw...),
		AutoResume:     g.autoResume,
	}
}

// hostOf extracts the normalized host from a URL, or empty when the URL has
// no usable host.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return normalizeHost(parsed.Host)
}

// normalizeHost lowercases a host, strips any port, and converts
// internationalized names to their ASCII (punycode) form so that visually
// distinct spellings of the same host compare equal.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		return ascii
	}
	return host
}
