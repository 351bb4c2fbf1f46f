package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/reprise/pkg/types"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	guard, err := NewGuard(&types.DomainScopeConfig{
		BaseDomain:     "app.example.com",
		AllowedDomains: []string{"cdn.example.net"},
		SSOProviders:   []string{"*.auth0.com", "login.microsoftonline.com"},
		AutoResume:     true,
	})
	require.NoError(t, err)
	return guard
}

func TestGuard_Classify(t *testing.T) {
	guard := newTestGuard(t)

	tests := []struct {
		name string
		url  string
		want Decision
	}{
		{"base domain", "https://app.example.com/dashboard", Allowed},
		{"subdomain of base", "https://api.app.example.com/v1", Allowed},
		{"case insensitive host", "https://APP.Example.COM/path?q=1", Allowed},
		{"host with port", "https://app.example.com:8443/", Allowed},
		{"allowed domain verbatim", "https://cdn.example.net/assets/app.js", Allowed},
		{"sibling of allowed domain", "https://other.example.net/", Blocked},
		{"sso glob match", "https://tenant.auth0.com/authorize", SSOAllowed},
		{"sso exact match", "https://login.microsoftonline.com/common", SSOAllowed},
		{"unrelated host", "https://evil.example.org/", Blocked},
		{"suffix but not subdomain", "https://notapp.example.com.evil.org/", Blocked},
		{"unparsable url", "http://[::1", Blocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, guard.Classify(tt.url))
		})
	}
}

func TestGuard_FailOpenWithoutConfig(t *testing.T) {
	// Scoping is opt-in: no config means every URL is allowed.
	guard, err := NewGuard(nil)
	require.NoError(t, err)
	assert.Equal(t, Allowed, guard.Classify("https://anything.example.org/"))

	var nilGuard *Guard
	assert.Equal(t, Allowed, nilGuard.Classify("https://anything.example.org/"))
	assert.True(t, nilGuard.AutoResume())
}

func TestGuard_AddAllowedDomainTakesEffectImmediately(t *testing.T) {
	guard := newTestGuard(t)

	assert.Equal(t, Blocked, guard.Classify("https://x.com/path"))
	guard.AddAllowedDomain("x.com")
	assert.Equal(t, Allowed, guard.Classify("https://x.com/path"))

	guard.RemoveAllowedDomain("x.com")
	assert.Equal(t, Blocked, guard.Classify("https://x.com/path"))
}

func TestGuard_BaseDomainAlwaysAllowed(t *testing.T) {
	guard := newTestGuard(t)

	// Removing the base domain must not revoke it.
	guard.RemoveAllowedDomain("app.example.com")
	assert.Equal(t, Allowed, guard.Classify("https://app.example.com/"))
}

func TestGuard_UpdateConfig(t *testing.T) {
	guard := newTestGuard(t)

	err := guard.UpdateConfig(&types.DomainScopeConfig{BaseDomain: "other.io"})
	require.NoError(t, err)

	assert.Equal(t, Allowed, guard.Classify("https://www.other.io/"))
	assert.Equal(t, Blocked, guard.Classify("https://app.example.com/"))
	assert.False(t, guard.AutoResume())
}

func TestGuard_InvalidSSOPattern(t *testing.T) {
	_, err := NewGuard(&types.DomainScopeConfig{
		BaseDomain:   "example.com",
		SSOProviders: []string{"[invalid"},
	})
	require.Error(t, err)
}

func TestGuard_InternationalizedHost(t *testing.T) {
	guard, err := NewGuard(&types.DomainScopeConfig{BaseDomain: "bücher.example"})
	require.NoError(t, err)

	// Unicode and punycode spellings of the same host compare equal.
	assert.Equal(t, Allowed, guard.Classify("https://xn--bcher-kva.example/"))
}
