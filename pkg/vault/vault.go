// Package vault caches authenticated browser sessions keyed by credential
// identity and target, encrypted at rest, and drives the login flow when no
// reusable session exists.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/reprise/pkg/logging"
	"github.com/entrhq/reprise/pkg/page"
	"github.com/entrhq/reprise/pkg/types"
)

// PageFactory produces fresh controllable pages. *page.Manager satisfies it.
type PageFactory interface {
	NewPage(opts page.Options) (page.Page, error)
}

// Options configures a vault.
type Options struct {
	// EncryptionKey is the key material sessions are sealed with. Required.
	EncryptionKey []byte

	// SessionTTL is the default validity window of a cached session.
	// Zero means 30 minutes.
	SessionTTL time.Duration

	// PageOptions is the template for pages the vault creates.
	PageOptions page.Options
}

// SessionInfo is the redacted audit view of one cached session. Cookie
// values and storage contents are never exposed.
type SessionInfo struct {
	Key         string
	CreatedAt   time.Time
	CookieCount int
	UserAgent   string
}

// Vault owns every cached session. At most one live session exists per
// (credential identity, target) pair; acquiring a second replaces the first.
type Vault struct {
	mu       sync.Mutex
	factory  PageFactory
	cipher   *sessionCipher
	ttl      time.Duration
	pageOpts page.Options
	logger   *logging.Logger

	sessions   map[string][]byte // cache key -> sealed session
	currentKey string

	// loginFn is swapped by tests; defaults to Login.
	loginFn func(ctx context.Context, pg page.Page, cred types.Credential) (*LoginResult, error)
}

// New creates a vault backed by the given page factory.
func New(factory PageFactory, opts Options) (*Vault, error) {
	cipher, err := newSessionCipher(opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	ttl := opts.SessionTTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	logger, _ := logging.NewLogger("vault")

	return &Vault{
		factory:  factory,
		cipher:   cipher,
		ttl:      ttl,
		pageOpts: opts.PageOptions,
		logger:   logger,
		sessions: make(map[string][]byte),
		loginFn:  Login,
	}, nil
}

// cacheKey derives the session cache key from credential identity and
// target host. The password never participates: rotating a secret must not
// orphan the cache entry it replaces.
func cacheKey(cred types.Credential) string {
	host := cred.URL
	if parsed, err := url.Parse(cred.URL); err == nil && parsed.Host != "" {
		host = strings.ToLower(parsed.Host)
	}
	sum := sha256.Sum256([]byte(cred.Username + "|" + cred.Tenant + "|" + host))
	return hex.EncodeToString(sum[:])
}

// GetAuthenticatedPage returns a page authenticated for the credential's
// target. A cached session that passes the validity probe is applied to a
// fresh page with no round trip to the login form; otherwise the vault runs
// the full login flow and caches the resulting session, replacing any prior
// session for the same key.
func (v *Vault) GetAuthenticatedPage(ctx context.Context, cred types.Credential) (page.Page, error) {
	key := cacheKey(cred)

	if pg, ok := v.tryCached(ctx, key, cred); ok {
		return pg, nil
	}

	pg, err := v.factory.NewPage(v.pageOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	result, err := v.loginFn(ctx, pg, cred)
	if err != nil {
		pg.Close()
		return nil, types.WrapError(types.CodeLoginFailed, err, "Login failed")
	}
	if !result.Success {
		pg.Close()
		return nil, types.NewError(types.CodeLoginFailed, "Login failed: %s", result.Error)
	}
	v.logger.Infof("login succeeded for %s", cred.String())

	session, err := v.extractSession(ctx, pg)
	if err != nil {
		pg.Close()
		return nil, types.WrapError(types.CodeSessionExtraction, err, "Session extraction failed")
	}

	sealed, err := v.cipher.seal(session)
	if err != nil {
		pg.Close()
		return nil, types.WrapError(types.CodeSessionExtraction, err, "Session extraction failed")
	}

	v.mu.Lock()
	v.sessions[key] = sealed // replaces any prior session for this key
	v.currentKey = key
	v.mu.Unlock()

	return pg, nil
}

// tryCached applies a cached, still-valid session to a fresh page. Any
// failure falls back to the full login path.
func (v *Vault) tryCached(ctx context.Context, key string, cred types.Credential) (page.Page, bool) {
	v.mu.Lock()
	sealed, ok := v.sessions[key]
	v.mu.Unlock()
	if !ok {
		return nil, false
	}

	session, err := v.cipher.open(sealed)
	if err != nil || !session.Valid(time.Now(), v.ttl) {
		v.logger.Debugf("cached session for key %.8s… rejected by validity probe", key)
		v.mu.Lock()
		delete(v.sessions, key)
		if v.currentKey == key {
			v.currentKey = ""
		}
		v.mu.Unlock()
		return nil, false
	}

	opts := v.pageOpts
	opts.UserAgent = session.UserAgent
	pg, err := v.factory.NewPage(opts)
	if err != nil {
		return nil, false
	}

	if err := pg.SetCookies(ctx, session.Cookies); err != nil {
		pg.Close()
		return nil, false
	}
	if err := pg.Navigate(ctx, cred.URL, page.NavigateOptions{Timeout: cred.Options.NavigationTimeout}); err != nil {
		pg.Close()
		return nil, false
	}
	if err := pg.ApplyStorage(ctx, session.LocalStorage, session.SessionStorage); err != nil {
		pg.Close()
		return nil, false
	}

	v.mu.Lock()
	v.currentKey = key
	v.mu.Unlock()
	v.logger.Debugf("reused cached session for key %.8s…", key)
	return pg, true
}

// extractSession snapshots the page's authenticated state. Failures here
// mean "logged in but could not snapshot state" and are reported under
// SESSION_EXTRACTION_FAILED, distinct from login failures.
func (v *Vault) extractSession(ctx context.Context, pg page.Page) (*types.Session, error) {
	cookies, err := pg.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("cookie snapshot failed: %w", err)
	}
	local, session, err := pg.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage snapshot failed: %w", err)
	}
	userAgent, err := pg.UserAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("user agent read failed: %w", err)
	}

	return &types.Session{
		Cookies:        cookies,
		LocalStorage:   local,
		SessionStorage: session,
		UserAgent:      userAgent,
		Timestamp:      time.Now(),
		TTL:            v.ttl,
	}, nil
}

// CurrentSession returns a decrypted copy of the most recently used
// session, or nil when none is cached.
func (v *Vault) CurrentSession() *types.Session {
	v.mu.Lock()
	sealed, ok := v.sessions[v.currentKey]
	v.mu.Unlock()
	if !ok {
		return nil
	}
	session, err := v.cipher.open(sealed)
	if err != nil {
		return nil
	}
	return session
}

// ClearSession removes the cached session for a credential. Used on logout
// or credential rotation.
func (v *Vault) ClearSession(cred types.Credential) {
	key := cacheKey(cred)
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.sessions, key)
	if v.currentKey == key {
		v.currentKey = ""
	}
}

// GetAllSessions returns a redacted view of every cached session for audit
// and debugging.
func (v *Vault) GetAllSessions() []SessionInfo {
	v.mu.Lock()
	defer v.mu.Unlock()

	infos := make([]SessionInfo, 0, len(v.sessions))
	for key, sealed := range v.sessions {
		session, err := v.cipher.open(sealed)
		if err != nil {
			continue
		}
		infos = append(infos, SessionInfo{
			Key:         key,
			CreatedAt:   session.Timestamp,
			CookieCount: len(session.Cookies),
			UserAgent:   session.UserAgent,
		})
	}
	return infos
}

// Cleanup releases all cached sessions. Idempotent and safe to call
// whether or not a session was ever established.
func (v *Vault) Cleanup() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions = make(map[string][]byte)
	v.currentKey = ""
}
