package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/reprise/pkg/page"
	"github.com/entrhq/reprise/pkg/types"
)

// LoginResult is the outcome of one authentication attempt. A failed
// attempt carries a human-readable Error; driver-level problems (page
// unreachable) surface as Go errors instead.
type LoginResult struct {
	Success bool
	Error   string
}

// formShape is the detected layout of the login page.
type formShape struct {
	hasPassword      bool
	usernameSelector string
	passwordSelector string
	submitSelector   string
	ssoSelector      string
}

// detectFormScript inspects the current document for a traditional
// username/password form or an SSO entry point, returning stable selectors
// for whichever elements it found.
const detectFormScript = `(() => {
	const sel = (el) => {
		if (!el) return '';
		if (el.id) return '#' + CSS.escape(el.id);
		const name = el.getAttribute('name');
		if (name) return el.tagName.toLowerCase() + '[name="' + name + '"]';
		const type = el.getAttribute('type');
		if (type) return el.tagName.toLowerCase() + '[type="' + type + '"]';
		return el.tagName.toLowerCase();
	};
	const password = document.querySelector('input[type="password"]');
	const username = document.querySelector(
		'input[autocomplete="username"], input[type="email"], input[name*="user" i], input[name*="email" i], input[type="text"]');
	const form = password ? password.closest('form') : null;
	const submit = form
		? form.querySelector('button[type="submit"], input[type="submit"], button')
		: document.querySelector('button[type="submit"], input[type="submit"]');
	const sso = document.querySelector(
		'a[href*="oauth" i], a[href*="saml" i], a[href*="sso" i], button[data-provider], [data-testid*="sso" i]');
	return {
		hasPassword: !!password,
		username: sel(username),
		password: sel(password),
		submit: sel(submit),
		sso: sel(sso),
	};
})()`

// loginSucceededScript distinguishes an accepted login from a re-rendered
// login form: success means the password field is gone.
const loginSucceededScript = `(() => !document.querySelector('input[type="password"]'))()`

// Login drives a controllable page through an authentication flow: navigate
// to the credential's URL, detect the login form's shape (traditional form
// vs SSO), and submit via the detected strategy.
//
// A nil page is a programming error and fails fast. A pre-login navigation
// failure is returned as a Go error; a rejected submission is returned as a
// LoginResult with Success=false.
func Login(ctx context.Context, pg page.Page, cred types.Credential) (*LoginResult, error) {
	if pg == nil {
		return nil, fmt.Errorf("login requires a non-nil page; initialize the browser before authenticating")
	}

	navTimeout := cred.Options.NavigationTimeout
	if navTimeout == 0 {
		navTimeout = page.DefaultTimeout
	}
	if err := pg.Navigate(ctx, cred.URL, page.NavigateOptions{Timeout: navTimeout}); err != nil {
		return nil, fmt.Errorf("login page unreachable: %w", err)
	}

	shape, err := detectForm(ctx, pg)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect login page: %w", err)
	}

	switch {
	case shape.hasPassword:
		return submitForm(ctx, pg, cred, shape)
	case shape.ssoSelector != "":
		return submitSSO(ctx, pg, cred, shape)
	default:
		return &LoginResult{Success: false, Error: "no login form or SSO entry point found"}, nil
	}
}

func detectForm(ctx context.Context, pg page.Page) (*formShape, error) {
	result, err := pg.Evaluate(ctx, detectFormScript)
	if err != nil {
		return nil, err
	}
	raw, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("form detection returned unexpected shape %T", result)
	}

	shape := &formShape{}
	shape.hasPassword, _ = raw["hasPassword"].(bool)
	shape.usernameSelector, _ = raw["username"].(string)
	shape.passwordSelector, _ = raw["password"].(string)
	shape.submitSelector, _ = raw["submit"].(string)
	shape.ssoSelector, _ = raw["sso"].(string)
	return shape, nil
}

// submitForm fills and submits a traditional username/password form.
func submitForm(ctx context.Context, pg page.Page, cred types.Credential, shape *formShape) (*LoginResult, error) {
	if shape.usernameSelector != "" {
		if err := pg.Fill(ctx, shape.usernameSelector, loginIdentity(cred), page.ActionOptions{}); err != nil {
			return &LoginResult{Success: false, Error: fmt.Sprintf("could not fill username field: %v", err)}, nil
		}
	}
	if err := pg.Fill(ctx, shape.passwordSelector, cred.Password, page.ActionOptions{}); err != nil {
		return &LoginResult{Success: false, Error: fmt.Sprintf("could not fill password field: %v", err)}, nil
	}

	if shape.submitSelector != "" {
		if err := pg.Click(ctx, shape.submitSelector, page.ActionOptions{}); err != nil {
			return &LoginResult{Success: false, Error: fmt.Sprintf("could not submit login form: %v", err)}, nil
		}
	} else if err := pg.Press(ctx, shape.passwordSelector, "Enter", page.ActionOptions{}); err != nil {
		return &LoginResult{Success: false, Error: fmt.Sprintf("could not submit login form: %v", err)}, nil
	}

	return awaitOutcome(ctx, pg, cred)
}

// submitSSO clicks through to the identity provider and waits for the
// redirect chain to land back authenticated.
func submitSSO(ctx context.Context, pg page.Page, cred types.Credential, shape *formShape) (*LoginResult, error) {
	if err := pg.Click(ctx, shape.ssoSelector, page.ActionOptions{}); err != nil {
		return &LoginResult{Success: false, Error: fmt.Sprintf("could not start sso flow: %v", err)}, nil
	}
	return awaitOutcome(ctx, pg, cred)
}

// awaitOutcome polls the page until the login form disappears or the submit
// timeout elapses.
func awaitOutcome(ctx context.Context, pg page.Page, cred types.Credential) (*LoginResult, error) {
	timeout := cred.Options.SubmitTimeout
	if timeout == 0 {
		timeout = page.DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		result, err := pg.Evaluate(ctx, loginSucceededScript)
		if err == nil {
			if ok, _ := result.(bool); ok {
				return &LoginResult{Success: true}, nil
			}
		}
		// Transient evaluate errors during the redirect chain are expected;
		// keep polling until the deadline.

		if time.Now().After(deadline) {
			return &LoginResult{Success: false, Error: "authentication was not accepted before the timeout"}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// loginIdentity is the value typed into the username field; tenant-qualified
// targets prefix the tenant the way multi-tenant login pages expect.
func loginIdentity(cred types.Credential) string {
	if cred.Tenant != "" && !strings.Contains(cred.Username, "\\") {
		return cred.Tenant + "\\" + cred.Username
	}
	return cred.Username
}
