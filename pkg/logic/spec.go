// Package logic models the compiled rule set a run executes under. The
// natural-language-to-logic compiler is an external collaborator; this
// package only defines the structured Spec it produces and the contract for
// invoking it.
package logic

import (
	"context"

	"github.com/entrhq/reprise/pkg/types"
)

// StepPolicy overrides execution behavior for one action.
type StepPolicy struct {
	// ActionID names the action this policy applies to.
	ActionID string `json:"actionId"`

	// MaxRetries is the step's retry budget. Negative means "use the run
	// default"; zero means no retries.
	MaxRetries int `json:"maxRetries"`

	// ContinueOnError lets the run proceed past this step's terminal
	// failure instead of failing the run.
	ContinueOnError bool `json:"continueOnError"`

	// SkipIf names a variable; the step is skipped when that variable has a
	// non-empty value at run time.
	SkipIf string `json:"skipIf,omitempty"`
}

// Assertion is a post-run check against the final page state.
type Assertion struct {
	// Selector must match at least one element when Exists is true, and
	// none when false.
	Selector string `json:"selector"`
	Exists   bool   `json:"exists"`

	// Message is the human-readable failure description.
	Message string `json:"message,omitempty"`
}

// Spec is a compiled, structured rule set consumed by the run orchestrator.
type Spec struct {
	// DefaultMaxRetries applies to steps without an explicit policy.
	DefaultMaxRetries int `json:"defaultMaxRetries"`

	// Policies are per-step overrides keyed by action ID.
	Policies []StepPolicy `json:"policies,omitempty"`

	// Assertions run after the last step on a successful run.
	Assertions []Assertion `json:"assertions,omitempty"`
}

// PolicyFor returns the effective policy for an action, falling back to the
// spec defaults.
func (s *Spec) PolicyFor(actionID string) StepPolicy {
	fallback := StepPolicy{ActionID: actionID, MaxRetries: 0}
	if s == nil {
		return fallback
	}
	fallback.MaxRetries = s.DefaultMaxRetries
	for _, p := range s.Policies {
		if p.ActionID == actionID {
			if p.MaxRetries < 0 {
				p.MaxRetries = s.DefaultMaxRetries
			}
			return p
		}
	}
	return fallback
}

// Compiler turns free-text rules into a Spec. Implementations are external
// (typically an NL/AI service); the engine only consumes the result.
type Compiler interface {
	Compile(ctx context.Context, naturalLanguageRules string, variables []types.Variable) (*Spec, error)
}

// StaticCompiler ignores the rule text and returns a fixed Spec. Used by
// tests and by callers that already hold a compiled spec.
type StaticCompiler struct {
	Spec *Spec
}

func (c StaticCompiler) Compile(ctx context.Context, _ string, _ []types.Variable) (*Spec, error) {
	if c.Spec != nil {
		return c.Spec, nil
	}
	return &Spec{}, nil
}
