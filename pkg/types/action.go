package types

import (
	"time"

	"github.com/google/uuid"
)

// ActionType identifies the kind of browser interaction an Action represents.
type ActionType string

const (
	ActionNavigate   ActionType = "navigate"   // ActionNavigate loads a URL in the page.
	ActionClick      ActionType = "click"      // ActionClick clicks an element.
	ActionInput      ActionType = "type"       // ActionInput types text into an input.
	ActionSelect     ActionType = "select"     // ActionSelect picks an option from a select element.
	ActionScroll     ActionType = "scroll"     // ActionScroll scrolls the page.
	ActionWait       ActionType = "wait"       // ActionWait waits for a selector or duration.
	ActionHover      ActionType = "hover"      // ActionHover hovers over an element.
	ActionKeyPress   ActionType = "keypress"   // ActionKeyPress presses a keyboard key.
	ActionScreenshot ActionType = "screenshot" // ActionScreenshot captures the page image.
	ActionCustom     ActionType = "custom"     // ActionCustom evaluates a custom script.
)

// Coordinates is an absolute page position associated with an Action.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Action is one recorded or replayable browser interaction step.
// Actions are immutable once persisted. Within a single recording the
// Order values are strictly increasing and gapless starting at zero.
type Action struct {
	// ID uniquely identifies this action.
	ID string `json:"id"`

	// WorkflowID is the recording this action belongs to.
	WorkflowID string `json:"workflowId"`

	// Type is the kind of interaction.
	Type ActionType `json:"type"`

	// Selector locates the target element, interpreted per the selector
	// strategy that produced it.
	Selector string `json:"selector,omitempty"`

	// Value is the input text, selected option, key name, or script,
	// depending on Type.
	Value string `json:"value,omitempty"`

	// Coordinates is the page position of the originating event, when known.
	Coordinates *Coordinates `json:"coordinates,omitempty"`

	// WaitFor is an optional selector or duration to wait on before the
	// action is considered complete during replay.
	WaitFor string `json:"waitFor,omitempty"`

	// Timeout bounds the action during replay. Zero means the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Order defines the action's position in the recorded sequence.
	Order int `json:"order"`

	// Dependencies lists IDs of actions that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Metadata carries free-form capture context (screenshot, network
	// snapshot, SSO detour flag, element attributes).
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the action was captured.
	CreatedAt time.Time `json:"createdAt"`
}

// NewAction creates an action with a fresh ID and the given position.
func NewAction(workflowID string, actionType ActionType, order int) Action {
	return Action{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Type:       actionType,
		Order:      order,
		Metadata:   make(map[string]any),
		CreatedAt:  time.Now(),
	}
}

// SelectorStrategy selects how captured elements are turned into selectors.
type SelectorStrategy string

const (
	StrategyCSS    SelectorStrategy = "css"    // StrategyCSS builds plain CSS selectors.
	StrategyXPath  SelectorStrategy = "xpath"  // StrategyXPath uses the element's XPath.
	StrategyText   SelectorStrategy = "text"   // StrategyText matches on visible text.
	StrategyHybrid SelectorStrategy = "hybrid" // StrategyHybrid walks a priority list until a unique selector is found.
	StrategyAI     SelectorStrategy = "ai"     // StrategyAI delegates to an external suggester, falling back to hybrid.
)

// Workflow groups a recorded action sequence with the context needed to
// replay it: whether a login is required, the credential to use, scope
// restrictions, and variables for substitution.
type Workflow struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	RequiresLogin bool               `json:"requiresLogin"`
	Credential    *Credential        `json:"credential,omitempty"`
	Scope         *DomainScopeConfig `json:"scope,omitempty"`
	Variables     []Variable         `json:"variables,omitempty"`
	StartURL      string             `json:"startUrl,omitempty"`
}

// Variable is a named value substituted into action values before replay.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`

	// Secret values are substituted normally but redacted in run logs.
	Secret bool `json:"secret,omitempty"`
}
