package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/reprise/pkg/page"
	"github.com/entrhq/reprise/pkg/types"
)

// Suggester proposes a selector for a captured element, typically backed by
// an external AI service. Used only by the "ai" strategy.
type Suggester interface {
	Suggest(ctx context.Context, detail map[string]any) (string, error)
}

// buildSelector turns the element attributes gathered at capture time into
// a selector using the configured strategy. The hybrid strategy consults the
// live page to prefer a unique selector; fallback permits a less specific
// one rather than dropping the action.
func buildSelector(ctx context.Context, pg page.Page, strategy types.SelectorStrategy, allowFallback bool, suggester Suggester, detail map[string]any) (string, error) {
	switch strategy {
	case types.StrategyCSS:
		return cssSelector(detail), nil
	case types.StrategyXPath:
		if xp := detailString(detail, "xpath"); xp != "" {
			return "xpath=" + xp, nil
		}
		return "", types.NewError(types.CodeSelectorResolution, "element has no xpath")
	case types.StrategyText:
		if text := detailString(detail, "text"); text != "" {
			return "text=" + text, nil
		}
		return "", types.NewError(types.CodeSelectorResolution, "element has no visible text")
	case types.StrategyAI:
		if suggester != nil {
			if selector, err := suggester.Suggest(ctx, detail); err == nil && selector != "" {
				return selector, nil
			}
		}
		// No suggester or suggestion failed: degrade to hybrid.
		return hybridSelector(ctx, pg, allowFallback, detail)
	case types.StrategyHybrid, "":
		return hybridSelector(ctx, pg, allowFallback, detail)
	default:
		return "", fmt.Errorf("unknown selector strategy %q", strategy)
	}
}

// cssSelector builds a plain CSS selector without uniqueness guarantees.
func cssSelector(detail map[string]any) string {
	if id := detailString(detail, "id"); id != "" {
		return "#" + id
	}
	tag := detailString(detail, "tag")
	if tag == "" {
		tag = "*"
	}
	if classes := classList(detail); len(classes) > 0 {
		return tag + "." + strings.Join(classes, ".")
	}
	return tag
}

// hybridSelector tries a priority list (id, test id, name, role, class) and
// keeps the first candidate that matches exactly one element on the live
// page. With fallback enabled, the most specific non-empty candidate is
// used even when no candidate is unique.
func hybridSelector(ctx context.Context, pg page.Page, allowFallback bool, detail map[string]any) (string, error) {
	tag := detailString(detail, "tag")

	var candidates []string
	if id := detailString(detail, "id"); id != "" {
		candidates = append(candidates, "#"+id)
	}
	if testID := detailString(detail, "testId"); testID != "" {
		candidates = append(candidates, fmt.Sprintf(`[data-testid=%q]`, testID))
	}
	if name := detailString(detail, "name"); name != "" {
		candidates = append(candidates, fmt.Sprintf(`%s[name=%q]`, tag, name))
	}
	if role := detailString(detail, "role"); role != "" {
		candidates = append(candidates, fmt.Sprintf(`%s[role=%q]`, tag, role))
	}
	if classes := classList(detail); len(classes) > 0 && tag != "" {
		candidates = append(candidates, tag+"."+strings.Join(classes, "."))
	}

	for _, candidate := range candidates {
		count, err := pg.QueryCount(ctx, candidate)
		if err != nil {
			continue
		}
		if count == 1 {
			return candidate, nil
		}
	}

	if allowFallback {
		for _, candidate := range candidates {
			if count, err := pg.QueryCount(ctx, candidate); err == nil && count > 0 {
				return candidate, nil
			}
		}
		if tag != "" {
			return tag, nil
		}
	}
	return "", types.NewError(types.CodeSelectorResolution, "no unique selector found for <%s>", tag)
}

func detailString(detail map[string]any, key string) string {
	if detail == nil {
		return ""
	}
	s, _ := detail[key].(string)
	return strings.TrimSpace(s)
}

func classList(detail map[string]any) []string {
	raw := detailString(detail, "classes")
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}
