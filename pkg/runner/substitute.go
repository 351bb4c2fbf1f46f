package runner

import (
	"strings"

	"github.com/entrhq/reprise/pkg/types"
)

// redactedValue replaces secret variable values in log output.
const redactedValue = "***"

// substitute expands {{name}} tokens in value from the given variables. It
// returns both the applied value sent to the page and a loggable form where
// secret variables are redacted. Unknown tokens are left in place.
func substitute(value string, vars []types.Variable) (applied, logged string) {
	applied, logged = value, value
	for _, v := range vars {
		token := "{{" + v.Name + "}}"
		if !strings.Contains(applied, token) {
			continue
		}
		applied = strings.ReplaceAll(applied, token, v.Value)
		if v.Secret {
			logged = strings.ReplaceAll(logged, token, redactedValue)
		} else {
			logged = strings.ReplaceAll(logged, token, v.Value)
		}
	}
	return applied, logged
}

// mergeVariables overlays overrides on top of base by name. Overrides win.
func mergeVariables(base, overrides []types.Variable) []types.Variable {
	byName := make(map[string]int, len(base))
	merged := append([]types.Variable(nil), base...)
	for i, v := range merged {
		byName[v.Name] = i
	}
	for _, v := range overrides {
		if i, ok := byName[v.Name]; ok {
			merged[i] = v
			continue
		}
		byName[v.Name] = len(merged)
		merged = append(merged, v)
	}
	return merged
}

// variableValue returns the value of a named variable, or "" when unset.
func variableValue(vars []types.Variable, name string) string {
	for _, v := range vars {
		if v.Name == name {
			return v.Value
		}
	}
	return ""
}
