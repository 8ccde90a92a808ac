package dispatch

import (
	"regexp"
	"strings"
)

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Render substitutes {{variable}} placeholders with values. Unknown
// variables are left in place so broken personalization is visible instead
// of silently blank.
func Render(template string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		varName := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := vars[varName]; ok {
			return value
		}
		return match
	})
}

// RecipientVars builds the per-recipient substitution map.
func RecipientVars(name, address string) map[string]string {
	return map[string]string{
		"customer_name": name,
		"name":          name,
		"address":       address,
	}
}
