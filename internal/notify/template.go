package notify

import (
	"sort"
	"strings"
)

// Vars is the substitution set shared by all channel templates.
type Vars map[string]string

// render substitutes {{key}} markers in tmpl. Markers with no matching
// variable are left untouched.
func render(tmpl string, vars Vars) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// templated returns the rendered template for field when one is configured,
// otherwise the hard-coded fallback.
func templated(templates map[string]string, field string, vars Vars, fallback string) string {
	if tmpl, ok := templates[field]; ok && tmpl != "" {
		return render(tmpl, vars)
	}
	return fallback
}
