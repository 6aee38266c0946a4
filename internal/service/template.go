package service

import "strings"

// RenderTemplate substitutes {{name}} placeholders in tpl from a flat
// string map. Unknown placeholders are left untouched; no code execution.
func RenderTemplate(tpl string, data map[string]string) string {
	if len(data) == 0 || !strings.Contains(tpl, "{{") {
		return tpl
	}
	out := tpl
	for key, value := range data {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}
