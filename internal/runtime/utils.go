package runtime

import "strings"

// firstNonEmpty returns the first value that is not blank, trimmed.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// orNone renders blank summary values as <none>.
func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "<none>"
	}
	return s
}

// check renders a yes/no summary value.
func check(b bool) string {
	if b {
		return "✅"
	}
	return "❌"
}
