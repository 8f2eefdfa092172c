package docker

import (
	"path/filepath"
	"regexp"
	"strings"
)

func absOr(p, fallback string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return fallback
}

// secretArgKeys are build-arg names redacted whole; any key containing one
// of secretArgMarkers is redacted too.
var (
	secretArgKeys = map[string]bool{
		"DOCKER_AUTH_CONFIG":             true,
		"AWS_SECRET_ACCESS_KEY":          true,
		"GOOGLE_APPLICATION_CREDENTIALS": true,
		"KUBECONFIG":                     true,
	}
	secretArgMarkers = []string{"PASSWORD", "TOKEN", "SECRET", "CREDENTIAL"}
)

func isSecretArg(key string) bool {
	key = strings.ToUpper(key)
	if secretArgKeys[key] {
		return true
	}
	for _, m := range secretArgMarkers {
		if strings.Contains(key, m) {
			return true
		}
	}
	return false
}

// redactBuildArgs returns a copy of argv with secret --build-arg values masked.
func redactBuildArgs(argv []string) []string {
	out := append([]string(nil), argv...)
	for i := 1; i < len(out); i++ {
		if out[i-1] != "--build-arg" {
			continue
		}
		key, val, ok := strings.Cut(out[i], "=")
		if ok && key != "" && val != "" && isSecretArg(key) {
			out[i] = key + "=REDACTED"
		}
	}
	return out
}

// tagPattern is the registry tag grammar restricted to lower case.
var tagPattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9_.-]{0,127}$`)

func validateTag(tag string) bool {
	return tagPattern.MatchString(tag)
}

// dedupRefs drops repeated refs, keeping first occurrences in order.
func dedupRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
