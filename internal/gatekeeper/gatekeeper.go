// Package gatekeeper decides which target URLs the service may render.
package gatekeeper

import "strings"

// IsRestricted reports whether candidate must not be rendered. Only http and
// https targets are allowed; when renderOnly is non-empty the candidate must
// also start with one of its prefixes (case-sensitive).
func IsRestricted(candidate string, renderOnly []string) bool {
	if !hasWebScheme(candidate) {
		return true
	}
	if len(renderOnly) == 0 {
		return false
	}
	for _, prefix := range renderOnly {
		if strings.HasPrefix(candidate, prefix) {
			return false
		}
	}
	return true
}

// hasWebScheme looks only at the text before the first colon, so targets
// with malformed escapes later in the URL still count as web URLs.
func hasWebScheme(candidate string) bool {
	scheme, _, found := strings.Cut(strings.TrimSpace(candidate), ":")
	if !found {
		return false
	}
	return strings.EqualFold(scheme, "http") || strings.EqualFold(scheme, "https")
}
