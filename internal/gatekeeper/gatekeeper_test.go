package gatekeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRestrictedSchemes(t *testing.T) {
	t.Parallel()

	allowList := []string{"ftp://a.com", "file://", "https://a.com"}
	testCases := []struct {
		name      string
		url       string
		allowList []string
		want      bool
	}{
		{"http without allow-list", "http://example.com", nil, false},
		{"https without allow-list", "https://example.com/path?q=1", nil, false},
		{"uppercase scheme", "HTTPS://example.com", nil, false},
		{"ftp", "ftp://example.com", nil, true},
		{"file", "file:///etc/passwd", nil, true},
		{"javascript", "javascript:alert(1)", nil, true},
		{"no scheme", "example.com", nil, true},
		{"empty", "", nil, true},
		{"unbalanced host bracket", "http://[::1", nil, false},
		{"bare percent", "https://a.com/50%off", nil, false},
		{"invalid escape", "http://a.com/%zz", nil, false},
		{"invalid escape matching allow-list", "https://a.com/%zz", allowList, false},
		{"scheme with padding", " https://example.com", nil, false},
		{"lookalike scheme", "httpx://example.com", nil, true},
		{"ftp matching allow-list", "ftp://a.com/x", allowList, true},
		{"file matching allow-list", "file:///tmp", allowList, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsRestricted(tc.url, tc.allowList))
		})
	}
}

func TestIsRestrictedAllowList(t *testing.T) {
	t.Parallel()

	allowList := []string{"https://a.com", "https://b.com"}

	assert.False(t, IsRestricted("https://a.com/x", allowList))
	assert.False(t, IsRestricted("https://b.com", allowList))
	assert.True(t, IsRestricted("https://c.com", allowList))
	assert.True(t, IsRestricted("ftp://a.com", allowList))
	assert.True(t, IsRestricted("http://a.com", allowList), "prefix comparison includes the scheme")
	assert.True(t, IsRestricted("https://A.com/x", allowList), "prefix comparison is case-sensitive")
	assert.False(t, IsRestricted("https://a.com/x", []string{}), "empty allow-list permits all web URLs")
}

func FuzzIsRestrictedNonWebSchemes(f *testing.F) {
	for _, seed := range []string{"ftp://a.com", "mailto:x@y", "data:text/html,hi", "ws://a.com"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, candidate string) {
		if hasWebScheme(candidate) {
			return
		}
		if !IsRestricted(candidate, []string{""}) {
			t.Errorf("IsRestricted(%q) permitted a non-web URL", candidate)
		}
	})
}
