package api

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeadingInt(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"0", 0},
		{"42", 42},
		{" 7 ", 7},
		{"120px", 120},
		{"+5", 5},
		{"-5", 0},
		{"abc", 0},
		{"-", 0},
		{"1.9", 1},
		{"99999999999999999999999", 0},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, leadingInt(tc.in), "leadingInt(%q)", tc.in)
	}
}

func TestParseRenderRequest(t *testing.T) {
	t.Parallel()

	req := parseRenderRequest("https://example.com", url.Values{"scroll": {"10"}, "wait": {"250"}})
	assert.Equal(t, "https://example.com", req.URL)
	assert.Equal(t, 10, req.Scroll)
	assert.Equal(t, 250*time.Millisecond, req.Wait)

	req = parseRenderRequest("https://example.com", url.Values{})
	assert.Zero(t, req.Scroll)
	assert.Zero(t, req.Wait)
}

func TestParseRenderRequestClampsHugeWait(t *testing.T) {
	t.Parallel()

	for _, wait := range []string{"9300000000000000", "9223372036854775807", "99999999999999999999"} {
		req := parseRenderRequest("https://example.com", url.Values{"wait": {wait}})
		assert.GreaterOrEqual(t, req.Wait, time.Duration(0), "wait=%s", wait)
	}

	req := parseRenderRequest("https://example.com", url.Values{"wait": {"9300000000000000"}})
	assert.Equal(t, time.Duration(maxWaitMillis)*time.Millisecond, req.Wait)
}
