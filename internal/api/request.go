package api

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/rendertron/internal/render"
)

func parseRenderRequest(target string, query url.Values) render.Request {
	return render.Request{
		URL:    target,
		Scroll: leadingInt(query.Get("scroll")),
		Wait:   millis(leadingInt(query.Get("wait"))),
	}
}

// maxWaitMillis is the largest wait that still fits in a time.Duration.
const maxWaitMillis = math.MaxInt64 / int64(time.Millisecond)

func millis(n int) time.Duration {
	ms := min(int64(n), maxWaitMillis)
	return time.Duration(ms) * time.Millisecond
}

// leadingInt parses the integer prefix of s, so "120px" yields 120. Missing,
// malformed, negative or overflowing values yield 0.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
