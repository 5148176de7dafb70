package render

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/rendertron/internal/storage/memory"
)

type staticConn struct {
	host string
	port int
	path string
}

func (c staticConn) Connection() (string, int, string) { return c.host, c.port, c.path }

type sequenceIDs struct {
	ids []string
	err error
}

func (s *sequenceIDs) NewID() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, nil
}

func newTestRenderer(t *testing.T, cfg Config, conn ConnectionSource) (*Renderer, *memory.BlobStore) {
	t.Helper()
	blobs := memory.NewBlobStore()
	r, err := New(cfg, conn, blobs, &sequenceIDs{ids: []string{"shot-1", "shot-2"}}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r, blobs
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	ids := &sequenceIDs{}
	conn := staticConn{}

	_, err := New(Config{}, nil, blobs, ids, nil)
	require.ErrorContains(t, err, "connection source")
	_, err = New(Config{}, conn, nil, ids, nil)
	require.ErrorContains(t, err, "blob store")
	_, err = New(Config{}, conn, blobs, nil, nil)
	require.ErrorContains(t, err, "id generator")
	_, err = New(Config{MaxParallel: -1}, conn, blobs, ids, nil)
	require.ErrorContains(t, err, "max parallel")

	r, err := New(Config{MaxParallel: 3}, conn, blobs, ids, nil)
	require.NoError(t, err)
	require.Equal(t, 3, cap(r.sem))
}

func TestRenderWithoutBrowser(t *testing.T) {
	t.Parallel()

	r, _ := newTestRenderer(t, Config{}, staticConn{})

	_, err := r.Render(context.Background(), Request{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrNoBrowser)

	_, err = r.Screenshot(context.Background(), Request{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrNoBrowser)
}

func TestDebuggerURL(t *testing.T) {
	t.Parallel()

	r, _ := newTestRenderer(t, Config{}, staticConn{host: "localhost", port: 9222})
	got, err := r.debuggerURL()
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:9222", got)

	r, _ = newTestRenderer(t, Config{}, staticConn{port: 9222})
	got, err = r.debuggerURL()
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:9222", got)

	r, _ = newTestRenderer(t, Config{}, staticConn{host: "::1", port: 9222})
	got, err = r.debuggerURL()
	require.NoError(t, err)
	require.Equal(t, "ws://[::1]:9222", got)

	r, _ = newTestRenderer(t, Config{}, staticConn{host: "localhost", port: 9222, path: "/devtools/browser/abc"})
	got, err = r.debuggerURL()
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:9222/devtools/browser/abc", got)

	r, _ = newTestRenderer(t, Config{}, staticConn{port: 9222, path: "devtools/browser/abc"})
	got, err = r.debuggerURL()
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:9222/devtools/browser/abc", got)
}

func TestTasksSkipZeroWait(t *testing.T) {
	t.Parallel()

	capture := chromedp.ActionFunc(func(context.Context) error { return nil })
	require.Len(t, tasks(Request{URL: "https://example.com"}, "", capture), 3)
	require.Len(t, tasks(Request{URL: "https://example.com", Wait: time.Second}, "", capture), 4)

	withUA := tasks(Request{URL: "https://example.com"}, "rendertron-test/1.0", capture)
	require.Len(t, withUA, 4)
	override, ok := withUA[0].(*emulation.SetUserAgentOverrideParams)
	require.True(t, ok)
	require.Equal(t, "rendertron-test/1.0", override.UserAgent)
}

func TestPersistDeletesUnlessRetained(t *testing.T) {
	t.Parallel()

	r, blobs := newTestRenderer(t, Config{Prefix: "screenshots"}, staticConn{})
	data, err := r.persist(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), data)
	require.Zero(t, blobs.Len())

	r, blobs = newTestRenderer(t, Config{Prefix: "screenshots", Retain: true}, staticConn{})
	_, err = r.persist(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, 1, blobs.Len())
	stored, err := blobs.GetObject(context.Background(), "screenshots/shot-1.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), stored)
}

func TestPersistIDFailure(t *testing.T) {
	t.Parallel()

	r, err := New(Config{}, staticConn{}, memory.NewBlobStore(), &sequenceIDs{err: errors.New("entropy")}, nil)
	require.NoError(t, err)
	_, err = r.persist(context.Background(), []byte("png"))
	require.ErrorContains(t, err, "name screenshot")
}

func TestAcquireSlotHonorsContext(t *testing.T) {
	t.Parallel()

	r, _ := newTestRenderer(t, Config{MaxParallel: 1}, staticConn{})
	release, err := r.acquireSlot(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.acquireSlot(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := r.acquireSlot(context.Background())
	require.NoError(t, err)
	release2()
}

func TestWaitDomainBudget(t *testing.T) {
	t.Parallel()

	r, _ := newTestRenderer(t, Config{}, staticConn{})
	require.NoError(t, r.waitDomainBudget(context.Background(), "https://example.com"))

	r, _ = newTestRenderer(t, Config{DomainQPS: 0.01}, staticConn{})
	require.NoError(t, r.waitDomainBudget(context.Background(), "https://example.com/a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, r.waitDomainBudget(ctx, "https://EXAMPLE.com/b"), "same host shares the limiter")
	require.NoError(t, r.waitDomainBudget(context.Background(), "https://other.example/"))
}

// activeSessions reads the open session gauge from the default registry.
func activeSessions(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "rendertron_active_sessions" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func deadPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// Not parallel: it reads the process-wide session gauge.
func TestSessionsClosedWhenBrowserUnreachable(t *testing.T) {
	bogus := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Browser": "not-chrome"}`))
	}))
	defer bogus.Close()
	bogusURL, err := url.Parse(bogus.URL)
	require.NoError(t, err)
	bogusPort, err := strconv.Atoi(bogusURL.Port())
	require.NoError(t, err)

	testCases := []struct {
		name string
		conn staticConn
	}{
		{"refused with debugger path", staticConn{host: "127.0.0.1", port: deadPort(t), path: "/devtools/browser/gone"}},
		{"refused without debugger path", staticConn{host: "127.0.0.1", port: deadPort(t)}},
		{"bogus version endpoint", staticConn{host: "127.0.0.1", port: bogusPort}},
	}

	before := activeSessions(t)
	for _, tc := range testCases {
		r, blobs := newTestRenderer(t, Config{}, tc.conn)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

		_, err := r.Render(ctx, Request{URL: "https://example.com"})
		require.Error(t, err, tc.name)
		require.NotErrorIs(t, err, ErrNoBrowser, tc.name)
		require.Equal(t, before, activeSessions(t), "%s: render session left open", tc.name)

		_, err = r.Screenshot(ctx, Request{URL: "https://example.com"})
		require.Error(t, err, tc.name)
		require.Equal(t, before, activeSessions(t), "%s: screenshot session left open", tc.name)
		require.Zero(t, blobs.Len(), tc.name)
		cancel()
	}
}
