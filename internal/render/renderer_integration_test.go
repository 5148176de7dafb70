package render_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/rendertron/internal/browser"
	"github.com/JakeFAU/rendertron/internal/config"
	"github.com/JakeFAU/rendertron/internal/id/uuid"
	"github.com/JakeFAU/rendertron/internal/render"
	"github.com/JakeFAU/rendertron/internal/storage/memory"
)

const page = `<!doctype html><html><head><title>t</title></head><body style="height:4000px">
<div id="static">static</div>
<script>document.body.insertAdjacentHTML("beforeend", '<div id="dynamic">from-js</div>');
window.addEventListener("scroll", function () { document.body.setAttribute("data-scroll-y", String(window.scrollY)); });</script>
</body></html>`

// TestRenderAgainstRealBrowser runs only when a Chrome binary is on PATH.
func TestRenderAgainstRealBrowser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	logger := zaptest.NewLogger(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	proc, err := browser.Launch(ctx, browser.Config{
		Flags:          []string{"--no-sandbox"},
		StartupTimeout: 20 * time.Second,
	}, logger)
	if errors.Is(err, browser.ErrNotFound) {
		t.Skip("chrome not installed")
	}
	require.NoError(t, err)

	store := config.NewStore(config.Settings{})
	store.SetConnection(proc, "localhost", proc.Port(), proc.WebSocketPath())
	t.Cleanup(func() { require.NoError(t, store.Stop()) })

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer site.Close()

	blobs := memory.NewBlobStore()
	r, err := render.New(render.Config{Prefix: "screenshots"}, store, blobs, uuid.New(), logger)
	require.NoError(t, err)

	req := render.Request{URL: site.URL, Scroll: 200, Wait: 250 * time.Millisecond}

	html, err := r.Render(ctx, req)
	require.NoError(t, err)
	require.Contains(t, html, "from-js")
	require.Contains(t, html, `id="static"`)
	require.Contains(t, html, `data-scroll-y="200"`, "scroll is applied before capture")

	shot, err := r.Screenshot(ctx, req)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(shot, []byte("\x89PNG")), "expected PNG signature")
	require.Zero(t, blobs.Len(), "screenshot removed after read back")
}
