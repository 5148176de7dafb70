// Package render drives one DevTools session per request against the
// already-running browser to produce rendered HTML or PNG screenshots.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/rendertron/internal/policy/ratelimit"
	"github.com/JakeFAU/rendertron/internal/storage"
	"github.com/JakeFAU/rendertron/internal/telemetry"
)

// ErrNoBrowser is returned when no browser connection has been recorded yet.
var ErrNoBrowser = errors.New("browser connection not available")

// Config bounds render sessions. Zero values disable the corresponding limit.
type Config struct {
	MaxParallel       int
	DomainQPS         float64
	NavigationTimeout time.Duration
	// UserAgent overrides the browser's user agent when set.
	UserAgent string
	// Prefix is prepended to screenshot object keys.
	Prefix string
	// Retain keeps screenshots in the blob store after they are served.
	Retain bool
}

// ConnectionSource reports where the browser's debugging endpoint listens.
// An empty path makes chromedp look the endpoint up via /json/version.
type ConnectionSource interface {
	Connection() (host string, port int, path string)
}

// IDGenerator names persisted screenshots.
type IDGenerator interface {
	NewID() (string, error)
}

// Request describes one render.
type Request struct {
	URL    string
	Scroll int
	Wait   time.Duration
}

// Renderer opens a fresh session for every call; nothing is pooled.
type Renderer struct {
	cfg     Config
	conn    ConnectionSource
	blobs   storage.BlobStore
	ids     IDGenerator
	logger  *zap.Logger
	sem     chan struct{}
	limiter *ratelimit.Limiter
}

// New constructs a Renderer.
func New(cfg Config, conn ConnectionSource, blobs storage.BlobStore, ids IDGenerator, logger *zap.Logger) (*Renderer, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection source is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Renderer{
		cfg:    cfg,
		conn:   conn,
		blobs:  blobs,
		ids:    ids,
		logger: logger,
	}
	if cfg.MaxParallel > 0 {
		r.sem = make(chan struct{}, cfg.MaxParallel)
	}
	if cfg.DomainQPS > 0 {
		r.limiter = ratelimit.New(ratelimit.Config{RPS: cfg.DomainQPS, Burst: 1})
	}
	return r, nil
}

// Render returns the serialized document after navigation, scroll and wait.
func (r *Renderer) Render(ctx context.Context, req Request) (string, error) {
	var html string
	if err := r.run(ctx, telemetry.KindHTML, req, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Screenshot captures the viewport as PNG, persists it to the blob store and
// returns the bytes read back from there.
func (r *Renderer) Screenshot(ctx context.Context, req Request) ([]byte, error) {
	var shot []byte
	if err := r.run(ctx, telemetry.KindScreenshot, req, chromedp.CaptureScreenshot(&shot)); err != nil {
		return nil, err
	}
	return r.persist(ctx, shot)
}

func (r *Renderer) run(ctx context.Context, kind string, req Request, capture chromedp.Action) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "render."+kind, trace.WithAttributes(
		attribute.String("url.full", req.URL),
		attribute.Int("render.scroll", req.Scroll),
		attribute.Int64("render.wait_ms", req.Wait.Milliseconds()),
	))
	start := time.Now()
	defer func() {
		telemetry.ObserveRender(kind, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	release, err := r.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := r.waitDomainBudget(ctx, req.URL); err != nil {
		return fmt.Errorf("render rate limit: %w", err)
	}

	sessionCtx, closeSession, err := r.openSession(ctx)
	if err != nil {
		return err
	}
	defer closeSession()

	if r.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		sessionCtx, cancel = context.WithTimeout(sessionCtx, r.cfg.NavigationTimeout)
		defer cancel()
	}

	if err := chromedp.Run(sessionCtx, tasks(req, r.cfg.UserAgent, capture)); err != nil {
		return fmt.Errorf("%s %s: %w", kind, req.URL, err)
	}
	return nil
}

// openSession attaches a new tab to the running browser. The returned func
// closes the tab and the DevTools connection and must always be called.
func (r *Renderer) openSession(ctx context.Context) (context.Context, func(), error) {
	wsURL, err := r.debuggerURL()
	if err != nil {
		return nil, nil, err
	}
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, wsURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	telemetry.SessionOpened()
	return tabCtx, func() {
		tabCancel()
		allocCancel()
		telemetry.SessionClosed()
	}, nil
}

func (r *Renderer) debuggerURL() (string, error) {
	host, port, wsPath := r.conn.Connection()
	if port <= 0 {
		return "", ErrNoBrowser
	}
	if host == "" {
		host = "localhost"
	}
	if wsPath != "" && !strings.HasPrefix(wsPath, "/") {
		wsPath = "/" + wsPath
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + wsPath, nil
}

func tasks(req Request, userAgent string, capture chromedp.Action) chromedp.Tasks {
	var t chromedp.Tasks
	if userAgent != "" {
		t = append(t, emulation.SetUserAgentOverride(userAgent))
	}
	t = append(t,
		chromedp.Navigate(req.URL),
		chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", req.Scroll), nil),
	)
	if req.Wait > 0 {
		t = append(t, chromedp.Sleep(req.Wait))
	}
	return append(t, capture)
}

func (r *Renderer) persist(ctx context.Context, shot []byte) ([]byte, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("name screenshot: %w", err)
	}
	key := path.Join(r.cfg.Prefix, id+".png")
	uri, err := r.blobs.PutObject(ctx, key, "image/png", bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("persist screenshot: %w", err)
	}
	data, err := r.blobs.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read back screenshot %s: %w", uri, err)
	}
	if r.cfg.Retain {
		r.logger.Debug("screenshot retained", zap.String("uri", uri))
		return data, nil
	}
	if err := r.blobs.DeleteObject(ctx, key); err != nil {
		r.logger.Warn("screenshot cleanup failed", zap.String("uri", uri), zap.Error(err))
	}
	return data, nil
}

func (r *Renderer) acquireSlot(ctx context.Context) (func(), error) {
	if r.sem == nil {
		return func() {}, nil
	}
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (r *Renderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx, rawURL)
}
