// Package server builds the render service's dependencies and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/rendertron/internal/api"
	"github.com/JakeFAU/rendertron/internal/browser"
	"github.com/JakeFAU/rendertron/internal/clock/system"
	"github.com/JakeFAU/rendertron/internal/config"
	"github.com/JakeFAU/rendertron/internal/failure"
	"github.com/JakeFAU/rendertron/internal/id/uuid"
	"github.com/JakeFAU/rendertron/internal/logging"
	"github.com/JakeFAU/rendertron/internal/render"
	"github.com/JakeFAU/rendertron/internal/storage"
	gcsstorage "github.com/JakeFAU/rendertron/internal/storage/gcs"
	localstorage "github.com/JakeFAU/rendertron/internal/storage/local"
	memorystorage "github.com/JakeFAU/rendertron/internal/storage/memory"
	"github.com/JakeFAU/rendertron/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// browserHost is where render sessions reach the launched browser.
const browserHost = "localhost"

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	store          *config.Store
	renderer       *render.Renderer
	escalator      *failure.Escalator
	apiServer      *api.Server
	gcs            *gcsclient.Client
	tracerShutdown func(context.Context) error
	metricShutdown func(context.Context) error
}

// Build creates the application's dependencies. The browser is not started
// until Run.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, os.Exit)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, exit func(int)) (*App, error) {
	app := &App{
		cfg:    cfg,
		logger: logger,
		store:  config.NewStore(cfg.Settings()),
	}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("config_file", cfg.Source),
		zap.Strings("render_only", cfg.RenderOnly),
		zap.Bool("debug", cfg.Debug),
	)

	tp, mp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.metricShutdown = mp.Shutdown

	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}

	app.renderer, err = render.New(render.Config{
		MaxParallel:       cfg.Render.MaxParallel,
		DomainQPS:         cfg.Render.DomainQPS,
		NavigationTimeout: cfg.Render.NavigationTimeout,
		UserAgent:         cfg.Render.UserAgent,
		Prefix:            cfg.Storage.Prefix,
		Retain:            cfg.Storage.Retain,
	}, app.store, blobs, uuid.New(), logger.Named("render"))
	if err != nil {
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}

	app.escalator = failure.New(cfg.Failure.Threshold, app.store.Stop, exit, logger.Named("failure"))
	app.apiServer = api.NewServer(app.store, app.renderer, app.escalator, system.New(), logger.Named("api"))
	return app, nil
}

func (a *App) setupStorage(ctx context.Context) (storage.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS screenshot storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		var opts []option.ClientOption
		if a.cfg.Storage.GCSEndpoint != "" {
			opts = append(opts, option.WithEndpoint(a.cfg.Storage.GCSEndpoint), option.WithoutAuthentication())
		}
		client, err := gcsclient.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendLocal:
		a.logger.Info("using local screenshot storage", zap.String("path", a.cfg.Storage.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Debug("using in-memory screenshot storage")
		return memorystorage.NewBlobStore(), nil
	}
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Store returns the runtime settings store.
func (a *App) Store() *config.Store {
	return a.store
}

// Run launches the browser, serves HTTP until ctx is canceled or SIGINT/SIGTERM
// arrives, then drains requests and stops the browser.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.startBrowser(ctx); err != nil {
		a.logger.Error("browser launch failed", zap.Error(err))
		a.Close(context.Background())
		return err
	}

	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		a.Close(context.Background())
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) startBrowser(ctx context.Context) error {
	proc, err := browser.Launch(ctx, browser.Config{
		ExecPath:       a.cfg.Browser.ExecPath,
		Flags:          a.cfg.Browser.Flags,
		StartupTimeout: a.cfg.Browser.StartupTimeout,
	}, a.logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	a.store.SetConnection(proc, browserHost, proc.Port(), proc.WebSocketPath())
	a.logger.Info("browser ready",
		zap.Int("pid", proc.Pid()),
		zap.String("host", browserHost),
		zap.Int("port", proc.Port()),
		zap.String("debugger_path", proc.WebSocketPath()),
	)

	go func() {
		select {
		case <-proc.Done():
			if ctx.Err() == nil {
				a.logger.Error("browser exited unexpectedly")
			}
		case <-ctx.Done():
		}
	}()
	return nil
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}

// Close stops the browser and flushes telemetry. Safe to call more than once.
func (a *App) Close(ctx context.Context) {
	if err := a.store.Stop(); err != nil {
		a.logger.Warn("browser stop failed", zap.Error(err))
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	if a.metricShutdown != nil {
		if err := a.metricShutdown(ctx); err != nil {
			a.logger.Warn("metric shutdown failed", zap.Error(err))
		}
		a.metricShutdown = nil
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}
