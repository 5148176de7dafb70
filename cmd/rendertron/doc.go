// Package main hosts the rendertron entrypoint.
//
// Architecture overview:
//   - Browser: internal/browser launches one headless Chrome with remote debugging on an OS-assigned port and
//     records the port in the runtime settings store before the listener opens.
//   - HTTP API: internal/api serves /render/*, /screenshot/*, /params/* and /_ah/health on a chi router with
//     transparent compression. Each render request is checked by internal/gatekeeper against the renderOnly
//     allow-list and then handed to internal/render, which opens a fresh DevTools tab for that request only.
//   - Screenshots: captured PNGs pass through the configured blob store (memory/local/GCS) before being served.
//   - Failures: unexpected render errors are counted by internal/failure. Once the count passes the threshold the
//     browser is killed and the process exits with status 1 so the platform restarts it.
//   - Configuration & plumbing: Viper reads config.json next to the executable (or --config) plus RENDERTRON_*
//     env vars and PORT; zap provides structured logging; Prometheus metrics are exported on /metrics.
//
// Quick checklist:
//   - Run locally: go run ./cmd/rendertron (or ./cmd/rendertron serve --config ./config.json).
//   - Point at a specific browser with CHROME_PATH or RENDERTRON_BROWSER_EXEC_PATH.
//   - Inspect the effective configuration with ./cmd/rendertron config.
package main
