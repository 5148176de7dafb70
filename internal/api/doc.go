// Package api hosts the HTTP surface of the render service:
//   - GET /render/* returns the rendered HTML of the target URL.
//   - GET /screenshot/* returns a PNG of the target URL.
//   - GET /params/* echoes the parsed target and query (diagnostics).
//   - GET /_ah/health is the liveness probe.
//   - GET /metrics exposes Prometheus collectors.
//
// Targets are gated by the configured allow-list before any browser work is
// done, and unexpected failures are reported to a FailureRecorder.
package api
