package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/rendertron/internal/gatekeeper"
	"github.com/JakeFAU/rendertron/internal/render"
	"github.com/JakeFAU/rendertron/internal/telemetry"
)

const (
	useTimeHeader  = "UseTime"
	forbiddenBody  = "Render request forbidden, domain excluded"
	renderFailBody = "Render failed"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

type paramsResponse struct {
	URL   string         `json:"url"`
	Query map[string]any `json:"query"`
}

func (s *Server) params(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, paramsResponse{
		URL:   targetParam(r),
		Query: flattenQuery(r.URL.Query()),
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request) {
	target := targetParam(r)
	if s.restricted(w, target, telemetry.KindHTML) {
		return
	}
	req := parseRenderRequest(target, r.URL.Query())

	start := s.clock.Now()
	html, err := s.renderer.Render(r.Context(), req)
	if err != nil {
		s.renderFailed(w, r, target, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set(useTimeHeader, elapsedMillis(s.clock.Since(start)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(html)); err != nil {
		s.logger.Warn("write render response failed", zap.Error(err))
	}
}

func (s *Server) screenshot(w http.ResponseWriter, r *http.Request) {
	target := targetParam(r)
	if s.restricted(w, target, telemetry.KindScreenshot) {
		return
	}
	req := parseRenderRequest(target, r.URL.Query())

	start := s.clock.Now()
	shot, err := s.renderer.Screenshot(r.Context(), req)
	if err != nil {
		s.renderFailed(w, r, target, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(shot)))
	w.Header().Set(useTimeHeader, elapsedMillis(s.clock.Since(start)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(shot); err != nil {
		s.logger.Warn("write screenshot response failed", zap.Error(err))
	}
}

// restricted writes the 403 response when the gatekeeper refuses target.
func (s *Server) restricted(w http.ResponseWriter, target, kind string) bool {
	if !gatekeeper.IsRestricted(target, s.settings.Current().RenderOnly) {
		return false
	}
	telemetry.ObserveRestricted(kind)
	writeText(w, http.StatusForbidden, forbiddenBody)
	return true
}

// renderFailed answers 500 and counts the failure. A client that went away
// is not a failure of this service.
func (s *Server) renderFailed(w http.ResponseWriter, r *http.Request, target string, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		s.logger.Info("client canceled render", zap.String("url", target))
		return
	}
	if errors.Is(err, render.ErrNoBrowser) {
		s.logger.Error("render requested before browser launch", zap.String("url", target))
	}
	if s.failures != nil {
		s.failures.Record(err)
	}
	writeText(w, http.StatusInternalServerError, renderFailBody)
}

// targetParam returns the wildcard path segment, percent-decoded when the
// client escaped it (e.g. /render/https%3A%2F%2Fexample.com).
func targetParam(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return raw
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func flattenQuery(values url.Values) map[string]any {
	query := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 1 {
			query[key] = vals[0]
			continue
		}
		query[key] = vals
	}
	return query
}

func elapsedMillis(elapsed time.Duration) string {
	ms := float64(elapsed.Microseconds()) / 1000
	return strconv.FormatFloat(ms, 'f', 3, 64)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
