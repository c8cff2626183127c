// Package api exposes analysis and player history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"playprofile/apps/server/internal/analysis"
	"playprofile/apps/server/internal/history"
	"playprofile/eventlog"
	"playprofile/rules"

	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 8 << 20

// Middleware wraps protected handlers, e.g. auth.HTTPHandler.Require.
type Middleware func(http.HandlerFunc) http.HandlerFunc

type HTTPHandler struct {
	analysis *analysis.Service
	catalog  *rules.Catalog
	require  Middleware
	logger   logrus.FieldLogger

	defaultLimit int
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// NewHTTPHandler builds the handler. A nil require leaves routes open.
func NewHTTPHandler(svc *analysis.Service, catalog *rules.Catalog, require Middleware, logger logrus.FieldLogger) *HTTPHandler {
	if require == nil {
		require = func(next http.HandlerFunc) http.HandlerFunc { return next }
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPHandler{analysis: svc, catalog: catalog, require: require, logger: logger, defaultLimit: history.DefaultRecentLimit}
}

// WithRecentLimit sets the report page size used when ?limit= is absent.
func (h *HTTPHandler) WithRecentLimit(n int) *HTTPHandler {
	if n > 0 {
		h.defaultLimit = min(n, history.MaxRecentLimit)
	}
	return h
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions/analyze", h.require(h.handleAnalyze))
	mux.HandleFunc("GET /api/rulesets", h.require(h.handleRulesets))
	mux.HandleFunc("GET /api/players/{player}/reports", h.require(h.handleReports))
	mux.HandleFunc("GET /api/players/{player}/status", h.require(h.handleStatus))
	mux.HandleFunc("GET /api/players/{player}/sessions/{session}/events", h.require(h.handleEvents))
}

func (h *HTTPHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var session eventlog.Session
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&session); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	out, err := h.analysis.Analyze(ctx, session)
	if err != nil {
		kind := analysis.ErrorKind(err)
		status := statusFor(kind)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("session_id", session.SessionID).Error("[API] analyze failed")
			writeError(w, status, "analysis failed", kind)
			return
		}
		writeError(w, status, err.Error(), kind)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func statusFor(kind string) int {
	switch kind {
	case "invalid_session":
		return http.StatusBadRequest
	case "unknown_ruleset", "missing_feature", "rule_missing":
		return http.StatusUnprocessableEntity
	case "duplicate":
		return http.StatusConflict
	case "canceled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) handleRulesets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"versions":    h.catalog.Versions(),
		"event_types": h.analysis.Vocabulary().Types(),
	})
}

func (h *HTTPHandler) handleReports(w http.ResponseWriter, r *http.Request) {
	playerID := strings.TrimSpace(r.PathValue("player"))
	limit := parseLimit(r.URL.Query().Get("limit"), h.defaultLimit)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	items, err := h.analysis.Store().Recent(ctx, playerID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("player_id", playerID).Error("[API] query reports failed")
		writeError(w, http.StatusInternalServerError, "query reports failed", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player_id": playerID,
		"items":     items,
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	playerID := strings.TrimSpace(r.PathValue("player"))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	summary, err := h.analysis.Status(ctx, playerID)
	if err != nil {
		h.logger.WithError(err).WithField("player_id", playerID).Error("[API] query status failed")
		writeError(w, http.StatusInternalServerError, "query status failed", "")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	playerID := strings.TrimSpace(r.PathValue("player"))
	sessionID := strings.TrimSpace(r.PathValue("session"))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	wire, err := h.analysis.Store().SessionEvents(ctx, playerID, sessionID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found", "")
			return
		}
		h.logger.WithError(err).WithField("session_id", sessionID).Error("[API] query session failed")
		writeError(w, http.StatusInternalServerError, "query session failed", "")
		return
	}
	session, err := eventlog.FromWireSession(wire)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).Error("[API] decode archived session failed")
		writeError(w, http.StatusInternalServerError, "decode session failed", "")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func parseLimit(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > history.MaxRecentLimit {
		return history.MaxRecentLimit
	}
	return n
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
