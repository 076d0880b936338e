// Package handler contains the HTTP handlers for the CustodyBuddy API.
//
// This file implements the report proxy: the browser posts an incident
// record and gets the generated report back, so provider API keys never
// leave the server.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/report"
)

// DefaultProxyMaxBodyBytes caps the proxy request body when none is configured.
const DefaultProxyMaxBodyBytes int64 = 1_000_000

// =============================================================================
// Handler Configuration
// =============================================================================

// ProxyHandler relays incident records to the report orchestrator.
type ProxyHandler struct {
	reports      *report.Orchestrator
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(reports *report.Orchestrator, maxBodyBytes int64, logger *slog.Logger) *ProxyHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultProxyMaxBodyBytes
	}
	return &ProxyHandler{
		reports:      reports,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// RegisterRoutes registers the proxy route. The limit middleware wraps only
// this route.
func (h *ProxyHandler) RegisterRoutes(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	mux.Handle("POST /api/incident-report-proxy", limit(http.HandlerFunc(h.Generate)))
}

// =============================================================================
// POST /api/incident-report-proxy
// =============================================================================

// Generate decodes an IncidentRecord and responds with the ReportResult.
// Errors use the {"error": string} shape.
func (h *ProxyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	const op = "proxy.generate"

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var rec domain.IncidentRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ProxyErrorResponse(w, r, h.logger, domain.TooLarge(op, "Request body too large."))
			return
		}
		ProxyErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EINVALID, op, "Request body must be a JSON incident record."))
		return
	}

	if strings.TrimSpace(rec.Narrative) == "" {
		ProxyErrorResponse(w, r, h.logger, domain.Invalid(op, "Narrative is required."))
		return
	}

	result, err := h.reports.Generate(r.Context(), rec)
	if err != nil {
		ProxyErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
