package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/DukeRupert/custodybuddy/internal/evidence"
	"github.com/DukeRupert/custodybuddy/internal/worker"
)

// ErrSessionNotFound is returned by a SessionLookup for unknown sessions.
var ErrSessionNotFound = errors.New("session not found")

// SessionLookup resolves the evidence pipeline and narrative of a session.
type SessionLookup interface {
	EvidenceFor(ctx context.Context, sessionID uuid.UUID) (*evidence.Pipeline, string, error)
}

// AnalyzeEvidenceHandler processes jobs that analyze one evidence file.
// It fetches the file, asks the analyzer for a relevance note, and applies it
// only if the item is unchanged since the job was queued. Once the item is
// found the job always ends with some text applied, never an error.
type AnalyzeEvidenceHandler struct {
	sessions SessionLookup
	analyzer *evidence.Analyzer
	logger   *slog.Logger
}

// NewAnalyzeEvidenceHandler creates a new handler for evidence analysis jobs.
func NewAnalyzeEvidenceHandler(
	sessions SessionLookup,
	analyzer *evidence.Analyzer,
	logger *slog.Logger,
) *AnalyzeEvidenceHandler {
	return &AnalyzeEvidenceHandler{
		sessions: sessions,
		analyzer: analyzer,
		logger:   logger,
	}
}

// Type returns the job type identifier.
func (h *AnalyzeEvidenceHandler) Type() string {
	return worker.JobTypeAnalyzeEvidence
}

// Handle executes the evidence analysis job.
func (h *AnalyzeEvidenceHandler) Handle(ctx context.Context, payload []byte) error {
	// Unmarshal the payload
	var p worker.AnalyzeEvidencePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}

	logger := h.logger.With("session_id", p.SessionID, "evidence_id", p.EvidenceID, "token", p.Token)

	// 1. Resolve the session
	pipeline, narrative, err := h.sessions.EvidenceFor(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			logger.Info("Session gone, skipping evidence analysis")
			return nil
		}
		return fmt.Errorf("resolve session: %w", err)
	}

	// 2. Fetch the bytes for this exact item version. An unreadable blob is
	// analyzed as missing data, which ends in a fixed text.
	item, data, err := pipeline.Payload(ctx, p.EvidenceID, p.Token)
	if err != nil {
		if errors.Is(err, evidence.ErrStale) {
			logger.Debug("Evidence removed or superseded, skipping analysis")
			return nil
		}
		logger.Warn("Evidence payload unavailable, analyzing without it", "error", err)
		data = nil
	}

	// 3. Analyze; the analyzer degrades provider failures to a fixed text
	text := h.analyzer.Analyze(ctx, item, data, narrative)
	if ctx.Err() != nil {
		logger.Warn("Evidence analysis ran out of time", "error", ctx.Err())
		text = evidence.TextAnalysisFailed
	}

	// 4. Apply unless the item changed meanwhile
	if !pipeline.ApplyAnalysis(p.EvidenceID, p.Token, text) {
		logger.Debug("Discarding stale evidence analysis")
		return nil
	}

	logger.Info("Evidence analysis applied", "type", item.Type)
	return nil
}
