package wizard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/evidence"
	"github.com/DukeRupert/custodybuddy/internal/legal"
	"github.com/DukeRupert/custodybuddy/internal/metrics"
)

// ErrSuperseded is returned by a generation that a newer one replaced.
var ErrSuperseded = errors.New("report generation superseded by a newer request")

// Session is one incident being documented.
//
// Lock order is Session.mu before the evidence pipeline's own lock. The
// pipeline calls back into the session without holding its lock.
type Session struct {
	id       uuid.UUID
	cfg      Config
	owner    *Manager
	logger   *slog.Logger
	evidence *evidence.Pipeline

	mu        sync.Mutex
	record    domain.IncidentRecord // Evidence lives in the pipeline
	wizard    *domain.Wizard
	report    *domain.ReportResult
	notice    domain.Notice // Outcome of the last upload or generation
	touchedAt time.Time

	// Generation state. Only the generation holding the current token may
	// publish its result.
	genToken   uint64
	genCancel  context.CancelFunc
	generating bool

	// saveMu serializes draft writes so the latest snapshot lands last.
	saveMu sync.Mutex
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Record returns a deep copy of the record including evidence.
func (s *Session) Record() domain.IncidentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() domain.IncidentRecord {
	rec := s.record.Clone()
	rec.Evidence = s.evidence.Items()
	return rec
}

// Step returns the current wizard step.
func (s *Session) Step() domain.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wizard.Step()
}

// Errors returns the validation errors shown for the current step.
func (s *Session) Errors() domain.ValidationErrors {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wizard.Errors()
}

// Report returns the last published report, or nil.
func (s *Session) Report() *domain.ReportResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Evidence returns the session's evidence pipeline.
func (s *Session) Evidence() *evidence.Pipeline {
	return s.evidence
}

// =============================================================================
// Record mutation
// =============================================================================

// Mutate applies fn to a copy of the record and stores the result. Evidence
// is owned by the intake pipeline; changes fn makes to it are ignored.
func (s *Session) Mutate(ctx context.Context, fn func(domain.IncidentRecord) domain.IncidentRecord) domain.IncidentRecord {
	s.mu.Lock()
	next := fn(s.record.Clone())
	next.Evidence = nil
	s.record = next
	s.wizard.RecordChanged()
	s.touchedAt = time.Now()
	rec := s.recordLocked()
	s.mu.Unlock()

	s.persist(ctx)
	return rec
}

// Patch applies a partial update of the user-editable fields.
func (s *Session) Patch(ctx context.Context, patch domain.IncidentPatch) domain.IncidentRecord {
	if patch.IsEmpty() {
		return s.Record()
	}
	return s.Mutate(ctx, func(rec domain.IncidentRecord) domain.IncidentRecord {
		return rec.Apply(patch)
	})
}

// =============================================================================
// Navigation
// =============================================================================

// Next validates the current step and advances. A failed validation
// returns a *domain.ValidationError and leaves the step unchanged.
func (s *Session) Next(ctx context.Context) error {
	s.mu.Lock()
	err := s.wizard.Next(s.recordLocked(), legal.IsKnownJurisdiction)
	s.touchedAt = time.Now()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

// Back moves to the previous step.
func (s *Session) Back(ctx context.Context) {
	s.mu.Lock()
	s.wizard.Back()
	s.touchedAt = time.Now()
	s.mu.Unlock()

	s.persist(ctx)
}

// NeedsGeneration returns true when the review step still owes a report.
func (s *Session) NeedsGeneration() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wizard.ShouldGenerate()
}

// =============================================================================
// Evidence
// =============================================================================

// AddEvidence runs the intake pipeline for files.
func (s *Session) AddEvidence(ctx context.Context, files []evidence.FileUpload) evidence.AddResult {
	s.touch()
	result := s.evidence.AddFiles(ctx, files)
	s.setNotice(uploadNotice(result))
	return result
}

// RemoveEvidence removes one item and its blob.
func (s *Session) RemoveEvidence(ctx context.Context, id string) error {
	s.touch()
	return s.evidence.Remove(ctx, id)
}

// UpdateEvidence changes the category or description of one item.
func (s *Session) UpdateEvidence(id, field, value string) error {
	s.touch()
	return s.evidence.Update(id, field, value)
}

// evidenceChanged runs after every pipeline mutation, often from a
// background job. A session the manager no longer holds does not save, so a
// late job cannot overwrite the draft of its restored successor.
func (s *Session) evidenceChanged() {
	s.mu.Lock()
	s.wizard.RecordChanged()
	s.mu.Unlock()

	if s.owner != nil && !s.owner.holds(s) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	defer cancel()
	s.persist(ctx)
}

// =============================================================================
// Report generation
// =============================================================================

// Generate produces the report for the current record. It is only allowed
// on the review step, and only while every earlier step is still valid; a
// record edited into an invalid state returns a *domain.ValidationError. Without force, an existing report for an unchanged
// record is returned as is. Starting a generation cancels any that is still
// running for this session; a canceled predecessor returns ErrSuperseded.
func (s *Session) Generate(ctx context.Context, force bool) (*domain.ReportResult, error) {
	const op = "wizard.generate"

	s.mu.Lock()
	if !s.wizard.Step().IsTerminal() {
		s.mu.Unlock()
		return nil, domain.Invalid(op, "Complete every step before generating the report.")
	}
	if errs := domain.ErrorsBeforeStep(domain.StepReview, s.recordLocked(), legal.IsKnownJurisdiction); len(errs) > 0 {
		s.mu.Unlock()
		return nil, &domain.ValidationError{Op: op, Fields: errs}
	}
	if !force && !s.wizard.ShouldGenerate() && s.report != nil {
		existing := s.report
		s.mu.Unlock()
		return existing, nil
	}

	if s.genCancel != nil {
		s.genCancel()
		s.logger.Info("Canceling in-flight report generation")
	}
	gctx, cancel := context.WithCancel(ctx)
	s.genToken++
	token := s.genToken
	s.genCancel = cancel
	s.generating = true
	s.wizard.MarkGenerated()
	rec := s.recordLocked()
	s.touchedAt = time.Now()
	s.mu.Unlock()

	defer cancel()
	result, err := s.cfg.Reports.Generate(gctx, rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.genToken {
		return nil, domain.Wrap(ErrSuperseded, domain.ECONFLICT, op, "A newer report generation replaced this one.")
	}
	s.genCancel = nil
	s.generating = false
	if err != nil {
		s.notice = domain.ErrorNotice{
			Heading: "Report not generated",
			Message: domain.ErrorMessage(err),
			Code:    domain.ErrorCode(err),
		}
		return nil, err
	}
	s.report = result
	s.notice = reportNotice(result)
	return result, nil
}

// Retry forces a new generation.
func (s *Session) Retry(ctx context.Context) (*domain.ReportResult, error) {
	return s.Generate(ctx, true)
}

func (s *Session) cancelGeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.genCancel != nil {
		s.genCancel()
		s.genCancel = nil
	}
	s.genToken++
	s.generating = false
}

// =============================================================================
// Reset
// =============================================================================

// Reset clears the record, the evidence and its blobs, and the persisted
// draft. Storage failures are logged, never returned.
func (s *Session) Reset(ctx context.Context) {
	s.cancelGeneration()

	s.mu.Lock()
	s.record = domain.NewIncidentRecord()
	s.wizard = domain.NewWizard()
	s.report = nil
	s.notice = nil
	s.touchedAt = time.Now()
	s.mu.Unlock()

	// Consent is now false, so the evidence callbacks do not save.
	s.evidence.RemoveAll(ctx)

	if s.cfg.Drafts != nil {
		s.saveMu.Lock()
		err := s.cfg.Drafts.Clear(ctx, s.id)
		s.saveMu.Unlock()
		metrics.DraftOperation("clear", err)
		if err != nil {
			s.logger.Warn("failed to clear draft", "error", err)
		}
	}

	s.logger.Info("Wizard session reset")
}

// =============================================================================
// Persistence
// =============================================================================

// persist saves the current snapshot once consent is acknowledged. Save
// failures are logged and never surface to the caller.
func (s *Session) persist(ctx context.Context) {
	if s.cfg.Drafts == nil {
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	rec := s.recordLocked()
	step := s.wizard.Step()
	s.mu.Unlock()

	if !rec.ConsentAcknowledged {
		return
	}

	err := s.cfg.Drafts.Save(ctx, s.id, rec, step)
	metrics.DraftOperation("save", err)
	if err != nil {
		s.logger.Warn("failed to save draft", "error", err)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.touchedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.generating && s.touchedAt.Before(cutoff)
}
