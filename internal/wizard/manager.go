// Package wizard holds the server-side state of each incident-documentation
// session: the record being built, the step machine, the evidence pipeline
// and the generated report.
package wizard

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/draft"
	"github.com/DukeRupert/custodybuddy/internal/evidence"
	"github.com/DukeRupert/custodybuddy/internal/jobs"
	"github.com/DukeRupert/custodybuddy/internal/report"
	"github.com/DukeRupert/custodybuddy/internal/storage"
)

// DefaultSaveTimeout bounds a draft save triggered by background work.
const DefaultSaveTimeout = 5 * time.Second

// Config wires a Manager to its collaborators. Only Reports is required.
type Config struct {
	Drafts           draft.Store
	Storage          storage.Storage
	Queue            evidence.Enqueuer
	Reports          *report.Orchestrator
	MaxEvidenceBytes int64
	SaveTimeout      time.Duration
	Logger           *slog.Logger
}

// Manager owns every live session.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = DefaultSaveTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create starts a fresh session on the consent step. Nothing is persisted
// until consent is acknowledged.
func (m *Manager) Create(ctx context.Context) *Session {
	s := m.newSession(uuid.New(), domain.NewIncidentRecord(), domain.NewWizard())

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.cfg.Logger.Info("Wizard session started", "session_id", s.id)
	return s
}

// Get returns a live session, rehydrating it from its draft if it is not in
// memory. Unknown ids yield ENOTFOUND.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	const op = "wizard.get"

	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	if m.cfg.Drafts == nil {
		return nil, domain.NotFound(op, "incident", id.String())
	}

	d, err := m.cfg.Drafts.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, domain.NotFound(op, "incident", id.String())
	}

	restored := m.newSession(id, d.Record, domain.RestoreWizard(d.Step))

	// Another request may have restored it first
	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[id] = restored
	m.mu.Unlock()

	// Analyses lost with the previous instance are queued again
	resumed := restored.evidence.ResumePending()

	m.cfg.Logger.Info("Wizard session restored from draft",
		"session_id", id,
		"step", d.Step,
		"evidence", len(d.Record.Evidence),
		"analyses_resumed", resumed,
	)
	return restored, nil
}

// NewReport supersedes a session: its draft stays persisted, any running
// generation is canceled, and a fresh session is returned.
func (m *Manager) NewReport(ctx context.Context, id uuid.UUID) (*Session, error) {
	old, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	old.cancelGeneration()
	m.Forget(id)

	s := m.Create(ctx)
	m.cfg.Logger.Info("Wizard session superseded", "old_session_id", id, "session_id", s.id)
	return s, nil
}

// Forget drops a session from memory. Its draft, if any, is untouched.
func (m *Manager) Forget(id uuid.UUID) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Sweep forgets sessions idle for longer than maxIdle and returns how many
// were dropped. Sessions with a running generation are kept.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			delete(m.sessions, id)
			dropped++
		}
	}
	return dropped
}

// Close cancels every running generation.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.cancelGeneration()
	}
}

// holds returns true if s is the live session for its id.
func (m *Manager) holds(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[s.id] == s
}

// EvidenceFor resolves the pipeline and narrative for a background
// analysis job. Only sessions in memory qualify; a forgotten session's jobs
// are skipped.
func (m *Manager) EvidenceFor(ctx context.Context, sessionID uuid.UUID) (*evidence.Pipeline, string, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, "", jobs.ErrSessionNotFound
	}

	s.mu.Lock()
	narrative := s.record.Narrative
	s.mu.Unlock()

	return s.evidence, narrative, nil
}

func (m *Manager) newSession(id uuid.UUID, rec domain.IncidentRecord, w *domain.Wizard) *Session {
	s := &Session{
		id:        id,
		cfg:       m.cfg,
		owner:     m,
		logger:    m.cfg.Logger.With("session_id", id),
		record:    rec.Clone(),
		wizard:    w,
		touchedAt: time.Now(),
	}
	s.evidence = evidence.NewPipeline(evidence.Config{
		SessionID: id,
		Storage:   m.cfg.Storage,
		Queue:     m.cfg.Queue,
		MaxBytes:  m.cfg.MaxEvidenceBytes,
		Logger:    m.cfg.Logger,
		OnChange:  s.evidenceChanged,
	}, rec.Evidence)
	s.record.Evidence = nil
	return s
}
