package wizard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/custodybuddy/internal/ai/mock"
	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/draft"
	"github.com/DukeRupert/custodybuddy/internal/evidence"
	"github.com/DukeRupert/custodybuddy/internal/jobs"
	"github.com/DukeRupert/custodybuddy/internal/report"
	"github.com/DukeRupert/custodybuddy/internal/storage"
)

// =============================================================================
// Test helpers
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryDrafts is an in-memory draft.Store.
type memoryDrafts struct {
	mu     sync.Mutex
	drafts map[uuid.UUID]draft.Draft
	saves  int
	clears int
}

func newMemoryDrafts() *memoryDrafts {
	return &memoryDrafts{drafts: map[uuid.UUID]draft.Draft{}}
}

func (m *memoryDrafts) Load(ctx context.Context, id uuid.UUID) (*draft.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *memoryDrafts) Save(ctx context.Context, id uuid.UUID, rec domain.IncidentRecord, step domain.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.drafts[id] = draft.Draft{Version: draft.Version, Step: step, SavedAt: time.Now(), Record: rec.Stripped()}
	return nil
}

func (m *memoryDrafts) Clear(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	delete(m.drafts, id)
	return nil
}

func (m *memoryDrafts) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func completeRecord() domain.IncidentRecord {
	return domain.IncidentRecord{
		ConsentAcknowledged: true,
		Date:                "2026-03-02",
		Time:                "17:30",
		Narrative:           strings.Repeat("The exchange did not happen as scheduled. ", 4),
		Parties:             []string{"Other parent"},
		Children:            []string{},
		Jurisdiction:        "Ontario",
		CaseNumber:          "ABC-123",
		Evidence:            []domain.EvidenceItem{},
	}
}

type fixture struct {
	manager  *Manager
	drafts   *memoryDrafts
	provider *mock.Provider
	storage  storage.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blobs, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, discardLogger())
	require.NoError(t, err)

	f := &fixture{
		drafts:   newMemoryDrafts(),
		provider: mock.New(discardLogger()),
		storage:  blobs,
	}
	f.manager = NewManager(Config{
		Drafts:  f.drafts,
		Storage: blobs,
		Reports: report.New(f.provider, report.Config{Timeout: 5 * time.Second}, discardLogger()),
		Logger:  discardLogger(),
	})
	return f
}

// atReview returns a session restored on the review step with a complete record.
func (f *fixture) atReview(t *testing.T) *Session {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.drafts.Save(context.Background(), id, completeRecord(), domain.StepReview))
	s, err := f.manager.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

// =============================================================================
// Persistence and navigation
// =============================================================================

func TestSession_SavesOnlyAfterConsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.manager.Create(ctx)

	date := "2026-03-02"
	s.Patch(ctx, domain.IncidentPatch{Date: &date})
	assert.Equal(t, 0, f.drafts.saveCount(), "nothing is written before consent")

	consent := true
	s.Patch(ctx, domain.IncidentPatch{ConsentAcknowledged: &consent})
	assert.Equal(t, 1, f.drafts.saveCount())

	d, err := f.drafts.Load(ctx, s.ID())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "2026-03-02", d.Record.Date)
	assert.Equal(t, domain.StepConsent, d.Step)
}

func TestSession_NextAndBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.manager.Create(ctx)

	err := s.Next(ctx)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "consentAcknowledged")
	assert.Equal(t, domain.StepConsent, s.Step())
	assert.Contains(t, s.Errors(), "consentAcknowledged")

	consent := true
	s.Patch(ctx, domain.IncidentPatch{ConsentAcknowledged: &consent})
	require.NoError(t, s.Next(ctx))
	assert.Equal(t, domain.StepWhen, s.Step())
	assert.Empty(t, s.Errors())

	require.Error(t, s.Next(ctx))
	s.Back(ctx)
	assert.Equal(t, domain.StepConsent, s.Step())
	assert.Empty(t, s.Errors(), "going back clears errors")

	s.Back(ctx)
	assert.Equal(t, domain.StepConsent, s.Step(), "back stops at the first step")
}

func TestSession_UnknownJurisdictionBlocksStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := completeRecord()
	rec.Jurisdiction = "Atlantis"
	id := uuid.New()
	require.NoError(t, f.drafts.Save(ctx, id, rec, domain.StepJurisdiction))

	s, err := f.manager.Get(ctx, id)
	require.NoError(t, err)
	require.Error(t, s.Next(ctx))
	assert.Contains(t, s.Errors(), "jurisdiction")

	j := "british columbia"
	s.Patch(ctx, domain.IncidentPatch{Jurisdiction: &j})
	require.NoError(t, s.Next(ctx))
	assert.Equal(t, domain.StepReview, s.Step())
	assert.True(t, s.NeedsGeneration())
}

func TestManager_Get(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Get(ctx, uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	s := f.atReview(t)
	assert.Equal(t, domain.StepReview, s.Step())
	assert.Equal(t, "ABC-123", s.Record().CaseNumber)

	again, err := f.manager.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Same(t, s, again, "live sessions are reused")
}

func TestManager_EvidenceFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.manager.EvidenceFor(ctx, uuid.New())
	assert.True(t, errors.Is(err, jobs.ErrSessionNotFound))

	s := f.atReview(t)
	p, narrative, err := f.manager.EvidenceFor(ctx, s.ID())
	require.NoError(t, err)
	assert.Same(t, s.Evidence(), p)
	assert.Equal(t, completeRecord().Narrative, narrative)
}

func TestManager_Sweep(t *testing.T) {
	f := newFixture(t)
	s := f.manager.Create(context.Background())

	assert.Equal(t, 0, f.manager.Sweep(time.Hour))
	assert.Equal(t, 1, f.manager.Sweep(-time.Second))

	_, err := f.manager.Get(context.Background(), s.ID())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err), "unconsented sessions have no draft to restore")
}

// =============================================================================
// Evidence
// =============================================================================

func TestSession_EvidenceChangesArePersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.atReview(t)
	_, err := s.Generate(ctx, false)
	require.NoError(t, err)
	require.False(t, s.NeedsGeneration())
	saves := f.drafts.saveCount()

	result := s.AddEvidence(ctx, []evidence.FileUpload{
		{Name: "texts.png", ContentType: "image/png", Data: []byte("png-bytes")},
		{Name: "notes.exe", ContentType: "application/x-msdownload", Data: []byte("MZ")},
	})
	require.Len(t, result.Added, 1)
	require.Len(t, result.Rejected, 1)
	assert.Greater(t, f.drafts.saveCount(), saves)
	assert.True(t, s.NeedsGeneration(), "new evidence invalidates the last report")

	id := result.Added[0].ID
	require.NoError(t, s.UpdateEvidence(id, "description", "Unanswered texts"))

	d, err := f.drafts.Load(ctx, s.ID())
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Len(t, d.Record.Evidence, 1)
	assert.Equal(t, "Unanswered texts", d.Record.Evidence[0].Description)
	assert.Empty(t, d.Record.Evidence[0].Base64)

	require.NoError(t, s.RemoveEvidence(ctx, id))
	assert.Empty(t, s.Record().Evidence)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(s.RemoveEvidence(ctx, id)))
}

func TestSession_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.atReview(t)

	result := s.AddEvidence(ctx, []evidence.FileUpload{
		{Name: "texts.png", ContentType: "image/png", Data: []byte("png-bytes")},
	})
	require.Len(t, result.Added, 1)
	key := result.Added[0].StorageID
	require.NotEmpty(t, key)

	_, err := s.Generate(ctx, false)
	require.NoError(t, err)

	s.Reset(ctx)

	exists, err := f.storage.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "evidence blobs are deleted")

	d, err := f.drafts.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Nil(t, d, "draft is cleared")

	assert.Equal(t, domain.StepConsent, s.Step())
	assert.Nil(t, s.Report())
	assert.Empty(t, s.Record().Narrative)
	assert.Empty(t, s.Record().Evidence)
}

func TestManager_NewReportSupersedes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.atReview(t)

	fresh, err := f.manager.NewReport(ctx, old.ID())
	require.NoError(t, err)
	assert.NotEqual(t, old.ID(), fresh.ID())
	assert.Equal(t, domain.StepConsent, fresh.Step())

	d, err := f.drafts.Load(ctx, old.ID())
	require.NoError(t, err)
	assert.NotNil(t, d, "the superseded draft is kept")

	restored, err := f.manager.Get(ctx, old.ID())
	require.NoError(t, err)
	assert.NotSame(t, old, restored)
	assert.Equal(t, "ABC-123", restored.Record().CaseNumber)
}

// =============================================================================
// Report generation
// =============================================================================

func TestSession_GenerateRequiresReviewStep(t *testing.T) {
	f := newFixture(t)
	s := f.manager.Create(context.Background())

	_, err := s.Generate(context.Background(), false)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.Equal(t, int32(0), f.provider.SummarizeCalls.Load())
}

func TestSession_GenerateRevalidatesEarlierSteps(t *testing.T) {
	empty := ""
	noParties := []string{" "}
	unknown := "Atlantis"

	tests := []struct {
		name      string
		patch     domain.IncidentPatch
		wantField string
	}{
		{name: "narrative cleared", patch: domain.IncidentPatch{Narrative: &empty}, wantField: "narrative"},
		{name: "parties blanked", patch: domain.IncidentPatch{Parties: &noParties}, wantField: "parties"},
		{name: "jurisdiction cleared", patch: domain.IncidentPatch{Jurisdiction: &empty}, wantField: "jurisdiction"},
		{name: "jurisdiction unknown", patch: domain.IncidentPatch{Jurisdiction: &unknown}, wantField: "jurisdiction"},
		{name: "date cleared", patch: domain.IncidentPatch{Date: &empty}, wantField: "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			s := f.atReview(t)

			s.Patch(ctx, tt.patch)
			require.Equal(t, domain.StepReview, s.Step())

			got, err := s.Generate(ctx, false)
			assert.Nil(t, got)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.wantField)
			assert.Equal(t, int32(0), f.provider.SummarizeCalls.Load())
			assert.Nil(t, s.Report())
		})
	}
}

func TestSession_GenerateOncePerEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.atReview(t)
	require.True(t, s.NeedsGeneration())

	first, err := s.Generate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", first.CaseNumber)
	assert.False(t, s.NeedsGeneration())

	second, err := s.Generate(ctx, false)
	require.NoError(t, err)
	assert.Same(t, first, second, "an unchanged record does not regenerate")
	assert.Equal(t, int32(1), f.provider.SummarizeCalls.Load())

	retried, err := s.Retry(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, retried)
	assert.Equal(t, int32(2), f.provider.SummarizeCalls.Load())

	cn := "XYZ-9"
	s.Patch(ctx, domain.IncidentPatch{CaseNumber: &cn})
	assert.True(t, s.NeedsGeneration())
	third, err := s.Generate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "XYZ-9", third.CaseNumber)

	st := s.State()
	require.NotNil(t, st.Review)
	assert.Contains(t, st.Review.LegalInsightsHTML, "<a href=")
	assert.Equal(t, "Ontario", st.Review.Legal.Jurisdiction.Name)
}

func TestSession_NewGenerationCancelsInFlight(t *testing.T) {
	f := newFixture(t)
	f.provider.Delay = 300 * time.Millisecond
	ctx := context.Background()
	s := f.atReview(t)

	type outcome struct {
		report *domain.ReportResult
		err    error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		r, err := s.Generate(ctx, false)
		firstDone <- outcome{r, err}
	}()

	require.Eventually(t, func() bool { return s.State().Generating }, time.Second, 5*time.Millisecond)

	second, err := s.Retry(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)

	first := <-firstDone
	assert.Nil(t, first.report)
	assert.True(t, errors.Is(first.err, ErrSuperseded))
	assert.Same(t, second, s.Report(), "only the newest generation publishes")
}
