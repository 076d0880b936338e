package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/custodybuddy/internal/ai/mock"
	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/evidence"
	"github.com/DukeRupert/custodybuddy/internal/storage"
	"github.com/DukeRupert/custodybuddy/internal/worker"
)

type fakeSessions struct {
	pipeline *evidence.Pipeline
	err      error
}

func (f fakeSessions) EvidenceFor(ctx context.Context, sessionID uuid.UUID) (*evidence.Pipeline, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.pipeline, "The other parent arrived two hours late.", nil
}

func payload(t *testing.T, p worker.AnalyzeEvidencePayload) []byte {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestAnalyzeEvidenceHandler_Handle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := mock.New(logger)
	analyzer := evidence.NewAnalyzer(provider, logger)

	session := uuid.New()
	pipeline := evidence.NewPipeline(evidence.Config{SessionID: session, Logger: logger}, nil)
	item := pipeline.AddFiles(context.Background(), []evidence.FileUpload{
		{Name: "order.pdf", ContentType: "application/pdf", Data: []byte("pdf")},
	}).Added[0]

	tests := []struct {
		name          string
		sessions      SessionLookup
		payload       []byte
		wantErr       bool
		wantPermanent bool
		wantAnalysis  string
	}{
		{
			name:          "invalid payload",
			sessions:      fakeSessions{pipeline: pipeline},
			payload:       []byte("{"),
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:     "session gone",
			sessions: fakeSessions{err: ErrSessionNotFound},
			payload:  payload(t, worker.AnalyzeEvidencePayload{SessionID: session, EvidenceID: item.ID, Token: item.Token}),
		},
		{
			name:     "lookup failure is retryable",
			sessions: fakeSessions{err: errors.New("draft store down")},
			payload:  payload(t, worker.AnalyzeEvidencePayload{SessionID: session, EvidenceID: item.ID, Token: item.Token}),
			wantErr:  true,
		},
		{
			name:     "stale token is skipped",
			sessions: fakeSessions{pipeline: pipeline},
			payload:  payload(t, worker.AnalyzeEvidencePayload{SessionID: session, EvidenceID: item.ID, Token: item.Token + 1}),
		},
		{
			name:         "applies analysis",
			sessions:     fakeSessions{pipeline: pipeline},
			payload:      payload(t, worker.AnalyzeEvidencePayload{SessionID: session, EvidenceID: item.ID, Token: item.Token}),
			wantAnalysis: "A document like this may establish the agreed parenting schedule.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAnalyzeEvidenceHandler(tt.sessions, analyzer, logger)
			assert.Equal(t, worker.JobTypeAnalyzeEvidence, h.Type())

			err := h.Handle(context.Background(), tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantPermanent, worker.IsPermanent(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAnalysis, pipeline.Items()[0].AIAnalysis)
		})
	}
}

// unreadableStorage fails every Get; no other method is used by these tests.
type unreadableStorage struct {
	storage.Storage
}

func (unreadableStorage) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	return nil, storage.ObjectInfo{}, errors.New("blob store unavailable")
}

func TestAnalyzeEvidenceHandler_AlwaysEndsWithText(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	analyzer := evidence.NewAnalyzer(mock.New(logger), logger)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name         string
		ctx          context.Context
		item         domain.EvidenceItem
		wantAnalysis string
	}{
		{
			name:         "unreadable image blob",
			ctx:          context.Background(),
			item:         domain.EvidenceItem{ID: "e1", Name: "texts.png", Type: "image/png", StorageID: "evidence/s/e1.png", Token: 1},
			wantAnalysis: evidence.TextImageUnavailable,
		},
		{
			name:         "job deadline passed",
			ctx:          canceled,
			item:         domain.EvidenceItem{ID: "e2", Name: "order.pdf", Type: "application/pdf", Base64: "cGRm", Token: 1},
			wantAnalysis: evidence.TextAnalysisFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := uuid.New()
			pipeline := evidence.NewPipeline(evidence.Config{
				SessionID: session,
				Storage:   unreadableStorage{},
				Logger:    logger,
			}, []domain.EvidenceItem{tt.item})
			h := NewAnalyzeEvidenceHandler(fakeSessions{pipeline: pipeline}, analyzer, logger)

			for attempt := 0; attempt < 3; attempt++ {
				err := h.Handle(tt.ctx, payload(t, worker.AnalyzeEvidencePayload{
					SessionID:  session,
					EvidenceID: tt.item.ID,
					Token:      tt.item.Token,
				}))
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantAnalysis, pipeline.Items()[0].AIAnalysis)
		})
	}
}
