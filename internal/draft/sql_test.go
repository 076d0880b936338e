package draft

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/custodybuddy/internal"
	"github.com/DukeRupert/custodybuddy/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, discardLogger()), mock
}

func sampleRecord() domain.IncidentRecord {
	rec := domain.NewIncidentRecord()
	rec.ConsentAcknowledged = true
	rec.Date = "2024-03-01"
	rec.Narrative = "The exchange was late."
	rec.Parties = []string{"Alex"}
	rec.Evidence = []domain.EvidenceItem{{
		ID:        "e1",
		Name:      "photo.png",
		Type:      "image/png",
		Category:  domain.EvidenceCategoryScreenshot,
		StorageID: "evidence/s/e1.png",
		Base64:    "aGVsbG8=",
	}}
	return rec
}

func envelope(t *testing.T, d Draft) string {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return string(b)
}

func TestSQLStore_Load(t *testing.T) {
	session := uuid.New()

	tests := []struct {
		name     string
		setup    func(mock sqlmock.Sqlmock)
		wantNil  bool
		wantErr  bool
		wantStep domain.Step
	}{
		{
			name: "no draft",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(loadQuery).WithArgs(session.String()).
					WillReturnRows(sqlmock.NewRows([]string{"payload"}))
			},
			wantNil: true,
		},
		{
			name: "malformed payload is discarded",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(loadQuery).WithArgs(session.String()).
					WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(`{not json`))
			},
			wantNil: true,
		},
		{
			name: "version mismatch is discarded",
			setup: func(mock sqlmock.Sqlmock) {
				payload := envelope(t, Draft{Version: Version + 1, Step: domain.StepWhen, Record: sampleRecord()})
				mock.ExpectQuery(loadQuery).WithArgs(session.String()).
					WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
			},
			wantNil: true,
		},
		{
			name: "valid draft",
			setup: func(mock sqlmock.Sqlmock) {
				payload := envelope(t, Draft{Version: Version, Step: domain.StepNarrative, Record: sampleRecord()})
				mock.ExpectQuery(loadQuery).WithArgs(session.String()).
					WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
			},
			wantStep: domain.StepNarrative,
		},
		{
			name: "out of range step resets to consent",
			setup: func(mock sqlmock.Sqlmock) {
				payload := envelope(t, Draft{Version: Version, Step: domain.Step(42), Record: sampleRecord()})
				mock.ExpectQuery(loadQuery).WithArgs(session.String()).
					WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
			},
			wantStep: domain.StepConsent,
		},
		{
			name: "database failure",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(loadQuery).WithArgs(session.String()).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			d, err := store.Load(context.Background(), session)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, d)
			} else {
				require.NotNil(t, d)
				assert.Equal(t, tt.wantStep, d.Step)
				assert.Equal(t, "2024-03-01", d.Record.Date)
				assert.NotNil(t, d.Record.Children)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_SaveStripsTransientPayloads(t *testing.T) {
	session := uuid.New()
	store, mock := newMockStore(t)
	saved := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return saved }

	var payload string
	mock.ExpectExec(upsertQuery).
		WithArgs(session.String(), capture(&payload), saved).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), session, sampleRecord(), domain.StepParties))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.NotContains(t, payload, "aGVsbG8=")
	assert.Contains(t, payload, `"storageId":"evidence/s/e1.png"`)

	var d Draft
	require.NoError(t, json.Unmarshal([]byte(payload), &d))
	assert.Equal(t, Version, d.Version)
	assert.Equal(t, domain.StepParties, d.Step)
}

func TestSQLStore_SaveFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(upsertQuery).WillReturnError(errors.New("disk full"))

	err := store.Save(context.Background(), uuid.New(), sampleRecord(), domain.StepWhen)
	require.Error(t, err)
	assert.Equal(t, "draft.save", domain.ErrorOp(err))
}

func TestSQLStore_Clear(t *testing.T) {
	session := uuid.New()
	store, mock := newMockStore(t)
	mock.ExpectExec(deleteQuery).WithArgs(session.String()).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Clear(context.Background(), session))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// captureArg records the driver value it is matched against.
type captureArg struct {
	dst *string
}

func capture(dst *string) sqlmock.Argument {
	return captureArg{dst: dst}
}

func (c captureArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.dst = s
	}
	return ok
}

func TestSQLStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, internal.RunMigrations(db, DriverSQLite))

	store := NewSQLStore(db, discardLogger())
	session := uuid.New()

	d, err := store.Load(ctx, session)
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, store.Save(ctx, session, sampleRecord(), domain.StepWhen))

	rec := sampleRecord()
	rec.CaseNumber = "FC-123"
	require.NoError(t, store.Save(ctx, session, rec, domain.StepReview))

	d, err = store.Load(ctx, session)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, domain.StepReview, d.Step)
	assert.Equal(t, "FC-123", d.Record.CaseNumber)
	require.Len(t, d.Record.Evidence, 1)
	assert.Empty(t, d.Record.Evidence[0].Base64)

	require.NoError(t, store.Clear(ctx, session))
	require.NoError(t, store.Clear(ctx, session))
	d, err = store.Load(ctx, session)
	require.NoError(t, err)
	assert.Nil(t, d)
}
