package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownOntario(key string) bool {
	return strings.ToLower(key) == "ontario"
}

func validRecord() IncidentRecord {
	rec := NewIncidentRecord()
	rec.ConsentAcknowledged = true
	rec.Date = "2024-01-01"
	rec.Time = "10:00"
	rec.Narrative = strings.Repeat("The exchange was delayed again. ", 5)
	rec.Parties = []string{"Other Parent"}
	rec.Jurisdiction = "ontario"
	return rec
}

func TestErrorsForStep(t *testing.T) {
	tests := []struct {
		name       string
		step       Step
		mutate     func(*IncidentRecord)
		wantFields []string
	}{
		{"consent given", StepConsent, nil, nil},
		{"consent missing", StepConsent, func(r *IncidentRecord) { r.ConsentAcknowledged = false }, []string{"consentAcknowledged"}},
		{"date and time present", StepWhen, nil, nil},
		{"date missing", StepWhen, func(r *IncidentRecord) { r.Date = "" }, []string{"date"}},
		{"date malformed", StepWhen, func(r *IncidentRecord) { r.Date = "01/01/2024" }, []string{"date"}},
		{"time malformed", StepWhen, func(r *IncidentRecord) { r.Time = "25:99" }, []string{"time"}},
		{"both missing", StepWhen, func(r *IncidentRecord) { r.Date, r.Time = "", "" }, []string{"date", "time"}},
		{"narrative long enough", StepNarrative, nil, nil},
		{"narrative empty", StepNarrative, func(r *IncidentRecord) { r.Narrative = "   " }, []string{"narrative"}},
		{"narrative short", StepNarrative, func(r *IncidentRecord) { r.Narrative = strings.Repeat("a", 99) }, []string{"narrative"}},
		{"narrative exactly minimum", StepNarrative, func(r *IncidentRecord) { r.Narrative = strings.Repeat("a", 100) }, nil},
		{"parties present", StepParties, nil, nil},
		{"parties blank only", StepParties, func(r *IncidentRecord) { r.Parties = []string{" ", ""} }, []string{"parties"}},
		{"parties nil", StepParties, func(r *IncidentRecord) { r.Parties = nil }, []string{"parties"}},
		{"jurisdiction known", StepJurisdiction, nil, nil},
		{"jurisdiction unknown", StepJurisdiction, func(r *IncidentRecord) { r.Jurisdiction = "atlantis" }, []string{"jurisdiction"}},
		{"jurisdiction empty", StepJurisdiction, func(r *IncidentRecord) { r.Jurisdiction = "" }, []string{"jurisdiction"}},
		{"review has no rules", StepReview, func(r *IncidentRecord) { *r = NewIncidentRecord() }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			if tt.mutate != nil {
				tt.mutate(&rec)
			}

			errs := ErrorsForStep(tt.step, rec, knownOntario)

			assert.Len(t, errs, len(tt.wantFields))
			for _, f := range tt.wantFields {
				assert.Contains(t, errs, f)
			}
			// Valid iff no errors, for every step
			assert.Equal(t, len(errs) == 0, IsStepValid(tt.step, rec, knownOntario))
		})
	}
}

func TestErrorsBeforeStep(t *testing.T) {
	rec := validRecord()
	assert.Empty(t, ErrorsBeforeStep(StepReview, rec, knownOntario))

	rec.Narrative = "Too short."
	rec.Parties = nil
	errs := ErrorsBeforeStep(StepReview, rec, knownOntario)
	assert.Len(t, errs, 2)
	assert.Contains(t, errs, "narrative")
	assert.Contains(t, errs, "parties")

	assert.Empty(t, ErrorsBeforeStep(StepNarrative, rec, knownOntario), "later steps are not checked")
}

func TestWizard_NextBlocksOnInvalidStep(t *testing.T) {
	w := NewWizard()
	rec := NewIncidentRecord()

	err := w.Next(rec, knownOntario)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "consentAcknowledged")
	assert.Equal(t, StepConsent, w.Step())
	assert.NotEmpty(t, w.Errors())
}

func TestWizard_WalksAllSteps(t *testing.T) {
	w := NewWizard()
	rec := validRecord()

	for i := 1; i < TotalSteps; i++ {
		require.NoError(t, w.Next(rec, knownOntario))
	}
	assert.Equal(t, StepReview, w.Step())

	// Next on the terminal step stays put
	require.NoError(t, w.Next(rec, knownOntario))
	assert.Equal(t, StepReview, w.Step())
}

func TestWizard_BackAlwaysSucceedsAndClearsErrors(t *testing.T) {
	w := RestoreWizard(StepNarrative)
	rec := validRecord()
	rec.Narrative = "too short"

	require.Error(t, w.Next(rec, knownOntario))
	require.NotEmpty(t, w.Errors())

	w.Back()
	assert.Equal(t, StepWhen, w.Step())
	assert.Empty(t, w.Errors())

	w.Back()
	w.Back()
	w.Back()
	assert.Equal(t, StepConsent, w.Step())
}

func TestWizard_GenerationOncePerFreshEntry(t *testing.T) {
	w := RestoreWizard(StepJurisdiction)
	rec := validRecord()

	assert.False(t, w.ShouldGenerate(), "not on review step yet")

	require.NoError(t, w.Next(rec, knownOntario))
	assert.True(t, w.ShouldGenerate())
	w.MarkGenerated()
	assert.False(t, w.ShouldGenerate())

	// Leave and come back without changes
	w.Back()
	require.NoError(t, w.Next(rec, knownOntario))
	assert.False(t, w.ShouldGenerate())

	// A change re-arms generation
	w.RecordChanged()
	assert.True(t, w.ShouldGenerate())
}

func TestRestoreWizard_ClampsInvalidStep(t *testing.T) {
	assert.Equal(t, StepConsent, RestoreWizard(Step(0)).Step())
	assert.Equal(t, StepConsent, RestoreWizard(Step(42)).Step())
	assert.Equal(t, StepParties, RestoreWizard(StepParties).Step())
}
