package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DukeRupert/custodybuddy/internal/ai"
	"github.com/DukeRupert/custodybuddy/internal/ai/mock"
	"github.com/DukeRupert/custodybuddy/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord() domain.IncidentRecord {
	return domain.IncidentRecord{
		ConsentAcknowledged: true,
		Date:                "2026-03-02",
		Time:                "17:30",
		Narrative:           "The other parent did not arrive for the scheduled exchange at the library parking lot. I waited forty minutes and sent two text messages that went unanswered.",
		Parties:             []string{"Alex (other parent)"},
		Children:            []string{"Sam"},
		Jurisdiction:        "ontario",
		CaseNumber:          "  FC-2026-0142 ",
	}
}

func TestGenerate_MergesAllSubResults(t *testing.T) {
	provider := mock.New(testLogger())
	o := New(provider, Config{NextSteps: true}, testLogger())
	fixed := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return fixed }

	got, err := o.Generate(context.Background(), testRecord())
	require.NoError(t, err)

	assert.Equal(t, "Missed Parenting-Time Exchange", got.Title)
	assert.Contains(t, got.ProfessionalSummary, "did not take place")
	assert.Equal(t, "Schedule Violation", got.Category)
	assert.Equal(t, domain.SeverityMedium, got.Severity)
	assert.Contains(t, got.LegalInsights, "Children's Law Reform Act")
	assert.Equal(t, []string{
		"https://ontario.ca/laws/statute/90c12",
		"https://canlii.org/en/on/onca/",
	}, got.Sources)
	assert.NotEmpty(t, got.ObservedImpact)
	assert.NotEmpty(t, got.CommunicationDraft)
	assert.Equal(t, "FC-2026-0142", got.CaseNumber)
	assert.Equal(t, fixed, got.GeneratedAt)
	assert.Contains(t, got.PromptContext, "library parking lot")

	for _, call := range []string{CallSummary, CallCategorization, CallLegalSearch, CallLegal, CallNextSteps} {
		sub, ok := got.AIResponses[call]
		require.True(t, ok, call)
		assert.Equal(t, domain.SubResultOK, sub.Status, call)
		assert.NotEmpty(t, sub.Raw, call)
	}

	assert.Equal(t, int32(1), provider.LegalSearchCalls.Load())
	assert.Equal(t, int32(0), provider.LegalCalls.Load(), "plain legal call is only a fallback")
}

func TestGenerate_SubCallFailuresUsePlaceholders(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(p *mock.Provider)
		assert func(t *testing.T, got *domain.ReportResult)
	}{
		{
			name: "summary failure",
			setup: func(p *mock.Provider) {
				p.SummaryError = ai.WrapError("summarize", ai.EAIUnavailable)
			},
			assert: func(t *testing.T, got *domain.ReportResult) {
				assert.Equal(t, FallbackTitle, got.Title)
				assert.Equal(t, FallbackSummary, got.ProfessionalSummary)
				assert.Equal(t, "Schedule Violation", got.Category)
				sub := got.AIResponses[CallSummary]
				assert.Equal(t, domain.SubResultFallback, sub.Status)
				assert.Equal(t, "provider", sub.ErrorClass)
			},
		},
		{
			name: "malformed categorization",
			setup: func(p *mock.Provider) {
				p.CategorizeError = ai.WrapError("categorize", ai.EAIMalformed)
			},
			assert: func(t *testing.T, got *domain.ReportResult) {
				assert.Equal(t, FallbackCategory, got.Category)
				assert.Equal(t, domain.SeverityUnknown, got.Severity)
				assert.Equal(t, FallbackJustification, got.SeverityJustification)
				assert.Equal(t, "malformed", got.AIResponses[CallCategorization].ErrorClass)
				assert.Equal(t, "Missed Parenting-Time Exchange", got.Title)
			},
		},
		{
			name: "unrecognized severity",
			setup: func(p *mock.Provider) {
				p.CategorizeResponse = &ai.CategorizationResult{
					Category:              "Communication Breakdown",
					Severity:              "catastrophic",
					SeverityJustification: "Escalating messages.",
				}
			},
			assert: func(t *testing.T, got *domain.ReportResult) {
				assert.Equal(t, "Communication Breakdown", got.Category)
				assert.Equal(t, domain.SeverityUnknown, got.Severity)
				assert.Equal(t, domain.SubResultOK, got.AIResponses[CallCategorization].Status)
			},
		},
		{
			name: "both legal calls fail",
			setup: func(p *mock.Provider) {
				p.LegalSearchError = ai.WrapError("legal search", ai.EAIUnavailable)
				p.LegalError = ai.WrapError("legal", ai.EAIRateLimit)
			},
			assert: func(t *testing.T, got *domain.ReportResult) {
				assert.Equal(t, FallbackLegal, got.LegalInsights)
				assert.Empty(t, got.Sources)
				assert.NotNil(t, got.Sources)
				assert.Equal(t, domain.SubResultFallback, got.AIResponses[CallLegal].Status)
			},
		},
		{
			name: "blank fields fall back individually",
			setup: func(p *mock.Provider) {
				p.SummaryResponse = &ai.SummaryResult{Title: "  ", ProfessionalSummary: "A factual summary."}
			},
			assert: func(t *testing.T, got *domain.ReportResult) {
				assert.Equal(t, FallbackTitle, got.Title)
				assert.Equal(t, "A factual summary.", got.ProfessionalSummary)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mock.New(testLogger())
			tt.setup(provider)
			o := New(provider, Config{}, testLogger())

			got, err := o.Generate(context.Background(), testRecord())
			require.NoError(t, err)
			tt.assert(t, got)
		})
	}
}

func TestGenerate_LegalSearchFallsBackToPlainCall(t *testing.T) {
	provider := mock.New(testLogger())
	provider.LegalSearchError = ai.WrapError("legal search", ai.EAIUnavailable)
	provider.LegalResponse = &ai.LegalResult{
		LegalInsights: "Plain legal insights.",
		Sources:       []string{"www.ontario.ca/laws/statute/90f03"},
	}
	o := New(provider, Config{}, testLogger())

	got, err := o.Generate(context.Background(), testRecord())
	require.NoError(t, err)

	assert.Equal(t, int32(1), provider.LegalSearchCalls.Load())
	assert.Equal(t, int32(1), provider.LegalCalls.Load())
	assert.Equal(t, "Plain legal insights.", got.LegalInsights)
	assert.Equal(t, []string{"https://ontario.ca/laws/statute/90f03"}, got.Sources)
	assert.Equal(t, domain.SubResultFallback, got.AIResponses[CallLegalSearch].Status)
	assert.Equal(t, domain.SubResultOK, got.AIResponses[CallLegal].Status)
}

func TestGenerate_NoProviderReturnsPlaceholder(t *testing.T) {
	o := New(nil, Config{NextSteps: true}, testLogger())
	assert.False(t, o.HasProvider())

	got, err := o.Generate(context.Background(), testRecord())
	require.NoError(t, err)

	assert.Equal(t, FallbackTitle, got.Title)
	assert.Equal(t, FallbackLegal, got.LegalInsights)
	assert.Equal(t, domain.SeverityUnknown, got.Severity)
	assert.Equal(t, "FC-2026-0142", got.CaseNumber)
	assert.Len(t, got.AIResponses, 4)
	for call, sub := range got.AIResponses {
		assert.Equal(t, domain.SubResultSkipped, sub.Status, call)
	}
}

func TestGenerate_NextStepsDisabled(t *testing.T) {
	provider := mock.New(testLogger())
	o := New(provider, Config{NextSteps: false}, testLogger())

	got, err := o.Generate(context.Background(), testRecord())
	require.NoError(t, err)

	assert.Equal(t, int32(0), provider.NextStepsCalls.Load())
	assert.Empty(t, got.ObservedImpact)
	assert.NotContains(t, got.AIResponses, CallNextSteps)
}

func TestGenerate_TimeoutAndCancel(t *testing.T) {
	t.Run("request timeout", func(t *testing.T) {
		provider := mock.New(testLogger())
		provider.Delay = time.Second
		o := New(provider, Config{Timeout: 20 * time.Millisecond}, testLogger())

		got, err := o.Generate(context.Background(), testRecord())
		assert.Nil(t, got)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrGenerationTimedOut))
		assert.Equal(t, domain.ETIMEOUT, domain.ErrorCode(err))
	})

	t.Run("caller cancels", func(t *testing.T) {
		provider := mock.New(testLogger())
		provider.Delay = 5 * time.Second
		o := New(provider, Config{Timeout: 10 * time.Second}, testLogger())

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		start := time.Now()
		got, err := o.Generate(ctx, testRecord())
		assert.Nil(t, got)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrGenerationCanceled))
		assert.Equal(t, domain.ECANCELED, domain.ErrorCode(err))
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestJurisdictionName(t *testing.T) {
	assert.Equal(t, "Ontario", jurisdictionName("  ON "))
	assert.Equal(t, "Atlantis", jurisdictionName(" Atlantis "))
}

func TestOutcome(t *testing.T) {
	ok := domain.SubResult{Status: domain.SubResultOK}
	fallback := domain.SubResult{Status: domain.SubResultFallback}
	skipped := domain.SubResult{Status: domain.SubResultSkipped}

	tests := []struct {
		name      string
		responses domain.AIResponses
		want      string
	}{
		{
			name:      "all calls succeeded",
			responses: domain.AIResponses{CallSummary: ok, CallCategorization: ok, CallLegal: ok},
			want:      OutcomeOK,
		},
		{
			name:      "failed search covered by legal call",
			responses: domain.AIResponses{CallSummary: ok, CallLegalSearch: fallback, CallLegal: ok},
			want:      OutcomeOK,
		},
		{
			name:      "one call fell back",
			responses: domain.AIResponses{CallSummary: fallback, CallCategorization: ok},
			want:      OutcomePartial,
		},
		{
			name:      "nothing ran",
			responses: domain.AIResponses{CallSummary: skipped, CallCategorization: skipped},
			want:      OutcomePlaceholder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(&domain.ReportResult{AIResponses: tt.responses}))
		})
	}
}
