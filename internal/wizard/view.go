package wizard

import (
	"github.com/google/uuid"

	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/legal"
	"github.com/DukeRupert/custodybuddy/internal/markdown"
)

// State is the client-facing snapshot of a session.
type State struct {
	ID              uuid.UUID               `json:"id"`
	Step            domain.Step             `json:"step"`
	StepName        string                  `json:"stepName"`
	Record          domain.IncidentRecord   `json:"record"`
	Errors          domain.ValidationErrors `json:"errors"`
	NeedsGeneration bool                    `json:"needsGeneration"`
	Generating      bool                    `json:"generating"`
	Report          *domain.ReportResult    `json:"report,omitempty"`
	Review          *Review                 `json:"review,omitempty"`
	Notice          *NoticeView             `json:"notice,omitempty"`
}

// Review is the rendered form of a report for the review screen.
type Review struct {
	SummaryHTML       string               `json:"summaryHtml"`
	LegalInsightsHTML string               `json:"legalInsightsHtml"`
	Severity          domain.SeverityTheme `json:"severity"`
	Legal             legal.Compiled       `json:"legal"`
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	st := State{
		ID:              s.id,
		Step:            s.wizard.Step(),
		StepName:        s.wizard.Step().String(),
		Record:          s.recordLocked(),
		Errors:          s.wizard.Errors(),
		NeedsGeneration: s.wizard.ShouldGenerate(),
		Generating:      s.generating,
		Report:          s.report,
		Notice:          NewNoticeView(s.notice),
	}
	s.mu.Unlock()

	if st.Report != nil {
		st.Review = NewReview(st.Report, st.Record.Jurisdiction)
	}
	return st
}

// NewReview renders report for display.
func NewReview(report *domain.ReportResult, jurisdiction string) *Review {
	return &Review{
		SummaryHTML: markdown.Render(report.ProfessionalSummary, markdown.Options{
			FallbackText: "Summary unavailable.",
		}),
		LegalInsightsHTML: markdown.Render(report.LegalInsights, markdown.Options{
			Extended:           true,
			ScreenReaderNewTab: true,
			ExternalIcon:       true,
			FallbackText:       "Legal insights are currently unavailable.",
		}),
		Severity: report.Severity.Theme(),
		Legal:    legal.Compile(report.LegalInsights, report.Sources, jurisdiction),
	}
}
