package mock

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/custodybuddy/internal/ai"
)

// Provider is a mock AI provider for testing and development.
//
// Configure responses and errors before use; they are read concurrently
// by the report orchestrator and must not be changed while calls are in
// flight. Call counters are safe for concurrent use.
type Provider struct {
	logger *slog.Logger

	// Delay is applied before every call. A canceled context ends the wait
	// with the context's error.
	Delay time.Duration

	// Configurable responses for testing
	SummaryResponse         *ai.SummaryResult
	SummaryError            error
	CategorizeResponse      *ai.CategorizationResult
	CategorizeError         error
	LegalResponse           *ai.LegalResult
	LegalError              error
	LegalSearchResponse     *ai.LegalResult
	LegalSearchError        error
	NextStepsResponse       *ai.NextStepsResult
	NextStepsError          error
	AnalyzeImageResponse    *ai.EvidenceAnalysis
	AnalyzeImageError       error
	AnalyzeDocumentResponse *ai.EvidenceAnalysis
	AnalyzeDocumentError    error

	// Call tracking for testing
	SummarizeCalls       atomic.Int32
	CategorizeCalls      atomic.Int32
	LegalCalls           atomic.Int32
	LegalSearchCalls     atomic.Int32
	NextStepsCalls       atomic.Int32
	AnalyzeImageCalls    atomic.Int32
	AnalyzeDocumentCalls atomic.Int32
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "mock"
}

func (p *Provider) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var mockUsage = ai.UsageInfo{
	Model:        "mock-ai-v1",
	InputTokens:  1250,
	OutputTokens: 350,
	Duration:     250 * time.Millisecond,
}

// Summarize returns a canned title and summary
func (p *Provider) Summarize(ctx context.Context, params ai.ReportParams) (*ai.SummaryResult, error) {
	p.SummarizeCalls.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	// If a custom response or error is set, use it
	if p.SummaryError != nil {
		return nil, p.SummaryError
	}
	if p.SummaryResponse != nil {
		return p.SummaryResponse, nil
	}

	out := &ai.SummaryResult{
		Title:               "Missed Parenting-Time Exchange",
		ProfessionalSummary: "The scheduled exchange did not take place at the agreed time.\n\nThe reporting parent waited at the exchange location and documented the absence.",
		Usage:               mockUsage,
	}
	out.Raw = marshalRaw(out)
	return out, nil
}

// Categorize returns a canned category and severity
func (p *Provider) Categorize(ctx context.Context, params ai.ReportParams) (*ai.CategorizationResult, error) {
	p.CategorizeCalls.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	if p.CategorizeError != nil {
		return nil, p.CategorizeError
	}
	if p.CategorizeResponse != nil {
		return p.CategorizeResponse, nil
	}

	out := &ai.CategorizationResult{
		Category:              "Schedule Violation",
		Severity:              "Medium",
		SeverityJustification: "The missed exchange disrupted the parenting schedule but no safety concern was described.",
		Usage:                 mockUsage,
	}
	out.Raw = marshalRaw(out)
	return out, nil
}

// LegalInsights returns canned legal insights
func (p *Provider) LegalInsights(ctx context.Context, params ai.ReportParams) (*ai.LegalResult, error) {
	p.LegalCalls.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	if p.LegalError != nil {
		return nil, p.LegalError
	}
	if p.LegalResponse != nil {
		return p.LegalResponse, nil
	}
	return defaultLegal(), nil
}

// LegalInsightsWithSearch returns canned search-grounded legal insights
func (p *Provider) LegalInsightsWithSearch(ctx context.Context, params ai.ReportParams) (*ai.LegalResult, error) {
	p.LegalSearchCalls.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	if p.LegalSearchError != nil {
		return nil, p.LegalSearchError
	}
	if p.LegalSearchResponse != nil {
		return p.LegalSearchResponse, nil
	}
	return defaultLegal(), nil
}

func defaultLegal() *ai.LegalResult {
	out := &ai.LegalResult{
		LegalInsights: "Parenting time in Ontario is governed by the [Children's Law Reform Act](https://www.ontario.ca/laws/statute/90c12). Courts consider **the best interests of the child** when reviewing repeated missed exchanges.",
		Sources: []string{
			"https://www.ontario.ca/laws/statute/90c12",
			"https://www.canlii.org/en/on/onca/",
		},
		Usage: mockUsage,
	}
	out.Raw = marshalRaw(out)
	return out
}

// NextSteps returns a canned impact statement and message draft
func (p *Provider) NextSteps(ctx context.Context, params ai.ReportParams) (*ai.NextStepsResult, error) {
	p.NextStepsCalls.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	if p.NextStepsError != nil {
		return nil, p.NextStepsError
	}
	if p.NextStepsResponse != nil {
		return p.NextStepsResponse, nil
	}

	out := &ai.NextStepsResult{
		ObservedImpact:     "The child expected the visit and was disappointed when it did not happen.",
		CommunicationDraft: "Hi, the exchange on Monday did not happen. Can we confirm the next pickup time in writing?",
		Usage:              mockUsage,
	}
	out.Raw = marshalRaw(out)
	return out, nil
}

// AnalyzeImage returns a canned one-sentence analysis
func (p *Provider) AnalyzeImage(ctx context.Context, params ai.AnalyzeImageParams) (*ai.EvidenceAnalysis, error) {
	p.AnalyzeImageCalls.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	if p.AnalyzeImageError != nil {
		return nil, p.AnalyzeImageError
	}
	if p.AnalyzeImageResponse != nil {
		return p.AnalyzeImageResponse, nil
	}
	return &ai.EvidenceAnalysis{
		Text:  "The screenshot shows a message thread that corroborates the timeline in the narrative.",
		Usage: mockUsage,
	}, nil
}

// AnalyzeDocument returns a canned one-sentence analysis
func (p *Provider) AnalyzeDocument(ctx context.Context, params ai.AnalyzeDocumentParams) (*ai.EvidenceAnalysis, error) {
	p.AnalyzeDocumentCalls.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	if p.AnalyzeDocumentError != nil {
		return nil, p.AnalyzeDocumentError
	}
	if p.AnalyzeDocumentResponse != nil {
		return p.AnalyzeDocumentResponse, nil
	}
	return &ai.EvidenceAnalysis{
		Text:  "A document like this may establish the agreed parenting schedule.",
		Usage: mockUsage,
	}, nil
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.SummarizeCalls.Store(0)
	p.CategorizeCalls.Store(0)
	p.LegalCalls.Store(0)
	p.LegalSearchCalls.Store(0)
	p.NextStepsCalls.Store(0)
	p.AnalyzeImageCalls.Store(0)
	p.AnalyzeDocumentCalls.Store(0)

	p.Delay = 0
	p.SummaryResponse, p.SummaryError = nil, nil
	p.CategorizeResponse, p.CategorizeError = nil, nil
	p.LegalResponse, p.LegalError = nil, nil
	p.LegalSearchResponse, p.LegalSearchError = nil, nil
	p.NextStepsResponse, p.NextStepsError = nil, nil
	p.AnalyzeImageResponse, p.AnalyzeImageError = nil, nil
	p.AnalyzeDocumentResponse, p.AnalyzeDocumentError = nil, nil
}

func marshalRaw(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
