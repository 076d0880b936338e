// Package report assembles the AI-generated incident report.
//
// The Orchestrator fans out the summary, categorization, legal and
// next-steps calls concurrently and merges them into one ReportResult.
// A failed call is replaced by a fixed placeholder; only the request-level
// timeout or the caller's cancellation abort a generation.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DukeRupert/custodybuddy/internal/ai"
	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/legal"
	"github.com/DukeRupert/custodybuddy/internal/metrics"
)

// DefaultTimeout bounds a whole generation.
const DefaultTimeout = 25 * time.Second

// Placeholder values used when a sub-call fails.
const (
	FallbackTitle         = "Incident Report"
	FallbackSummary       = "Summary unavailable. Please review the narrative."
	FallbackCategory      = "Pending AI classification"
	FallbackJustification = "Severity could not be determined automatically."
	FallbackLegal         = "Legal insights are currently unavailable."
)

// Sub-call names recorded in ReportResult.AIResponses.
const (
	CallSummary        = "summary"
	CallCategorization = "categorization"
	CallLegalSearch    = "legalSearch"
	CallLegal          = "legal"
	CallNextSteps      = "nextSteps"
)

var (
	// ErrGenerationTimedOut means the request-level timeout fired first.
	ErrGenerationTimedOut = errors.New("report generation timed out")

	// ErrGenerationCanceled means the caller canceled first.
	ErrGenerationCanceled = errors.New("report generation was canceled")
)

// Config controls the orchestrator.
type Config struct {
	Timeout   time.Duration
	NextSteps bool
}

// Orchestrator generates reports from incident records.
type Orchestrator struct {
	provider ai.Provider
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Orchestrator. A nil provider yields placeholder reports
// without any network calls.
func New(provider ai.Provider, config Config, logger *slog.Logger) *Orchestrator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		provider: provider,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// HasProvider returns true if AI calls will be attempted.
func (o *Orchestrator) HasProvider() bool {
	return o.provider != nil
}

// Placeholder returns an all-fallback report for rec.
func Placeholder(rec domain.IncidentRecord, now time.Time) *domain.ReportResult {
	return &domain.ReportResult{
		Title:                 FallbackTitle,
		ProfessionalSummary:   FallbackSummary,
		Category:              FallbackCategory,
		Severity:              domain.SeverityUnknown,
		SeverityJustification: FallbackJustification,
		LegalInsights:         FallbackLegal,
		Sources:               []string{},
		PromptContext:         ai.PromptContext(rec),
		CaseNumber:            strings.TrimSpace(rec.CaseNumber),
		GeneratedAt:           now.UTC(),
		AIResponses:           domain.AIResponses{},
	}
}

// Generate runs every sub-call concurrently and merges the results.
// Provider failures become placeholders and are never returned. The only
// errors are ErrGenerationTimedOut and ErrGenerationCanceled, wrapped in a
// *domain.Error.
func (o *Orchestrator) Generate(ctx context.Context, rec domain.IncidentRecord) (*domain.ReportResult, error) {
	const op = "report.generate"

	result := Placeholder(rec, o.now())
	if o.provider == nil {
		for _, call := range o.calls() {
			result.AIResponses[call] = domain.SubResult{Status: domain.SubResultSkipped}
		}
		metrics.ReportGenerated(OutcomePlaceholder)
		o.logger.Info("No AI provider configured, returning placeholder report")
		return result, nil
	}

	params := ai.ReportParams{
		PromptContext: result.PromptContext,
		Jurisdiction:  jurisdictionName(rec.Jurisdiction),
	}

	gctx, cancel := context.WithTimeoutCause(ctx, o.config.Timeout, ErrGenerationTimedOut)
	defer cancel()

	var mu sync.Mutex
	record := func(call string, sub domain.SubResult, apply func()) {
		mu.Lock()
		defer mu.Unlock()
		result.AIResponses[call] = sub
		if apply != nil {
			apply()
		}
	}

	start := time.Now()
	eg, egCtx := errgroup.WithContext(gctx)

	eg.Go(func() error {
		out, sub := run(egCtx, o, CallSummary, func(ctx context.Context) (*ai.SummaryResult, error) {
			return o.provider.Summarize(ctx, params)
		}, func(r *ai.SummaryResult) (json.RawMessage, ai.UsageInfo) { return r.Raw, r.Usage })
		record(CallSummary, sub, func() {
			if out == nil {
				return
			}
			result.Title = orFallback(out.Title, FallbackTitle)
			result.ProfessionalSummary = orFallback(out.ProfessionalSummary, FallbackSummary)
		})
		return nil
	})

	eg.Go(func() error {
		out, sub := run(egCtx, o, CallCategorization, func(ctx context.Context) (*ai.CategorizationResult, error) {
			return o.provider.Categorize(ctx, params)
		}, func(r *ai.CategorizationResult) (json.RawMessage, ai.UsageInfo) { return r.Raw, r.Usage })
		record(CallCategorization, sub, func() {
			if out == nil {
				return
			}
			result.Category = orFallback(out.Category, FallbackCategory)
			result.Severity = domain.ParseSeverity(out.Severity)
			result.SeverityJustification = orFallback(out.SeverityJustification, FallbackJustification)
		})
		return nil
	})

	eg.Go(func() error {
		out, subs := o.legal(egCtx, params)
		for call, sub := range subs {
			record(call, sub, nil)
		}
		record(CallLegal, subs[CallLegal], func() {
			if out == nil {
				return
			}
			result.LegalInsights = orFallback(out.LegalInsights, FallbackLegal)
			result.Sources = legal.NormalizeSources(out.Sources)
		})
		return nil
	})

	if o.config.NextSteps {
		eg.Go(func() error {
			out, sub := run(egCtx, o, CallNextSteps, func(ctx context.Context) (*ai.NextStepsResult, error) {
				return o.provider.NextSteps(ctx, params)
			}, func(r *ai.NextStepsResult) (json.RawMessage, ai.UsageInfo) { return r.Raw, r.Usage })
			record(CallNextSteps, sub, func() {
				if out == nil {
					return
				}
				result.ObservedImpact = strings.TrimSpace(out.ObservedImpact)
				result.CommunicationDraft = strings.TrimSpace(out.CommunicationDraft)
			})
			return nil
		})
	}

	_ = eg.Wait()

	if gctx.Err() != nil {
		if errors.Is(context.Cause(gctx), ErrGenerationTimedOut) {
			metrics.ReportGenerated("timeout")
			o.logger.Warn("Report generation timed out", "timeout", o.config.Timeout)
			return nil, domain.Wrap(ErrGenerationTimedOut, domain.ETIMEOUT, op, "Report generation timed out. Please try again.")
		}
		metrics.ReportGenerated("canceled")
		o.logger.Info("Report generation canceled")
		return nil, domain.Wrap(ErrGenerationCanceled, domain.ECANCELED, op, "Report generation was canceled.")
	}

	outcome := Outcome(result)
	metrics.ReportGenerated(outcome)

	o.logger.Info("Report generated",
		"provider", o.provider.Name(),
		"outcome", outcome,
		"severity", result.Severity,
		"sources", len(result.Sources),
		"duration", time.Since(start),
	)

	return result, nil
}

// Report outcomes.
const (
	OutcomeOK          = "ok"
	OutcomePartial     = "partial"
	OutcomePlaceholder = "placeholder"
)

// Outcome classifies a finished report: placeholder when no call ran,
// partial when any call fell back, ok otherwise.
func Outcome(result *domain.ReportResult) string {
	outcome := OutcomeOK
	skipped := 0
	for call, sub := range result.AIResponses {
		switch {
		case sub.Status == domain.SubResultSkipped:
			skipped++
		// A failed search is covered by the plain legal call
		case call != CallLegalSearch && sub.Status == domain.SubResultFallback:
			outcome = OutcomePartial
		}
	}
	if len(result.AIResponses) > 0 && skipped == len(result.AIResponses) {
		return OutcomePlaceholder
	}
	return outcome
}

// legal tries the search-grounded call first and falls back to the plain
// structured call with the same prompt.
func (o *Orchestrator) legal(ctx context.Context, params ai.ReportParams) (*ai.LegalResult, map[string]domain.SubResult) {
	extract := func(r *ai.LegalResult) (json.RawMessage, ai.UsageInfo) { return r.Raw, r.Usage }
	subs := map[string]domain.SubResult{}

	out, sub := run(ctx, o, CallLegalSearch, func(ctx context.Context) (*ai.LegalResult, error) {
		return o.provider.LegalInsightsWithSearch(ctx, params)
	}, extract)
	subs[CallLegalSearch] = sub
	if out != nil || ctx.Err() != nil {
		subs[CallLegal] = sub
		return out, subs
	}

	out, subs[CallLegal] = run(ctx, o, CallLegal, func(ctx context.Context) (*ai.LegalResult, error) {
		return o.provider.LegalInsights(ctx, params)
	}, extract)
	return out, subs
}

// calls lists the sub-call names this orchestrator issues.
func (o *Orchestrator) calls() []string {
	calls := []string{CallSummary, CallCategorization, CallLegal}
	if o.config.NextSteps {
		calls = append(calls, CallNextSteps)
	}
	return calls
}

// run executes one sub-call and builds its diagnostic record. A nil result
// means the caller must keep the placeholder.
func run[T any](ctx context.Context, o *Orchestrator, call string, fn func(context.Context) (*T, error), extract func(*T) (json.RawMessage, ai.UsageInfo)) (*T, domain.SubResult) {
	start := time.Now()
	out, err := fn(ctx)
	sub := domain.SubResult{Duration: time.Since(start)}

	metrics.AICall(call, err)
	if err == nil && out == nil {
		err = ai.WrapError(call, ai.EAIMalformed)
	}
	if err != nil {
		sub.Status = domain.SubResultFallback
		sub.ErrorClass = ai.ErrorClass(err)
		sub.Error = err.Error()
		if ctx.Err() == nil {
			o.logger.Warn("AI sub-call failed, using placeholder", "call", call, "error_class", sub.ErrorClass, "error", err)
		}
		return nil, sub
	}

	raw, usage := extract(out)
	metrics.AIUsage(usage)
	sub.Status = domain.SubResultOK
	sub.Raw = raw
	return out, sub
}

func orFallback(s, fallback string) string {
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}

// jurisdictionName returns the display name for a known jurisdiction, or
// the trimmed input otherwise.
func jurisdictionName(s string) string {
	if info, ok := legal.LookupJurisdiction(s); ok {
		return info.Name
	}
	return strings.TrimSpace(s)
}
