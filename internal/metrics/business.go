package metrics

import "github.com/DukeRupert/custodybuddy/internal/ai"

// AICall records one provider call outcome for the named report or
// evidence call.
func AICall(call string, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if class := ai.ErrorClass(err); class != "" {
			status = class
		}
	}
	AIAPICalls.WithLabelValues(call, status).Inc()
}

// AIUsage adds token usage to the running totals.
func AIUsage(usage ai.UsageInfo) {
	if usage.InputTokens > 0 {
		AITokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		AITokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
	}
}

// ReportGenerated records the outcome of a report generation.
func ReportGenerated(outcome string) {
	ReportsGenerated.WithLabelValues(outcome).Inc()
}

// EvidenceOffered records one intake decision.
func EvidenceOffered(outcome string) {
	EvidenceIntake.WithLabelValues(outcome).Inc()
}

// EvidenceAnalysis records one evidence analysis.
func EvidenceAnalysis(kind, status string) {
	EvidenceAnalyzed.WithLabelValues(kind, status).Inc()
}

// DraftOperation records a draft store call.
func DraftOperation(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DraftOperations.WithLabelValues(op, status).Inc()
}
