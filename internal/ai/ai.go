package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider defines the interface for the AI calls behind incident reports
// and evidence analysis. Every report call receives the same prompt
// context block built by PromptContext.
type Provider interface {
	// Name identifies the provider in logs and metrics
	Name() string

	// Summarize writes a title and a neutral, court-oriented summary
	Summarize(ctx context.Context, params ReportParams) (*SummaryResult, error)

	// Categorize assigns a category and a severity with justification
	Categorize(ctx context.Context, params ReportParams) (*CategorizationResult, error)

	// LegalInsights produces jurisdiction-aware legal notes and source URLs
	LegalInsights(ctx context.Context, params ReportParams) (*LegalResult, error)

	// LegalInsightsWithSearch is LegalInsights grounded on a live web search
	LegalInsightsWithSearch(ctx context.Context, params ReportParams) (*LegalResult, error)

	// NextSteps describes the observed impact and drafts a neutral message
	NextSteps(ctx context.Context, params ReportParams) (*NextStepsResult, error)

	// AnalyzeImage explains how an image relates to the narrative
	AnalyzeImage(ctx context.Context, params AnalyzeImageParams) (*EvidenceAnalysis, error)

	// AnalyzeDocument explains how a document may be relevant, from metadata only
	AnalyzeDocument(ctx context.Context, params AnalyzeDocumentParams) (*EvidenceAnalysis, error)
}

// ReportParams contains parameters shared by every report sub-call
type ReportParams struct {
	PromptContext string // Linearized incident record
	Jurisdiction  string // Normalized jurisdiction key
}

// AnalyzeImageParams contains parameters for image evidence analysis
type AnalyzeImageParams struct {
	ImageData   []byte // Raw image bytes
	ContentType string // MIME type (e.g., "image/jpeg")
	FileName    string
	Description string // User-provided description
	Narrative   string // Incident narrative for relevance
}

// AnalyzeDocumentParams contains parameters for document evidence analysis.
// Document bytes are never sent to a provider.
type AnalyzeDocumentParams struct {
	FileName    string
	ContentType string
	Description string
	Narrative   string
}

// SummaryResult is the output of the summary call
type SummaryResult struct {
	Title               string          `json:"title"`
	ProfessionalSummary string          `json:"professionalSummary"`
	Raw                 json.RawMessage `json:"-"`
	Usage               UsageInfo       `json:"-"`
}

// CategorizationResult is the output of the categorization call
type CategorizationResult struct {
	Category              string          `json:"category"`
	Severity              string          `json:"severity"`
	SeverityJustification string          `json:"severityJustification"`
	Raw                   json.RawMessage `json:"-"`
	Usage                 UsageInfo       `json:"-"`
}

// LegalResult is the output of the legal insights call
type LegalResult struct {
	LegalInsights string          `json:"legalInsights"`
	Sources       []string        `json:"sources"`
	Raw           json.RawMessage `json:"-"`
	Usage         UsageInfo       `json:"-"`
}

// NextStepsResult is the output of the next steps call
type NextStepsResult struct {
	ObservedImpact     string          `json:"observedImpact"`
	CommunicationDraft string          `json:"communicationDraft"`
	Raw                json.RawMessage `json:"-"`
	Usage              UsageInfo       `json:"-"`
}

// EvidenceAnalysis is a short relevance note for one evidence file
type EvidenceAnalysis struct {
	Text  string    `json:"analysis"`
	Usage UsageInfo `json:"-"`
}

// UsageInfo tracks API usage for monitoring
type UsageInfo struct {
	Model        string        // AI model used
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	Duration     time.Duration // Request duration
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum retry attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidImage indicates the image format or content is invalid
	EAIInvalidImage = errors.New("invalid image format or content")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIMalformed indicates the provider answered but the JSON was unusable
	EAIMalformed = errors.New("ai response was not valid JSON")

	// EAINotConfigured indicates no provider credentials are available
	EAINotConfigured = errors.New("ai provider not configured")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// ErrorClass separates malformed responses from transport and auth failures
// for diagnostics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, EAIMalformed):
		return "malformed"
	case errors.Is(err, EAINotConfigured):
		return "not_configured"
	default:
		return "provider"
	}
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}

// DecodeJSON extracts the first JSON object from a model response and
// decodes it into v. Models occasionally wrap JSON in code fences or add a
// sentence before it, so everything outside the outermost braces is ignored.
func DecodeJSON(text string, v any) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", EAIMalformed)
	}

	raw := json.RawMessage(text[start : end+1])
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("%w: %v", EAIMalformed, err)
	}
	return raw, nil
}
