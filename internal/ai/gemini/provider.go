// Package gemini implements ai.Provider on Google's Gemini API.
//
// Report calls use structured output (a response schema) so the model must
// answer with the expected JSON shape. The search variant of legal insights
// enables Google Search grounding instead, which cannot be combined with a
// response schema, so its JSON is parsed from the text answer.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/DukeRupert/custodybuddy/internal/ai"
)

// DefaultModel is the default Gemini model to use
const DefaultModel = "gemini-2.5-flash"

// Config contains configuration for the Gemini provider
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string // Overrides the API endpoint, used by tests
	ProviderConfig ai.ProviderConfig
}

// Provider implements the ai.Provider interface using the genai SDK
type Provider struct {
	config Config
	client *genai.Client
	logger *slog.Logger
}

// New creates a new Gemini AI provider
func New(ctx context.Context, config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.ProviderConfig.MaxRetries == 0 {
		config.ProviderConfig.MaxRetries = 3
	}
	if config.ProviderConfig.RetryBaseDelay == 0 {
		config.ProviderConfig.RetryBaseDelay = 1 * time.Second
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	cc := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: config.ProviderConfig.RequestTimeout},
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Provider{config: config, client: client, logger: logger}, nil
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "gemini"
}

// =============================================================================
// Report Calls
// =============================================================================

// Summarize generates the report title and professional summary
func (p *Provider) Summarize(ctx context.Context, params ai.ReportParams) (*ai.SummaryResult, error) {
	var out ai.SummaryResult
	schema := objectSchema(map[string]*genai.Schema{
		"title":               stringSchema(),
		"professionalSummary": stringSchema(),
	})

	resp, err := p.generate(ctx, "summarize", textParts(ai.SummaryPrompt(params.PromptContext)), structured(schema))
	if err != nil {
		return nil, err
	}
	if out.Raw, err = ai.DecodeJSON(resp.Text(), &out); err != nil {
		return nil, ai.WrapError("summarize", err)
	}
	out.Usage = p.usage(resp)
	return &out, nil
}

// Categorize generates category, severity and justification
func (p *Provider) Categorize(ctx context.Context, params ai.ReportParams) (*ai.CategorizationResult, error) {
	var out ai.CategorizationResult
	severity := stringSchema()
	severity.Enum = []string{"Low", "Medium", "High"}
	schema := objectSchema(map[string]*genai.Schema{
		"category":              stringSchema(),
		"severity":              severity,
		"severityJustification": stringSchema(),
	})

	resp, err := p.generate(ctx, "categorize", textParts(ai.CategorizationPrompt(params.PromptContext)), structured(schema))
	if err != nil {
		return nil, err
	}
	if out.Raw, err = ai.DecodeJSON(resp.Text(), &out); err != nil {
		return nil, ai.WrapError("categorize", err)
	}
	out.Usage = p.usage(resp)
	return &out, nil
}

// LegalInsights generates legal notes with structured output and no search
func (p *Provider) LegalInsights(ctx context.Context, params ai.ReportParams) (*ai.LegalResult, error) {
	var out ai.LegalResult
	resp, err := p.generate(ctx, "legal insights", textParts(ai.LegalPrompt(params.PromptContext, params.Jurisdiction)), structured(legalSchema()))
	if err != nil {
		return nil, err
	}
	if out.Raw, err = ai.DecodeJSON(resp.Text(), &out); err != nil {
		return nil, ai.WrapError("legal insights", err)
	}
	out.Usage = p.usage(resp)
	return &out, nil
}

// LegalInsightsWithSearch generates legal notes grounded on Google Search.
// Grounding chunk URIs are appended to Sources.
func (p *Provider) LegalInsightsWithSearch(ctx context.Context, params ai.ReportParams) (*ai.LegalResult, error) {
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	resp, err := p.generate(ctx, "legal insights search", textParts(ai.LegalPrompt(params.PromptContext, params.Jurisdiction)), cfg)
	if err != nil {
		return nil, err
	}

	var out ai.LegalResult
	if out.Raw, err = ai.DecodeJSON(resp.Text(), &out); err != nil {
		return nil, ai.WrapError("legal insights search", err)
	}
	out.Sources = append(out.Sources, groundingURIs(resp)...)
	out.Usage = p.usage(resp)
	return &out, nil
}

// NextSteps generates observed impact and a communication draft
func (p *Provider) NextSteps(ctx context.Context, params ai.ReportParams) (*ai.NextStepsResult, error) {
	var out ai.NextStepsResult
	schema := objectSchema(map[string]*genai.Schema{
		"observedImpact":     stringSchema(),
		"communicationDraft": stringSchema(),
	})

	resp, err := p.generate(ctx, "next steps", textParts(ai.NextStepsPrompt(params.PromptContext)), structured(schema))
	if err != nil {
		return nil, err
	}
	if out.Raw, err = ai.DecodeJSON(resp.Text(), &out); err != nil {
		return nil, ai.WrapError("next steps", err)
	}
	out.Usage = p.usage(resp)
	return &out, nil
}

// =============================================================================
// Evidence Calls
// =============================================================================

// AnalyzeImage sends an inline image with the evidence instruction
func (p *Provider) AnalyzeImage(ctx context.Context, params ai.AnalyzeImageParams) (*ai.EvidenceAnalysis, error) {
	if len(params.ImageData) == 0 {
		return nil, ai.WrapError("analyze image", ai.EAIInvalidImage)
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(params.ImageData, params.ContentType),
		genai.NewPartFromText(ai.ImagePrompt(params)),
	}
	return p.analyze(ctx, "analyze image", parts)
}

// AnalyzeDocument describes a document's likely relevance from its metadata
func (p *Provider) AnalyzeDocument(ctx context.Context, params ai.AnalyzeDocumentParams) (*ai.EvidenceAnalysis, error) {
	return p.analyze(ctx, "analyze document", textParts(ai.DocumentPrompt(params)))
}

func (p *Provider) analyze(ctx context.Context, op string, parts []*genai.Part) (*ai.EvidenceAnalysis, error) {
	schema := objectSchema(map[string]*genai.Schema{"analysis": stringSchema()})

	resp, err := p.generate(ctx, op, parts, structured(schema))
	if err != nil {
		return nil, err
	}

	var out ai.EvidenceAnalysis
	if _, err := ai.DecodeJSON(resp.Text(), &out); err != nil {
		return nil, ai.WrapError(op, err)
	}
	out.Usage = p.usage(resp)
	return &out, nil
}

// =============================================================================
// Transport
// =============================================================================

// generate calls the model with exponential backoff on transient errors
func (p *Provider) generate(ctx context.Context, op string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var lastErr error
	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, cfg)
		if err == nil {
			if len(resp.Candidates) == 0 {
				return nil, ai.WrapError(op, fmt.Errorf("%w: no candidates in response", ai.EAIMalformed))
			}
			return resp, nil
		}

		lastErr = p.mapError(ctx, err)
		if !ai.IsRetryable(lastErr) || attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying AI request", "provider", "gemini", "operation", op, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ai.WrapError(op, ctx.Err())
		}
	}

	return nil, ai.WrapError(op, lastErr)
}

// mapError maps SDK errors onto the ai sentinels
func (p *Provider) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) {
			return fmt.Errorf("%w: %v", ai.EAIUnavailable, err)
		}
		apiErr = *apiErrPtr
	}

	switch apiErr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ai.EAITimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", apiErr.Code, apiErr.Message)
	}
}

func (p *Provider) usage(resp *genai.GenerateContentResponse) ai.UsageInfo {
	u := ai.UsageInfo{Model: p.config.Model}
	if resp.UsageMetadata != nil {
		u.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return u
}

// groundingURIs returns the web sources the search grounding relied on
func groundingURIs(resp *genai.GenerateContentResponse) []string {
	var uris []string
	for _, cand := range resp.Candidates {
		if cand == nil || cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk != nil && chunk.Web != nil && chunk.Web.URI != "" {
				uris = append(uris, chunk.Web.URI)
			}
		}
	}
	return uris
}

func textParts(text string) []*genai.Part {
	return []*genai.Part{genai.NewPartFromText(text)}
}

func structured(schema *genai.Schema) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
}

func stringSchema() *genai.Schema {
	return &genai.Schema{Type: genai.TypeString}
}

func objectSchema(props map[string]*genai.Schema) *genai.Schema {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func legalSchema() *genai.Schema {
	return objectSchema(map[string]*genai.Schema{
		"legalInsights": stringSchema(),
		"sources":       {Type: genai.TypeArray, Items: stringSchema()},
	})
}
