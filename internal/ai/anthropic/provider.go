package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/custodybuddy/internal/ai"
)

const (
	// APIBaseURL is the base URL for the Anthropic API
	APIBaseURL = "https://api.anthropic.com/v1/messages"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// DefaultModel is the default Claude model to use
	DefaultModel = "claude-3-5-sonnet-20241022"

	// MaxImageSize is the maximum image size in bytes (5MB after downscaling)
	MaxImageSize = 5 * 1024 * 1024

	// webSearchTool is the server-side search tool used for legal insights
	webSearchTool = "web_search_20250305"
)

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string // Overrides APIBaseURL, used by tests
	ProviderConfig ai.ProviderConfig
}

// Provider implements the ai.Provider interface using Anthropic's Claude API
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new Anthropic AI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	// Set defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = APIBaseURL
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

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "anthropic"
}

// Summarize generates the report title and professional summary
func (p *Provider) Summarize(ctx context.Context, params ai.ReportParams) (*ai.SummaryResult, error) {
	var out ai.SummaryResult
	raw, usage, err := p.completeJSON(ctx, "summarize", textContent(ai.SummaryPrompt(params.PromptContext)), &out)
	if err != nil {
		return nil, err
	}
	out.Raw, out.Usage = raw, usage
	return &out, nil
}

// Categorize generates category, severity and justification
func (p *Provider) Categorize(ctx context.Context, params ai.ReportParams) (*ai.CategorizationResult, error) {
	var out ai.CategorizationResult
	raw, usage, err := p.completeJSON(ctx, "categorize", textContent(ai.CategorizationPrompt(params.PromptContext)), &out)
	if err != nil {
		return nil, err
	}
	out.Raw, out.Usage = raw, usage
	return &out, nil
}

// LegalInsights generates legal notes without web search
func (p *Provider) LegalInsights(ctx context.Context, params ai.ReportParams) (*ai.LegalResult, error) {
	var out ai.LegalResult
	raw, usage, err := p.completeJSON(ctx, "legal insights", textContent(ai.LegalPrompt(params.PromptContext, params.Jurisdiction)), &out)
	if err != nil {
		return nil, err
	}
	out.Raw, out.Usage = raw, usage
	return &out, nil
}

// LegalInsightsWithSearch generates legal notes using the web search tool.
// Citation URLs returned by the search are merged into Sources.
func (p *Provider) LegalInsightsWithSearch(ctx context.Context, params ai.ReportParams) (*ai.LegalResult, error) {
	startTime := time.Now()

	req := p.newRequest(textContent(ai.LegalPrompt(params.PromptContext, params.Jurisdiction)), 4096)
	req.Tools = []apiTool{{Type: webSearchTool, Name: "web_search", MaxUses: 5}}

	resp, err := p.send(ctx, req)
	if err != nil {
		return nil, ai.WrapError("legal insights search", err)
	}

	var out ai.LegalResult
	raw, err := ai.DecodeJSON(resp.text(), &out)
	if err != nil {
		return nil, ai.WrapError("legal insights search", err)
	}
	out.Raw = raw
	out.Sources = append(out.Sources, resp.citationURLs()...)
	out.Usage = p.usage(resp, startTime)
	return &out, nil
}

// NextSteps generates observed impact and a communication draft
func (p *Provider) NextSteps(ctx context.Context, params ai.ReportParams) (*ai.NextStepsResult, error) {
	var out ai.NextStepsResult
	raw, usage, err := p.completeJSON(ctx, "next steps", textContent(ai.NextStepsPrompt(params.PromptContext)), &out)
	if err != nil {
		return nil, err
	}
	out.Raw, out.Usage = raw, usage
	return &out, nil
}

// AnalyzeImage sends an image with the evidence instruction
func (p *Provider) AnalyzeImage(ctx context.Context, params ai.AnalyzeImageParams) (*ai.EvidenceAnalysis, error) {
	if err := p.validateImageParams(params); err != nil {
		return nil, ai.WrapError("analyze image", err)
	}

	content := []apiContent{
		{
			Type: "image",
			Source: &apiImageSource{
				Type:      "base64",
				MediaType: params.ContentType,
				Data:      base64.StdEncoding.EncodeToString(params.ImageData),
			},
		},
		{Type: "text", Text: ai.ImagePrompt(params)},
	}

	var out ai.EvidenceAnalysis
	_, usage, err := p.completeJSON(ctx, "analyze image", content, &out)
	if err != nil {
		return nil, err
	}
	out.Usage = usage
	return &out, nil
}

// AnalyzeDocument describes a document's likely relevance from its metadata
func (p *Provider) AnalyzeDocument(ctx context.Context, params ai.AnalyzeDocumentParams) (*ai.EvidenceAnalysis, error) {
	var out ai.EvidenceAnalysis
	_, usage, err := p.completeJSON(ctx, "analyze document", textContent(ai.DocumentPrompt(params)), &out)
	if err != nil {
		return nil, err
	}
	out.Usage = usage
	return &out, nil
}

// completeJSON sends a single-turn message and decodes the JSON answer into v
func (p *Provider) completeJSON(ctx context.Context, op string, content []apiContent, v any) (json.RawMessage, ai.UsageInfo, error) {
	startTime := time.Now()

	resp, err := p.send(ctx, p.newRequest(content, 2048))
	if err != nil {
		return nil, ai.UsageInfo{}, ai.WrapError(op, err)
	}

	raw, err := ai.DecodeJSON(resp.text(), v)
	if err != nil {
		p.logger.Warn("AI response was not valid JSON", "operation", op, "error", err)
		return nil, ai.UsageInfo{}, ai.WrapError(op, err)
	}

	return raw, p.usage(resp, startTime), nil
}

func (p *Provider) usage(resp *apiResponse, startTime time.Time) ai.UsageInfo {
	return ai.UsageInfo{
		Model:        p.config.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Duration:     time.Since(startTime),
	}
}

// validateImageParams validates the image analysis parameters
func (p *Provider) validateImageParams(params ai.AnalyzeImageParams) error {
	if len(params.ImageData) == 0 {
		return ai.EAIInvalidImage
	}
	if len(params.ImageData) > MaxImageSize {
		return fmt.Errorf("%w: image size %d exceeds maximum %d", ai.EAIInvalidImage, len(params.ImageData), MaxImageSize)
	}
	// Validate content type
	validTypes := map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/gif":  true,
		"image/webp": true,
	}
	if !validTypes[params.ContentType] {
		return fmt.Errorf("%w: unsupported content type %s", ai.EAIInvalidImage, params.ContentType)
	}
	return nil
}

func (p *Provider) newRequest(content []apiContent, maxTokens int) apiRequest {
	return apiRequest{
		Model:     p.config.Model,
		MaxTokens: maxTokens,
		Messages:  []apiMessage{{Role: "user", Content: content}},
	}
}

func textContent(text string) []apiContent {
	return []apiContent{{Type: "text", Text: text}}
}

// send marshals the request once and executes it with retries
func (p *Provider) send(ctx context.Context, reqBody apiRequest) (*apiResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return p.executeWithRetry(ctx, bodyBytes)
}

// executeWithRetry executes an HTTP request with exponential backoff retry.
// A fresh request is built for every attempt so the body is never reused.
func (p *Provider) executeWithRetry(ctx context.Context, body []byte) (*apiResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		resp, err := p.executeRequest(ctx, body)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Only retry on retryable errors
		if !ai.IsRetryable(err) {
			return nil, err
		}

		// Don't retry if we've exhausted attempts
		if attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		// Calculate backoff delay (exponential: base * 2^(attempt-1))
		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying AI request", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// executeRequest executes a single HTTP request
func (p *Provider) executeRequest(ctx context.Context, body []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		// Caller cancellation is not a provider fault
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ai.EAITimeout
		}
		// Network errors are typically retryable
		return nil, ai.EAIUnavailable
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp.StatusCode, bodyBytes)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", ai.EAIMalformed, err)
	}

	return &apiResp, nil
}

// mapHTTPError maps HTTP status codes to domain errors
func (p *Provider) mapHTTPError(statusCode int, body []byte) error {
	// Try to parse error response
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s", errResp.Error.Message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, 529:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, errResp.Error.Message)
	}
}

// API request/response types

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
	Tools     []apiTool    `json:"tools,omitempty"`
}

type apiTool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *apiImageSource `json:"source,omitempty"`
}

type apiImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []apiContentOutput `json:"content"`
	Model   string             `json:"model"`
	Usage   apiUsage           `json:"usage"`
}

// text joins every text block. Search responses split the answer into
// several blocks around citations.
func (r *apiResponse) text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// citationURLs returns the URLs cited by text blocks, in order of first use
func (r *apiResponse) citationURLs() []string {
	var urls []string
	seen := map[string]bool{}
	for _, c := range r.Content {
		for _, cite := range c.Citations {
			if cite.URL != "" && !seen[cite.URL] {
				seen[cite.URL] = true
				urls = append(urls, cite.URL)
			}
		}
	}
	return urls
}

type apiContentOutput struct {
	Type      string        `json:"type"`
	Text      string        `json:"text"`
	Citations []apiCitation `json:"citations,omitempty"`
}

type apiCitation struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
