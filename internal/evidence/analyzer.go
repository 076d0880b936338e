package evidence

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/DukeRupert/custodybuddy/internal/ai"
	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/metrics"
	"github.com/DukeRupert/custodybuddy/internal/storage"
)

// Fixed analysis texts.
const (
	TextImageUnavailable = "Image data unavailable for analysis."
	TextAnalysisFailed   = "AI analysis could not be completed for this file."
	TextAudioVideo       = "Audio/video analysis is in development."
	TextUnsupported      = "Analysis for this file type is not yet supported."
)

// MaxImageDimension bounds both sides of an image sent to a provider.
const MaxImageDimension = 1568

// downscaleJPEGQuality is the quality used when re-encoding a large image.
const downscaleJPEGQuality = 85

// Analyzer produces a short relevance note for one evidence file.
type Analyzer struct {
	provider ai.Provider
	logger   *slog.Logger
}

// NewAnalyzer creates an Analyzer. A nil provider makes every provider
// dispatch return TextAnalysisFailed.
func NewAnalyzer(provider ai.Provider, logger *slog.Logger) *Analyzer {
	return &Analyzer{provider: provider, logger: logger}
}

// Analyze dispatches on the item's MIME type. It never fails: provider
// errors degrade to TextAnalysisFailed.
func (a *Analyzer) Analyze(ctx context.Context, item domain.EvidenceItem, data []byte, narrative string) string {
	switch {
	case storage.IsImage(item.Type):
		return a.analyzeImage(ctx, item, data, narrative)
	case storage.IsPDF(item.Type):
		return a.analyzeDocument(ctx, item, narrative)
	case storage.IsAudioOrVideo(item.Type):
		metrics.EvidenceAnalysis("audio_video", "placeholder")
		return TextAudioVideo
	default:
		metrics.EvidenceAnalysis("other", "placeholder")
		return TextUnsupported
	}
}

func (a *Analyzer) analyzeImage(ctx context.Context, item domain.EvidenceItem, data []byte, narrative string) string {
	if len(data) == 0 {
		metrics.EvidenceAnalysis("image", "unavailable")
		return TextImageUnavailable
	}
	if a.provider == nil {
		metrics.EvidenceAnalysis("image", "not_configured")
		return TextAnalysisFailed
	}

	imageData, contentType := a.fitImage(data, item.Type)

	start := time.Now()
	out, err := a.provider.AnalyzeImage(ctx, ai.AnalyzeImageParams{
		ImageData:   imageData,
		ContentType: contentType,
		FileName:    item.Name,
		Description: item.Description,
		Narrative:   narrative,
	})
	return a.finish("image", item, out, err, start)
}

func (a *Analyzer) analyzeDocument(ctx context.Context, item domain.EvidenceItem, narrative string) string {
	if a.provider == nil {
		metrics.EvidenceAnalysis("document", "not_configured")
		return TextAnalysisFailed
	}

	start := time.Now()
	out, err := a.provider.AnalyzeDocument(ctx, ai.AnalyzeDocumentParams{
		FileName:    item.Name,
		ContentType: item.Type,
		Description: item.Description,
		Narrative:   narrative,
	})
	return a.finish("document", item, out, err, start)
}

func (a *Analyzer) finish(kind string, item domain.EvidenceItem, out *ai.EvidenceAnalysis, err error, start time.Time) string {
	metrics.AICall("analyze_"+kind, err)
	if err != nil {
		a.logger.Warn("evidence analysis failed",
			"evidence_id", item.ID,
			"kind", kind,
			"duration", time.Since(start),
			"error", err,
		)
		metrics.EvidenceAnalysis(kind, "failed")
		return TextAnalysisFailed
	}

	metrics.AIUsage(out.Usage)
	text := strings.TrimSpace(out.Text)
	if text == "" {
		metrics.EvidenceAnalysis(kind, "empty")
		return TextAnalysisFailed
	}
	metrics.EvidenceAnalysis(kind, "success")
	return text
}

// fitImage shrinks images larger than MaxImageDimension on either side.
// Images that cannot be decoded are passed through unchanged and left for
// the provider to judge.
func (a *Analyzer) fitImage(data []byte, contentType string) ([]byte, string) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		a.logger.Debug("image not decodable locally, sending original", "content_type", contentType, "error", err)
		return data, contentType
	}

	bounds := img.Bounds()
	if bounds.Dx() <= MaxImageDimension && bounds.Dy() <= MaxImageDimension {
		return data, contentType
	}

	fitted := imaging.Fit(img, MaxImageDimension, MaxImageDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(downscaleJPEGQuality)); err != nil {
		a.logger.Warn("failed to re-encode downscaled image, sending original", "error", err)
		return data, contentType
	}
	return buf.Bytes(), "image/jpeg"
}
