package storage

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// =============================================================================
// Content Type Detection
// =============================================================================

// DetectContentType determines the MIME type of a file.
//
// Detection priority:
// 1. If providedType is non-empty, use it directly
// 2. Try to detect from file extension using mime.TypeByExtension
// 3. Sniff content from the first 512 bytes of data (if available)
// 4. Fall back to "application/octet-stream"
//
// Parameters:
//   - providedType: Explicitly provided content type (e.g., from HTTP header)
//   - filename: File name used to extract extension for MIME lookup
//   - data: Optional reader for content sniffing (only first 512 bytes are read)
//
// Returns the detected MIME type.
func DetectContentType(providedType, filename string, data io.Reader) string {
	// 1. Use provided type if available
	if providedType != "" {
		return providedType
	}

	// 2. Try extension-based detection
	ext := strings.ToLower(filepath.Ext(filename))
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}

	// 3. Try content sniffing if data is available
	if data != nil {
		// Read up to 512 bytes for sniffing (http.DetectContentType requirement)
		buffer := make([]byte, 512)
		n, err := io.ReadFull(data, buffer)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			// If we can't read, fall through to default
		} else {
			// DetectContentType always returns a valid MIME type
			return http.DetectContentType(buffer[:n])
		}
	}

	// 4. Fall back to generic binary type
	return "application/octet-stream"
}

// =============================================================================
// Content Type Validation
// =============================================================================

// allowedEvidencePrefixes are the MIME families accepted as evidence.
var allowedEvidencePrefixes = []string{"image/", "audio/", "video/"}

// allowedEvidenceTypes are exact MIME types accepted as evidence.
var allowedEvidenceTypes = map[string]bool{
	"application/pdf": true,
}

// IsAllowedEvidenceType checks if a content type is accepted for evidence
// uploads: any image, audio or video type, or a PDF document.
func IsAllowedEvidenceType(contentType string) bool {
	baseType := baseContentType(contentType)
	if allowedEvidenceTypes[baseType] {
		return true
	}
	for _, prefix := range allowedEvidencePrefixes {
		if strings.HasPrefix(baseType, prefix) && len(baseType) > len(prefix) {
			return true
		}
	}
	return false
}

// IsImage returns true if the content type is any image format.
func IsImage(contentType string) bool {
	return strings.HasPrefix(baseContentType(contentType), "image/")
}

// IsPDF returns true if the content type is a PDF document.
func IsPDF(contentType string) bool {
	return baseContentType(contentType) == "application/pdf"
}

// IsAudioOrVideo returns true for audio and video recordings.
func IsAudioOrVideo(contentType string) bool {
	baseType := baseContentType(contentType)
	return strings.HasPrefix(baseType, "audio/") || strings.HasPrefix(baseType, "video/")
}

// baseContentType strips parameters like charset and normalizes case.
func baseContentType(contentType string) string {
	baseType := strings.Split(contentType, ";")[0]
	return strings.TrimSpace(strings.ToLower(baseType))
}

// =============================================================================
// File Extension Helpers
// =============================================================================

// extensionForContentType returns a common file extension for a MIME type.
// This is useful when generating filenames from content types.
func extensionForContentType(contentType string) string {
	baseType := baseContentType(contentType)

	// Common mappings
	extensions := map[string]string{
		"image/jpeg":      ".jpg",
		"image/jpg":       ".jpg",
		"image/png":       ".png",
		"image/webp":      ".webp",
		"image/heic":      ".heic",
		"image/heif":      ".heif",
		"image/gif":       ".gif",
		"application/pdf": ".pdf",
		"audio/mpeg":      ".mp3",
		"audio/mp4":       ".m4a",
		"audio/wav":       ".wav",
		"video/mp4":       ".mp4",
		"video/quicktime": ".mov",
		"video/webm":      ".webm",
	}

	if ext, ok := extensions[baseType]; ok {
		return ext
	}

	// Fall back to using mime package's reverse lookup
	// Get all extensions for this type and return the first one
	exts, err := mime.ExtensionsByType(contentType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}

	return ".bin"
}
