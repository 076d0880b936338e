// Package domain contains core business types and interfaces.
//
// This file defines the ReportResult produced by the report orchestrator
// and the severity scale used to style it.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// =============================================================================
// Severity
// =============================================================================

// Severity is the AI-assessed seriousness of an incident.
type Severity string

const (
	SeverityLow     Severity = "Low"
	SeverityMedium  Severity = "Medium"
	SeverityHigh    Severity = "High"
	SeverityUnknown Severity = "Unknown"
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// IsKnown returns true for Low, Medium and High.
func (s Severity) IsKnown() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// ParseSeverity maps free text onto the closed severity scale.
// Anything unrecognized becomes SeverityUnknown.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow
	case "medium", "moderate":
		return SeverityMedium
	case "high":
		return SeverityHigh
	}
	return SeverityUnknown
}

// SeverityTheme holds the presentation colours for one severity level.
type SeverityTheme struct {
	Label      string
	Color      string // Text and border colour
	Background string // Badge background
}

var severityThemes = map[Severity]SeverityTheme{
	SeverityHigh:   {Label: "High", Color: "#B91C1C", Background: "#FEE2E2"},
	SeverityMedium: {Label: "Medium", Color: "#B45309", Background: "#FEF3C7"},
	SeverityLow:    {Label: "Low", Color: "#047857", Background: "#D1FAE5"},
}

var unknownTheme = SeverityTheme{Label: "Unknown", Color: "#4B5563", Background: "#F3F4F6"}

// Theme returns the presentation theme. Unrecognized levels get the
// neutral "Unknown" theme.
func (s Severity) Theme() SeverityTheme {
	if theme, ok := severityThemes[s]; ok {
		return theme
	}
	return unknownTheme
}

// =============================================================================
// AI Sub-results
// =============================================================================

// SubResultStatus records how one orchestrator sub-call ended.
type SubResultStatus string

const (
	SubResultOK       SubResultStatus = "ok"
	SubResultFallback SubResultStatus = "fallback"
	SubResultSkipped  SubResultStatus = "skipped"
)

// SubResult is the diagnostic record for one AI sub-call.
type SubResult struct {
	Status     SubResultStatus `json:"status"`
	ErrorClass string          `json:"errorClass,omitempty"` // "malformed" or "provider"
	Error      string          `json:"error,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	Duration   time.Duration   `json:"durationNs,omitempty"`
}

// AIResponses maps sub-call names to their diagnostic record.
type AIResponses map[string]SubResult

// =============================================================================
// Report Result
// =============================================================================

// ReportResult is the aggregate AI output for one generated report.
// It is never modified after the orchestrator returns it.
type ReportResult struct {
	Title                 string      `json:"title"`
	ProfessionalSummary   string      `json:"professionalSummary"`
	Category              string      `json:"category"`
	Severity              Severity    `json:"severity"`
	SeverityJustification string      `json:"severityJustification"`
	LegalInsights         string      `json:"legalInsights"`
	Sources               []string    `json:"sources"`
	ObservedImpact        string      `json:"observedImpact,omitempty"`
	CommunicationDraft    string      `json:"communicationDraft,omitempty"`
	PromptContext         string      `json:"promptContext,omitempty"`
	CaseNumber            string      `json:"caseNumber"`
	GeneratedAt           time.Time   `json:"generatedAt"`
	AIResponses           AIResponses `json:"aiResponses,omitempty"`
}

// IsEmpty returns true if there is nothing worth exporting.
func (r *ReportResult) IsEmpty() bool {
	if r == nil {
		return true
	}
	return strings.TrimSpace(r.Title) == "" &&
		strings.TrimSpace(r.ProfessionalSummary) == "" &&
		strings.TrimSpace(r.LegalInsights) == ""
}
