// Package domain contains core business types and interfaces.
//
// This file defines the IncidentRecord aggregate built across the wizard
// and the EvidenceItem metadata attached to it.
package domain

import (
	"strings"
)

// =============================================================================
// Evidence Category
// =============================================================================

// EvidenceCategory classifies an attached evidence file.
type EvidenceCategory string

const (
	EvidenceCategoryScreenshot EvidenceCategory = "Screenshot"
	EvidenceCategoryDocument   EvidenceCategory = "Document"
	EvidenceCategoryAudio      EvidenceCategory = "Audio"
	EvidenceCategoryVideo      EvidenceCategory = "Video"
	EvidenceCategoryOther      EvidenceCategory = "Other"
)

// String returns the string representation of the category.
func (c EvidenceCategory) String() string {
	return string(c)
}

// IsValid returns true if the category is a recognized value.
func (c EvidenceCategory) IsValid() bool {
	switch c {
	case EvidenceCategoryScreenshot, EvidenceCategoryDocument,
		EvidenceCategoryAudio, EvidenceCategoryVideo, EvidenceCategoryOther:
		return true
	}
	return false
}

// CategoryForMIME picks the default category for a file's MIME type.
func CategoryForMIME(mimeType string) EvidenceCategory {
	base := strings.TrimSpace(strings.ToLower(strings.Split(mimeType, ";")[0]))
	switch {
	case strings.HasPrefix(base, "image/"):
		return EvidenceCategoryScreenshot
	case base == "application/pdf":
		return EvidenceCategoryDocument
	case strings.HasPrefix(base, "audio/"):
		return EvidenceCategoryAudio
	case strings.HasPrefix(base, "video/"):
		return EvidenceCategoryVideo
	}
	return EvidenceCategoryOther
}

// =============================================================================
// Evidence Item
// =============================================================================

// EvidenceItem is the metadata for one attached file.
//
// Raw bytes live in the blob store under StorageID. Base64 is a transient
// in-memory copy that is never serialized.
type EvidenceItem struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Size        int64            `json:"size"`
	Category    EvidenceCategory `json:"category"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
	StorageID   string           `json:"storageId,omitempty"`
	Base64      string           `json:"-"`
	AIAnalysis  string           `json:"aiAnalysis,omitempty"`

	// Token correlates an in-flight analysis with this exact version of
	// the item. Bumped whenever a fresh analysis is requested.
	Token uint64 `json:"-"`
}

// HasTransientPayload returns true if the raw bytes are held in memory.
func (e EvidenceItem) HasTransientPayload() bool {
	return e.Base64 != ""
}

// IsStored returns true if the raw bytes were persisted to the blob store.
func (e EvidenceItem) IsStored() bool {
	return e.StorageID != ""
}

// =============================================================================
// Incident Record
// =============================================================================

// IncidentRecord is the single aggregate assembled across the wizard steps.
//
// Records are treated as values: every mutation produces a new record via
// Clone so no step can alias another step's slices.
type IncidentRecord struct {
	ConsentAcknowledged bool           `json:"consentAcknowledged"`
	Date                string         `json:"date"`
	Time                string         `json:"time"`
	Narrative           string         `json:"narrative"`
	Parties             []string       `json:"parties"`
	Children            []string       `json:"children"`
	Jurisdiction        string         `json:"jurisdiction"`
	CaseNumber          string         `json:"caseNumber"`
	Evidence            []EvidenceItem `json:"evidence"`
}

// NewIncidentRecord returns an empty record with non-nil collections.
func NewIncidentRecord() IncidentRecord {
	return IncidentRecord{
		Parties:  []string{},
		Children: []string{},
		Evidence: []EvidenceItem{},
	}
}

// Clone returns a deep structural copy of the record.
func (r IncidentRecord) Clone() IncidentRecord {
	out := r
	out.Parties = append([]string{}, r.Parties...)
	out.Children = append([]string{}, r.Children...)
	out.Evidence = append([]EvidenceItem{}, r.Evidence...)
	return out
}

// Stripped returns a clone with every transient evidence payload removed.
// Use it before handing the record to a persistence layer.
func (r IncidentRecord) Stripped() IncidentRecord {
	out := r.Clone()
	for i := range out.Evidence {
		out.Evidence[i].Base64 = ""
	}
	return out
}

// EvidenceIndex returns the index of the evidence item with id, or -1.
func (r IncidentRecord) EvidenceIndex(id string) int {
	for i, item := range r.Evidence {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// StorageIDs returns the blob store keys referenced by the evidence list.
func (r IncidentRecord) StorageIDs() []string {
	ids := make([]string, 0, len(r.Evidence))
	for _, item := range r.Evidence {
		if item.StorageID != "" {
			ids = append(ids, item.StorageID)
		}
	}
	return ids
}

// NonBlankParties returns the trimmed, non-empty party names.
func (r IncidentRecord) NonBlankParties() []string {
	return nonBlank(r.Parties)
}

// NonBlankChildren returns the trimmed, non-empty child names.
func (r IncidentRecord) NonBlankChildren() []string {
	return nonBlank(r.Children)
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// =============================================================================
// Record Patch
// =============================================================================

// IncidentPatch carries a partial update of the user-editable fields.
// Nil fields are left untouched. Evidence is managed by the intake pipeline
// and cannot be patched.
type IncidentPatch struct {
	ConsentAcknowledged *bool     `json:"consentAcknowledged,omitempty"`
	Date                *string   `json:"date,omitempty"`
	Time                *string   `json:"time,omitempty"`
	Narrative           *string   `json:"narrative,omitempty"`
	Parties             *[]string `json:"parties,omitempty"`
	Children            *[]string `json:"children,omitempty"`
	Jurisdiction        *string   `json:"jurisdiction,omitempty"`
	CaseNumber          *string   `json:"caseNumber,omitempty"`
}

// IsEmpty returns true if the patch changes nothing.
func (p IncidentPatch) IsEmpty() bool {
	return p.ConsentAcknowledged == nil && p.Date == nil && p.Time == nil &&
		p.Narrative == nil && p.Parties == nil && p.Children == nil &&
		p.Jurisdiction == nil && p.CaseNumber == nil
}

// Apply returns a new record with the patch applied.
func (r IncidentRecord) Apply(p IncidentPatch) IncidentRecord {
	out := r.Clone()
	if p.ConsentAcknowledged != nil {
		out.ConsentAcknowledged = *p.ConsentAcknowledged
	}
	if p.Date != nil {
		out.Date = strings.TrimSpace(*p.Date)
	}
	if p.Time != nil {
		out.Time = strings.TrimSpace(*p.Time)
	}
	if p.Narrative != nil {
		out.Narrative = *p.Narrative
	}
	if p.Parties != nil {
		out.Parties = append([]string{}, (*p.Parties)...)
	}
	if p.Children != nil {
		out.Children = append([]string{}, (*p.Children)...)
	}
	if p.Jurisdiction != nil {
		out.Jurisdiction = strings.TrimSpace(*p.Jurisdiction)
	}
	if p.CaseNumber != nil {
		out.CaseNumber = strings.TrimSpace(*p.CaseNumber)
	}
	return out
}
