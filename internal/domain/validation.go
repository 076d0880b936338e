// Package domain contains core business types and interfaces.
//
// This file defines the wizard steps, the per-step validation rules, and
// the step state machine.
package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MinNarrativeLength is the minimum number of characters in a narrative.
const MinNarrativeLength = 100

// =============================================================================
// Wizard Steps
// =============================================================================

// Step identifies one page of the incident wizard (1-indexed).
type Step int

const (
	StepConsent Step = iota + 1
	StepWhen
	StepNarrative
	StepParties
	StepJurisdiction
	StepReview
)

// TotalSteps is the number of wizard steps.
const TotalSteps = int(StepReview)

// IsValid returns true if the step is within the wizard.
func (s Step) IsValid() bool {
	return s >= StepConsent && s <= StepReview
}

// IsTerminal returns true for the review step.
func (s Step) IsTerminal() bool {
	return s == StepReview
}

// String returns a short label for the step.
func (s Step) String() string {
	switch s {
	case StepConsent:
		return "consent"
	case StepWhen:
		return "when"
	case StepNarrative:
		return "narrative"
	case StepParties:
		return "parties"
	case StepJurisdiction:
		return "jurisdiction"
	case StepReview:
		return "review"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// =============================================================================
// Validation Rules
// =============================================================================

// ValidationErrors maps a field name to a human-readable message.
type ValidationErrors map[string]string

// JurisdictionChecker reports whether a jurisdiction key is recognized.
type JurisdictionChecker func(key string) bool

// ErrorsForStep evaluates the fixed rule set for step against rec.
// The result depends only on its arguments.
func ErrorsForStep(step Step, rec IncidentRecord, known JurisdictionChecker) ValidationErrors {
	errs := ValidationErrors{}

	switch step {
	case StepConsent:
		if !rec.ConsentAcknowledged {
			errs["consentAcknowledged"] = "You must acknowledge the privacy notice to continue."
		}

	case StepWhen:
		if strings.TrimSpace(rec.Date) == "" {
			errs["date"] = "Date is required."
		} else if _, err := time.Parse("2006-01-02", rec.Date); err != nil {
			errs["date"] = "Date must be in YYYY-MM-DD format."
		}
		if strings.TrimSpace(rec.Time) == "" {
			errs["time"] = "Time is required."
		} else if _, err := time.Parse("15:04", rec.Time); err != nil {
			errs["time"] = "Time must be in HH:MM format."
		}

	case StepNarrative:
		n := utf8.RuneCountInString(strings.TrimSpace(rec.Narrative))
		if n == 0 {
			errs["narrative"] = "Please describe what happened."
		} else if n < MinNarrativeLength {
			errs["narrative"] = fmt.Sprintf("Please provide at least %d characters (currently %d).", MinNarrativeLength, n)
		}

	case StepParties:
		if len(rec.NonBlankParties()) == 0 {
			errs["parties"] = "At least one involved party is required."
		}

	case StepJurisdiction:
		j := strings.TrimSpace(rec.Jurisdiction)
		if j == "" {
			errs["jurisdiction"] = "Please select a jurisdiction."
		} else if known != nil && !known(j) {
			errs["jurisdiction"] = "Please select a recognized province or state."
		}
	}

	return errs
}

// ErrorsBeforeStep merges the errors of every step preceding step.
func ErrorsBeforeStep(step Step, rec IncidentRecord, known JurisdictionChecker) ValidationErrors {
	errs := ValidationErrors{}
	for st := StepConsent; st < step && st.IsValid(); st++ {
		for field, msg := range ErrorsForStep(st, rec, known) {
			errs[field] = msg
		}
	}
	return errs
}

// IsStepValid returns true if step has no validation errors.
func IsStepValid(step Step, rec IncidentRecord, known JurisdictionChecker) bool {
	return len(ErrorsForStep(step, rec, known)) == 0
}

// =============================================================================
// Wizard State Machine
// =============================================================================

// Wizard tracks the current step, the errors shown for it, and whether the
// review step still owes a report generation.
//
// Generation is owed once per fresh entry into the review step: re-entering
// without a record change since the last generation does not re-trigger it.
type Wizard struct {
	step   Step
	errors ValidationErrors

	revision          uint64
	generatedRevision uint64
	generated         bool
}

// NewWizard returns a wizard positioned on the consent step.
func NewWizard() *Wizard {
	return &Wizard{step: StepConsent, errors: ValidationErrors{}}
}

// RestoreWizard returns a wizard positioned at step, clamped to range.
func RestoreWizard(step Step) *Wizard {
	w := NewWizard()
	if step.IsValid() {
		w.step = step
	}
	return w
}

// Step returns the current step.
func (w *Wizard) Step() Step {
	return w.step
}

// Errors returns a copy of the errors for the current step.
func (w *Wizard) Errors() ValidationErrors {
	out := make(ValidationErrors, len(w.errors))
	for k, v := range w.errors {
		out[k] = v
	}
	return out
}

// Next validates the current step and advances if it is valid. On failure
// the wizard stays put and a *ValidationError carrying the field errors is
// returned. Next on the review step is a no-op.
func (w *Wizard) Next(rec IncidentRecord, known JurisdictionChecker) error {
	errs := ErrorsForStep(w.step, rec, known)
	if len(errs) > 0 {
		w.errors = errs
		return &ValidationError{Op: "wizard.next", Fields: errs}
	}
	w.errors = ValidationErrors{}
	if !w.step.IsTerminal() {
		w.step++
	}
	return nil
}

// Back moves to the previous step. It always succeeds and clears errors.
func (w *Wizard) Back() {
	w.errors = ValidationErrors{}
	if w.step > StepConsent {
		w.step--
	}
}

// RecordChanged notes that the record was mutated.
func (w *Wizard) RecordChanged() {
	w.revision++
}

// ShouldGenerate returns true when the wizard is on the review step and no
// generation has happened for the current record revision.
func (w *Wizard) ShouldGenerate() bool {
	if !w.step.IsTerminal() {
		return false
	}
	return !w.generated || w.generatedRevision != w.revision
}

// MarkGenerated records that a generation was started for the current
// record revision.
func (w *Wizard) MarkGenerated() {
	w.generated = true
	w.generatedRevision = w.revision
}
