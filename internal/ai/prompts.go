package ai

import (
	"fmt"
	"strings"

	"github.com/DukeRupert/custodybuddy/internal/domain"
)

// PromptContext linearizes an incident record into the fixed text block
// shared by every report call. The layout is stable so identical records
// always produce identical prompts.
func PromptContext(rec domain.IncidentRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Date: %s\n", orNotProvided(rec.Date))
	fmt.Fprintf(&b, "Time: %s\n", orNotProvided(rec.Time))
	fmt.Fprintf(&b, "Jurisdiction: %s\n", orNotProvided(rec.Jurisdiction))
	fmt.Fprintf(&b, "Case number: %s\n", orNotProvided(rec.CaseNumber))
	fmt.Fprintf(&b, "Parties involved: %s\n", joinOrNone(rec.NonBlankParties()))
	fmt.Fprintf(&b, "Children involved: %s\n", joinOrNone(rec.NonBlankChildren()))

	b.WriteString("Evidence:\n")
	if len(rec.Evidence) == 0 {
		b.WriteString("- None attached\n")
	}
	for _, item := range rec.Evidence {
		fmt.Fprintf(&b, "- %s (%s, %s)", item.Name, item.Category, item.Type)
		if d := strings.TrimSpace(item.Description); d != "" {
			fmt.Fprintf(&b, ": %s", d)
		}
		if a := strings.TrimSpace(item.AIAnalysis); a != "" {
			fmt.Fprintf(&b, " [Analysis: %s]", a)
		}
		b.WriteString("\n")
	}

	b.WriteString("Narrative:\n")
	b.WriteString(strings.TrimSpace(rec.Narrative))

	return b.String()
}

func orNotProvided(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "Not provided"
	}
	return s
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "None listed"
	}
	return strings.Join(values, ", ")
}

// =============================================================================
// Instruction Templates
// =============================================================================

const systemPreamble = `You assist a parent in documenting a co-parenting incident for possible use in family court. Stay factual and neutral. Do not speculate about motives, do not give legal advice, and never invent facts that are not in the incident details.`

// SummaryPrompt builds the prompt for the summary call
func SummaryPrompt(promptContext string) string {
	return systemPreamble + `

Write a short descriptive title (under 10 words) and a professional summary of the incident in the third person, suitable for a court filing. Use two to four short paragraphs.

Incident details:
` + promptContext + `

Return ONLY a JSON object with this exact structure:
{"title": "...", "professionalSummary": "..."}`
}

// CategorizationPrompt builds the prompt for the categorization call
func CategorizationPrompt(promptContext string) string {
	return systemPreamble + `

Classify the incident into one short category (for example "Missed Exchange", "Communication Conflict", "Safety Concern", "Schedule Violation") and rate its severity as exactly one of "Low", "Medium" or "High". Justify the severity in one or two sentences.

Incident details:
` + promptContext + `

Return ONLY a JSON object with this exact structure:
{"category": "...", "severity": "Low|Medium|High", "severityJustification": "..."}`
}

// LegalPrompt builds the prompt for both legal insights calls
func LegalPrompt(promptContext, jurisdiction string) string {
	j := jurisdiction
	if j == "" {
		j = "the user's jurisdiction"
	}
	return systemPreamble + `

Identify the family law statutes, parenting-time rules and public resources in ` + j + ` that are relevant to this incident. Write the insights as short paragraphs in markdown. Cite official sources inline as markdown links like [Children's Law Reform Act](https://www.ontario.ca/laws/statute/90c12). Prefer government, court and legal aid websites.

Incident details:
` + promptContext + `

Return ONLY a JSON object with this exact structure:
{"legalInsights": "markdown text", "sources": ["https://...", "https://..."]}`
}

// NextStepsPrompt builds the prompt for the next steps call
func NextStepsPrompt(promptContext string) string {
	return systemPreamble + `

Describe the observed impact of the incident on the children and the parenting arrangement in two or three sentences. Then draft a brief, calm, child-focused message the user could send to the other party about the incident.

Incident details:
` + promptContext + `

Return ONLY a JSON object with this exact structure:
{"observedImpact": "...", "communicationDraft": "..."}`
}

// ImagePrompt builds the instruction sent alongside an image
func ImagePrompt(params AnalyzeImageParams) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nIn one sentence, describe what this image shows and how it may relate to the incident narrative below.")
	if d := strings.TrimSpace(params.Description); d != "" {
		fmt.Fprintf(&b, "\n\nThe user described the file %q as: %s", params.FileName, d)
	}
	fmt.Fprintf(&b, "\n\nNarrative:\n%s", strings.TrimSpace(params.Narrative))
	b.WriteString("\n\nReturn ONLY a JSON object with this exact structure:\n{\"analysis\": \"...\"}")
	return b.String()
}

// DocumentPrompt builds the instruction for a document. Only metadata is
// described; the file contents are not available to the model.
func DocumentPrompt(params AnalyzeDocumentParams) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	fmt.Fprintf(&b, "\n\nA document named %q (%s) was attached as evidence.", params.FileName, params.ContentType)
	if d := strings.TrimSpace(params.Description); d != "" {
		fmt.Fprintf(&b, " The user describes it as: %s.", d)
	}
	b.WriteString(" You cannot see its contents. In one sentence, explain how a document like this may be relevant to the incident narrative below.")
	fmt.Fprintf(&b, "\n\nNarrative:\n%s", strings.TrimSpace(params.Narrative))
	b.WriteString("\n\nReturn ONLY a JSON object with this exact structure:\n{\"analysis\": \"...\"}")
	return b.String()
}
