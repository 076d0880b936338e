// Package export renders a finished report as a self-contained HTML
// document for download or printing.
package export

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/legal"
	"github.com/DukeRupert/custodybuddy/internal/markdown"
)

// ErrNoContent is returned when there is no report to export.
var ErrNoContent = errors.New("no content to export")

const notProvided = "Not provided"

//go:embed document.html.tmpl
var documentSource string

var document = template.Must(template.New("document").Funcs(template.FuncMap{
	"refs": func(heading string, items []legal.Reference) refList {
		return refList{Heading: heading, Items: items}
	},
}).Parse(documentSource))

type refList struct {
	Heading string
	Items   []legal.Reference
}

// Result is a rendered export.
type Result struct {
	Filename    string
	ContentType string
	Body        []byte
}

type documentData struct {
	Title                 string
	GeneratedAt           string
	Date                  string
	Time                  string
	Jurisdiction          string
	CaseNumber            string
	Category              string
	Severity              domain.SeverityTheme
	SeverityStyle         template.CSS
	SeverityJustification string
	Summary               template.HTML
	Parties               string
	Children              string
	Narrative             string
	Evidence              []domain.EvidenceItem
	ObservedImpact        string
	LegalInsights         template.HTML
	Regime                string
	Legal                 legal.Compiled
	CommunicationDraft    string
	AutoPrint             bool
}

// ToStandaloneHTML returns the report as one UTF-8 document with a single
// inline stylesheet and no external loads.
func ToStandaloneHTML(report *domain.ReportResult, rec domain.IncidentRecord) templ.Component {
	return component(report, rec, false)
}

// ToPrintHTML is ToStandaloneHTML plus a script that opens the print
// dialog once the document has loaded.
func ToPrintHTML(report *domain.ReportResult, rec domain.IncidentRecord) templ.Component {
	return component(report, rec, true)
}

func component(report *domain.ReportResult, rec domain.IncidentRecord, autoPrint bool) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if report.IsEmpty() {
			return ErrNoContent
		}
		return document.Execute(w, newDocumentData(report, rec, autoPrint))
	})
}

// Export renders the downloadable document.
func Export(ctx context.Context, report *domain.ReportResult, rec domain.IncidentRecord) (*Result, error) {
	return render(ctx, ToStandaloneHTML(report, rec), report, rec)
}

// Print renders the document that prints itself on load.
func Print(ctx context.Context, report *domain.ReportResult, rec domain.IncidentRecord) (*Result, error) {
	return render(ctx, ToPrintHTML(report, rec), report, rec)
}

func render(ctx context.Context, c templ.Component, report *domain.ReportResult, rec domain.IncidentRecord) (*Result, error) {
	const op = "export.render"

	if report.IsEmpty() {
		return nil, domain.Wrap(ErrNoContent, domain.EINVALID, op, "No content to export.")
	}

	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		return nil, domain.Internal(err, op, "failed to render export document")
	}

	return &Result{
		Filename:    Filename(report, rec),
		ContentType: "text/html; charset=utf-8",
		Body:        buf.Bytes(),
	}, nil
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Filename builds "incident-report-<date>[-<case>].html".
func Filename(report *domain.ReportResult, rec domain.IncidentRecord) string {
	date := strings.TrimSpace(rec.Date)
	if _, err := time.Parse("2006-01-02", date); err != nil {
		date = report.GeneratedAt.UTC().Format("2006-01-02")
	}

	name := "incident-report-" + date
	if cn := strings.Trim(unsafeFilename.ReplaceAllString(report.CaseNumber, "-"), "-"); cn != "" {
		name += "-" + strings.ToLower(cn)
	}
	return name + ".html"
}

func newDocumentData(report *domain.ReportResult, rec domain.IncidentRecord, autoPrint bool) documentData {
	theme := report.Severity.Theme()
	compiled := legal.Compile(report.LegalInsights, report.Sources, rec.Jurisdiction)

	jurisdiction := orNotProvided(rec.Jurisdiction)
	var regime string
	if compiled.Jurisdiction != nil {
		jurisdiction = compiled.Jurisdiction.Name
		regime = compiled.Jurisdiction.RegimeNote
	}

	return documentData{
		Title:                 report.Title,
		GeneratedAt:           report.GeneratedAt.UTC().Format("January 2, 2006 15:04 MST"),
		Date:                  orNotProvided(rec.Date),
		Time:                  orNotProvided(rec.Time),
		Jurisdiction:          jurisdiction,
		CaseNumber:            report.CaseNumber,
		Category:              report.Category,
		Severity:              theme,
		SeverityStyle:         template.CSS(fmt.Sprintf("color:%s;background:%s", theme.Color, theme.Background)),
		SeverityJustification: report.SeverityJustification,
		Summary: template.HTML(markdown.Render(report.ProfessionalSummary, markdown.Options{
			FallbackText: "Summary unavailable.",
		})),
		Parties:        joinOr(rec.NonBlankParties(), notProvided),
		Children:       joinOr(rec.NonBlankChildren(), "None listed"),
		Narrative:      strings.TrimSpace(rec.Narrative),
		Evidence:       rec.Evidence,
		ObservedImpact: strings.TrimSpace(report.ObservedImpact),
		LegalInsights: template.HTML(markdown.Render(report.LegalInsights, markdown.Options{
			Extended:           true,
			ScreenReaderNewTab: true,
			FallbackText:       "Legal insights are currently unavailable.",
		})),
		Regime:             regime,
		Legal:              compiled,
		CommunicationDraft: strings.TrimSpace(report.CommunicationDraft),
		AutoPrint:          autoPrint,
	}
}

func orNotProvided(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return notProvided
	}
	return s
}

func joinOr(values []string, empty string) string {
	if len(values) == 0 {
		return empty
	}
	return strings.Join(values, ", ")
}
