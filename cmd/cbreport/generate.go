package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/DukeRupert/custodybuddy/internal"
	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/export"
	"github.com/DukeRupert/custodybuddy/internal/legal"
	"github.com/DukeRupert/custodybuddy/internal/report"
)

var (
	recordPath string
	htmlPath   string
	autoPrint  bool
	asJSON     bool
	wordWrap   int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a report from an incident record JSON file",
	Long: `Reads an incident record, runs the configured AI provider and prints the
report. With --html the standalone document is written as well. Use
--record - to read the record from stdin.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&recordPath, "record", "r", "", "incident record JSON file, or - for stdin")
	generateCmd.Flags().StringVar(&htmlPath, "html", "", "write the HTML document to this path")
	generateCmd.Flags().BoolVar(&autoPrint, "print", false, "make the HTML document print itself when opened")
	generateCmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON instead of formatted text")
	generateCmd.Flags().IntVar(&wordWrap, "width", 80, "word wrap width for formatted output")
	_ = generateCmd.MarkFlagRequired("record")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	cfg.LogWarnings(logger)

	rec, err := readRecord(cmd.InOrStdin(), recordPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	provider, err := internal.NewAIProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider: %w", err)
	}
	orchestrator := report.New(provider, report.Config{
		Timeout:   cfg.AIReportTimeout,
		NextSteps: cfg.ReportNextSteps,
	}, logger)

	result, err := orchestrator.Generate(ctx, rec)
	if err != nil {
		return fmt.Errorf("generate: %s", domain.ErrorMessage(err))
	}

	if htmlPath != "" {
		if err := writeDocument(ctx, result, rec); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", htmlPath)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return fmt.Errorf("terminal renderer: %w", err)
	}
	text, err := renderer.Render(reportMarkdown(result, rec))
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	_, err = io.WriteString(out, text)
	return err
}

// readRecord decodes an incident record from path, or from stdin for "-".
// The record must carry a narrative.
func readRecord(stdin io.Reader, path string) (domain.IncidentRecord, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return domain.IncidentRecord{}, fmt.Errorf("open record: %w", err)
		}
		defer f.Close()
		r = f
	}

	rec := domain.NewIncidentRecord()
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return domain.IncidentRecord{}, fmt.Errorf("decode record: %w", err)
	}
	if strings.TrimSpace(rec.Narrative) == "" {
		return domain.IncidentRecord{}, fmt.Errorf("record has no narrative")
	}
	return rec, nil
}

func writeDocument(ctx context.Context, result *domain.ReportResult, rec domain.IncidentRecord) error {
	render := export.Export
	if autoPrint {
		render = export.Print
	}
	doc, err := render(ctx, result, rec)
	if err != nil {
		return fmt.Errorf("export: %s", domain.ErrorMessage(err))
	}
	if err := os.WriteFile(htmlPath, doc.Body, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", htmlPath, err)
	}
	return nil
}

// reportMarkdown lays the report out as one markdown document for the terminal.
func reportMarkdown(result *domain.ReportResult, rec domain.IncidentRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", result.Title)
	if result.CaseNumber != "" {
		fmt.Fprintf(&b, "**Case number:** %s  \n", result.CaseNumber)
	}
	fmt.Fprintf(&b, "**When:** %s %s  \n", rec.Date, rec.Time)
	fmt.Fprintf(&b, "**Category:** %s  \n", result.Category)
	fmt.Fprintf(&b, "**Severity:** %s\n\n", result.Severity)
	if result.SeverityJustification != "" {
		fmt.Fprintf(&b, "> %s\n\n", result.SeverityJustification)
	}

	fmt.Fprintf(&b, "## Summary\n\n%s\n\n", result.ProfessionalSummary)

	if result.ObservedImpact != "" {
		fmt.Fprintf(&b, "## Observed impact\n\n%s\n\n", result.ObservedImpact)
	}

	fmt.Fprintf(&b, "## Legal insights\n\n%s\n\n", result.LegalInsights)

	compiled := legal.Compile(result.LegalInsights, result.Sources, rec.Jurisdiction)
	writeReferences(&b, "Statutes", compiled.StatuteReferences)
	writeReferences(&b, "Case law", compiled.CaseLawReferences)
	writeReferences(&b, "Potential sources", compiled.PotentialSources)

	if result.CommunicationDraft != "" {
		fmt.Fprintf(&b, "## Suggested message\n\n%s\n", result.CommunicationDraft)
	}
	return b.String()
}

func writeReferences(b *strings.Builder, heading string, refs []legal.Reference) {
	if len(refs) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", heading)
	for _, ref := range refs {
		fmt.Fprintf(b, "- [%s](%s)\n", ref.Title, ref.URL)
	}
	b.WriteString("\n")
}
