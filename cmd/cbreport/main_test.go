package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/custodybuddy/internal/domain"
)

const recordJSON = `{
	"consentAcknowledged": true,
	"date": "2026-03-02",
	"time": "17:30",
	"narrative": "The other parent did not arrive for the scheduled exchange.",
	"parties": ["Other parent"],
	"jurisdiction": "Ontario",
	"caseNumber": "FC-2026-0142"
}`

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	recordPath, htmlPath, autoPrint, asJSON, wordWrap = "", "", false, false, 80

	var stdout, stderr bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestReadRecord(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "valid", input: recordJSON},
		{name: "malformed", input: "{", wantErr: "decode record"},
		{name: "no narrative", input: `{"narrative": "  "}`, wantErr: "no narrative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := readRecord(strings.NewReader(tt.input), "-")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "FC-2026-0142", rec.CaseNumber)
			assert.NotNil(t, rec.Evidence)
		})
	}

	_, err := readRecord(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "open record")
}

func TestReportMarkdown(t *testing.T) {
	result := &domain.ReportResult{
		Title:                 "Missed Exchange",
		ProfessionalSummary:   "The exchange did not happen.",
		Category:              "Schedule Violation",
		Severity:              domain.SeverityMedium,
		SeverityJustification: "No safety concern.",
		LegalInsights:         "See the [Children's Law Reform Act](https://www.ontario.ca/laws/statute/90c12).",
		Sources:               []string{"https://www.canlii.org/en/on/onsc/doc/2020/2020onsc1.html"},
		CaseNumber:            "FC-1",
	}
	rec := domain.IncidentRecord{Date: "2026-03-02", Time: "17:30", Jurisdiction: "Ontario"}

	md := reportMarkdown(result, rec)

	assert.True(t, strings.HasPrefix(md, "# Missed Exchange\n"))
	assert.Contains(t, md, "**Case number:** FC-1")
	assert.Contains(t, md, "**Severity:** Medium")
	assert.Contains(t, md, "> No safety concern.")
	assert.Contains(t, md, "## Legal insights")
	assert.Contains(t, md, "https://www.ontario.ca/laws/statute/90c12")
	assert.NotContains(t, md, "## Suggested message")
}

// Runs before any test that sets --record; cobra keeps flag state between runs.
func TestGenerateCommand_RequiresRecord(t *testing.T) {
	_, _, err := execute(t, "", "generate")
	assert.ErrorContains(t, err, `required flag(s) "record" not set`)
}

func TestGenerateCommand(t *testing.T) {
	t.Setenv("AI_PROVIDER", "mock")

	dir := t.TempDir()
	input := filepath.Join(dir, "incident.json")
	require.NoError(t, os.WriteFile(input, []byte(recordJSON), 0o600))
	output := filepath.Join(dir, "report.html")

	stdout, stderr, err := execute(t, "", "generate", "--record", input, "--html", output, "--json")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Wrote "+output)

	var result domain.ReportResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, "Missed Parenting-Time Exchange", result.Title)
	assert.Equal(t, "FC-2026-0142", result.CaseNumber)

	doc, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "Missed Parenting-Time Exchange")
	assert.NotContains(t, string(doc), "window.print()")
}

func TestGenerateCommand_PlaceholderFromStdin(t *testing.T) {
	t.Setenv("AI_PROVIDER", "none")

	stdout, _, err := execute(t, recordJSON, "generate", "--record", "-", "--json")
	require.NoError(t, err)

	var result domain.ReportResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, domain.SeverityUnknown, result.Severity)
}

func TestJurisdictionsCommand(t *testing.T) {
	stdout, _, err := execute(t, "", "jurisdictions")
	require.NoError(t, err)
	assert.Contains(t, stdout, "KEY")
	assert.Contains(t, strings.ToLower(stdout), "ontario")
}
