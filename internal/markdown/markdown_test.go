package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_Basic(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		contains    []string
		notContains []string
	}{
		{
			name:     "bold and paragraphs",
			input:    "First **important** point.\n\nSecond paragraph.",
			contains: []string{"<strong>important</strong>", "First ", "Second paragraph.</p>"},
		},
		{
			name:     "single newline becomes a line break",
			input:    "line one\nline two",
			contains: []string{"line one<br", "line two"},
		},
		{
			name:     "web links become anchors",
			input:    "See the [Divorce Act](https://laws-lois.justice.gc.ca/eng/acts/d-3.4/).",
			contains: []string{`href="https://laws-lois.justice.gc.ca/eng/acts/d-3.4/"`, ">Divorce Act"},
		},
		{
			name:        "other schemes render the label as text",
			input:       "Click [here](javascript:alert(1)) now",
			contains:    []string{"here"},
			notContains: []string{"<a", "javascript:"},
		},
		{
			name:        "raw html is escaped",
			input:       "<script>alert(1)</script> and <b>bold</b>",
			contains:    []string{"&lt;script&gt;"},
			notContains: []string{"<script>", "<b>"},
		},
		{
			name:        "markup inside a link label stays escaped",
			input:       `[<img src=x onerror=alert(1)>](https://example.com)`,
			contains:    []string{`href="https://example.com"`},
			notContains: []string{"<img", "onerror=alert(1)>"},
		},
		{
			name:        "bold markers inside a url stay in the href",
			input:       "See [the order](https://example.com/a**b**c) and **this**.",
			contains:    []string{`href="https://example.com/a**b**c"`, "<strong>this</strong>"},
			notContains: []string{"a<strong>b</strong>c"},
		},
		{
			name:     "bold inside a link label",
			input:    "[**Divorce Act**](https://laws-lois.justice.gc.ca/eng/acts/d-3.4/)",
			contains: []string{"><strong>Divorce Act</strong>"},
		},
		{
			name:        "headings are plain text outside extended mode",
			input:       "# Title",
			contains:    []string{"# Title"},
			notContains: []string{"<h1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.input, Options{})
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			for _, unwanted := range tt.notContains {
				assert.NotContains(t, got, unwanted)
			}
		})
	}
}

func TestRender_Fallback(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  Options
		want  string
	}{
		{
			name:  "empty input uses defaults",
			input: "",
			want:  `<p class="italic text-gray-500">No content available.</p>`,
		},
		{
			name:  "whitespace input uses configured text",
			input: " \n\t\n ",
			opts:  Options{FallbackText: "Legal insights are currently unavailable.", FallbackClass: "text-red-600"},
			want:  `<p class="italic text-red-600">Legal insights are currently unavailable.</p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.input, tt.opts))
		})
	}
}

func TestRender_Extended(t *testing.T) {
	input := strings.Join([]string{
		"## Relevant law",
		"Courts weigh the **best interests** of the child.",
		"- keep a log",
		"- save messages",
		"1. contact a lawyer",
		"2. file a motion",
		"> Document, do not escalate.",
	}, "\n")

	got := Render(input, Options{Extended: true})

	assert.Contains(t, got, ">Relevant law</h2>")
	assert.Contains(t, got, "<strong>best interests</strong>")
	assert.Contains(t, got, "<li>keep a log</li><li>save messages</li></ul>")
	assert.Contains(t, got, "<li>contact a lawyer</li><li>file a motion</li></ol>")
	assert.Contains(t, got, ">Document, do not escalate.</blockquote>")
	assert.Equal(t, 1, strings.Count(got, "<ul"), "consecutive bullets share one list")
}

func TestRender_LinkOptions(t *testing.T) {
	got := Render("[Guide](https://example.org/guide)", Options{
		LinkClass:          "text-green-700",
		ScreenReaderNewTab: true,
		ExternalIcon:       true,
	})

	assert.Contains(t, got, "text-green-700")
	assert.NotContains(t, got, "text-blue-700", "caller colour replaces the default")
	assert.Contains(t, got, "(opens in a new tab)")
	assert.Contains(t, got, `aria-hidden="true"`)
	assert.Contains(t, got, "↗")
}

func TestOptions_Defaults(t *testing.T) {
	opts := Options{ParagraphClass: "mb-2"}.withDefaults()

	assert.Equal(t, "leading-relaxed text-gray-800 mb-2", opts.ParagraphClass)
	assert.Equal(t, "_blank", opts.LinkTarget)
	assert.Equal(t, "noopener noreferrer", opts.LinkRel)

	opts = Options{LinkTarget: "_self"}.withDefaults()
	assert.Empty(t, opts.LinkRel)
}
