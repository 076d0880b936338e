// Package markdown renders the small markdown dialect the AI emits into
// sanitized HTML fragments.
//
// All text is HTML-escaped before any substitution, so model output can
// never inject markup. The result is additionally passed through a
// bluemonday allow-list that only knows the elements this package emits.
package markdown

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	twmerge "github.com/Oudwins/tailwind-merge-go"
	"github.com/microcosm-cc/bluemonday"
)

// Default classes, merged with the caller's classes.
const (
	DefaultParagraphClass = "mb-4 leading-relaxed text-gray-800"
	DefaultLinkClass      = "text-blue-700 underline hover:text-blue-900"
	DefaultFallbackClass  = "italic text-gray-500"
	DefaultFallbackText   = "No content available."

	listClass  = "mb-4 ml-6 space-y-1"
	quoteClass = "mb-4 border-l-4 border-gray-300 pl-4 italic text-gray-700"
)

var headingClasses = [7]string{
	"",
	"mb-3 text-2xl font-bold",
	"mb-3 text-xl font-bold",
	"mb-2 text-lg font-semibold",
	"mb-2 text-base font-semibold",
	"mb-2 text-sm font-semibold",
	"mb-2 text-sm font-medium",
}

// Options controls how a fragment is rendered.
type Options struct {
	ParagraphClass string
	LinkClass      string

	// LinkTarget defaults to "_blank". LinkRel defaults to
	// "noopener noreferrer" when the target is "_blank".
	LinkTarget string
	LinkRel    string

	// ScreenReaderNewTab appends visually hidden "(opens in a new tab)"
	// text to links that open a new tab.
	ScreenReaderNewTab bool

	// ExternalIcon appends a decorative arrow to every link.
	ExternalIcon bool

	FallbackText  string
	FallbackClass string

	// Extended enables headings, lists and block quotes.
	Extended bool
}

var (
	linkPattern    = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	boldPattern    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	blankLines     = regexp.MustCompile(`\n[ \t]*\n`)
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	bulletPattern  = regexp.MustCompile(`^\s*[-*]\s+(.*)$`)
	numberPattern  = regexp.MustCompile(`^\s*\d+[.)]\s+(.*)$`)
	quotePattern   = regexp.MustCompile(`^>\s?(.*)$`)

	policy = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "blockquote", "span")
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("aria-hidden").OnElements("span")
	p.AllowAttrs("href", "target", "rel").OnElements("a")
	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https")
	return p
}

// Render converts text to an HTML fragment. Empty or whitespace-only input
// yields the fallback paragraph, never an empty string.
func Render(text string, opts Options) string {
	opts = opts.withDefaults()

	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return fallback(opts)
	}

	var out string
	if opts.Extended {
		out = renderExtended(text, opts)
	} else {
		out = renderBasic(text, opts)
	}

	out = policy.Sanitize(out)
	if strings.TrimSpace(out) == "" {
		return fallback(opts)
	}
	return out
}

func (o Options) withDefaults() Options {
	o.ParagraphClass = twmerge.Merge(DefaultParagraphClass, o.ParagraphClass)
	o.LinkClass = twmerge.Merge(DefaultLinkClass, o.LinkClass)
	o.FallbackClass = twmerge.Merge(DefaultFallbackClass, o.FallbackClass)
	if strings.TrimSpace(o.FallbackText) == "" {
		o.FallbackText = DefaultFallbackText
	}
	if o.LinkTarget == "" {
		o.LinkTarget = "_blank"
	}
	if o.LinkRel == "" && o.LinkTarget == "_blank" {
		o.LinkRel = "noopener noreferrer"
	}
	return o
}

func fallback(opts Options) string {
	return `<p class="` + html.EscapeString(opts.FallbackClass) + `">` + html.EscapeString(opts.FallbackText) + `</p>`
}

// renderBasic splits paragraphs on blank lines and turns single newlines
// into line breaks.
func renderBasic(text string, opts Options) string {
	var b strings.Builder
	for _, para := range blankLines.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			lines[i] = inline(strings.TrimSpace(line), opts)
		}
		writeParagraph(&b, strings.Join(lines, "<br>"), opts)
	}
	return b.String()
}

type blockKind int

const (
	blockNone blockKind = iota
	blockParagraph
	blockBullets
	blockNumbers
	blockQuote
)

// renderExtended is a line-oriented block parser. A block is flushed as
// soon as the line pattern changes or a blank line is seen.
func renderExtended(text string, opts Options) string {
	var (
		b       strings.Builder
		current blockKind
		lines   []string
	)

	flush := func() {
		if len(lines) == 0 {
			current = blockNone
			return
		}
		switch current {
		case blockParagraph:
			writeParagraph(&b, strings.Join(lines, "<br>"), opts)
		case blockBullets, blockNumbers:
			tag := "ul"
			style := " list-disc"
			if current == blockNumbers {
				tag, style = "ol", " list-decimal"
			}
			b.WriteString(`<` + tag + ` class="` + listClass + style + `">`)
			for _, l := range lines {
				b.WriteString("<li>" + l + "</li>")
			}
			b.WriteString("</" + tag + ">")
		case blockQuote:
			b.WriteString(`<blockquote class="` + quoteClass + `">` + strings.Join(lines, "<br>") + "</blockquote>")
		}
		lines = lines[:0]
		current = blockNone
	}

	push := func(kind blockKind, line string) {
		if current != kind {
			flush()
			current = kind
		}
		lines = append(lines, inline(line, opts))
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}

		switch {
		case headingPattern.MatchString(line):
			flush()
			m := headingPattern.FindStringSubmatch(line)
			level := len(m[1])
			tag := "h" + strconv.Itoa(level)
			b.WriteString(`<` + tag + ` class="` + headingClasses[level] + `">` + inline(m[2], opts) + `</` + tag + `>`)
		case bulletPattern.MatchString(line):
			push(blockBullets, bulletPattern.FindStringSubmatch(line)[1])
		case numberPattern.MatchString(line):
			push(blockNumbers, numberPattern.FindStringSubmatch(line)[1])
		case quotePattern.MatchString(line):
			push(blockQuote, quotePattern.FindStringSubmatch(line)[1])
		default:
			push(blockParagraph, line)
		}
	}
	flush()

	return b.String()
}

func writeParagraph(b *strings.Builder, body string, opts Options) {
	b.WriteString(`<p class="` + html.EscapeString(opts.ParagraphClass) + `">` + body + `</p>`)
}

// inline escapes s, turns links into anchors and bolds the text around and
// inside them. Bold never applies to an href.
func inline(s string, opts Options) string {
	s = html.EscapeString(s)

	var b strings.Builder
	last := 0
	for _, m := range linkPattern.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(bold(s[last:m[0]]))
		label, href := bold(s[m[2]:m[3]]), html.UnescapeString(s[m[4]:m[5]])
		if isWebURL(href) {
			b.WriteString(anchor(label, href, opts))
		} else {
			b.WriteString(label)
		}
		last = m[1]
	}
	b.WriteString(bold(s[last:]))
	return b.String()
}

func bold(s string) string {
	return boldPattern.ReplaceAllString(s, "<strong>$1</strong>")
}

func anchor(label, href string, opts Options) string {
	var b strings.Builder
	b.WriteString(`<a href="` + html.EscapeString(href) + `" class="` + html.EscapeString(opts.LinkClass) + `"`)
	if opts.LinkTarget != "" {
		b.WriteString(` target="` + html.EscapeString(opts.LinkTarget) + `"`)
	}
	if opts.LinkRel != "" {
		b.WriteString(` rel="` + html.EscapeString(opts.LinkRel) + `"`)
	}
	b.WriteString(">" + label)
	if opts.ScreenReaderNewTab && opts.LinkTarget == "_blank" {
		b.WriteString(`<span class="sr-only"> (opens in a new tab)</span>`)
	}
	if opts.ExternalIcon {
		b.WriteString(`<span class="ml-1" aria-hidden="true">↗</span>`)
	}
	b.WriteString("</a>")
	return b.String()
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
