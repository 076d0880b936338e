// Package legal turns the AI's legal-insights text and source URLs into
// classified references, and holds the static jurisdiction table.
package legal

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Reference kinds.
const (
	KindStatute = "statute"
	KindCaseLaw = "case_law"
	KindSource  = "source"
)

// maxContextRunes bounds the blurb captured around an inline link.
const maxContextRunes = 240

// Reference is one cited URL with a display title.
type Reference struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Context string `json:"context,omitempty"`
	Kind    string `json:"kind"`
}

// Compiled is the classified legal section of a report.
type Compiled struct {
	StatuteReferences []Reference       `json:"statuteReferences"`
	CaseLawReferences []Reference       `json:"caseLawReferences"`
	PotentialSources  []Reference       `json:"potentialSources"`
	Jurisdiction      *JurisdictionInfo `json:"jurisdiction,omitempty"`
}

// IsEmpty returns true if there is nothing to show.
func (c Compiled) IsEmpty() bool {
	return len(c.StatuteReferences) == 0 && len(c.CaseLawReferences) == 0 &&
		len(c.PotentialSources) == 0 && c.Jurisdiction == nil
}

var (
	linkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	bulletNoise = regexp.MustCompile(`^(?:[-*•·>#]+|\d+[.)])\s*`)

	caseLawKeywords = []string{
		"canlii", "court", "appeal", "uscourts", "supreme",
		"tribunal", "judgment", "caselaw", "gov.uk/guidance",
	}

	statuteKeywords = []string{
		"/laws/", "/statute", "statutes", "legislation", "/acts/",
		"laws-lois", "/codes", "leginfo", "/rcw/", "ilcs",
	}

	pageExtensions = map[string]bool{
		".html": true, ".htm": true, ".pdf": true, ".php": true,
		".asp": true, ".aspx": true, ".cfm": true, ".xhtml": true,
	}
)

// Compile extracts, normalizes and classifies every URL from insights and
// sources, then appends the static statutes and resources for jurisdiction.
// No sources and no jurisdiction match yields empty lists, not an error.
func Compile(insights string, sources []string, jurisdiction string) Compiled {
	out := Compiled{
		StatuteReferences: []Reference{},
		CaseLawReferences: []Reference{},
		PotentialSources:  []Reference{},
	}
	seen := map[string]bool{}

	add := func(ref Reference) {
		if seen[ref.URL] {
			return
		}
		seen[ref.URL] = true
		switch ref.Kind {
		case KindStatute:
			out.StatuteReferences = append(out.StatuteReferences, ref)
		case KindCaseLaw:
			out.CaseLawReferences = append(out.CaseLawReferences, ref)
		default:
			out.PotentialSources = append(out.PotentialSources, ref)
		}
	}

	// Inline links keep their label and context
	for _, link := range extractLinks(insights) {
		add(link)
	}

	for _, u := range NormalizeSources(sources) {
		add(Reference{Title: deriveTitle(u), URL: u, Kind: Classify(u)})
	}

	if info, ok := LookupJurisdiction(jurisdiction); ok {
		out.Jurisdiction = info
		for _, s := range info.Statutes {
			if u, ok := normalizeURL(s.URL); ok {
				add(Reference{Title: s.Title, URL: u, Kind: KindStatute})
			}
		}
		for _, r := range info.Resources {
			if u, ok := normalizeURL(r.URL); ok {
				add(Reference{Title: r.Title, URL: u, Kind: KindSource})
			}
		}
	}

	return out
}

// Classify labels a normalized URL as case law, statute or other source.
// The path decides before the host, so a legislation page on a case-law
// site such as canlii.org/en/on/laws/ is a statute and a /doc/ page is a
// decision.
func Classify(u string) string {
	lower := strings.ToLower(u)
	path := lower
	if parsed, err := url.Parse(lower); err == nil {
		path = parsed.Path
	}

	switch {
	case strings.Contains(path, "/doc/"):
		return KindCaseLaw
	case containsAny(lower, statuteKeywords):
		return KindStatute
	case containsAny(lower, caseLawKeywords):
		return KindCaseLaw
	}
	return KindSource
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// NormalizeSources trims bullet noise, defaults the scheme to https, keeps
// only http and https URLs, strips a leading "www." and drops duplicates.
// The result is stable: normalizing it again returns the same list.
func NormalizeSources(sources []string) []string {
	out := make([]string, 0, len(sources))
	seen := map[string]bool{}
	for _, s := range sources {
		u, ok := normalizeURL(s)
		if !ok || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func normalizeURL(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = bulletNoise.ReplaceAllString(s, "")
	s = strings.TrimRight(s, ".,;:!?")
	s = strings.Trim(s, "<>\"'`")
	s = strings.TrimRight(s, ".,;:!?")
	if s == "" {
		return "", false
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	if host == "" || !strings.Contains(host, ".") {
		return "", false
	}
	u.Host = host
	u.User = nil

	return u.String(), true
}

// extractLinks returns the markdown links in text with a short context
// window bounded by sentence punctuation or line breaks.
func extractLinks(text string) []Reference {
	var refs []Reference
	for _, m := range linkPattern.FindAllStringSubmatchIndex(text, -1) {
		label := strings.TrimSpace(text[m[2]:m[3]])
		u, ok := normalizeURL(text[m[4]:m[5]])
		if !ok {
			continue
		}
		refs = append(refs, Reference{
			Title:   label,
			URL:     u,
			Context: contextAround(text, m[0], m[1]),
			Kind:    Classify(u),
		})
	}
	return refs
}

func contextAround(text string, start, end int) string {
	from := strings.LastIndexAny(text[:start], ".!?\n")
	from++ // skip the boundary, or move -1 to 0

	to := len(text)
	if i := strings.IndexAny(text[end:], ".!?\n"); i >= 0 {
		to = end + i + 1
		if text[to-1] == '\n' {
			to--
		}
	}

	blurb := linkPattern.ReplaceAllString(text[from:to], "$1")
	blurb = strings.Join(strings.Fields(blurb), " ")
	if utf8.RuneCountInString(blurb) > maxContextRunes {
		runes := []rune(blurb)
		blurb = strings.TrimSpace(string(runes[:maxContextRunes-1])) + "…"
	}
	return blurb
}

// deriveTitle humanizes the last useful path segment, or falls back to the
// hostname.
func deriveTitle(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if decoded, err := url.PathUnescape(seg); err == nil {
			seg = decoded
		}
		if ext := strings.ToLower(path.Ext(seg)); pageExtensions[ext] {
			seg = strings.TrimSuffix(seg, path.Ext(seg))
		}
		seg = strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(seg)
		seg = strings.Join(strings.Fields(seg), " ")
		if seg == "" || seg == "index" || seg == "latest" {
			continue
		}
		return cases.Title(language.English).String(seg)
	}
	return u.Hostname()
}
