// Package normalize reduces fetched pages to canonical text so that cosmetic
// churn (scripts, ads, clocks, whitespace) does not register as a change.
package normalize

import (
	"bytes"
	"fmt"
	"html"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// Config controls which parts of a page are considered volatile.
type Config struct {
	// StripSelectors are CSS selectors removed before text extraction.
	StripSelectors []string
	// VolatilePatterns are regular expressions whose matches are deleted from the text.
	VolatilePatterns []string
	// MaxChars bounds the canonical text length in runes. Zero means unbounded.
	MaxChars int
}

// Normalizer implements monitor.Normalizer.
type Normalizer struct {
	selectors []string
	patterns  []*regexp.Regexp
	maxChars  int
	hasher    monitor.Hasher
	markdown  *converter.Converter
	sanitizer *bluemonday.Policy
}

// New compiles cfg. It fails when a volatile pattern is not a valid regular expression.
func New(cfg Config, hasher monitor.Hasher) (*Normalizer, error) {
	if hasher == nil {
		return nil, fmt.Errorf("normalize: hasher is required")
	}
	patterns := make([]*regexp.Regexp, 0, len(cfg.VolatilePatterns))
	for _, raw := range cfg.VolatilePatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("normalize: compile pattern %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}
	selectors := make([]string, 0, len(cfg.StripSelectors))
	for _, sel := range cfg.StripSelectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			selectors = append(selectors, sel)
		}
	}
	return &Normalizer{
		selectors: selectors,
		patterns:  patterns,
		maxChars:  cfg.MaxChars,
		hasher:    hasher,
		markdown: converter.NewConverter(
			converter.WithEscapeMode(converter.EscapeModeDisabled),
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// Normalize returns the canonical text of body and its fingerprint.
// The same input always yields the same output.
func (n *Normalizer) Normalize(body []byte, contentType string) (monitor.Normalized, error) {
	text := strings.ToValidUTF8(string(body), "")
	if isMarkup(contentType, body) {
		var err error
		text, err = n.markupToText(body)
		if err != nil {
			return monitor.Normalized{}, err
		}
	}
	for _, re := range n.patterns {
		text = re.ReplaceAllString(text, "")
	}
	text = truncateRunes(collapseLines(text), n.maxChars)

	fingerprint, err := n.hasher.Hash([]byte(text))
	if err != nil {
		return monitor.Normalized{}, fmt.Errorf("normalize: fingerprint: %w", err)
	}
	return monitor.Normalized{Text: text, Fingerprint: fingerprint}, nil
}

func (n *Normalizer) markupToText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("normalize: parse html: %w", err)
	}
	for _, sel := range n.selectors {
		doc.Find(sel).Remove()
	}
	dropResourceURLs(doc)
	cleaned, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("normalize: render html: %w", err)
	}

	md, err := n.markdown.ConvertString(cleaned)
	if err != nil || strings.TrimSpace(md) == "" {
		// Fall back to the visible text when conversion produces nothing useful.
		md = doc.Text()
	}
	return html.UnescapeString(n.sanitizer.Sanitize(md)), nil
}

// dropResourceURLs keeps only what a reader sees: links become their text and
// images their alt text. No URL reaches the canonical text.
func dropResourceURLs(doc *goquery.Document) {
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithSelection(s.Contents())
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if alt := strings.TrimSpace(s.AttrOr("alt", "")); alt != "" {
			s.ReplaceWithHtml(html.EscapeString(alt))
			return
		}
		s.Remove()
	})
	doc.Find("[href],[src],[srcset]").RemoveAttr("href").RemoveAttr("src").RemoveAttr("srcset")
}

// collapseLines squeezes runs of whitespace inside each line and drops blank lines.
func collapseLines(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	count := 0
	for i := range text {
		if count == limit {
			return strings.TrimRight(text[:i], " \n")
		}
		count++
	}
	return text
}

func isMarkup(contentType string, body []byte) bool {
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(body)
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(contentType)
	}
	return strings.Contains(mt, "html") || strings.Contains(mt, "xml")
}
