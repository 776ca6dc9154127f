// Package sanitize turns feed HTML into short plain-text snippets.
package sanitize

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultCutMarkers are the phrases after which feed descriptions are dropped.
var DefaultCutMarkers = []string{"Contenuto a pagamento"}

const blockSelector = "p, div, li, h1, h2, h3, h4, h5, h6, blockquote, pre, tr"

// Sanitizer converts HTML descriptions to plain text.
type Sanitizer struct {
	cutMarkers         []string
	firstParagraphOnly bool
}

// New returns a Sanitizer. A nil cutMarkers slice uses DefaultCutMarkers.
func New(cutMarkers []string, firstParagraphOnly bool) *Sanitizer {
	if cutMarkers == nil {
		cutMarkers = DefaultCutMarkers
	}
	return &Sanitizer{cutMarkers: cutMarkers, firstParagraphOnly: firstParagraphOnly}
}

// Text strips markup from src, cuts it at the first configured marker,
// optionally keeps only the first paragraph and collapses whitespace.
func (s *Sanitizer) Text(src string) string {
	text := plainText(html.UnescapeString(src))

	for _, marker := range s.cutMarkers {
		if marker == "" {
			continue
		}
		if i := strings.Index(text, marker); i >= 0 {
			text = text[:i]
		}
	}

	if s.firstParagraphOnly {
		text = firstLine(text)
	}
	return Collapse(text)
}

// Collapse replaces every run of whitespace, including non-breaking spaces,
// with a single space and trims the result.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FirstImage returns the src of the first <img> in src, or "".
func FirstImage(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return ""
	}
	img, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(img)
}

// Paragraphs returns the text of every <p> element in the document, in order.
func Paragraphs(doc *goquery.Document) []string {
	var out []string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if t := Collapse(sel.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// plainText renders src as text with a newline after every block element.
func plainText(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return src
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockSelector).AppendHtml("\n")
	return doc.Text()
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}
