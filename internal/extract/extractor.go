// Package extract implements the HTML extraction collaborator using goquery.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

const (
	maxAnchorTextLen = 500
	maxHeadingLen    = 500
	maxParagraphLen  = 2000
	maxParagraphs    = 30
	minParagraphLen  = 20
)

var wordPattern = regexp.MustCompile(`\w+`)

// Extractor parses fetched HTML into a structured page plus candidate links.
// Parsing is best-effort: malformed markup yields whatever goquery can
// recover, never an error mid-document.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract implements crawler.Extractor.
func (e *Extractor) Extract(body []byte, sourceURL string) (crawler.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("parse source url: %w", err)
	}

	out := crawler.Extraction{}

	out.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if out.Title == "" {
		out.Title = "No Title"
	}
	out.MetaDescription = strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))

	h1 := doc.Find("h1").First()
	if h1.Length() > 0 {
		out.HasH1 = true
		out.H1Text = strings.TrimSpace(h1.Text())
	}

	out.WordCount = len(wordPattern.FindAllString(doc.Text(), -1))
	out.Headings = collectHeadings(doc)
	out.Paragraphs = collectParagraphs(doc)
	e.collectLinks(doc, base, &out)

	out.PageType = classifyPage(base.Path, out.WordCount, len(out.Headings))
	out.HealthScore = healthScore(out)

	return out, nil
}

func collectHeadings(doc *goquery.Document) []crawler.Heading {
	var headings []crawler.Heading
	for level := 1; level <= 6; level++ {
		doc.Find(fmt.Sprintf("h%d", level)).Each(func(i int, s *goquery.Selection) {
			headings = append(headings, crawler.Heading{
				Level:    level,
				Text:     truncate(strings.TrimSpace(s.Text()), maxHeadingLen),
				Position: i,
			})
		})
	}
	return headings
}

func collectParagraphs(doc *goquery.Document) []crawler.Paragraph {
	var paragraphs []crawler.Paragraph
	doc.Find("p").Each(func(i int, s *goquery.Selection) {
		if len(paragraphs) >= maxParagraphs {
			return
		}
		text := strings.TrimSpace(s.Text())
		if len(text) <= minParagraphLen {
			return
		}
		paragraphs = append(paragraphs, crawler.Paragraph{
			Text:      truncate(text, maxParagraphLen),
			WordCount: len(wordPattern.FindAllString(text, -1)),
			Position:  i,
		})
	})
	return paragraphs
}

func (e *Extractor) collectLinks(doc *goquery.Document, base *url.URL, out *crawler.Extraction) {
	sourceHost := strings.ToLower(base.Hostname())
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		absolute := crawler.ResolveCandidate(base, href)
		if absolute == "" {
			return
		}

		link := crawler.Link{
			Href:       absolute,
			AnchorText: truncate(strings.TrimSpace(s.Text()), maxAnchorTextLen),
			NoFollow:   strings.Contains(s.AttrOr("rel", ""), "nofollow"),
		}

		if crawler.Hostname(absolute) == sourceHost {
			out.InternalLinks++
			if s.ParentsFiltered("article, main").Length() > 0 {
				out.ContentInternalLinks++
				link.Type = "content"
			} else {
				link.Type = "internal"
			}
		} else {
			out.ExternalLinks++
			link.Type = "external"
		}

		out.Links = append(out.Links, link)
		out.Candidates = append(out.Candidates, absolute)
	})
}

func classifyPage(path string, wordCount, headingCount int) string {
	p := strings.ToLower(path)
	switch {
	case p == "/" || p == "":
		return "homepage"
	case containsAny(p, "/category/", "/tag/", "/archive/", "/blog/"):
		return "category"
	case containsAny(p, "/product/", "/item/", "/shop/"):
		return "product"
	case wordCount >= 300 && headingCount >= 2:
		return "content"
	default:
		return "other"
	}
}

func healthScore(ext crawler.Extraction) int {
	score := 100
	if ext.Title == "" || ext.Title == "No Title" {
		score -= 15
	}
	if ext.MetaDescription == "" {
		score -= 10
	}
	if !ext.HasH1 {
		score -= 15
	}
	if ext.WordCount < 300 {
		score -= 10
	}
	if ext.InternalLinks == 0 {
		score -= 20
	}
	if score < 0 {
		score = 0
	}
	return score
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
