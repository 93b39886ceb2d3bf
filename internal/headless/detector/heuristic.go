// Package detector decides when to promote crawls to headless renderers.
package detector

import (
	"bytes"
	"strings"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

// Heuristic promotes pages that look like client-rendered shells: empty
// bodies, known SPA mount points, or short documents dominated by script.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. threshold is the body length below
// which script-heavy documents get promoted.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag; count the remainder as script.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		end := strings.Index(lower[contentStart:], closeTag)
		var next int
		if end == -1 {
			next = total
		} else {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}

	if coverage == 0 {
		return false
	}
	return coverage*100/total >= 25
}
