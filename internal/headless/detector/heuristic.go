// Package detector decides when a statically fetched page needs a headless re-render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Heuristic flags client-rendered shells using body size, script weight and
// framework mount markers.
type Heuristic struct {
	MinBodyBytes int
	ScriptShare  int
}

// NewHeuristic creates a detector. A zero minBodyBytes defaults to 2048.
func NewHeuristic(minBodyBytes int) *Heuristic {
	if minBodyBytes <= 0 {
		minBodyBytes = 2048
	}
	return &Heuristic{MinBodyBytes: minBodyBytes, ScriptShare: 25}
}

var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("you need to enable javascript"),
	[]byte("please enable javascript"),
}

// ShouldPromote reports whether res looks like it needs JavaScript to show content.
func (h *Heuristic) ShouldPromote(res crawler.RenderResult) bool {
	if res.UsedHeadless || res.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.ToLower(res.HTML)
	if len(body) == 0 {
		return true
	}
	if len(body) < h.MinBodyBytes && scriptShare(body) >= h.ScriptShare {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
func scriptShare(body []byte) int {
	doc := string(body)
	total := len(doc)
	if total == 0 {
		return 0
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(doc[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := strings.Index(doc[start:], closeTag)
		if end == -1 {
			// Unclosed script swallows the rest of the document.
			covered += total - start
			break
		}
		next := start + end + len(closeTag)
		covered += next - start
		pos = next
	}
	return covered * 100 / total
}
