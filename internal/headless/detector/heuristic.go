// Package detector decides when a plain HTTP response must be re-fetched in
// a browser because its content is rendered by scripts.
package detector

import (
	"bytes"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	// BodyLengthThreshold marks small documents as shells when they are
	// mostly script.
	BodyLengthThreshold int
	// MinVisibleRunes is the least visible text a document needs to count as
	// server rendered.
	MinVisibleRunes int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinVisibleRunes: 40}
}

// Mount points of common client-side frameworks.
var mountPoints = []string{"#__next", "#__nuxt", "#root", "#app", "[data-reactroot]"}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp harvest.FetchResponse) bool {
	if resp.UsedHeadless || resp.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	if isJSON(resp.Headers, body) {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	doc.Find("script, style, noscript, template").Remove()
	visible := utf8.RuneCountInString(strings.TrimSpace(doc.Find("body").Text()))

	for _, sel := range mountPoints {
		mount := doc.Find(sel).First()
		if mount.Length() > 0 && strings.TrimSpace(mount.Text()) == "" && visible < h.MinVisibleRunes {
			return true
		}
	}
	if len(body) < h.BodyLengthThreshold && visible < h.MinVisibleRunes && scriptBytes*4 >= len(body) {
		return true
	}
	return false
}

func isJSON(headers http.Header, body []byte) bool {
	if strings.Contains(headers.Get("Content-Type"), "json") {
		return true
	}
	return body[0] == '{' || body[0] == '['
}
