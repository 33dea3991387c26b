// Package extract pulls structured fields out of fetched documents.
//
// Extraction is data driven: a FieldRule is an ordered chain of Locators
// followed by Transforms. Locators are tried in order and the first one that
// yields a non-empty value (after transforms) wins. Nothing in this package
// performs I/O or returns errors; a missing field is simply empty.
package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Locator points at a value inside a document.
type Locator struct {
	// Selector is a CSS selector evaluated against the whole document, or
	// against the entry for Entries and ApplyEach.
	Selector string
	// Attr reads an attribute instead of the element text when set.
	Attr string
	// Nth picks the nth match (0-based). Ignored when Join is set or for lists.
	Nth int
	// Exclude drops matches that have an ancestor matching this selector.
	Exclude string
	// Pattern, when set, must match the raw value; capture group 1 is used.
	Pattern *regexp.Regexp
	// Join collects every non-empty match joined with this separator.
	Join string
}

// FieldRule is an ordered fallback chain plus post-processing.
type FieldRule struct {
	Locators   []Locator
	Transforms []Transform
}

// Rules names the scalar and multi-valued fields to extract.
type Rules struct {
	Fields map[string]FieldRule
	Lists  map[string]FieldRule
}

// Record is the partial result of applying Rules to a document.
type Record struct {
	Fields map[string]string
	Lists  map[string][]string
}

// Field returns a scalar field or "".
func (r Record) Field(name string) string {
	return r.Fields[name]
}

// List returns a multi-valued field; the result is never nil.
func (r Record) List(name string) []string {
	if v, ok := r.Lists[name]; ok && v != nil {
		return v
	}
	return []string{}
}

// Document is a parsed HTML document.
type Document struct {
	doc *goquery.Document
}

// Parse builds a Document. Content that cannot be parsed yields an empty
// document whose lookups all resolve to empty values.
func Parse(content []byte) *Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return &Document{}
	}
	return &Document{doc: doc}
}

// Extract parses content and applies every rule.
func Extract(content []byte, rules Rules) Record {
	return Parse(content).Apply(rules)
}

// Apply evaluates rules against the document.
func (d *Document) Apply(rules Rules) Record {
	if d == nil || d.doc == nil {
		return applyIn(nil, rules)
	}
	return applyIn(d.doc.Selection, rules)
}

// Field resolves a scalar field through the locator chain.
func (d *Document) Field(rule FieldRule) string {
	if d == nil || d.doc == nil {
		return ""
	}
	return fieldIn(d.doc.Selection, rule)
}

// List resolves every match of the first locator that yields at least one
// non-empty value. Values keep document order.
func (d *Document) List(rule FieldRule) []string {
	if d == nil || d.doc == nil {
		return []string{}
	}
	return listIn(d.doc.Selection, rule)
}

// Entries resolves rule inside each of the first limit matches of selector.
// Locator selectors are relative to the entry. An entry the rule cannot
// resolve keeps its slot as "". A negative limit keeps every entry.
func (d *Document) Entries(selector string, limit int, rule FieldRule) []string {
	out := []string{}
	if d == nil || d.doc == nil {
		return out
	}
	sel := d.doc.Find(selector)
	if limit >= 0 && sel.Length() > limit {
		sel = sel.Slice(0, limit)
	}
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, fieldIn(s, rule))
	})
	return out
}

// ApplyEach evaluates rules inside every match of selector that does not sit
// within exclude. Locator selectors are relative to the match.
func (d *Document) ApplyEach(selector, exclude string, rules Rules) []Record {
	out := []Record{}
	if d == nil || d.doc == nil {
		return out
	}
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if exclude != "" && s.Closest(exclude).Length() > 0 {
			return
		}
		out = append(out, applyIn(s, rules))
	})
	return out
}

// Text returns the plain text of the whole document.
func (d *Document) Text() string {
	if d == nil || d.doc == nil {
		return ""
	}
	return d.doc.Text()
}

// Text returns the plain text of an HTML fragment.
func Text(content []byte) string {
	return Parse(content).Text()
}

func applyIn(root *goquery.Selection, rules Rules) Record {
	rec := Record{
		Fields: make(map[string]string, len(rules.Fields)),
		Lists:  make(map[string][]string, len(rules.Lists)),
	}
	for name, rule := range rules.Fields {
		rec.Fields[name] = fieldIn(root, rule)
	}
	for name, rule := range rules.Lists {
		rec.Lists[name] = listIn(root, rule)
	}
	return rec
}

func fieldIn(root *goquery.Selection, rule FieldRule) string {
	if root == nil {
		return ""
	}
	for _, loc := range rule.Locators {
		v := applyTransforms(locate(root, loc), rule.Transforms)
		if v != "" {
			return v
		}
	}
	return ""
}

func listIn(root *goquery.Selection, rule FieldRule) []string {
	out := []string{}
	if root == nil {
		return out
	}
	for _, loc := range rule.Locators {
		matches(root, loc).Each(func(_ int, s *goquery.Selection) {
			v := applyTransforms(value(s, loc), rule.Transforms)
			if v != "" {
				out = append(out, v)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return out
}

// matches finds loc under root; an empty selector matches root itself.
func matches(root *goquery.Selection, loc Locator) *goquery.Selection {
	sel := root
	if loc.Selector != "" {
		sel = root.Find(loc.Selector)
	}
	if loc.Exclude == "" {
		return sel
	}
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Closest(loc.Exclude).Length() == 0
	})
}

func locate(root *goquery.Selection, loc Locator) string {
	sel := matches(root, loc)
	if loc.Join != "" {
		parts := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			if v := strings.TrimSpace(value(s, loc)); v != "" {
				parts = append(parts, v)
			}
		})
		return strings.Join(parts, loc.Join)
	}
	if loc.Nth < 0 || loc.Nth >= sel.Length() {
		return ""
	}
	return value(sel.Eq(loc.Nth), loc)
}

func value(s *goquery.Selection, loc Locator) string {
	var raw string
	if loc.Attr != "" {
		raw, _ = s.Attr(loc.Attr)
	} else {
		raw = s.Text()
	}
	if loc.Pattern == nil {
		return raw
	}
	m := loc.Pattern.FindStringSubmatch(raw)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func applyTransforms(v string, transforms []Transform) string {
	for _, t := range transforms {
		if t == nil {
			continue
		}
		v = t(v)
	}
	return v
}
