package harvest

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/extract"
)

// SubItemMode selects how sub-item references are produced.
type SubItemMode int

const (
	// RangeMode enumerates positions 1..n against URL templates.
	RangeMode SubItemMode = iota
	// ListMode extracts references from a per-item list page.
	ListMode
)

// Profile describes how one site lays out its catalog, items and sub-items.
// URL templates are relative to Origin and may contain the placeholders
// {page}, {id} and {pos}.
type Profile struct {
	Name     string
	Origin   string
	Headers  http.Header
	Catalog  CatalogRules
	Item     ItemRules
	SubItems SubItemRules
}

// CatalogRules locate item identifiers on a listing page.
type CatalogRules struct {
	URL string
	IDs extract.FieldRule
	// Entry, when set, selects one listing block per item. Listing is
	// evaluated inside each block outside EntryExclude; its "id" field ties
	// the block to an identifier and its other fields seed the item record.
	Entry        string
	EntryExclude string
	Listing      extract.Rules
}

// ItemRules locate item metadata. Recognized field names are title, author,
// cover_image and description; the genres list is read from Lists.
type ItemRules struct {
	URL   string
	Rules extract.Rules
}

// SubItemRules locate sub-item references and their content.
type SubItemRules struct {
	Mode SubItemMode
	// ListURL and Refs are used in ListMode. With Entries set, Refs is
	// resolved inside each matching entry and an unresolved entry still
	// occupies its position.
	ListURL string
	Entries string
	Refs    extract.FieldRule
	// URL and TitleURL are used in RangeMode. TitleURL is optional.
	URL      string
	TitleURL string
	// Title applies to the title page when present, else to the content page.
	Title   extract.FieldRule
	Content ContentRule
}

// ContentRule extracts sub-item text. With no locators the plain text of
// the whole (possibly unwrapped) document is used.
type ContentRule struct {
	Field    extract.FieldRule
	Envelope *JSONEnvelope
}

// JSONEnvelope unwraps a JSON API response carrying an HTML fragment.
type JSONEnvelope struct {
	StatusPath  string
	StatusOK    string
	ContentPath string
}

// CatalogURL returns the listing URL for page.
func (p Profile) CatalogURL(page int) string {
	return p.expand(p.Catalog.URL, templateVars{page: page})
}

// ItemURL returns the metadata URL for id.
func (p Profile) ItemURL(id string) string {
	return p.expand(p.Item.URL, templateVars{id: id})
}

// SubItemListURL returns the list page URL for id.
func (p Profile) SubItemListURL(id string) string {
	return p.expand(p.SubItems.ListURL, templateVars{id: id})
}

// SubItemURL returns the content URL for a position.
func (p Profile) SubItemURL(id string, pos int) string {
	return p.expand(p.SubItems.URL, templateVars{id: id, pos: pos})
}

// SubItemTitleURL returns the title page URL for a position, or "".
func (p Profile) SubItemTitleURL(id string, pos int) string {
	if p.SubItems.TitleURL == "" {
		return ""
	}
	return p.expand(p.SubItems.TitleURL, templateVars{id: id, pos: pos})
}

// request builds a FetchRequest carrying the profile headers.
func (p Profile) request(rawURL string) FetchRequest {
	return FetchRequest{URL: rawURL, Headers: p.Headers.Clone()}
}

type templateVars struct {
	page int
	id   string
	pos  int
}

func (p Profile) expand(tmpl string, vars templateVars) string {
	if tmpl == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{page}", strconv.Itoa(vars.page),
		"{id}", url.PathEscape(vars.id),
		"{pos}", strconv.Itoa(vars.pos),
	)
	path := r.Replace(tmpl)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(p.Origin, "/") + path
}
