// Package source holds the built-in site profiles.
package source

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/extract"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

// Built-in profile names.
const (
	Tadu          = "tadu"
	WriterWorking = "writerworking"
)

// Options adjust a built-in profile.
type Options struct {
	// Origin replaces the profile's default origin when set.
	Origin string
	// UserAgent replaces the profile's default User-Agent when set.
	UserAgent string
}

type builder func(origin string) harvest.Profile

var (
	builders = map[string]builder{
		Tadu:          tadu,
		WriterWorking: writerWorking,
	}
	defaultOrigins = map[string]string{
		Tadu:          "https://www.tadu.com",
		WriterWorking: "https://www.writerworking.net",
	}
)

// Names lists the built-in profiles.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named profile.
func Lookup(name string, opts Options) (harvest.Profile, error) {
	build, ok := builders[strings.ToLower(name)]
	if !ok {
		return harvest.Profile{}, fmt.Errorf("unknown source profile %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	origin := strings.TrimRight(opts.Origin, "/")
	if origin == "" {
		origin = defaultOrigins[strings.ToLower(name)]
	}
	profile := build(origin)
	if opts.UserAgent != "" {
		profile.Headers.Set("User-Agent", opts.UserAgent)
	}
	return profile, nil
}

func text(selector string) extract.Locator {
	return extract.Locator{Selector: selector}
}

func attr(selector, name string) extract.Locator {
	return extract.Locator{Selector: selector, Attr: name}
}

func trimmed(locators ...extract.Locator) extract.FieldRule {
	return extract.FieldRule{Locators: locators, Transforms: []extract.Transform{extract.Trim}}
}

func tadu(origin string) harvest.Profile {
	return harvest.Profile{
		Name:    Tadu,
		Origin:  origin,
		Headers: http.Header{"User-Agent": {"Mozilla/5.0 (compatible; TaduHybrid/1.0)"}},
		Catalog: harvest.CatalogRules{
			URL: "/store/98-a-0-15-a-20-p-{page}-909",
			IDs: extract.FieldRule{Locators: []extract.Locator{{
				Selector: "a.bookImg[href]",
				Attr:     "href",
				Pattern:  regexp.MustCompile(`/book/(\d+)/`),
			}}},
		},
		Item: harvest.ItemRules{
			URL: "/book/{id}/",
			Rules: extract.Rules{
				Fields: map[string]extract.FieldRule{
					harvest.FieldTitle:  trimmed(attr("a.bkNm[data-name]", "data-name")),
					harvest.FieldAuthor: trimmed(text("span.author")),
					harvest.FieldCoverImage: {
						Locators: []extract.Locator{
							attr("img[data-src]", "data-src"),
							attr("img", "src"),
							attr(`meta[property="og:image"]`, "content"),
						},
						Transforms: []extract.Transform{extract.Trim, extract.ResolveURL(origin)},
					},
					harvest.FieldDescription: trimmed(text("p.intro")),
				},
				Lists: map[string]extract.FieldRule{
					harvest.ListGenres: trimmed(text("div.sortList a")),
				},
			},
		},
		SubItems: harvest.SubItemRules{
			Mode:     harvest.RangeMode,
			URL:      "/getPartContentByCodeTable/{id}/{pos}",
			TitleURL: "/book/{id}/{pos}/?isfirstpart=true",
			Title: trimmed(
				extract.Locator{Selector: "h4", Nth: 1},
				extract.Locator{Selector: "h4", Nth: 0},
			),
			Content: harvest.ContentRule{
				Envelope: &harvest.JSONEnvelope{
					StatusPath:  "status",
					StatusOK:    "200",
					ContentPath: "data.content",
				},
			},
		},
	}
}

func writerWorking(origin string) harvest.Profile {
	bookID := regexp.MustCompile(`/kanshu/(\d+)/`)
	return harvest.Profile{
		Name:    WriterWorking,
		Origin:  origin,
		Headers: http.Header{"User-Agent": {"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"}},
		Catalog: harvest.CatalogRules{
			URL: "/ben/all/{page}/",
			IDs: extract.FieldRule{Locators: []extract.Locator{{
				Selector: "dl dt a[href]",
				Attr:     "href",
				Exclude:  "div.right.hidden-xs",
				Pattern:  bookID,
			}}},
			// The item page carries only author and genre.
			Entry:        "dl",
			EntryExclude: "div.right.hidden-xs",
			Listing: extract.Rules{
				Fields: map[string]extract.FieldRule{
					harvest.FieldID: {Locators: []extract.Locator{{
						Selector: "dt a[href]",
						Attr:     "href",
						Pattern:  bookID,
					}}},
					harvest.FieldTitle: trimmed(attr("dt a", "title"), text("dt a")),
					harvest.FieldCoverImage: {
						Locators: []extract.Locator{
							attr("a.cover img[data-src]", "data-src"),
							attr("a.cover img", "src"),
						},
						Transforms: []extract.Transform{extract.Trim, extract.ResolveURL(origin)},
					},
					harvest.FieldDescription: trimmed(text("dd")),
				},
			},
		},
		Item: harvest.ItemRules{
			URL: "/kanshu/{id}/",
			Rules: extract.Rules{
				Fields: map[string]extract.FieldRule{
					harvest.FieldAuthor: trimmed(text(`p:has(b:contains("作者")) a`)),
				},
				Lists: map[string]extract.FieldRule{
					harvest.ListGenres: trimmed(extract.Locator{Selector: "ol.container li:nth-of-type(2)"}),
				},
			},
		},
		SubItems: harvest.SubItemRules{
			Mode:    harvest.ListMode,
			ListURL: "/xs/{id}/1/",
			Entries: "div.all ul li:has(a)",
			Refs: extract.FieldRule{
				Locators: []extract.Locator{{
					Selector: "a",
					Attr:     "onclick",
					Pattern:  regexp.MustCompile(`location\.href='(.*?)'`),
				}},
				Transforms: []extract.Transform{extract.StripBackslashes, extract.ResolveURL(origin)},
			},
			Title: extract.FieldRule{
				Locators:   []extract.Locator{text("h1"), text("title")},
				Transforms: []extract.Transform{extract.StripAnnotations},
			},
			Content: harvest.ContentRule{
				Field: extract.FieldRule{Locators: []extract.Locator{{Selector: "#booktxthtml p", Join: "\n"}}},
			},
		},
	}
}
