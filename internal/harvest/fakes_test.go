package harvest

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/extract"
)

const testOrigin = "http://site.test"

func testProfile() Profile {
	return Profile{
		Name:    "test",
		Origin:  testOrigin,
		Headers: http.Header{"User-Agent": {"test-agent"}},
		Catalog: CatalogRules{
			URL: "/catalog/{page}",
			IDs: extract.FieldRule{Locators: []extract.Locator{{
				Selector: "a.item[href]",
				Attr:     "href",
				Pattern:  regexp.MustCompile(`/item/(\w+)/`),
			}}},
		},
		Item: ItemRules{
			URL: "/item/{id}/",
			Rules: extract.Rules{
				Fields: map[string]extract.FieldRule{
					FieldTitle:       {Locators: []extract.Locator{{Selector: "h1"}}, Transforms: []extract.Transform{extract.Trim}},
					FieldAuthor:      {Locators: []extract.Locator{{Selector: ".author"}}, Transforms: []extract.Transform{extract.Trim}},
					FieldCoverImage:  {Locators: []extract.Locator{{Selector: "img", Attr: "src"}}, Transforms: []extract.Transform{extract.ResolveURL(testOrigin)}},
					FieldDescription: {Locators: []extract.Locator{{Selector: "p.intro"}}, Transforms: []extract.Transform{extract.Trim}},
				},
				Lists: map[string]extract.FieldRule{
					ListGenres: {Locators: []extract.Locator{{Selector: "ul.genres li"}}, Transforms: []extract.Transform{extract.Trim}},
				},
			},
		},
		SubItems: SubItemRules{
			Mode: RangeMode,
			URL:  "/item/{id}/{pos}",
			Title: extract.FieldRule{
				Locators:   []extract.Locator{{Selector: "h1"}, {Selector: "title"}},
				Transforms: []extract.Transform{extract.StripAnnotations},
			},
			Content: ContentRule{Field: extract.FieldRule{
				Locators: []extract.Locator{{Selector: "div.text p", Join: "\n"}},
			}},
		},
	}
}

// catalogPage renders a listing page linking to ids.
func catalogPage(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<a class="item" href="/item/%s/">%s</a>`, id, id)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func itemPage(title string) string {
	return fmt.Sprintf(`<html><body><h1> %s </h1><span class="author">Author of %s</span>
<img src="/covers/%s.jpg"><p class="intro">About %s</p>
<ul class="genres"><li>Fantasy</li><li>Drama</li></ul></body></html>`, title, title, title, title)
}

func chapterPage(pos int) string {
	return fmt.Sprintf("<html><body><h1>Part %d (free)</h1><div class=\"text\"><p>first %d\r</p><p>second %d</p></div></body></html>", pos, pos, pos)
}

func respondOK(url, body string) (FetchResponse, error) {
	return FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func respondStatus(url string, code int) (FetchResponse, error) {
	return FetchResponse{URL: url, StatusCode: code}, nil
}

// chapterPosition parses the trailing position of a /item/{id}/{pos} URL.
func chapterPosition(url string) (string, int, bool) {
	var id string
	var pos int
	path := strings.TrimPrefix(url, testOrigin)
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "item" {
		return "", 0, false
	}
	id = parts[1]
	if _, err := fmt.Sscanf(parts[2], "%d", &pos); err != nil {
		return "", 0, false
	}
	return id, pos, true
}

// gauge tracks the number of concurrently running operations.
type gauge struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (g *gauge) enter() {
	n := g.active.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) exit() {
	g.active.Add(-1)
}

type fakeFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	handle func(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

func newFakeFetcher(handle func(ctx context.Context, req FetchRequest) (FetchResponse, error)) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), handle: handle}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	f.mu.Unlock()
	return f.handle(ctx, req)
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
