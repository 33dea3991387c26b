package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/extract"
)

func TestFetchSubItemsReturnsExactlyNInOrder(t *testing.T) {
	t.Parallel()

	backend := newFakeFetcher(func(ctx context.Context, req FetchRequest) (FetchResponse, error) {
		_, pos, ok := chapterPosition(req.URL)
		if !ok {
			return FetchResponse{}, fmt.Errorf("unexpected url %s", req.URL)
		}
		if err := sleepCtx(ctx, time.Duration(rand.IntN(15))*time.Millisecond); err != nil {
			return FetchResponse{}, err
		}
		return respondOK(req.URL, chapterPage(pos))
	})
	p := NewSubItemPipeline(backend, testProfile(), 3, nil)

	records := p.FetchSubItems(context.Background(), ItemRef{ID: "42"}, 10)
	require.Len(t, records, 10)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Index)
		assert.Equal(t, fmt.Sprintf("Part %d", i+1), rec.Title)
		assert.Equal(t, fmt.Sprintf("first %d\nsecond %d", i+1, i+1), rec.Content)
	}
}

func TestFetchSubItemsNonPositiveCount(t *testing.T) {
	t.Parallel()

	backend := newFakeFetcher(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		return respondOK(req.URL, "")
	})
	p := NewSubItemPipeline(backend, testProfile(), 3, nil)

	for _, n := range []int{0, -4} {
		records := p.FetchSubItems(context.Background(), ItemRef{ID: "1"}, n)
		assert.NotNil(t, records)
		assert.Empty(t, records)
	}
	assert.Zero(t, backend.total())
}

func TestFetchSubItemsPlaceholderKeepsPosition(t *testing.T) {
	t.Parallel()

	backend := newFakeFetcher(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		_, pos, _ := chapterPosition(req.URL)
		if pos == 2 {
			return FetchResponse{}, errors.New("timeout")
		}
		return respondOK(req.URL, chapterPage(pos))
	})
	p := NewSubItemPipeline(backend, testProfile(), 2, nil)

	records := p.FetchSubItems(context.Background(), ItemRef{ID: "9"}, 3)
	require.Len(t, records, 3)
	assert.Equal(t, SubItemRecord{Index: 2, Title: "Chapter 2", Content: ""}, records[1])
	assert.Equal(t, "Part 1", records[0].Title)
	assert.Equal(t, "Part 3", records[2].Title)
}

func TestFetchSubItemsFallsBackToSecondaryHeading(t *testing.T) {
	t.Parallel()

	backend := newFakeFetcher(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		return respondOK(req.URL, `<html><head><title>Only Title (vip)</title></head><body><div class="text"><p>x</p></div></body></html>`)
	})
	p := NewSubItemPipeline(backend, testProfile(), 2, nil)

	records := p.FetchSubItems(context.Background(), ItemRef{ID: "9"}, 1)
	require.Len(t, records, 1)
	assert.Equal(t, "Only Title", records[0].Title)
	assert.Equal(t, "x", records[0].Content)
}

func TestFetchSubItemsSynthesizesTitleWhenPageHasNone(t *testing.T) {
	t.Parallel()

	backend := newFakeFetcher(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		return respondOK(req.URL, `<div class="text"><p>body</p></div>`)
	})
	p := NewSubItemPipeline(backend, testProfile(), 2, nil)

	records := p.FetchSubItems(context.Background(), ItemRef{ID: "9"}, 2)
	require.Len(t, records, 2)
	assert.Equal(t, "Chapter 2", records[1].Title)
	assert.Equal(t, "body", records[1].Content)
}

func TestFetchSubItemsBatchesAreSequentialAndBounded(t *testing.T) {
	t.Parallel()

	const limit = 3
	var (
		mu      sync.Mutex
		ended   = map[int]bool{}
		ordered = true
		g       gauge
	)
	backend := newFakeFetcher(func(ctx context.Context, req FetchRequest) (FetchResponse, error) {
		_, pos, _ := chapterPosition(req.URL)
		g.enter()
		defer g.exit()

		batch := (pos - 1) / limit
		mu.Lock()
		for prev := 1; prev <= batch*limit; prev++ {
			if !ended[prev] {
				ordered = false
			}
		}
		mu.Unlock()

		_ = sleepCtx(ctx, time.Duration(5+rand.IntN(10))*time.Millisecond)

		mu.Lock()
		ended[pos] = true
		mu.Unlock()
		return respondOK(req.URL, chapterPage(pos))
	})
	p := NewSubItemPipeline(backend, testProfile(), limit, nil)

	records := p.FetchSubItems(context.Background(), ItemRef{ID: "5"}, 8)
	require.Len(t, records, 8)
	assert.True(t, ordered, "a batch started before the previous batch finished")
	assert.LessOrEqual(t, g.peak.Load(), int32(limit))
	assert.Equal(t, 8, backend.total())
}

func TestFetchSubItemsTitlePageAndEnvelope(t *testing.T) {
	t.Parallel()

	profile := testProfile()
	profile.SubItems = SubItemRules{
		Mode:     RangeMode,
		URL:      "/api/{id}/{pos}",
		TitleURL: "/book/{id}/{pos}/?first=true",
		Title: extract.FieldRule{
			Locators:   []extract.Locator{{Selector: "h4", Nth: 1}, {Selector: "h4"}},
			Transforms: []extract.Transform{extract.Trim},
		},
		Content: ContentRule{Envelope: &JSONEnvelope{StatusPath: "status", StatusOK: "200", ContentPath: "data.content"}},
	}

	backend := newFakeFetcher(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		switch req.URL {
		case testOrigin + "/book/7/1/?first=true":
			return respondOK(req.URL, "<h4>Book</h4><h4> Opening </h4>")
		case testOrigin + "/api/7/1":
			return respondOK(req.URL, `{"status":200,"data":{"content":"<p>Hello\r\n</p><p>world</p>"}}`)
		case testOrigin + "/book/7/2/?first=true":
			return respondOK(req.URL, "<h4>Only</h4>")
		case testOrigin + "/api/7/2":
			return respondOK(req.URL, `{"status":500,"data":{"content":"<p>hidden</p>"}}`)
		case testOrigin + "/book/7/3/?first=true":
			return respondStatus(req.URL, http.StatusBadGateway)
		case testOrigin + "/api/7/3":
			return respondOK(req.URL, `{"status":200,"data":{"content":"<p>three</p>"}}`)
		}
		return FetchResponse{}, fmt.Errorf("unexpected url %s", req.URL)
	})
	p := NewSubItemPipeline(NewRetryFetcher(backend, NewFixedRetryPolicy(1, 0)), profile, 5, nil)

	records := p.FetchSubItems(context.Background(), ItemRef{ID: "7"}, 3)
	require.Len(t, records, 3)
	assert.Equal(t, SubItemRecord{Index: 1, Title: "Opening", Content: "Hello\nworld"}, records[0])
	assert.Equal(t, SubItemRecord{Index: 2, Title: "Only", Content: ""}, records[1])
	assert.Equal(t, SubItemRecord{Index: 3, Title: "Chapter 3", Content: "three"}, records[2])
}

func listProfile() Profile {
	profile := testProfile()
	profile.SubItems = SubItemRules{
		Mode:    ListMode,
		ListURL: "/list/{id}/",
		Refs: extract.FieldRule{
			Locators: []extract.Locator{{
				Selector: "ul li a",
				Attr:     "onclick",
				Pattern:  regexp.MustCompile(`location\.href='(.*?)'`),
			}},
			Transforms: []extract.Transform{extract.StripBackslashes, extract.ResolveURL(testOrigin)},
		},
		Title:   profile.SubItems.Title,
		Content: profile.SubItems.Content,
	}
	return profile
}

func TestFetchSubItemsListModeReturnsAvailable(t *testing.T) {
	t.Parallel()

	list := `<ul>
<li><a onclick="location.href='\/c\/1.html'">1</a></li>
<li><a onclick="location.href='/c/2.html'">2</a></li>
<li><a onclick="location.href='/c/3.html'">3</a></li>
</ul>`
	backend := newFakeFetcher(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		if req.URL == testOrigin+"/list/3/" {
			return respondOK(req.URL, list)
		}
		var pos int
		if _, err := fmt.Sscanf(req.URL, testOrigin+"/c/%d.html", &pos); err != nil {
			return FetchResponse{}, err
		}
		return respondOK(req.URL, chapterPage(pos))
	})
	p := NewSubItemPipeline(backend, listProfile(), 2, nil)

	records := p.FetchSubItems(context.Background(), ItemRef{ID: "3"}, 5)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Index)
		assert.Equal(t, fmt.Sprintf("Part %d", i+1), rec.Title)
	}
	assert.Equal(t, 1, backend.count(testOrigin+"/c/1.html"))

	limited := p.FetchSubItems(context.Background(), ItemRef{ID: "3"}, 2)
	assert.Len(t, limited, 2)
	assert.Equal(t, 1, backend.count(testOrigin+"/c/3.html"))
}

func TestFetchSubItemsUnresolvedEntryKeepsItsPosition(t *testing.T) {
	t.Parallel()

	list := `<div class="all"><ul>
<li><a onclick="location.href='/c/1.html'">1</a></li>
<li><a href="/c/2.html">2</a></li>
<li><a onclick="location.href='/c/3.html'">3</a></li>
</ul></div>`
	backend := newFakeFetcher(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		if req.URL == testOrigin+"/list/3/" {
			return respondOK(req.URL, list)
		}
		var pos int
		if _, err := fmt.Sscanf(req.URL, testOrigin+"/c/%d.html", &pos); err != nil {
			return FetchResponse{}, err
		}
		return respondOK(req.URL, chapterPage(pos))
	})
	profile := listProfile()
	profile.SubItems.Entries = "div.all ul li:has(a)"
	profile.SubItems.Refs.Locators[0].Selector = "a"
	p := NewSubItemPipeline(backend, profile, 2, nil)

	records := p.FetchSubItems(context.Background(), ItemRef{ID: "3"}, 2)
	assert.Equal(t, []SubItemRecord{
		{Index: 1, Title: "Part 1", Content: "first 1\nsecond 1"},
		{Index: 2, Title: "Chapter 2", Content: ""},
	}, records)
	assert.Zero(t, backend.count(testOrigin+"/c/3.html"))

	records = p.FetchSubItems(context.Background(), ItemRef{ID: "3"}, 5)
	require.Len(t, records, 3)
	assert.Equal(t, SubItemRecord{Index: 2, Title: "Chapter 2", Content: ""}, records[1])
	assert.Equal(t, SubItemRecord{Index: 3, Title: "Part 3", Content: "first 3\nsecond 3"}, records[2])
	assert.Zero(t, backend.count(testOrigin+"/c/2.html"))
}

func TestFetchSubItemsListFailureYieldsEmpty(t *testing.T) {
	t.Parallel()

	backend := newFakeFetcher(func(context.Context, FetchRequest) (FetchResponse, error) {
		return FetchResponse{}, errors.New("unreachable")
	})
	p := NewSubItemPipeline(backend, listProfile(), 2, nil)

	records := p.FetchSubItems(context.Background(), ItemRef{ID: "3"}, 5)
	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.Equal(t, 1, backend.total())
}

func TestFetchOneWithoutURLIsPlaceholder(t *testing.T) {
	t.Parallel()

	backend := newFakeFetcher(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		return respondOK(req.URL, "")
	})
	p := NewSubItemPipeline(backend, testProfile(), 1, nil)

	rec := p.fetchOne(context.Background(), ItemRef{ID: "1"}, SubItemReference{Position: 4})
	assert.Equal(t, SubItemRecord{Index: 4, Title: "Chapter 4"}, rec)
	assert.Zero(t, backend.total())
}
