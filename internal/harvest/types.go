// Package harvest implements the catalog → item → sub-item pipeline.
//
// A crawl starts at a catalog listing page, discovers item identifiers,
// fetches each item's metadata page and then a bounded number of sub-items
// (chapters) per item. Two independent pools bound the work: the outer pool
// limits items in flight, the inner pool limits sub-item fetches per item.
// Failures below the catalog level degrade into placeholders or omissions.
package harvest

import (
	"context"
	"net/http"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/extract"
)

// FetchRequest captures everything needed to retrieve one resource.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher retrieves a resource and returns its body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ItemFetcher produces a fully populated ItemRecord for one identifier.
type ItemFetcher interface {
	FetchItem(ctx context.Context, seed ItemSeed, numSubItems int) (ItemRecord, error)
}

// ItemSeed is a discovered identifier plus what its catalog entry already
// says about it. Listing values take precedence over the item page.
type ItemSeed struct {
	ID      string
	Listing extract.Record
}

// SubItemFetcher produces the ordered sub-item sequence for one item.
type SubItemFetcher interface {
	FetchSubItems(ctx context.Context, item ItemRef, n int) []SubItemRecord
}

// ItemRef names an item whose sub-items are being fetched.
type ItemRef struct {
	ID  string
	URL string
}

// ItemRecord is the aggregated result for one catalog item.
type ItemRecord struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	CoverImage  string          `json:"cover_image"`
	Description string          `json:"description"`
	Genres      []string        `json:"genres"`
	URL         string          `json:"url"`
	Language    string          `json:"language,omitempty"`
	Chapters    []SubItemRecord `json:"chapters"`
}

// SubItemReference locates one sub-item. Positions are 1-based and contiguous.
type SubItemReference struct {
	Position int
	URL      string
	TitleURL string
}

// SubItemRecord is one fetched (or placeholder) sub-item.
type SubItemRecord struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// CatalogBatchResult holds the successful items of one catalog page, ordered
// by identifier.
type CatalogBatchResult struct {
	Page    int          `json:"-"`
	Results []ItemRecord `json:"results"`
}
