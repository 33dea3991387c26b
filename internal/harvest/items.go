package harvest

import (
	"context"
	"strings"

	"github.com/abadojack/whatlanggo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/extract"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Item field names read from ItemRules and CatalogRules.Listing.
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldAuthor      = "author"
	FieldCoverImage  = "cover_image"
	FieldDescription = "description"
	ListGenres       = "genres"
)

// ItemPipeline fetches an item's metadata and then its sub-items.
type ItemPipeline struct {
	fetcher  Fetcher
	profile  Profile
	subItems SubItemFetcher
	logger   *zap.Logger
}

// NewItemPipeline builds an ItemPipeline.
func NewItemPipeline(fetcher Fetcher, profile Profile, subItems SubItemFetcher, logger *zap.Logger) *ItemPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemPipeline{
		fetcher:  fetcher,
		profile:  profile,
		subItems: subItems,
		logger:   logger.Named("items"),
	}
}

// FetchItem returns the populated record for seed.ID. Only a metadata fetch
// failure fails the item; sub-item failures degrade to placeholders.
func (p *ItemPipeline) FetchItem(ctx context.Context, seed ItemSeed, numSubItems int) (ItemRecord, error) {
	id := seed.ID
	ctx, span := otel.Tracer(tracerName).Start(ctx, "harvest.FetchItem")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", id))

	itemURL := p.profile.ItemURL(id)
	resp, err := p.fetcher.Fetch(ctx, p.profile.request(itemURL))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "metadata fetch failed")
		metrics.ObserveItem("failed")
		return ItemRecord{}, &ItemError{ID: id, Err: err}
	}

	rec := extract.Extract(resp.Body, p.profile.Item.Rules)
	field := func(name string) string {
		if v := seed.Listing.Field(name); v != "" {
			return v
		}
		return rec.Field(name)
	}
	genres := seed.Listing.List(ListGenres)
	if len(genres) == 0 {
		genres = rec.List(ListGenres)
	}
	item := ItemRecord{
		ID:          id,
		Title:       field(FieldTitle),
		Author:      field(FieldAuthor),
		CoverImage:  field(FieldCoverImage),
		Description: field(FieldDescription),
		Genres:      genres,
		URL:         itemURL,
	}
	item.Language = detectLanguage(item.Title, item.Description)
	item.Chapters = p.subItems.FetchSubItems(ctx, ItemRef{ID: id, URL: itemURL}, numSubItems)
	if item.Chapters == nil {
		item.Chapters = []SubItemRecord{}
	}

	p.logger.Debug("item harvested",
		zap.String("item_id", id),
		zap.String("title", item.Title),
		zap.Int("chapters", len(item.Chapters)),
	)
	metrics.ObserveItem("ok")
	return item, nil
}

// detectLanguage returns the ISO 639-3 code of the text, or "".
func detectLanguage(parts ...string) string {
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if info.Lang < 0 {
		return ""
	}
	return info.Lang.Iso6393()
}
