package harvest

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/extract"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Orchestrator crawls one catalog page at a time.
type Orchestrator struct {
	fetcher Fetcher
	profile Profile
	items   ItemFetcher
	limit   int
	logger  *zap.Logger
}

// NewOrchestrator builds an Orchestrator running at most limit items in
// flight.
func NewOrchestrator(fetcher Fetcher, profile Profile, items ItemFetcher, limit int, logger *zap.Logger) *Orchestrator {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher: fetcher,
		profile: profile,
		items:   items,
		limit:   limit,
		logger:  logger.Named("orchestrator"),
	}
}

// CrawlPage discovers the identifiers on a catalog page and runs the item
// pipeline for each. It fails only when discovery fails or finds nothing;
// items that fail are logged and left out of the result.
func (o *Orchestrator) CrawlPage(ctx context.Context, page, numSubItems int) (CatalogBatchResult, error) {
	runID := uuid.NewString()
	logger := o.logger.With(zap.String("run_id", runID), zap.Int("page", page))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "harvest.CrawlPage")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int("catalog.page", page),
		attribute.Int("sub_items.requested", numSubItems),
	)
	start := time.Now()

	seeds, err := o.discover(ctx, page)
	if err != nil {
		outcome := "discovery_failed"
		if errors.Is(err, ErrNotFound) {
			outcome = "not_found"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		metrics.ObserveCrawl(outcome, time.Since(start))
		logger.Warn("catalog discovery failed", zap.Error(err))
		return CatalogBatchResult{}, err
	}
	logger.Info("catalog discovered", zap.Int("items", len(seeds)))

	outcomes := make([]*ItemRecord, len(seeds))
	forEachLimit(len(seeds), o.limit, metrics.PoolItems, func(i int) {
		record, err := o.items.FetchItem(ctx, seeds[i], numSubItems)
		if err != nil {
			logger.Warn("item failed", zap.String("item_id", seeds[i].ID), zap.Error(err))
			return
		}
		outcomes[i] = &record
	})

	result := CatalogBatchResult{Page: page, Results: make([]ItemRecord, 0, len(seeds))}
	for _, rec := range outcomes {
		if rec != nil {
			result.Results = append(result.Results, *rec)
		}
	}

	span.SetAttributes(attribute.Int("items.succeeded", len(result.Results)))
	metrics.ObserveCrawl("ok", time.Since(start))
	logger.Info("catalog page harvested",
		zap.Int("items", len(seeds)),
		zap.Int("succeeded", len(result.Results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// Discover returns the unique identifiers on a catalog page in lexicographic
// order. A page without identifiers fails with ErrNotFound.
func (o *Orchestrator) Discover(ctx context.Context, page int) ([]string, error) {
	seeds, err := o.discover(ctx, page)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(seeds))
	for i, seed := range seeds {
		ids[i] = seed.ID
	}
	return ids, nil
}

func (o *Orchestrator) discover(ctx context.Context, page int) ([]ItemSeed, error) {
	resp, err := o.fetcher.Fetch(ctx, o.profile.request(o.profile.CatalogURL(page)))
	if err != nil {
		return nil, &DiscoveryError{Page: page, Err: err}
	}
	doc := extract.Parse(resp.Body)
	ids := UniqueSorted(doc.List(o.profile.Catalog.IDs))
	if len(ids) == 0 {
		return nil, &DiscoveryError{Page: page, Err: ErrNotFound}
	}
	listings := o.listings(doc)
	seeds := make([]ItemSeed, len(ids))
	for i, id := range ids {
		seeds[i] = ItemSeed{ID: id, Listing: listings[id]}
	}
	return seeds, nil
}

// listings maps identifiers to their catalog entry. The first entry for a
// repeated identifier wins.
func (o *Orchestrator) listings(doc *extract.Document) map[string]extract.Record {
	rules := o.profile.Catalog
	out := map[string]extract.Record{}
	if rules.Entry == "" {
		return out
	}
	for _, rec := range doc.ApplyEach(rules.Entry, rules.EntryExclude, rules.Listing) {
		id := rec.Field(FieldID)
		if _, seen := out[id]; id == "" || seen {
			continue
		}
		out[id] = rec
	}
	return out
}

// UniqueSorted deduplicates ids and sorts them as strings.
func UniqueSorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
