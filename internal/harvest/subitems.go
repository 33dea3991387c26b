package harvest

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/extract"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

const tracerName = "github.com/JakeFAU/catalog-harvester/internal/harvest"

var (
	errMissingURL        = errors.New("sub-item reference has no url")
	errEnvelopeStatus    = errors.New("content envelope reported failure")
	errEnvelopeNoContent = errors.New("content envelope has no content")
)

// SubItemPipeline fetches the sub-items of one item in ordered batches.
type SubItemPipeline struct {
	fetcher Fetcher
	profile Profile
	limit   int
	logger  *zap.Logger
}

// NewSubItemPipeline builds a pipeline running at most limit fetches per
// batch.
func NewSubItemPipeline(fetcher Fetcher, profile Profile, limit int, logger *zap.Logger) *SubItemPipeline {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubItemPipeline{
		fetcher: fetcher,
		profile: profile,
		limit:   limit,
		logger:  logger.Named("subitems"),
	}
}

// FetchSubItems returns min(n, available) records sorted by position. Failed
// sub-items are kept as placeholders with empty content. The result is never
// nil.
func (p *SubItemPipeline) FetchSubItems(ctx context.Context, item ItemRef, n int) []SubItemRecord {
	if n <= 0 {
		return []SubItemRecord{}
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "harvest.FetchSubItems")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", item.ID), attribute.Int("sub_items.requested", n))

	refs := p.references(ctx, item, n)
	records := make([]SubItemRecord, len(refs))
	forEachBatch(len(refs), p.limit, metrics.PoolSubItems, func(i int) {
		records[i] = p.fetchOne(ctx, item, refs[i])
	})
	span.SetAttributes(attribute.Int("sub_items.returned", len(records)))
	return records
}

// references produces up to n references for the item.
func (p *SubItemPipeline) references(ctx context.Context, item ItemRef, n int) []SubItemReference {
	rules := p.profile.SubItems
	if rules.Mode == RangeMode {
		refs := make([]SubItemReference, n)
		for i := range refs {
			pos := i + 1
			refs[i] = SubItemReference{
				Position: pos,
				URL:      p.profile.SubItemURL(item.ID, pos),
				TitleURL: p.profile.SubItemTitleURL(item.ID, pos),
			}
		}
		return refs
	}

	listURL := p.profile.SubItemListURL(item.ID)
	resp, err := p.fetcher.Fetch(ctx, p.profile.request(listURL))
	if err != nil {
		p.logger.Warn("sub-item list unavailable",
			zap.String("item_id", item.ID),
			zap.String("url", listURL),
			zap.Error(err),
		)
		return []SubItemReference{}
	}
	doc := extract.Parse(resp.Body)
	var urls []string
	if rules.Entries != "" {
		urls = doc.Entries(rules.Entries, n, rules.Refs)
	} else {
		urls = doc.List(rules.Refs)
		if len(urls) > n {
			urls = urls[:n]
		}
	}
	refs := make([]SubItemReference, len(urls))
	for i, u := range urls {
		refs[i] = SubItemReference{Position: i + 1, URL: u}
	}
	return refs
}

func (p *SubItemPipeline) fetchOne(ctx context.Context, item ItemRef, ref SubItemReference) SubItemRecord {
	var title string
	if ref.TitleURL != "" {
		title = p.fetchTitle(ctx, item, ref)
	}

	content, pageTitle, err := p.fetchContent(ctx, ref)
	if title == "" {
		title = pageTitle
	}
	if title == "" {
		title = fmt.Sprintf("Chapter %d", ref.Position)
	}

	status := "ok"
	if err != nil {
		status = "placeholder"
		content = ""
		p.logger.Warn("sub-item degraded to placeholder",
			zap.String("item_id", item.ID),
			zap.Int("position", ref.Position),
			zap.String("url", ref.URL),
			zap.Error(err),
		)
	}
	metrics.ObserveSubItem(status)
	return SubItemRecord{Index: ref.Position, Title: title, Content: content}
}

func (p *SubItemPipeline) fetchTitle(ctx context.Context, item ItemRef, ref SubItemReference) string {
	resp, err := p.fetcher.Fetch(ctx, p.profile.request(ref.TitleURL))
	if err != nil {
		p.logger.Warn("sub-item title unavailable",
			zap.String("item_id", item.ID),
			zap.Int("position", ref.Position),
			zap.Error(err),
		)
		return ""
	}
	return extract.Parse(resp.Body).Field(p.profile.SubItems.Title)
}

// fetchContent returns the content and, when no separate title page exists,
// the title found on the content page.
func (p *SubItemPipeline) fetchContent(ctx context.Context, ref SubItemReference) (string, string, error) {
	if ref.URL == "" {
		return "", "", errMissingURL
	}
	resp, err := p.fetcher.Fetch(ctx, p.profile.request(ref.URL))
	if err != nil {
		return "", "", err
	}

	rules := p.profile.SubItems
	body := resp.Body
	if env := rules.Content.Envelope; env != nil {
		if env.StatusPath != "" {
			if status, _ := extract.JSONString(body, env.StatusPath); status != env.StatusOK {
				return "", "", fmt.Errorf("%w: status %q", errEnvelopeStatus, status)
			}
		}
		fragment, ok := extract.JSONString(body, env.ContentPath)
		if !ok {
			return "", "", errEnvelopeNoContent
		}
		body = []byte(fragment)
	}

	doc := extract.Parse(body)
	var content string
	if len(rules.Content.Field.Locators) == 0 {
		content = doc.Text()
		for _, t := range rules.Content.Field.Transforms {
			content = t(content)
		}
	} else {
		content = doc.Field(rules.Content.Field)
	}
	content = extract.NormalizeNewlines(content)

	var title string
	if ref.TitleURL == "" {
		title = doc.Field(rules.Title)
	}
	return content, title, nil
}
