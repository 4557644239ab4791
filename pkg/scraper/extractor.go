package scraper

import (
	"context"
	"strings"

	"marketwatcher/pkg/browser"
	"marketwatcher/pkg/config"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/scanner"
)

// listingExtractor reads the listing set off the rendered account page
// using the configured selectors.
type listingExtractor struct {
	selectors config.SelectorConfig
	logger    logger.Logger
}

func newListingExtractor(selectors config.SelectorConfig, log logger.Logger) *listingExtractor {
	return &listingExtractor{selectors: selectors, logger: log}
}

// extract walks every listing card on the page. Cards without a stable
// ID are skipped with a warning; a partial read is better than none.
func (e *listingExtractor) extract(ctx context.Context, page browser.Page) ([]scanner.Entity, error) {
	items, err := page.QueryAll(ctx, e.selectors.ListingItem)
	if err != nil {
		return nil, err
	}

	entities := make([]scanner.Entity, 0, len(items))
	skipped := 0

	for _, item := range items {
		id, err := item.Attribute(ctx, e.selectors.ListingID)
		if err != nil || strings.TrimSpace(id) == "" {
			skipped++
			continue
		}

		entity := scanner.Entity{ID: strings.TrimSpace(id)}
		entity.Title = e.childText(ctx, item, e.selectors.ListingTitle)
		entity.Price = e.childText(ctx, item, e.selectors.ListingPrice)
		entity.Status = e.childText(ctx, item, e.selectors.ListingStatus)
		entity.ContentHash = entity.ComputeHash()

		entities = append(entities, entity)
	}

	if skipped > 0 {
		e.logger.WarnWithFields("skipped listings without an id attribute", map[string]interface{}{
			"skipped": skipped,
			"total":   len(items),
		})
	}

	return entities, nil
}

// childText reads the trimmed text of a descendant, tolerating its
// absence. Listings legitimately omit fields like a status badge.
func (e *listingExtractor) childText(ctx context.Context, item browser.Element, selector string) string {
	if selector == "" {
		return ""
	}
	child, err := item.Query(ctx, selector)
	if err != nil || child == nil {
		return ""
	}
	text, err := child.Text(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
