package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketwatcher/pkg/browser"
	"marketwatcher/pkg/config"
	"marketwatcher/pkg/logger"
)

type fakeElement struct {
	text     string
	attrs    map[string]string
	children map[string]*fakeElement
	textErr  error
}

func (e *fakeElement) Text(ctx context.Context) (string, error) {
	return e.text, e.textErr
}

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, error) {
	return e.attrs[name], nil
}

func (e *fakeElement) Query(ctx context.Context, selector string) (browser.Element, error) {
	child, ok := e.children[selector]
	if !ok {
		return nil, nil
	}
	return child, nil
}

type fakeListingPage struct {
	items    []browser.Element
	queryErr error
}

func (p *fakeListingPage) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	return p.items, p.queryErr
}

func (p *fakeListingPage) Goto(ctx context.Context, url string) error { return nil }

func (p *fakeListingPage) WaitForSelector(ctx context.Context, sel string) error { return nil }

func (p *fakeListingPage) Click(ctx context.Context, selector string) error { return nil }

func (p *fakeListingPage) Press(ctx context.Context, selector, key string) error { return nil }

func (p *fakeListingPage) Fill(ctx context.Context, selector, val string) error { return nil }

func (p *fakeListingPage) Text(ctx context.Context, sel string) (string, error) { return "", nil }

func (p *fakeListingPage) MouseMove(ctx context.Context, x, y float64) error { return nil }

func (p *fakeListingPage) Screenshot(ctx context.Context, path string) error { return nil }

func (p *fakeListingPage) URL() string { return "" }

func (p *fakeListingPage) Close() error { return nil }
func (p *fakeListingPage) TypeText(ctx context.Context, sel, text string, d time.Duration) error {
	return nil
}
func (p *fakeListingPage) Attribute(ctx context.Context, sel, name string) (string, error) {
	return "", nil
}

func listingSelectors() config.SelectorConfig {
	return config.SelectorConfig{
		ListingItem:   ".listing",
		ListingID:     "data-id",
		ListingTitle:  ".title",
		ListingPrice:  ".price",
		ListingStatus: ".status",
	}
}

func card(id, title, price, status string) *fakeElement {
	children := map[string]*fakeElement{}
	if title != "" {
		children[".title"] = &fakeElement{text: title}
	}
	if price != "" {
		children[".price"] = &fakeElement{text: price}
	}
	if status != "" {
		children[".status"] = &fakeElement{text: status}
	}
	return &fakeElement{
		attrs:    map[string]string{"data-id": id},
		children: children,
	}
}

func TestExtractReadsListingCards(t *testing.T) {
	page := &fakeListingPage{items: []browser.Element{
		card("L-1", "  Road bike  ", "250 EUR", "active"),
		card("L-2", "Lamp", "15 EUR", ""),
	}}
	ex := newListingExtractor(listingSelectors(), logger.Nop())

	entities, err := ex.extract(context.Background(), page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("Expected 2 entities, got %d", len(entities))
	}

	first := entities[0]
	if first.ID != "L-1" || first.Title != "Road bike" || first.Price != "250 EUR" || first.Status != "active" {
		t.Errorf("Unexpected first entity: %+v", first)
	}
	if first.ContentHash == "" || first.ContentHash != first.ComputeHash() {
		t.Error("Expected a content hash matching the entity fields")
	}

	if entities[1].Status != "" {
		t.Errorf("Expected empty status for a card without a badge, got %q", entities[1].Status)
	}
}

func TestExtractSkipsCardsWithoutID(t *testing.T) {
	page := &fakeListingPage{items: []browser.Element{
		card("", "No id", "1 EUR", ""),
		card("   ", "Whitespace id", "2 EUR", ""),
		card("L-3", "Kept", "3 EUR", ""),
	}}
	ex := newListingExtractor(listingSelectors(), logger.Nop())

	entities, err := ex.extract(context.Background(), page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(entities) != 1 || entities[0].ID != "L-3" {
		t.Fatalf("Expected only the card with an id, got %+v", entities)
	}
}

func TestExtractPropagatesQueryError(t *testing.T) {
	page := &fakeListingPage{queryErr: errors.New("frame detached")}
	ex := newListingExtractor(listingSelectors(), logger.Nop())

	if _, err := ex.extract(context.Background(), page); err == nil {
		t.Fatal("Expected the page error to propagate")
	}
}

func TestExtractToleratesChildTextFailure(t *testing.T) {
	broken := card("L-4", "Title", "", "")
	broken.children[".title"].textErr = errors.New("node gone")
	page := &fakeListingPage{items: []browser.Element{broken}}
	ex := newListingExtractor(listingSelectors(), logger.Nop())

	entities, err := ex.extract(context.Background(), page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(entities) != 1 || entities[0].Title != "" {
		t.Fatalf("Expected entity with empty title, got %+v", entities)
	}
}
