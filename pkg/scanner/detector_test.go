package scanner

import (
	"testing"
	"time"
)

func newTestDetector(grace time.Duration) (*Detector, *time.Time) {
	d := NewDetector(grace)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, &now
}

func observed(ids ...string) []Entity {
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, Entity{ID: id, Title: "title " + id, Price: "10 EUR", Status: "active"})
	}
	return out
}

func TestDiffClassifiesAddedAndRemoved(t *testing.T) {
	d, _ := newTestDetector(24 * time.Hour)
	known := make(map[string]*entry)

	first := d.Diff(known, observed("1", "2", "3"))
	if len(first.Added) != 3 || len(first.Changed) != 0 || len(first.Removed) != 0 {
		t.Fatalf("Expected 3 added on first scan, got %d added %d changed %d removed",
			len(first.Added), len(first.Changed), len(first.Removed))
	}

	second := d.Diff(known, observed("2", "3", "4"))
	if len(second.Added) != 1 || second.Added[0].ID != "4" {
		t.Errorf("Expected entity 4 added, got %v", second.Added)
	}
	if len(second.Removed) != 1 || second.Removed[0].ID != "1" {
		t.Errorf("Expected entity 1 removed, got %v", second.Removed)
	}
	if len(second.Changed) != 0 {
		t.Errorf("Expected no changes, got %v", second.Changed)
	}
}

func TestDiffDetectsFieldChanges(t *testing.T) {
	d, _ := newTestDetector(24 * time.Hour)
	known := make(map[string]*entry)

	d.Diff(known, []Entity{{ID: "1", Title: "Bike", Price: "100 EUR", Status: "active"}})
	result := d.Diff(known, []Entity{{ID: "1", Title: "Bike", Price: "80 EUR", Status: "active"}})

	if len(result.Changed) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(result.Changed))
	}
	change := result.Changed[0]
	if change.Old.Price != "100 EUR" || change.New.Price != "80 EUR" {
		t.Errorf("Expected price transition 100 -> 80, got %q -> %q", change.Old.Price, change.New.Price)
	}
	if len(change.Fields) != 1 {
		t.Errorf("Expected exactly the price field to change, got %v", change.Fields)
	}
	if change.Summary == "" {
		t.Error("Expected a non-empty change summary")
	}
}

func TestDiffPreservesFirstSeenAcrossChanges(t *testing.T) {
	d, now := newTestDetector(24 * time.Hour)
	known := make(map[string]*entry)

	d.Diff(known, observed("1"))
	firstSeen := known["1"].Entity.FirstSeen

	*now = now.Add(time.Hour)
	d.Diff(known, []Entity{{ID: "1", Title: "renamed", Price: "10 EUR", Status: "active"}})

	if !known["1"].Entity.FirstSeen.Equal(firstSeen) {
		t.Errorf("Expected FirstSeen preserved at %v, got %v", firstSeen, known["1"].Entity.FirstSeen)
	}
	if !known["1"].Entity.LastSeen.Equal(*now) {
		t.Errorf("Expected LastSeen updated to %v, got %v", *now, known["1"].Entity.LastSeen)
	}
}

func TestDiffReportsRemovalOnce(t *testing.T) {
	d, now := newTestDetector(24 * time.Hour)
	known := make(map[string]*entry)

	d.Diff(known, observed("1"))

	first := d.Diff(known, nil)
	if len(first.Removed) != 1 {
		t.Fatalf("Expected 1 removal, got %d", len(first.Removed))
	}

	*now = now.Add(time.Hour)
	second := d.Diff(known, nil)
	if len(second.Removed) != 0 {
		t.Errorf("Expected removal reported once, got %d more", len(second.Removed))
	}
	if _, ok := known["1"]; !ok {
		t.Error("Expected removed entity retained during the grace period")
	}
}

func TestDiffPurgesAfterGracePeriod(t *testing.T) {
	d, now := newTestDetector(2 * time.Hour)
	known := make(map[string]*entry)

	d.Diff(known, observed("1"))
	d.Diff(known, nil)

	*now = now.Add(3 * time.Hour)
	d.Diff(known, nil)

	if _, ok := known["1"]; ok {
		t.Error("Expected entity purged after the grace period")
	}
}

func TestDiffRemovedEntityReturning(t *testing.T) {
	d, now := newTestDetector(24 * time.Hour)
	known := make(map[string]*entry)

	d.Diff(known, observed("1"))
	d.Diff(known, nil)

	*now = now.Add(time.Hour)
	back := d.Diff(known, observed("1"))

	// A stale entry still inside the grace period is not re-announced
	// unless its content moved.
	if len(back.Added) != 0 || len(back.Changed) != 0 {
		t.Errorf("Expected silent return of unchanged entity, got %d added %d changed",
			len(back.Added), len(back.Changed))
	}
	if known["1"].RemovedAt != nil {
		t.Error("Expected RemovedAt cleared when the entity returns")
	}
}

func TestEntityHashCoversSalientFields(t *testing.T) {
	base := Entity{ID: "1", Title: "Bike", Price: "100", Status: "active"}

	same := base
	if HasChanged(&base, &same) {
		t.Error("Expected identical entities to hash equal")
	}

	tests := []struct {
		name   string
		mutate func(e *Entity)
	}{
		{"title", func(e *Entity) { e.Title = "Trike" }},
		{"price", func(e *Entity) { e.Price = "90" }},
		{"status", func(e *Entity) { e.Status = "reserved" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			changed := base
			test.mutate(&changed)
			if !HasChanged(&base, &changed) {
				t.Errorf("Expected %s change to alter the hash", test.name)
			}
		})
	}

	// Timestamps are bookkeeping, not content.
	stamped := base
	stamped.FirstSeen = time.Now()
	stamped.LastSeen = time.Now()
	if HasChanged(&base, &stamped) {
		t.Error("Expected timestamps to not affect the hash")
	}
}
