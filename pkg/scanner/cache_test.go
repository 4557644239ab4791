package scanner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketwatcher/pkg/logger"
)

func TestCacheRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	cache, err := NewCache(path, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	removedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	known := map[string]*entry{
		"1": {Entity: Entity{ID: "1", Title: "Bike", Price: "100", Status: "active"}},
		"2": {Entity: Entity{ID: "2", Title: "Lamp", Price: "20", Status: "sold"}, RemovedAt: &removedAt},
	}

	if err := cache.Save(known); err != nil {
		t.Fatalf("Failed to save cache: %v", err)
	}

	loaded := cache.Load()
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 entities, got %d", len(loaded))
	}
	if loaded["1"].Entity.Title != "Bike" {
		t.Errorf("Expected title Bike, got %q", loaded["1"].Entity.Title)
	}
	if loaded["2"].RemovedAt == nil || !loaded["2"].RemovedAt.Equal(removedAt) {
		t.Errorf("Expected RemovedAt %v preserved, got %v", removedAt, loaded["2"].RemovedAt)
	}
}

func TestCacheLoadMissingFile(t *testing.T) {
	cache, err := NewCache(filepath.Join(t.TempDir(), "absent.json"), logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	loaded := cache.Load()
	if loaded == nil || len(loaded) != 0 {
		t.Errorf("Expected empty map for missing file, got %v", loaded)
	}
}

func TestCacheLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	cache, err := NewCache(path, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	loaded := cache.Load()
	if loaded == nil || len(loaded) != 0 {
		t.Errorf("Expected empty map for corrupt file, got %v", loaded)
	}
}

func TestCacheSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	cache, err := NewCache(path, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	if err := cache.Save(map[string]*entry{}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "cache.json" {
		t.Errorf("Expected only cache.json, got %v", entries)
	}
}
