package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	errs "marketwatcher/pkg/errors"
	"marketwatcher/pkg/logger"
)

// cacheFile is the plaintext on-disk form of the known-entity map.
// Timestamps serialize as RFC 3339; status values are plain strings, so
// the file stays greppable for operators.
type cacheFile struct {
	Version   int               `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Entities  map[string]*entry `json:"entities"`
}

// Cache persists the known-entity map so a restart resumes from the
// last observed state instead of re-declaring everything new.
type Cache struct {
	path   string
	logger logger.Logger
}

// NewCache creates a cache persisting at path.
func NewCache(path string, log logger.Logger) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Cache{path: path, logger: log}, nil
}

// Load reads the persisted entity map. A missing or unreadable file
// yields an empty map; the scanner rebuilds from the next observation.
func (c *Cache) Load() map[string]*entry {
	content, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.WithError(err).Warn("failed to read scanner cache, starting fresh")
		}
		return make(map[string]*entry)
	}

	var file cacheFile
	if err := json.Unmarshal(content, &file); err != nil {
		c.logger.WithError(err).Warn("scanner cache corrupt, starting fresh")
		return make(map[string]*entry)
	}
	if file.Entities == nil {
		return make(map[string]*entry)
	}

	c.logger.InfoWithFields("scanner cache loaded", map[string]interface{}{
		"entities":   len(file.Entities),
		"updated_at": file.UpdatedAt,
	})
	return file.Entities
}

// Save writes the entity map atomically (temp file + rename).
func (c *Cache) Save(entities map[string]*entry) error {
	file := cacheFile{
		Version:   1,
		UpdatedAt: time.Now(),
		Entities:  entities,
	}

	content, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypePersistence, errs.SeverityMedium, "cache_save",
			"failed to encode scanner cache")
	}

	tempPath := c.path + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return errs.Wrap(err, errs.ErrorTypePersistence, errs.SeverityMedium, "cache_save",
			"failed to write scanner cache")
	}
	if err := os.Rename(tempPath, c.path); err != nil {
		os.Remove(tempPath)
		return errs.Wrap(err, errs.ErrorTypePersistence, errs.SeverityMedium, "cache_save",
			"failed to replace scanner cache")
	}

	return nil
}
