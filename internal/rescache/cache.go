// Package rescache persists hunk resolutions keyed by content hash.
package rescache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// recordFileMode defines permissions for cache record files.
	recordFileMode = 0o644
	// cacheDirMode defines permissions for the cache directory.
	cacheDirMode = 0o755
)

// Record is one remembered resolution. Created on the first successful
// resolution of a content hash, consulted and never mutated afterwards.
type Record struct {
	ContentHash     string    `json:"content_hash"`
	ResolvedContent string    `json:"resolved_content"`
	StrategyUsed    string    `json:"strategy_used"`
	ResolvedAt      time.Time `json:"resolved_at"`
}

// Cache is a content-addressed store of resolution records. Writes are
// idempotent (same hash always carries the same value), so concurrent
// attempts may race inserts safely; the first write wins and later writes
// for the same hash are treated as hits.
type Cache struct {
	dir string
	mu  sync.RWMutex
	hot map[string]Record
	now func() time.Time
}

// Open initializes a cache rooted at dir, creating it when needed.
func Open(dir string) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, cacheDirMode); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir, hot: map[string]Record{}, now: time.Now}, nil
}

// Lookup returns the remembered resolution for a content hash.
func (c *Cache) Lookup(contentHash string) (Record, bool, error) {
	if err := validateHash(contentHash); err != nil {
		return Record{}, false, err
	}

	c.mu.RLock()
	record, ok := c.hot[contentHash]
	c.mu.RUnlock()
	if ok {
		return record, true, nil
	}

	data, err := os.ReadFile(c.recordPath(contentHash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read cache record %s: %w", contentHash, err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("decode cache record %s: %w", contentHash, err)
	}

	c.mu.Lock()
	c.hot[contentHash] = record
	c.mu.Unlock()
	return record, true, nil
}

// Insert persists a resolution for a content hash if none exists yet and
// returns the record that ended up stored. An existing record always wins.
func (c *Cache) Insert(contentHash string, resolvedContent string, strategyUsed string) (Record, error) {
	if err := validateHash(contentHash); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(strategyUsed) == "" {
		return Record{}, errors.New("strategy used is required")
	}

	if existing, ok, err := c.Lookup(contentHash); err != nil {
		return Record{}, err
	} else if ok {
		return existing, nil
	}

	record := Record{
		ContentHash:     contentHash,
		ResolvedContent: resolvedContent,
		StrategyUsed:    strategyUsed,
		ResolvedAt:      c.now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return Record{}, fmt.Errorf("encode cache record %s: %w", contentHash, err)
	}

	path := c.recordPath(contentHash)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, recordFileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// A concurrent attempt stored the same resolution first.
			if existing, ok, lookupErr := c.Lookup(contentHash); lookupErr == nil && ok {
				return existing, nil
			}
			return record, nil
		}
		return Record{}, fmt.Errorf("create cache record %s: %w", contentHash, err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return Record{}, fmt.Errorf("write cache record %s: %w", contentHash, err)
	}
	if err := file.Close(); err != nil {
		return Record{}, fmt.Errorf("close cache record %s: %w", contentHash, err)
	}

	c.mu.Lock()
	c.hot[contentHash] = record
	c.mu.Unlock()
	return record, nil
}

// Len counts records currently on disk.
func (c *Cache) Len() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("list cache directory %s: %w", c.dir, err)
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}
	return count, nil
}

// recordPath returns the on-disk path for a content hash.
func (c *Cache) recordPath(contentHash string) string {
	return filepath.Join(c.dir, contentHash+".json")
}

// validateHash rejects keys that could escape the cache directory.
func validateHash(contentHash string) error {
	if strings.TrimSpace(contentHash) == "" {
		return errors.New("content hash is required")
	}
	for _, r := range contentHash {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			continue
		}
		return fmt.Errorf("content hash %q is not lowercase hex", contentHash)
	}
	return nil
}
