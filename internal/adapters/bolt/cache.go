package boltcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

var pathsBucket = []byte("paths")

// Cache implements ports.LocalCache on a local bbolt file.
// Each entity is one key holding its most recent fixes as JSON.
type Cache struct {
	db *bolt.DB
}

// Open opens or creates the cache file at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pathsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	return &Cache{db: db}, nil
}

// Put replaces the cached fixes of entityID.
func (c *Cache) Put(entityID string, fixes []domain.Fix) error {
	data, err := json.Marshal(fixes)
	if err != nil {
		return fmt.Errorf("encode fixes: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pathsBucket).Put([]byte(entityID), data)
	})
}

// Load returns the cached fixes of entityID, or nil when none are cached.
func (c *Cache) Load(entityID string) ([]domain.Fix, error) {
	var fixes []domain.Fix
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(pathsBucket).Get([]byte(entityID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &fixes)
	})
	if err != nil {
		return nil, fmt.Errorf("load cached fixes: %w", err)
	}
	return fixes, nil
}

// Purge removes entityID from the cache.
func (c *Cache) Purge(entityID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pathsBucket).Delete([]byte(entityID))
	})
}

// Close releases the database file.
func (c *Cache) Close() error {
	return c.db.Close()
}
