// Package cache keeps previously generated outputs so a stem whose inputs
// return to a state that was already generated can be served without
// invoking the generator again.
//
// Entries are keyed by a digest over the stem name, every dependency of the
// stem with its content digest, and the combined digest of the generator
// logic files, so any logic change misses the cache. The cache:
//
//  1. Stores entry metadata as JSON in BoltDB
//  2. Stores output contents as content-addressed blobs under artifacts/
//  3. Verifies blob digests on restore, treating mismatches as a miss
//
// The cache is an optimisation only: callers treat every cache error as a
// miss.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Norgate-AV/incgen/internal/fingerprint"
	"github.com/Norgate-AV/incgen/internal/state"
)

const (
	// DefaultCacheDir is the default cache directory name
	DefaultCacheDir = ".incgen-cache"

	// bucketName is the BoltDB bucket name for cache entries
	bucketName = "generations"

	// artifactsDirName holds content-addressed output blobs
	artifactsDirName = "artifacts"
)

// Cache manages generated outputs and their metadata using BoltDB
type Cache struct {
	db   *bbolt.DB
	root string // Root directory for cache (.incgen-cache/)
}

// New creates a new cache instance
// If cacheDir is empty, uses DefaultCacheDir in current working directory
func New(cacheDir string) (*Cache, error) {
	if cacheDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}

		cacheDir = filepath.Join(cwd, DefaultCacheDir)
	}

	// Ensure cache directory exists
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Open BoltDB
	dbPath := filepath.Join(cacheDir, "cache.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// Create bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &Cache{
		db:   db,
		root: cacheDir,
	}, nil
}

// Close closes the cache database
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}

	return nil
}

// Get retrieves a cache entry by key
// Returns nil if cache miss
func (c *Cache) Get(key string) (*Entry, error) {
	var entry Entry
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data := b.Get([]byte(key))
		if data == nil {
			return nil // Cache miss
		}

		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}

	if entry.Key == "" {
		return nil, nil // Cache miss
	}

	return &entry, nil
}

// Store saves the outputs of one stem generation under key
func (c *Cache) Store(key, stem string, outputs map[string][]byte) error {
	entry := Entry{
		Key:       key,
		Stem:      stem,
		Timestamp: time.Now(),
	}

	// Blobs first so a stored entry never points at missing content
	for path, data := range outputs {
		digest := fingerprint.Bytes(data)
		if err := SaveBlob(c.artifactsDir(), digest, data); err != nil {
			return fmt.Errorf("failed to store artifact for %s: %w", path, err)
		}

		entry.Outputs = append(entry.Outputs, state.FileDigest{Path: path, Digest: string(digest)})
	}
	entry.sortOutputs()

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

// Restore loads the cached outputs of an entry
func (c *Cache) Restore(entry *Entry) (map[string][]byte, error) {
	outputs := make(map[string][]byte, len(entry.Outputs))

	for _, o := range entry.Outputs {
		data, err := ReadBlob(c.artifactsDir(), fingerprint.Digest(o.Digest))
		if err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", o.Path, err)
		}

		outputs[o.Path] = data
	}

	return outputs, nil
}

// Clear removes all cache entries and artifacts
func (c *Cache) Clear() error {
	// Clear BoltDB
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte(bucketName))
	})
	if err != nil {
		return err
	}

	// Recreate bucket
	err = c.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
	if err != nil {
		return err
	}

	// Remove artifacts directory
	if err := os.RemoveAll(c.artifactsDir()); err != nil {
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}

	return nil
}

// Stats returns the number of entries and the total artifact size
func (c *Cache) Stats() (int, int64, error) {
	var count int
	var totalSize int64

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	// Calculate total artifact size
	err = filepath.Walk(c.artifactsDir(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !info.IsDir() {
			totalSize += info.Size()
		}

		return nil
	})

	return count, totalSize, err
}

func (c *Cache) artifactsDir() string {
	return filepath.Join(c.root, artifactsDirName)
}
