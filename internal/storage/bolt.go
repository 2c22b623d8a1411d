package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BucketDocuments stores document bodies keyed by document name.
var BucketDocuments = []byte("documents")

// BoltOptions configures the bbolt backend.
type BoltOptions struct {
	// Path to the database file. Parent directories are created if needed.
	Path string

	// Timeout for obtaining the file lock. Defaults to 5 seconds.
	Timeout time.Duration

	// FileMode for creating the database file. Defaults to 0600.
	FileMode os.FileMode
}

// BoltBackend keeps documents in a single bbolt bucket.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt creates or opens the database and its bucket.
func OpenBolt(opts BoltOptions) (*BoltBackend, error) {
	if opts.Path == "" {
		opts.Path = "guildpulse.db"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}

	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(opts.Path, opts.FileMode, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(BucketDocuments); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", BucketDocuments, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketDocuments)
		if bucket == nil {
			return ErrNotFound
		}
		value := bucket.Get([]byte(name))
		if value == nil {
			return ErrNotFound
		}
		// value is only valid for the life of the transaction
		data = append([]byte(nil), value...)
		return nil
	})
	return data, err
}

func (b *BoltBackend) Save(ctx context.Context, name string, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketDocuments)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketDocuments)
		}
		return bucket.Put([]byte(name), data)
	})
}

func (b *BoltBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
