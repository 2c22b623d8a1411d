// Package storage persists the bot's JSON documents through a pluggable
// backend and keeps one authoritative in-memory copy of each.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Backend.Load for a document that was never written.
	ErrNotFound = errors.New("document not found")
	// ErrStoreUnavailable marks a document that could not be read or written.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConcurrentWrite is returned by UpdateIfVersion when the document moved on.
	ErrConcurrentWrite = errors.New("document changed since it was read")
)

// Document names.
const (
	DocAnalytics   = "analytics"
	DocAutomod     = "automod"
	DocLogging     = "logging"
	DocAnalyticsVC = "analyticsvc"
)

// DocumentNames lists every document the bot keeps.
var DocumentNames = []string{DocAnalytics, DocAutomod, DocLogging, DocAnalyticsVC}

// Driver names.
const (
	DriverFile     = "file"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Backend stores raw document bodies by name.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver string
	// Dir holds one JSON file per document for the file driver.
	Dir string
	// Path is the database file for the bolt and sqlite drivers.
	Path string
	// URL is the connection string for the postgres driver.
	URL     string
	Timeout time.Duration
}

// NormalizeDriver maps aliases to a known driver name. Empty means file.
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "file", "json":
		return DriverFile
	case "bolt", "bbolt", "boltdb":
		return DriverBolt
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pg":
		return DriverPostgres
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}

// Open returns the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch NormalizeDriver(opts.Driver) {
	case DriverFile:
		return NewFileBackend(opts.Dir)
	case DriverBolt:
		return OpenBolt(BoltOptions{Path: opts.Path, Timeout: opts.Timeout})
	case DriverSQLite:
		store, err := NewSQLite(opts.Path)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		return NewPostgres(ctx, opts.URL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// Copy writes every named document found in from into to and returns how
// many were copied. Documents missing from the source are skipped.
func Copy(ctx context.Context, from, to Backend, names []string) (int, error) {
	copied := 0
	for _, name := range names {
		data, err := from.Load(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return copied, fmt.Errorf("load %s: %w", name, err)
		}
		if err := to.Save(ctx, name, data); err != nil {
			return copied, fmt.Errorf("save %s: %w", name, err)
		}
		copied++
	}
	return copied, nil
}
