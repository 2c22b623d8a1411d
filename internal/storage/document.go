package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Normalizer is implemented by document roots that need nil maps filled
// after decoding.
type Normalizer interface {
	Normalize()
}

// WriteObserver is told the outcome of every write: "ok", "error" or "conflict".
type WriteObserver func(document, result string)

// DocumentOption configures a Document.
type DocumentOption func(*documentOptions)

type documentOptions struct {
	observer WriteObserver
}

// WithWriteObserver reports write outcomes, typically to metrics.
func WithWriteObserver(observer WriteObserver) DocumentOption {
	return func(opts *documentOptions) {
		opts.observer = observer
	}
}

// Document is the authoritative in-memory copy of one named JSON document.
// Every Update is serialized and persisted before the lock is released.
type Document[T any] struct {
	mu       sync.RWMutex
	name     string
	backend  Backend
	logger   *zap.Logger
	observer WriteObserver
	value    *T
	version  uint64
}

// OpenDocument loads name from backend. A missing document starts empty; an
// unreadable or corrupt one is logged and also starts empty.
func OpenDocument[T any](ctx context.Context, backend Backend, name string, logger *zap.Logger, options ...DocumentOption) *Document[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := documentOptions{}
	for _, option := range options {
		option(&opts)
	}
	doc := &Document[T]{
		name:     name,
		backend:  backend,
		logger:   logger,
		observer: opts.observer,
	}

	data, err := backend.Load(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		doc.value = empty[T]()
	case err != nil:
		logger.Warn("document load failed, starting empty", zap.String("document", name), zap.Error(fmt.Errorf("%w: %v", ErrStoreUnavailable, err)))
		doc.value = empty[T]()
	default:
		value, decodeErr := decode[T](data)
		if decodeErr != nil {
			logger.Warn("document corrupt, starting empty", zap.String("document", name), zap.Error(fmt.Errorf("%w: %v", ErrStoreUnavailable, decodeErr)))
			value = empty[T]()
		}
		doc.value = value
	}
	return doc
}

// Name returns the document name.
func (d *Document[T]) Name() string {
	return d.name
}

// Version increases by one with every applied update.
func (d *Document[T]) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// View runs fn under a shared lock. fn must not keep references to the value.
func (d *Document[T]) View(fn func(*T)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.value)
}

// Update applies fn under the exclusive lock and persists the result. If fn
// fails the in-memory copy is restored and nothing is written.
func (d *Document[T]) Update(ctx context.Context, fn func(*T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apply(ctx, fn)
}

// UpdateIfVersion behaves like Update but fails with ErrConcurrentWrite when
// the document is no longer at the expected version.
func (d *Document[T]) UpdateIfVersion(ctx context.Context, expected uint64, fn func(*T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.version != expected {
		d.observe("conflict")
		return fmt.Errorf("%s at version %d, expected %d: %w", d.name, d.version, expected, ErrConcurrentWrite)
	}
	return d.apply(ctx, fn)
}

func (d *Document[T]) apply(ctx context.Context, fn func(*T) error) error {
	before, err := json.Marshal(d.value)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", d.name, err)
	}
	if err := fn(d.value); err != nil {
		if restored, decodeErr := decode[T](before); decodeErr == nil {
			d.value = restored
		}
		return err
	}
	d.version++

	data, err := json.MarshalIndent(d.value, "", "  ")
	if err != nil {
		d.observe("error")
		return fmt.Errorf("encode %s: %w", d.name, err)
	}
	if err := d.backend.Save(ctx, d.name, data); err != nil {
		d.observe("error")
		d.logger.Error("document save failed", zap.String("document", d.name), zap.Uint64("version", d.version), zap.Error(err))
		return fmt.Errorf("%w: save %s: %w", ErrStoreUnavailable, d.name, err)
	}
	d.observe("ok")
	return nil
}

func (d *Document[T]) observe(result string) {
	if d.observer != nil {
		d.observer(d.name, result)
	}
}

func empty[T any]() *T {
	value := new(T)
	if normalizer, ok := any(value).(Normalizer); ok {
		normalizer.Normalize()
	}
	return value
}

func decode[T any](data []byte) (*T, error) {
	value := new(T)
	if err := json.Unmarshal(data, value); err != nil {
		return nil, err
	}
	if normalizer, ok := any(value).(Normalizer); ok {
		normalizer.Normalize()
	}
	return value, nil
}
