package storage

import (
	"context"
	"errors"

	"feedpulse/internal/item"
)

// Writer persists a snapshot.
type Writer interface {
	Write(ctx context.Context, snapshot item.Snapshot) error
}

// MultiWriter writes every snapshot to all of its writers.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a writer fanning out to writers in order.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write attempts every writer even if an earlier one failed and returns the
// joined errors.
func (m *MultiWriter) Write(ctx context.Context, snapshot item.Snapshot) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Write(ctx, snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
