package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"feedpulse/internal/item"

	log "github.com/sirupsen/logrus"
)

// StdoutPath makes a FileStore print the snapshot instead of writing a file.
const StdoutPath = "-"

// FileStore writes snapshots as a JSON document, replacing the file atomically.
type FileStore struct {
	path   string
	stdout io.Writer
	logger *log.Logger
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string, logger *log.Logger) *FileStore {
	return &FileStore{path: path, stdout: os.Stdout, logger: logger}
}

// Write serializes snapshot and replaces the previous file with it. Readers
// see either the old or the new document, never a partial one.
func (s *FileStore) Write(ctx context.Context, snapshot item.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	if s.path == StdoutPath {
		_, err := s.stdout.Write(data)
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"path":     s.path,
		"items":    len(snapshot.Items),
		"failures": len(snapshot.Failures),
		"bytes":    len(data),
	}).Info("snapshot written")
	return nil
}
