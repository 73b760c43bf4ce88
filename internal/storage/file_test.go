package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"feedpulse/internal/item"
	"feedpulse/internal/storage"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decoded struct {
	GeneratedAtISO string `json:"generatedAtISO"`
	Failures       []struct {
		Name  string `json:"name"`
		URL   string `json:"url"`
		Error string `json:"error"`
	} `json:"failures"`
	Items []item.Item `json:"items"`
}

func readSnapshot(t *testing.T, path string) decoded {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out decoded
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestFileStoreWritesAndReplaces(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "nested", "news.json")
	store := storage.NewFileStore(path, logger)
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	first := item.Snapshot{
		GeneratedAt: at,
		Items: []item.Item{{
			ID: "abc", Title: "Hello", Link: "https://a.example/1", Source: "A",
			DateISO: "2024-03-10T11:00:00.000Z", Topics: []string{"tech"},
		}},
		Failures: []item.Failure{{Name: "B", URL: "https://b.example", Err: errors.New("boom")}},
	}
	require.NoError(t, store.Write(context.Background(), first))

	got := readSnapshot(t, path)
	assert.Equal(t, "2024-03-10T12:00:00.000Z", got.GeneratedAtISO)
	require.Len(t, got.Items, 1)
	assert.Equal(t, []string{"tech"}, got.Items[0].Topics)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, "boom", got.Failures[0].Error)

	require.NoError(t, store.Write(context.Background(), item.Snapshot{GeneratedAt: at.Add(time.Hour)}))
	got = readSnapshot(t, path)
	assert.Equal(t, "2024-03-10T13:00:00.000Z", got.GeneratedAtISO)
	assert.NotNil(t, got.Items)
	assert.Empty(t, got.Items)
	assert.Empty(t, got.Failures)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileStoreEmptySnapshotIsValidJSON(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "news.json")
	require.NoError(t, storage.NewFileStore(path, logger).Write(context.Background(), item.Snapshot{GeneratedAt: time.Now()}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
	assert.Contains(t, string(raw), `"items": []`)
	assert.Contains(t, string(raw), `"failures": []`)
}

func TestFileStoreCancelledContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "news.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := storage.NewFileStore(path, logger).Write(ctx, item.Snapshot{})
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

type recordingWriter struct {
	calls int
	err   error
}

func (w *recordingWriter) Write(context.Context, item.Snapshot) error {
	w.calls++
	return w.err
}

func TestMultiWriterTriesAll(t *testing.T) {
	failing := &recordingWriter{err: errors.New("db down")}
	ok := &recordingWriter{}

	err := storage.NewMultiWriter(failing, ok).Write(context.Background(), item.Snapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	assert.NoError(t, storage.NewMultiWriter(ok).Write(context.Background(), item.Snapshot{}))
}
