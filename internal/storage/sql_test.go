package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"feedpulse/internal/item"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeFor(t *testing.T, driver string) *SQLStore {
	t.Helper()
	d, ok := dialects[driver]
	require.True(t, ok)
	return &SQLStore{flavor: d.flavor, types: d.types}
}

func TestSchemaPerDialect(t *testing.T) {
	mysql := strings.Join(storeFor(t, "mysql").schema(), "\n")
	assert.Contains(t, mysql, "CREATE TABLE IF NOT EXISTS feed_items")
	assert.Contains(t, mysql, "DATETIME(3)")

	pg := strings.Join(storeFor(t, "postgres").schema(), "\n")
	assert.Contains(t, pg, "CREATE TABLE IF NOT EXISTS feed_failures")
	assert.Contains(t, pg, "TIMESTAMPTZ")
	assert.NotContains(t, pg, "DATETIME")
}

func TestReplaceStatements(t *testing.T) {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	snapshot := item.Snapshot{
		GeneratedAt: at,
		Items: []item.Item{
			{ID: "1", Title: "One", Link: "https://a.example/1", Source: "A", Topics: []string{"tech", "world"}, Published: at},
			{ID: "2", Title: "Two", Link: "https://a.example/2", Source: "A", Topics: []string{"tech"}, Published: at.Add(-time.Hour)},
		},
		Failures: []item.Failure{{Name: "B", URL: "https://b.example", Err: errors.New("boom")}},
	}

	t.Run("mysql", func(t *testing.T) {
		stmts, err := storeFor(t, "mysql").replaceStatements(snapshot)
		require.NoError(t, err)
		require.Len(t, stmts, 6)

		for i, table := range []string{"feed_snapshots", "feed_items", "feed_failures"} {
			assert.Contains(t, stmts[i].query, "DELETE FROM "+table)
		}
		assert.Contains(t, stmts[4].query, "INSERT INTO feed_items")
		assert.Contains(t, stmts[4].query, "?")
		assert.Len(t, stmts[4].args, 14)
		assert.Equal(t, `["tech","world"]`, stmts[4].args[6])
		assert.Equal(t, []interface{}{0, "B", "https://b.example", "boom"}, stmts[5].args)
	})

	t.Run("postgres placeholders", func(t *testing.T) {
		stmts, err := storeFor(t, "postgres").replaceStatements(snapshot)
		require.NoError(t, err)
		assert.Contains(t, stmts[4].query, "$1")
		assert.NotContains(t, stmts[4].query, "?")
	})

	t.Run("empty snapshot only resets tables", func(t *testing.T) {
		stmts, err := storeFor(t, "mysql").replaceStatements(item.FallbackSnapshot(at, errors.New("x")))
		require.NoError(t, err)
		require.Len(t, stmts, 5)
		assert.Contains(t, stmts[3].query, "INSERT INTO feed_snapshots")
		assert.Equal(t, []interface{}{at, 0, 1}, stmts[3].args)
	})
}

func TestReplaceStatementsBatchesLargeSnapshots(t *testing.T) {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	items := make([]item.Item, 2*insertBatchRows+500)
	for i := range items {
		items[i] = item.Item{ID: fmt.Sprint(i), Link: fmt.Sprintf("https://a.example/%d", i), Topics: []string{"t"}, Published: at}
	}

	stmts, err := storeFor(t, "postgres").replaceStatements(item.Snapshot{GeneratedAt: at, Items: items})
	require.NoError(t, err)
	require.Len(t, stmts, 7)

	inserts := stmts[4:]
	assert.Len(t, inserts[0].args, 7*insertBatchRows)
	assert.Len(t, inserts[1].args, 7*insertBatchRows)
	assert.Len(t, inserts[2].args, 7*500)
	assert.Equal(t, 2*insertBatchRows, inserts[2].args[0], "ordinals continue across batches")
	for _, st := range inserts {
		assert.Less(t, len(st.args), 65535)
	}
}

func mockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger, _ := test.NewNullLogger()
	store := storeFor(t, "mysql")
	store.db = db
	store.logger = logger
	return store, mock
}

func expectReset(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	for _, table := range []string{"feed_snapshots", "feed_items", "feed_failures"} {
		mock.ExpectExec("DELETE FROM " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("INSERT INTO feed_snapshots").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestSQLStoreWrite(t *testing.T) {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	snapshot := item.Snapshot{
		GeneratedAt: at,
		Items:       []item.Item{{ID: "1", Title: "One", Link: "https://a.example/1", Source: "A", Topics: []string{"tech"}, Published: at}},
		Failures:    []item.Failure{{Name: "B", URL: "https://b.example", Err: errors.New("boom")}},
	}

	t.Run("commits all statements", func(t *testing.T) {
		store, mock := mockStore(t)
		expectReset(mock)
		mock.ExpectExec("INSERT INTO feed_items").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO feed_failures").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Write(context.Background(), snapshot))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failed insert", func(t *testing.T) {
		store, mock := mockStore(t)
		expectReset(mock)
		mock.ExpectExec("INSERT INTO feed_items").WillReturnError(errors.New("deadlock"))
		mock.ExpectRollback()

		err := store.Write(context.Background(), snapshot)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mirror snapshot")
		assert.Contains(t, err.Error(), "deadlock")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports failed commit", func(t *testing.T) {
		store, mock := mockStore(t)
		expectReset(mock)
		mock.ExpectExec("INSERT INTO feed_items").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO feed_failures").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(errors.New("connection lost"))

		err := store.Write(context.Background(), snapshot)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "commit snapshot tx")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		store, mock := mockStore(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err := store.Write(context.Background(), snapshot)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "begin snapshot tx")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
