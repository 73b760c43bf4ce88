package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"feedpulse/internal/item"

	_ "github.com/go-sql-driver/mysql"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// insertBatchRows caps the rows of one multi-row INSERT so that the bound
// parameters stay below the PostgreSQL limit of 65535.
const insertBatchRows = 1000

const (
	snapshotsTable = "feed_snapshots"
	itemsTable     = "feed_items"
	failuresTable  = "feed_failures"
)

// columnTypes holds the dialect specific column types used by the schema.
type columnTypes struct {
	timestamp string
	shortText string
	longText  string
}

var dialects = map[string]struct {
	flavor sqlbuilder.Flavor
	types  columnTypes
}{
	"mysql": {
		flavor: sqlbuilder.MySQL,
		types:  columnTypes{timestamp: "DATETIME(3)", shortText: "VARCHAR(255)", longText: "TEXT"},
	},
	"postgres": {
		flavor: sqlbuilder.PostgreSQL,
		types:  columnTypes{timestamp: "TIMESTAMPTZ", shortText: "VARCHAR(255)", longText: "TEXT"},
	},
}

// SQLStore mirrors the latest snapshot into MySQL or PostgreSQL tables. Every
// write replaces the previous contents; no history is kept.
type SQLStore struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor
	types  columnTypes
	logger *log.Logger
}

// NewSQLStore connects to the database, ensures the schema and returns a ready store.
// driver is either "mysql" or "postgres".
func NewSQLStore(ctx context.Context, driver, dsn string, logger *log.Logger) (*SQLStore, error) {
	dialect, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	store := &SQLStore{db: db, flavor: dialect.flavor, types: dialect.types, logger: logger}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) schema() []string {
	t := s.types
	tables := []*sqlbuilder.CreateTableBuilder{
		s.flavor.NewCreateTableBuilder().CreateTable(snapshotsTable).IfNotExists().
			Define("generated_at", t.timestamp, "NOT NULL").
			Define("item_count", "INT", "NOT NULL").
			Define("failure_count", "INT", "NOT NULL"),
		s.flavor.NewCreateTableBuilder().CreateTable(itemsTable).IfNotExists().
			Define("ordinal", "INT", "NOT NULL", "PRIMARY KEY").
			Define("id", "VARCHAR(16)", "NOT NULL").
			Define("title", t.longText, "NOT NULL").
			Define("link", t.longText, "NOT NULL").
			Define("source", t.shortText, "NOT NULL").
			Define("published_at", t.timestamp, "NOT NULL").
			Define("topics", t.longText, "NOT NULL"),
		s.flavor.NewCreateTableBuilder().CreateTable(failuresTable).IfNotExists().
			Define("ordinal", "INT", "NOT NULL", "PRIMARY KEY").
			Define("name", t.shortText, "NOT NULL").
			Define("url", t.longText, "NOT NULL").
			Define("message", t.longText, "NOT NULL"),
	}
	stmts := make([]string, 0, len(tables))
	for _, ctb := range tables {
		stmt, _ := ctb.Build()
		stmts = append(stmts, stmt)
	}
	return stmts
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Write replaces the mirrored snapshot in a single transaction.
func (s *SQLStore) Write(ctx context.Context, snapshot item.Snapshot) error {
	stmts, err := s.replaceStatements(snapshot)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("mirror snapshot: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"items":    len(snapshot.Items),
		"failures": len(snapshot.Failures),
	}).Info("snapshot mirrored to database")
	return nil
}

type statement struct {
	query string
	args  []interface{}
}

func (s *SQLStore) replaceStatements(snapshot item.Snapshot) ([]statement, error) {
	var stmts []statement
	add := func(query string, args []interface{}) {
		stmts = append(stmts, statement{query: query, args: args})
	}

	for _, table := range []string{snapshotsTable, itemsTable, failuresTable} {
		add(s.flavor.NewDeleteBuilder().DeleteFrom(table).Build())
	}

	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto(snapshotsTable).Cols("generated_at", "item_count", "failure_count").
		Values(snapshot.GeneratedAt.UTC(), len(snapshot.Items), len(snapshot.Failures))
	add(ib.Build())

	for n, batch := range lo.Chunk(snapshot.Items, insertBatchRows) {
		start := n * insertBatchRows
		ib := s.flavor.NewInsertBuilder()
		ib.InsertInto(itemsTable).Cols("ordinal", "id", "title", "link", "source", "published_at", "topics")
		for i, it := range batch {
			topics, err := json.Marshal(it.Topics)
			if err != nil {
				return nil, fmt.Errorf("marshal topics of %s: %w", it.Link, err)
			}
			ib.Values(start+i, it.ID, it.Title, it.Link, it.Source, it.Published.UTC(), string(topics))
		}
		add(ib.Build())
	}

	for n, batch := range lo.Chunk(snapshot.Failures, insertBatchRows) {
		start := n * insertBatchRows
		ib := s.flavor.NewInsertBuilder()
		ib.InsertInto(failuresTable).Cols("ordinal", "name", "url", "message")
		for i, f := range batch {
			ib.Values(start+i, f.Name, f.URL, f.Message())
		}
		add(ib.Build())
	}
	return stmts, nil
}

