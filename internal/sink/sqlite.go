package sink

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/listings-crawler/internal/model"
)

// SQLiteBackend implements Backend using modernc.org/sqlite.
type SQLiteBackend struct {
	dsn string
	db  *sql.DB
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS stores (
	id              TEXT PRIMARY KEY,
	external_id     TEXT NOT NULL DEFAULT '',
	name            TEXT NOT NULL DEFAULT '',
	rating          TEXT NOT NULL DEFAULT '',
	link            TEXT NOT NULL DEFAULT '',
	phone           TEXT,
	address         TEXT,
	website         TEXT,
	plus_code       TEXT,
	search_keyword  TEXT NOT NULL DEFAULT '',
	search_location TEXT NOT NULL DEFAULT '',
	crawl_session   TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_stores_phone ON stores(phone);
CREATE INDEX IF NOT EXISTS idx_stores_search ON stores(search_keyword, search_location);
CREATE INDEX IF NOT EXISTS idx_stores_crawl_session ON stores(crawl_session);
`

const sqliteUpsertStore = `INSERT INTO stores (id, external_id, name, rating, link, phone, address, website, plus_code, search_keyword, search_location, crawl_session, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	rating = excluded.rating,
	link = excluded.link,
	phone = excluded.phone,
	address = excluded.address,
	website = excluded.website,
	plus_code = excluded.plus_code,
	updated_at = excluded.updated_at`

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteBackend, error) {
	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteBackend{dsn: dsn, db: db}, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return db, nil
}

// Ping checks the database handle is open.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Reconnect reopens the database file.
func (b *SQLiteBackend) Reconnect(_ context.Context) error {
	db, err := openSQLite(b.dsn)
	if err != nil {
		return eris.Wrap(err, "sqlite: reconnect")
	}
	b.db.Close() //nolint:errcheck
	b.db = db
	return nil
}

// Migrate creates the stores table and its indexes.
func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Begin starts a transaction.
func (b *SQLiteBackend) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	return &sqliteTx{tx: tx}, nil
}

// Count returns the number of stored records.
func (b *SQLiteBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count stores")
	}
	return n, nil
}

// List returns stored records matching filter, newest first.
func (b *SQLiteBackend) List(ctx context.Context, filter ListFilter) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if filter.Keyword != "" {
		where = append(where, "search_keyword LIKE '%' || ? || '%'")
		args = append(args, filter.Keyword)
	}
	if filter.Location != "" {
		where = append(where, "search_location LIKE '%' || ? || '%'")
		args = append(args, filter.Location)
	}

	q := selectStores
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stores")
	}
	defer rows.Close() //nolint:errcheck

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan store")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate stores")
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) PhoneExists(ctx context.Context, phone string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM stores WHERE phone = ?`, phone).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: phone exists")
	}
	return n > 0, nil
}

func (t *sqliteTx) Upsert(ctx context.Context, id string, rec model.StoreRecord, phone string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, sqliteUpsertStore, upsertArgs(id, rec, phone, at)...)
	return eris.Wrap(err, "sqlite: upsert store")
}

func (t *sqliteTx) Commit(_ context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}
