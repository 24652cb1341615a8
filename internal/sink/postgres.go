package sink

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listings-crawler/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresBackend. pgxmock
// satisfies it in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PostgresBackend implements Backend using pgxpool.
type PostgresBackend struct {
	pool Pool
	dial func(ctx context.Context) (Pool, error)
}

const (
	pgPhoneExists = `SELECT EXISTS(SELECT 1 FROM stores WHERE phone = $1)`
	pgUpsertStore = `INSERT INTO stores (id, external_id, name, rating, link, phone, address, website, plus_code, search_keyword, search_location, crawl_session, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	rating = EXCLUDED.rating,
	link = EXCLUDED.link,
	phone = EXCLUDED.phone,
	address = EXCLUDED.address,
	website = EXCLUDED.website,
	plus_code = EXCLUDED.plus_code,
	updated_at = EXCLUDED.updated_at`
	pgCountStores = `SELECT COUNT(*) FROM stores`
)

const postgresMigration = `
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
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_stores_phone ON stores(phone);
CREATE INDEX IF NOT EXISTS idx_stores_search ON stores(search_keyword, search_location);
CREATE INDEX IF NOT EXISTS idx_stores_crawl_session ON stores(crawl_session);
`

// NewPostgres creates a PostgresBackend with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresBackend, error) {
	dial := func(ctx context.Context) (Pool, error) {
		return openPool(ctx, connString, poolCfg)
	}
	pool, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresBackend{pool: pool, dial: dial}, nil
}

func openPool(ctx context.Context, connString string, poolCfg *PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

// Ping checks the pool can reach the server.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Reconnect closes the current pool and dials a new one.
func (b *PostgresBackend) Reconnect(ctx context.Context) error {
	if b.dial == nil {
		return eris.New("postgres: reconnect not supported")
	}
	pool, err := b.dial(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: reconnect")
	}
	b.pool.Close()
	b.pool = pool
	return nil
}

// Migrate creates the stores table and its indexes.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Begin starts a transaction.
func (b *PostgresBackend) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	return &pgTx{tx: tx}, nil
}

// Count returns the number of stored records.
func (b *PostgresBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := b.pool.QueryRow(ctx, pgCountStores).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count stores")
	}
	return n, nil
}

// List returns stored records matching filter, newest first.
func (b *PostgresBackend) List(ctx context.Context, filter ListFilter) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if filter.Keyword != "" {
		args = append(args, filter.Keyword)
		where = append(where, "search_keyword ILIKE '%' || $"+strconv.Itoa(len(args))+" || '%'")
	}
	if filter.Location != "" {
		args = append(args, filter.Location)
		where = append(where, "search_location ILIKE '%' || $"+strconv.Itoa(len(args))+" || '%'")
	}
	args = append(args, filter.limit())

	var sb strings.Builder
	sb.WriteString(selectStores)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args)))

	rows, err := b.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stores")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan store")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate stores")
}

// Close closes the pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) PhoneExists(ctx context.Context, phone string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, pgPhoneExists, phone).Scan(&exists); err != nil {
		return false, eris.Wrap(err, "postgres: phone exists")
	}
	return exists, nil
}

func (t *pgTx) Upsert(ctx context.Context, id string, rec model.StoreRecord, phone string, at time.Time) error {
	_, err := t.tx.Exec(ctx, pgUpsertStore, upsertArgs(id, rec, phone, at)...)
	return eris.Wrap(err, "postgres: upsert store")
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// selectStores lists columns in the order scanRow expects.
const selectStores = `SELECT id, external_id, name, rating, link, phone, address, website, plus_code, search_keyword, search_location, crawl_session, created_at FROM stores`

type scannable interface {
	Scan(dest ...any) error
}

func scanRow(row scannable) (Row, error) {
	var (
		r                                 Row
		phone, address, website, plusCode *string
	)
	err := row.Scan(&r.ID, &r.ExternalID, &r.Name, &r.Rating, &r.Link,
		&phone, &address, &website, &plusCode,
		&r.SearchKeyword, &r.SearchLocation, &r.CrawlSession, &r.CreatedAt)
	if err != nil {
		return Row{}, err
	}
	r.Phone = fieldFromNull(phone)
	r.Address = fieldFromNull(address)
	r.Website = fieldFromNull(website)
	r.PlusCode = fieldFromNull(plusCode)
	return r, nil
}

// upsertArgs returns the 14 column values shared by both backends.
func upsertArgs(id string, rec model.StoreRecord, phone string, at time.Time) []any {
	at = at.UTC()
	return []any{
		id, rec.ExternalID, rec.Name, rec.Rating, rec.Link,
		phone, rec.Address.Nullable(), rec.Website.Nullable(), rec.PlusCode.Nullable(),
		rec.SearchKeyword, rec.SearchLocation, rec.CrawlSession,
		at, at,
	}
}
