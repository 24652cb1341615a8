package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresBackend creates a PostgresBackend backed by pgxmock for unit testing.
func newMockPostgresBackend(t *testing.T) (*PostgresBackend, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresBackend{pool: mock}, mock
}

func anyUpsertArgs() []any {
	args := make([]any, 14)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresBackend_InsertNewPhone(t *testing.T) {
	b, mock := newMockPostgresBackend(t)
	s := New(b, time.Second)

	mock.ExpectPing()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM stores WHERE phone = \$1\)`).
		WithArgs("024 3825 1234").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO stores .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(anyUpsertArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	out := s.Insert(context.Background(), record("abc", "024 3825 1234"))
	assert.Equal(t, Inserted, out.Kind)
	assert.Regexp(t, `^abc_\d+_[0-9a-f]{8}$`, out.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_DuplicatePhoneRollsBack(t *testing.T) {
	b, mock := newMockPostgresBackend(t)
	s := New(b, time.Second)

	mock.ExpectPing()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("555-0100").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	out := s.Insert(context.Background(), record("abc", "555-0100"))
	assert.Equal(t, SkippedDuplicate, out.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_UpsertErrorRollsBack(t *testing.T) {
	b, mock := newMockPostgresBackend(t)
	s := New(b, time.Second)

	mock.ExpectPing()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("555-0100").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO stores`).
		WithArgs(anyUpsertArgs()...).
		WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	out := s.Insert(context.Background(), record("abc", "555-0100"))
	assert.Equal(t, Failed, out.Kind)
	assert.Contains(t, out.Reason, "value too long")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_BeginError(t *testing.T) {
	b, mock := newMockPostgresBackend(t)
	s := New(b, time.Second)

	mock.ExpectPing()
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	out := s.Insert(context.Background(), record("abc", "555-0100"))
	assert.Equal(t, Failed, out.Kind)
	assert.Contains(t, out.Reason, "begin")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_ReconnectAfterFailedPing(t *testing.T) {
	stale, err := pgxmock.NewPool()
	require.NoError(t, err)
	fresh, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { fresh.Close() })

	dials := 0
	b := &PostgresBackend{
		pool: stale,
		dial: func(context.Context) (Pool, error) {
			dials++
			return fresh, nil
		},
	}
	s := New(b, time.Second)

	stale.ExpectPing().WillReturnError(errors.New("conn closed"))
	stale.ExpectClose()
	fresh.ExpectBegin()
	fresh.ExpectQuery(`SELECT EXISTS`).
		WithArgs("555-0100").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	fresh.ExpectExec(`INSERT INTO stores`).
		WithArgs(anyUpsertArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	fresh.ExpectCommit()

	out := s.Insert(context.Background(), record("abc", "555-0100"))
	assert.Equal(t, Inserted, out.Kind)
	assert.Equal(t, 1, dials)
	assert.NoError(t, stale.ExpectationsWereMet())
	assert.NoError(t, fresh.ExpectationsWereMet())
}

func TestPostgresBackend_ReconnectDialFails(t *testing.T) {
	stale, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { stale.Close() })

	b := &PostgresBackend{
		pool: stale,
		dial: func(context.Context) (Pool, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	s := New(b, time.Second)

	stale.ExpectPing().WillReturnError(errors.New("conn closed"))

	out := s.Insert(context.Background(), record("abc", "555-0100"))
	assert.Equal(t, Failed, out.Kind)
	assert.Contains(t, out.Reason, "reconnect")
	assert.NoError(t, stale.ExpectationsWereMet())
}

func TestPostgresBackend_ReconnectUnsupported(t *testing.T) {
	b, _ := newMockPostgresBackend(t)
	err := b.Reconnect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect not supported")
}

func TestPostgresBackend_Migrate(t *testing.T) {
	b, mock := newMockPostgresBackend(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS stores`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, b.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_Count(t *testing.T) {
	b, mock := newMockPostgresBackend(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stores`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := b.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_ListWithFilter(t *testing.T) {
	b, mock := newMockPostgresBackend(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	phone := "555-0100"
	website := "https://cafe.example.com"

	cols := []string{"id", "external_id", "name", "rating", "link", "phone", "address", "website", "plus_code",
		"search_keyword", "search_location", "crawl_session", "created_at"}
	mock.ExpectQuery(`FROM stores WHERE search_keyword ILIKE '%' \|\| \$1 \|\| '%' AND search_location ILIKE '%' \|\| \$2 \|\| '%' ORDER BY created_at DESC, id DESC LIMIT \$3`).
		WithArgs("cafe", "Hanoi", 10).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("abc_1_deadbeef", "abc", "Cafe A", "4.5", "https://maps.example.com/place/abc",
				&phone, (*string)(nil), &website, (*string)(nil),
				"cafe", "Hanoi", "batch_x", created))

	rows, err := b.List(context.Background(), ListFilter{Keyword: "cafe", Location: "Hanoi", Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Cafe A", rows[0].Name)
	assert.Equal(t, "555-0100", rows[0].Phone.Value)
	assert.False(t, rows[0].Address.OK())
	assert.Equal(t, website, rows[0].Website.Display())
	assert.Equal(t, created, rows[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_ListNoFilter(t *testing.T) {
	b, mock := newMockPostgresBackend(t)

	mock.ExpectQuery(`FROM stores ORDER BY created_at DESC, id DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	rows, err := b.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
