/*
Package sqlstore provides the database/sql implementation of loyalty.Store.

PURPOSE:
  Persists vouchers, wallets, ledger entries, rewards, redemption requests
  and notifications. The same queries run on SQLite (default, tests) and
  PostgreSQL (production); the dialect is detected from the DSN.

DIALECTS:
  SQLite:
    - Driver mattn/go-sqlite3
    - Transactions start with BEGIN IMMEDIATE (_txlock=immediate), which
      takes the write lock up front. Lock* reads are plain SELECTs.
    - ":memory:" databases are pinned to one connection; every connection
      would otherwise see its own empty database.
  PostgreSQL:
    - Driver jackc/pgx/v5/stdlib
    - Lock* reads append FOR UPDATE
    - Placeholders are rewritten from ? to $n

KEY TABLES:
  batches, vouchers             Issued codes
  wallets, ledger_entries       Materialized balance + append-only history
  rewards, redemption_requests  Catalog stock and claims
  notifications                 Alerts

TIMES:
  Stored as fixed-width UTC text so that lexical order is time order on
  both dialects.

MIGRATION:
  Embedded goose migrations run on New(). See migrate.go.

USAGE:
  store, err := sqlstore.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := loyalty.NewEngine(store, loyalty.Options{})
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/points-engine/loyalty"
)

// =============================================================================
// DIALECT
// =============================================================================

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func detectDialect(dsn string) dialect {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") {
		return dialectPostgres
	}
	return dialectSQLite
}

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate is appended to locking reads.
func (d dialect) forUpdate(of string) string {
	if d != dialectPostgres {
		return ""
	}
	if of == "" {
		return " FOR UPDATE"
	}
	return " FOR UPDATE OF " + of
}

// =============================================================================
// STORE
// =============================================================================

// Store implements loyalty.Store.
type Store struct {
	reader
	db  *sql.DB
	log *zap.Logger
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New opens the database at dsn and applies pending migrations.
// Use ":memory:" for a private in-memory SQLite database.
func New(dsn string, opts ...Option) (*Store, error) {
	d := detectDialect(dsn)

	driver, source := "sqlite3", sqliteDSN(dsn)
	if d == dialectPostgres {
		driver, source = "pgx", dsn
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d == dialectSQLite && isMemory(dsn) {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else if d == dialectPostgres {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	s := &Store{
		reader: reader{q: db, d: d},
		db:     db,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(db, d, s.log); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.log.Info("database ready", zap.String("dialect", d.String()))
	return s, nil
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func sqliteDSN(dsn string) string {
	params := "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect names the backing database, "sqlite3" or "postgres".
func (s *Store) Dialect() string {
	return s.d.String()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(loyalty.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapErr(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{reader: reader{q: sqlTx, d: s.d}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapErr(err))
	}
	return nil
}

// txStore implements loyalty.Tx on top of one *sql.Tx.
type txStore struct {
	reader
}

// =============================================================================
// QUERY PLUMBING
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// reader implements loyalty.Reader against either the pool or a tx.
type reader struct {
	q querier
	d dialect
}

func (r *reader) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := r.q.ExecContext(ctx, r.d.rebind(query), args...)
	return res, mapErr(err)
}

func (r *reader) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	return rows, mapErr(err)
}

func (r *reader) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.d.rebind(query), args...)
}

// execChanged runs a conditional update and reports whether a row matched.
func (r *reader) execChanged(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var (
	_ loyalty.Store = (*Store)(nil)
	_ loyalty.Tx    = (*txStore)(nil)
)
