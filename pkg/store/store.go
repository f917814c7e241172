// Package store persists normalized events, execution history and lineage in SQL.
//
// SQLite (modernc.org/sqlite, no cgo) is the default backend; PostgreSQL (lib/pq) is
// supported for shared deployments. Both speak the same schema, managed by embedded
// golang-migrate migrations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned by Open for drivers other than sqlite and postgres.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// timeLayout is fixed width so stored timestamps order lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Config selects and tunes the backend.
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN string
	// MaxOpenConns applies to postgres; sqlite always uses a single connection.
	MaxOpenConns int
	// BusyTimeout is how long sqlite waits on a locked database.
	BusyTimeout time.Duration
}

// Store is the persistence layer. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
	dsn    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open connects to the configured backend. It does not touch the schema; call Migrate.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	switch cfg.Driver {
	case "", DriverSQLite:
		if cfg.DSN == "" || cfg.DSN == ":memory:" {
			return nil, fmt.Errorf("sqlite store needs a file path, got %q", cfg.DSN)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		s.driver = DriverSQLite
		s.dsn = sqliteDSN(cfg.DSN, cfg.BusyTimeout)
	case DriverPostgres:
		s.driver = DriverPostgres
		s.dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", s.driver, err)
	}

	if s.driver == DriverSQLite {
		// One writer; transactions serialize on the connection.
		db.SetMaxOpenConns(1)
	} else {
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database %s: %w", s.driver, MaskDSN(cfg.DSN), err)
	}

	s.db = db
	s.logger.Debug("Database opened", "driver", s.driver, "dsn", MaskDSN(cfg.DSN))
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports the backend in use.
func (s *Store) Driver() string { return s.driver }

func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	return path + "?" + q.Encode()
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
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

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// MaskDSN hides the password of a connection URL for logging. File paths pass through.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
