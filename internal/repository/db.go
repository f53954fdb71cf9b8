package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DefaultBusyTimeout  = 10 * time.Second
	DefaultMessageLimit = 1000
	DefaultDialTimeout  = 10 * time.Second

	busyRetries = 3
	busyBackoff = 100 * time.Millisecond
)

type Config struct {
	// DSN is a SQLite file path, ":memory:", or a postgres:// URL.
	DSN             string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	MessageLimit    int
	DisableFullText bool
	DialTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = DefaultMessageLimit
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

// IsPostgresDSN reports whether dsn selects the Postgres backend.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Store is an open record store. Writes go through one writer lock.
type Store struct {
	drv     *entsql.Driver
	dialect string
	pool    *pgxpool.Pool
	cfg     Config
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Open connects to the store named by cfg.DSN and applies pending migrations.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("open store: empty dsn")
	}

	s := &Store{cfg: cfg, logger: logger}
	var err error
	if IsPostgresDSN(cfg.DSN) {
		err = s.openPostgres(ctx)
	} else {
		err = s.openSQLite()
	}
	if err != nil {
		logger.Error("failed to open store", "dsn", redactDSN(cfg.DSN), "error", err)
		return nil, err
	}

	if err := s.migrate(ctx); err != nil {
		s.Close()
		logger.Error("failed to migrate store", "dsn", redactDSN(cfg.DSN), "error", err)
		return nil, err
	}
	logger.Info("store opened", "dialect", s.dialect, "dsn", redactDSN(cfg.DSN))
	return s, nil
}

func (s *Store) openSQLite() error {
	path := s.cfg.DSN
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, s.cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	switch {
	case memory:
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	case s.cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("open sqlite: %w", err)
	}

	s.dialect = dialect.SQLite
	s.drv = entsql.OpenDB(dialect.SQLite, db)
	return nil
}

func (s *Store) openPostgres(ctx context.Context) error {
	pc, err := pgxpool.ParseConfig(s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	if s.cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(s.cfg.MaxOpenConns)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "weldingest"

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("connect postgres: %w", err)
	}

	s.pool = pool
	s.dialect = dialect.Postgres
	s.drv = entsql.OpenDB(dialect.Postgres, stdlib.OpenDBFromPool(pool))
	return nil
}

// Dialect returns the ent dialect name of the open store.
func (s *Store) Dialect() string {
	return s.dialect
}

// FullTextEnabled reports whether Search tries the full-text index first.
func (s *Store) FullTextEnabled() bool {
	return !s.cfg.DisableFullText
}

// Close closes the database connections gracefully
func (s *Store) Close() {
	if s == nil {
		return
	}
	if s.drv != nil {
		if err := s.drv.Close(); err != nil {
			s.logger.Error("failed to close store driver", "error", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	s.logger.Debug("store closed")
}

// HealthCheck pings the underlying database.
func (s *Store) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.drv.DB().PingContext(ctx); err != nil {
		s.logger.Warn("store ping failed", "error", err)
		return err
	}
	return nil
}

// withWriteTx runs fn in a transaction under the writer lock, retrying the
// whole transaction while SQLite reports the database busy.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	for attempt := 1; attempt <= busyRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isBusy(err) || attempt == busyRetries {
			break
		}
		s.logger.Warn("store busy, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * busyBackoff):
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.logger.Warn("rollback failed", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}

// redactDSN drops credentials from Postgres URLs before logging.
func redactDSN(dsn string) string {
	if !IsPostgresDSN(dsn) {
		return dsn
	}
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
