// Package store persists organizations, users, data sources and queries.
//
// The schema is owned by pkg/migrations; Open migrates before handing the
// connection to gorm, so models here never auto-migrate.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"querydash/pkg/migrations"

	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteDriver is go-sqlite3 with LOWER replaced by a Unicode-aware
// version; the built-in one folds ASCII only
const sqliteDriver = "sqlite3_querydash"

func init() {
	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("lower", unicodeLower, true)
		},
	})
}

func unicodeLower(v any) any {
	switch s := v.(type) {
	case string:
		return strings.ToLower(s)
	case []byte:
		return strings.ToLower(string(s))
	}
	return v
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Store wraps the gorm handle for every data access operation
type Store struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	dialect string
}

// Open connects to the database at url, applies pending migrations and
// returns a ready Store. Postgres URLs use lib/pq; anything else is treated
// as a SQLite file path.
func Open(ctx context.Context, url, dialect string) (*Store, error) {
	var (
		sqlDB *sql.DB
		err   error
	)
	switch dialect {
	case "postgres":
		sqlDB, err = sql.Open("postgres", url)
	case "sqlite3":
		sqlDB, err = sql.Open(sqliteDriver, sqliteDSN(url))
		if err == nil && strings.Contains(url, ":memory:") {
			// each connection would otherwise get its own empty database
			sqlDB.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	m, err := migrations.New(sqlDB, dialect)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := m.Up(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	var dialector gorm.Dialector
	if dialect == "postgres" {
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	} else {
		dialector = sqlite.New(sqlite.Config{Conn: sqlDB})
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	return &Store{db: db, sqlDB: sqlDB, dialect: dialect}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Dialect returns "postgres" or "sqlite3"
func (s *Store) Dialect() string {
	return s.dialect
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=1&_busy_timeout=5000"
}

// GenerateAPIKey returns a random 40 character key
func GenerateAPIKey() string {
	b := make([]byte, 20)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// notFound maps gorm's missing-record error onto ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
