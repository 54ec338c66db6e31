package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/fda/internal/config"
	"github.com/zulandar/fda/internal/fault"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteDSN builds the DSN for a shared SQLite state file. WAL lets readers
// proceed while a writer holds the lock; _txlock=immediate makes every
// transaction take the write lock up front so concurrent writers queue on
// busy_timeout instead of failing mid-transaction.
func SQLiteDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate&_synchronous=NORMAL",
		path, busyTimeout.Milliseconds())
}

// Open opens the state database described by cfg.
func Open(cfg config.StateConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.Path, cfg.BusyTimeout)
	case "mysql":
		return OpenMySQL(cfg.DSN)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", cfg.Driver)
	}
}

// OpenSQLite opens (creating if needed) the SQLite state file at path.
func OpenSQLite(path string, busyTimeout time.Duration) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: sqlite path is required")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("db: create dir for %s: %w", path, err)
	}
	db, err := gorm.Open(sqlite.Open(SQLiteDSN(path, busyTimeout)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	return db, nil
}

// OpenMySQL opens a MySQL-compatible state database. parseTime is forced on
// so timestamps scan into time.Time.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	parsed, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("db: parse dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	db, err := gorm.Open(mysql.Open(parsed.FormatDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s/%s: %w", parsed.Addr, parsed.DBName, err)
	}
	return db, nil
}

// Classify wraps lock-contention errors from either backend with
// fault.ErrBusy and returns other errors unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == 1205 || myErr.Number == 1213) {
		return fmt.Errorf("%w: %v", fault.ErrBusy, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", fault.ErrBusy, err)
	}
	return err
}
