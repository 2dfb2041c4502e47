// Package db opens the staging store and manages its schema.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/config"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteBusyTimeout lets concurrent invocations wait on each other's write
// transactions instead of failing with SQLITE_BUSY.
const sqliteBusyTimeout = 5 * time.Second

// DSN builds a MySQL DSN for the staging database.
func DSN(cfg config.DBConfig) string {
	mc := mysqldriver.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	return mc.FormatDSN()
}

// SQLiteDSN appends busy-timeout and WAL options to a SQLite path.
func SQLiteDSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL", path, sqliteBusyTimeout.Milliseconds())
}

// Connect opens a GORM connection for the configured driver.
func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(DSN(cfg))
	case "sqlite", "":
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("db: create dir for %s: %w", cfg.Path, err)
			}
		}
		dialector = sqlite.Open(SQLiteDSN(cfg.Path))
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", cfg.Driver, err)
	}
	if cfg.Path == ":memory:" {
		// Every new connection to :memory: is a fresh empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: connect: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
