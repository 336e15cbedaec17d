package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stock-datahub/src/helpers"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"

	_ "modernc.org/sqlite"
)

// busyTimeoutMillis lets a second process (the updater next to the API
// service) wait for the writer instead of failing with SQLITE_BUSY.
const busyTimeoutMillis = 5000

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	*sqlStore
	Config *models.MConfig
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	if cfg.Storage.DBPath == "" {
		return nil, helpers.NewConfigurationError("sqlite database path is empty", nil)
	}
	return &AsyncSQLiteDB{
		sqlStore: &sqlStore{
			Logger:  log,
			dialect: dialect{name: "sqlite", floatType: "REAL"},
			now:     time.Now,
		},
		Config: cfg,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize(ctx context.Context) error {
	dsn := d.Config.Storage.DBPath

	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return helpers.NewConfigurationError(fmt.Sprintf("cannot create database directory for %s", dsn), err)
		}
	}

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return helpers.NewCacheError("open", err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return helpers.NewCacheError("open", err)
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMillis)); err != nil {
		d.Logger.Warning("Failed to set busy timeout: %v", err)
	}

	if err := d.createTables(ctx); err != nil {
		return err
	}

	d.Logger.Info("SQLite cache ready at %s", dsn)
	return nil
}
