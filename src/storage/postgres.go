package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"stock-datahub/src/helpers"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"

	_ "github.com/lib/pq"
)

var schemaName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	*sqlStore
	Config *models.MConfig
	Schema string
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	schema := cfg.Storage.Schema
	if !schemaName.MatchString(schema) {
		return nil, helpers.NewConfigurationError(fmt.Sprintf("invalid postgres schema name %q", schema), nil)
	}

	return &PostgresDB{
		sqlStore: &sqlStore{
			Logger:  log,
			dialect: dialect{name: "postgres", floatType: "DOUBLE PRECISION", schema: schema, dollarArgs: true},
			now:     time.Now,
		},
		Config: cfg,
		Schema: schema,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize(ctx context.Context) error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return helpers.NewCacheError("open", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return helpers.NewCacheError("open", err)
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return helpers.NewCacheError(fmt.Sprintf("create schema %s", d.Schema), err)
	}

	if err := d.createTables(ctx); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}
