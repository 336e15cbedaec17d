package interfaces

import (
	"context"
	"time"

	"stock-datahub/src/models"
)

// -----------------------------------------------------------------------------
// IDatabase defines the contract of the cache store. Upserts are idempotent on
// each table's natural key and durable when they return.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// -----------------------------------------------------------------------------

	// Initialize opens the store and creates missing tables and indexes.
	Initialize(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// UpsertPrices writes daily bars keyed by (symbol, trade_date) and returns the row count written.
	UpsertPrices(ctx context.Context, symbol string, rows []models.MDailyPrice) (int, error)

	// UpsertNews writes news keyed by (symbol, published_at, title).
	UpsertNews(ctx context.Context, symbol string, rows []models.MNews) (int, error)

	// UpsertInfo replaces the profile snapshot of a symbol.
	UpsertInfo(ctx context.Context, symbol string, row models.MStockInfo) error

	// UpsertIndicator replaces the indicator snapshot of a symbol.
	UpsertIndicator(ctx context.Context, symbol string, row models.MFinancialIndicator) error

	// -----------------------------------------------------------------------------

	// QueryPrices returns bars in the range, date ascending. Never nil on success.
	QueryPrices(ctx context.Context, symbol string, r models.MDateRange) ([]models.MDailyPrice, error)

	// QueryNews returns news published in the range, date ascending. Never nil on success.
	QueryNews(ctx context.Context, symbol string, r models.MDateRange) ([]models.MNews, error)

	// QueryInfo returns nil, nil when no snapshot is cached.
	QueryInfo(ctx context.Context, symbol string) (*models.MStockInfo, error)

	// QueryIndicator returns nil, nil when no snapshot is cached.
	QueryIndicator(ctx context.Context, symbol string) (*models.MFinancialIndicator, error)

	// CountPrices returns how many bars are cached in the range.
	CountPrices(ctx context.Context, symbol string, r models.MDateRange) (int, error)

	// -----------------------------------------------------------------------------

	// LatestDate returns the newest cached date of a dated kind; ok is false when nothing is cached.
	LatestDate(ctx context.Context, symbol string, kind models.DataKind) (latest time.Time, ok bool, err error)

	// Stats summarizes cache coverage for every known symbol.
	Stats(ctx context.Context) (models.MCacheStats, error)

	// -----------------------------------------------------------------------------

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close the database connection
	Close() error
}
