package interfaces

import (
	"context"

	"stock-datahub/src/models"
)

//go:generate mockgen -destination=../mocks/mock_data_source.go -package=mocks stock-datahub/src/interfaces IDataSource

// -----------------------------------------------------------------------------
// IDataSource is the provider adapter contract. Implementations return a
// non-empty, date-ascending, normalized collection or a *helpers.ProviderError.
// -----------------------------------------------------------------------------

type IDataSource interface {

	// Name returns the unique identifier of the source
	Name() string

	// -----------------------------------------------------------------------------

	// FetchDailyPrices retrieves daily bars for the inclusive range.
	FetchDailyPrices(ctx context.Context, symbol string, r models.MDateRange) ([]models.MDailyPrice, error)

	// -----------------------------------------------------------------------------

	// FetchNews retrieves news published in the range.
	FetchNews(ctx context.Context, symbol string, r models.MDateRange) ([]models.MNews, error)

	// -----------------------------------------------------------------------------

	// FetchStockInfo retrieves the current company profile.
	FetchStockInfo(ctx context.Context, symbol string) (*models.MStockInfo, error)

	// -----------------------------------------------------------------------------

	// FetchFinancialIndicator retrieves the latest reported indicators.
	FetchFinancialIndicator(ctx context.Context, symbol string) (*models.MFinancialIndicator, error)
}
