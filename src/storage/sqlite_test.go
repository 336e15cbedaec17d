package storage

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"stock-datahub/src/logger"
	"stock-datahub/src/models"
	"stock-datahub/src/utils"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *AsyncSQLiteDB {
	t.Helper()

	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "cache", "stock_data.db")}}
	log := logger.NewLogger(nil, "storage-test")
	log.SetOutput(io.Discard)

	db, err := NewAsyncSQLiteDB(cfg, log)
	require.NoError(t, err)
	require.NoError(t, db.Initialize(t.Context()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func bar(symbol string, day time.Time, close float64) models.MDailyPrice {
	return models.MDailyPrice{Symbol: symbol, TradeDate: day, Open: close - 1, High: close + 1, Low: close - 2, Close: close, Volume: 1000, Amount: close * 1000}
}

func TestUpsertPricesIsIdempotent(t *testing.T) {
	t.Parallel()

	// Arrange
	db := newTestDB(t)
	rows := []models.MDailyPrice{
		bar("600519.SH", utils.DayUTC(2024, 1, 3), 1700),
		bar("600519.SH", utils.DayUTC(2024, 1, 2), 1690),
	}

	// Act: the same rows twice, then a correction
	n, err := db.UpsertPrices(t.Context(), "600519.SH", rows)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, err = db.UpsertPrices(t.Context(), "600519.SH", rows)
	require.NoError(t, err)
	_, err = db.UpsertPrices(t.Context(), "600519.SH", []models.MDailyPrice{bar("600519.SH", utils.DayUTC(2024, 1, 3), 1710)})
	require.NoError(t, err)

	// Assert: one row per day, ascending, last write wins
	got, err := db.QueryPrices(t.Context(), "600519.SH", models.MDateRange{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2024-01-02", got[0].DateKey())
	require.Equal(t, "2024-01-03", got[1].DateKey())
	require.InDelta(t, 1710.0, got[1].Close, 1e-9)
}

func TestQueryPricesRangeAndEmpty(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	_, err := db.UpsertPrices(t.Context(), "300750.SZ", []models.MDailyPrice{
		bar("300750.SZ", utils.DayUTC(2024, 1, 2), 160),
		bar("300750.SZ", utils.DayUTC(2024, 1, 3), 161),
		bar("300750.SZ", utils.DayUTC(2024, 1, 4), 162),
	})
	require.NoError(t, err)

	got, err := db.QueryPrices(t.Context(), "300750.SZ", models.NewDateRange(utils.DayUTC(2024, 1, 3), utils.DayUTC(2024, 1, 3)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "300750.SZ", got[0].Symbol)

	n, err := db.CountPrices(t.Context(), "300750.SZ", models.NewDateRange(utils.DayUTC(2024, 1, 3), utils.DayUTC(2024, 1, 10)))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// An unknown symbol yields an empty, non-nil slice
	none, err := db.QueryPrices(t.Context(), "000001.SZ", models.MDateRange{})
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestUpsertNewsDeduplicatesOnTitleAndTime(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	at := time.Date(2024, 1, 18, 9, 30, 0, 0, utils.ChinaLocation)
	items := []models.MNews{
		{Symbol: "600519.SH", PublishedAt: at, Title: "年报预告", Content: "v1", Origin: "证券时报"},
		{Symbol: "600519.SH", PublishedAt: at.Add(time.Hour), Title: "机构调研", Content: "", Origin: "东方财富"},
	}

	_, err := db.UpsertNews(t.Context(), "600519.SH", items)
	require.NoError(t, err)
	items[0].Content = "v2"
	_, err = db.UpsertNews(t.Context(), "600519.SH", items)
	require.NoError(t, err)

	got, err := db.QueryNews(t.Context(), "600519.SH", models.NewDateRange(utils.DayUTC(2024, 1, 18), utils.DayUTC(2024, 1, 18)))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "v2", got[0].Content)
	require.True(t, got[0].PublishedAt.Equal(at))

	latest, ok, err := db.LatestDate(t.Context(), "600519.SH", models.KindNews)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2024-01-18", latest.Format(models.DateLayout))
}

func TestInfoAndIndicatorSnapshots(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	// Absent snapshots are nil without error
	info, err := db.QueryInfo(t.Context(), "300750.SZ")
	require.NoError(t, err)
	require.Nil(t, info)
	ind, err := db.QueryIndicator(t.Context(), "300750.SZ")
	require.NoError(t, err)
	require.Nil(t, ind)

	// A second upsert replaces the first
	require.NoError(t, db.UpsertInfo(t.Context(), "300750.SZ", models.MStockInfo{DisplayName: "宁德时代", Industry: "电池"}))
	require.NoError(t, db.UpsertInfo(t.Context(), "300750.SZ", models.MStockInfo{DisplayName: "宁德时代", Industry: "电气设备", ListingDate: "2018-06-11"}))
	require.NoError(t, db.UpsertIndicator(t.Context(), "300750.SZ", models.MFinancialIndicator{ReturnOnEquity: models.Float64Ptr(18.2), ReportDate: "2023-09-30"}))

	info, err = db.QueryInfo(t.Context(), "300750.SZ")
	require.NoError(t, err)
	require.Equal(t, "电气设备", info.Industry)
	require.Equal(t, "2018-06-11", info.ListingDate)

	ind, err = db.QueryIndicator(t.Context(), "300750.SZ")
	require.NoError(t, err)
	require.InDelta(t, 18.2, *ind.ReturnOnEquity, 1e-9)
	require.Nil(t, ind.GrossMargin)
}

func TestLatestDateAndStats(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	_, ok, err := db.LatestDate(t.Context(), "600519.SH", models.KindPrices)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = db.UpsertPrices(t.Context(), "600519.SH", []models.MDailyPrice{
		bar("600519.SH", utils.DayUTC(2024, 1, 2), 1690),
		bar("600519.SH", utils.DayUTC(2024, 1, 5), 1700),
	})
	require.NoError(t, err)
	require.NoError(t, db.UpsertInfo(t.Context(), "300750.SZ", models.MStockInfo{DisplayName: "宁德时代"}))

	latest, ok, err := db.LatestDate(t.Context(), "600519.SH", models.KindPrices)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, utils.DayUTC(2024, 1, 5), latest)

	stats, err := db.Stats(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalStocks)
	require.Equal(t, []string{"300750.SZ", "600519.SH"}, stats.Symbols)
	require.Equal(t, 2, stats.Coverage["600519.SH"].PriceRows)
	require.Equal(t, "2024-01-05", stats.Coverage["600519.SH"].LastTrade)
	require.True(t, stats.Coverage["300750.SZ"].HasInfo)
	require.False(t, stats.Coverage["300750.SZ"].HasPrices)
}

func TestRebindForPostgres(t *testing.T) {
	t.Parallel()

	dl := dialect{schema: "stock_datahub", dollarArgs: true}
	require.Equal(t, "SELECT * FROM x WHERE a = $1 AND b <= $2", dl.rebind("SELECT * FROM x WHERE a = ? AND b <= ?"))
	require.Equal(t, `"stock_datahub"."stock_prices"`, dl.table(tablePrices))
}

func TestNewPostgresDBRejectsBadSchema(t *testing.T) {
	t.Parallel()

	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "postgres", Schema: `x"; DROP`}}
	_, err := NewPostgresDB(cfg, logger.NewLogger(nil, "test"))
	require.Error(t, err)
}
