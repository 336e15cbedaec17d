package datasource

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stock-datahub/src/helpers"
	"stock-datahub/src/interfaces"
	"stock-datahub/src/logger"
	"stock-datahub/src/mocks"
	"stock-datahub/src/models"
	"stock-datahub/src/storage"
	"stock-datahub/src/utils"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"
)

// Tuesday evening in Shanghai, after the close.
var testNow = time.Date(2024, 1, 16, 20, 0, 0, 0, utils.ChinaLocation)

func weekdayCalendar(string) *utils.TradingCalendar {
	return &utils.TradingCalendar{Fallback: true, Timezone: utils.ChinaLocation}
}

type fixture struct {
	db        *storage.AsyncSQLiteDB
	primary   *mocks.MockIDataSource
	secondary *mocks.MockIDataSource
	source    *UnifiedDataSource
}

func newFixture(t *testing.T, withPrimary, withSecondary bool) *fixture {
	t.Helper()

	log := logger.NewLogger(nil, "unified-test")
	log.SetOutput(io.Discard)

	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "stock_data.db")}}
	db, err := storage.NewAsyncSQLiteDB(cfg, log)
	require.NoError(t, err)
	require.NoError(t, db.Initialize(t.Context()))
	t.Cleanup(func() { _ = db.Close() })

	ctrl := gomock.NewController(t)
	f := &fixture{db: db}

	var primary, secondary interfaces.IDataSource
	if withPrimary {
		f.primary = mocks.NewMockIDataSource(ctrl)
		f.primary.EXPECT().Name().Return("tushare").AnyTimes()
		primary = f.primary
	}
	if withSecondary {
		f.secondary = mocks.NewMockIDataSource(ctrl)
		f.secondary.EXPECT().Name().Return("eastmoney").AnyTimes()
		secondary = f.secondary
	}

	f.source = NewUnifiedDataSource(cfg, db, primary, secondary, log).
		WithClock(func() time.Time { return testNow }).
		WithCalendar(weekdayCalendar)
	return f
}

// weekdayBars builds one bar per weekday in [start, end].
func weekdayBars(symbol string, start, end time.Time) []models.MDailyPrice {
	var bars []models.MDailyPrice
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		bars = append(bars, models.MDailyPrice{Symbol: symbol, TradeDate: d, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1e6, Amount: 1e7})
	}
	return bars
}

type recordingPublisher struct {
	events []models.MRefreshEvent
}

func (p *recordingPublisher) Publish(e models.MRefreshEvent) { p.events = append(p.events, e) }
func (p *recordingPublisher) Start() error                   { return nil }
func (p *recordingPublisher) Stop() error                    { return nil }

// -----------------------------------------------------------------------------

func TestGetDailyPricesReadThroughThenCache(t *testing.T) {
	t.Parallel()

	// Arrange: ten sessions, served once by the primary
	f := newFixture(t, true, true)
	pub := &recordingPublisher{}
	f.source.SetPublisher(pub)
	start, end := utils.DayUTC(2024, 1, 3), utils.DayUTC(2024, 1, 16)
	bars := weekdayBars("600519.SH", start, end)
	require.Len(t, bars, 10)
	f.primary.EXPECT().FetchDailyPrices(gomock.Any(), "600519.SH", models.MDateRange{Start: start, End: end}).Return(bars, nil).Times(1)

	// Act
	first, err := f.source.GetDailyPrices(t.Context(), "600519.SH", start, end)
	require.NoError(t, err)
	second, err := f.source.GetDailyPrices(t.Context(), "600519.SH", start, end)
	require.NoError(t, err)

	// Assert: provider once, then the cache
	require.Equal(t, models.SourcePrimaryProvider, first.Source)
	require.Len(t, first.Data, 10)
	require.Equal(t, models.SourceDatabase, second.Source)
	require.Len(t, second.Data, 10)
	require.Equal(t, first.Data, second.Data)
	require.Len(t, pub.events, 1)
	require.Equal(t, models.KindPrices, pub.events[0].Kind)
	require.Equal(t, 10, pub.events[0].Rows)
}

func TestGetDailyPricesGapIsMiss(t *testing.T) {
	t.Parallel()

	// Arrange: the cache lacks the last session of the range
	f := newFixture(t, true, false)
	start, end := utils.DayUTC(2024, 1, 8), utils.DayUTC(2024, 1, 16)
	_, err := f.db.UpsertPrices(t.Context(), "600519.SH", weekdayBars("600519.SH", start, utils.DayUTC(2024, 1, 15)))
	require.NoError(t, err)
	f.primary.EXPECT().FetchDailyPrices(gomock.Any(), "600519.SH", gomock.Any()).Return(weekdayBars("600519.SH", start, end), nil)

	// Act
	res, err := f.source.GetDailyPrices(t.Context(), "600519.SH", start, end)

	// Assert: merged without duplicates
	require.NoError(t, err)
	require.Equal(t, models.SourcePrimaryProvider, res.Source)
	require.Len(t, res.Data, 7)
}

func TestGetDailyPricesFutureEndIsStillCovered(t *testing.T) {
	t.Parallel()

	// Sessions after the last completed one cannot exist yet
	f := newFixture(t, true, false)
	start := utils.DayUTC(2024, 1, 15)
	_, err := f.db.UpsertPrices(t.Context(), "600519.SH", weekdayBars("600519.SH", start, utils.DayUTC(2024, 1, 16)))
	require.NoError(t, err)

	res, err := f.source.GetDailyPrices(t.Context(), "600519.SH", start, utils.DayUTC(2024, 1, 31))
	require.NoError(t, err)
	require.Equal(t, models.SourceDatabase, res.Source)
}

func TestForcedInfoRefreshOverwrites(t *testing.T) {
	t.Parallel()

	// Arrange: a stale snapshot
	f := newFixture(t, true, true)
	require.NoError(t, f.db.UpsertInfo(t.Context(), "300750.SZ", models.MStockInfo{DisplayName: "宁德时代", Industry: "电池"}))
	f.primary.EXPECT().FetchStockInfo(gomock.Any(), "300750.SZ").Return(&models.MStockInfo{Symbol: "300750.SZ", DisplayName: "宁德时代", Industry: "电气设备"}, nil)

	// Act
	cached, err := f.source.GetStockInfo(t.Context(), "300750.SZ")
	require.NoError(t, err)
	forced, err := f.source.GetStockInfo(t.Context(), "300750.SZ", WithForce(true))
	require.NoError(t, err)

	// Assert
	require.Equal(t, models.SourceDatabase, cached.Source)
	require.Equal(t, "电池", cached.Data[0].Industry)
	require.Equal(t, models.SourcePrimaryProvider, forced.Source)
	require.Equal(t, "电气设备", forced.Data[0].Industry)

	stored, err := f.db.QueryInfo(t.Context(), "300750.SZ")
	require.NoError(t, err)
	require.Equal(t, "电气设备", stored.Industry)
}

func TestFallbackToSecondary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		kind helpers.ProviderErrorKind
	}{
		{"authentication", helpers.ErrAuthentication},
		{"rate limit", helpers.ErrRateLimit},
		{"unavailable", helpers.ErrUpstreamUnavailable},
		{"no data", helpers.ErrNoData},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			f := newFixture(t, true, true)
			ind := &models.MFinancialIndicator{ReturnOnEquity: models.Float64Ptr(25.1), ReportDate: "2023-09-30"}
			f.primary.EXPECT().FetchFinancialIndicator(gomock.Any(), "600519.SH").Return(nil, helpers.NewProviderError("tushare", tc.kind, "x", nil))
			f.secondary.EXPECT().FetchFinancialIndicator(gomock.Any(), "600519.SH").Return(ind, nil)

			// Act
			res, err := f.source.GetFinancialIndicator(t.Context(), "600519.SH")

			// Assert
			require.NoError(t, err)
			require.Equal(t, models.SourceSecondaryProvider, res.Source)
			require.Len(t, res.Data, 1)
			require.InDelta(t, 25.1, *res.Data[0].ReturnOnEquity, 1e-9)
		})
	}
}

func TestBothNoDataIsNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, true)
	f.primary.EXPECT().FetchNews(gomock.Any(), "830799.BJ", gomock.Any()).Return(nil, helpers.NewProviderError("tushare", helpers.ErrNoData, "none", nil))
	f.secondary.EXPECT().FetchNews(gomock.Any(), "830799.BJ", gomock.Any()).Return(nil, helpers.NewProviderError("eastmoney", helpers.ErrNoData, "none", nil))

	_, err := f.source.GetNews(t.Context(), "830799.BJ", 7)

	require.Error(t, err)
	require.True(t, helpers.IsNotFound(err))
	require.True(t, helpers.IsNoData(err))
	var fb *helpers.FallbackError
	require.False(t, errors.As(err, &fb))
}

func TestBothFailedIsFallbackError(t *testing.T) {
	t.Parallel()

	// Arrange
	f := newFixture(t, true, true)
	f.primary.EXPECT().FetchStockInfo(gomock.Any(), "600519.SH").Return(nil, helpers.NewProviderError("tushare", helpers.ErrAuthentication, "bad token", nil))
	f.secondary.EXPECT().FetchStockInfo(gomock.Any(), "600519.SH").Return(nil, helpers.NewProviderError("eastmoney", helpers.ErrUpstreamUnavailable, "timeout", nil))

	// Act
	_, err := f.source.GetStockInfo(t.Context(), "600519.SH")

	// Assert: the primary is the representative cause, the secondary is kept
	var fb *helpers.FallbackError
	require.ErrorAs(t, err, &fb)
	require.True(t, helpers.IsProviderKind(err, helpers.ErrAuthentication))
	require.True(t, helpers.IsProviderKind(fb.Secondary, helpers.ErrUpstreamUnavailable))
	require.False(t, helpers.IsNotFound(err))
}

func TestPrimaryOnlyDoesNotFallBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, false)
	f.primary.EXPECT().FetchStockInfo(gomock.Any(), "600519.SH").Return(nil, helpers.NewProviderError("tushare", helpers.ErrRateLimit, "quota", nil))

	_, err := f.source.GetStockInfo(t.Context(), "600519.SH")
	require.True(t, helpers.IsProviderKind(err, helpers.ErrRateLimit))
}

func TestNoProviderIsConfigurationError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, false)

	_, err := f.source.GetStockInfo(t.Context(), "600519.SH")
	require.True(t, helpers.IsConfigurationError(err))
}

func TestPartialCacheServedWhenProvidersHaveNothing(t *testing.T) {
	t.Parallel()

	// Arrange: a suspension left a gap the providers cannot fill
	f := newFixture(t, true, true)
	start, end := utils.DayUTC(2024, 1, 8), utils.DayUTC(2024, 1, 12)
	_, err := f.db.UpsertPrices(t.Context(), "002594.SZ", weekdayBars("002594.SZ", start, utils.DayUTC(2024, 1, 9)))
	require.NoError(t, err)
	noData := helpers.NewProviderError("x", helpers.ErrNoData, "suspended", nil)
	f.primary.EXPECT().FetchDailyPrices(gomock.Any(), "002594.SZ", gomock.Any()).Return(nil, noData)
	f.secondary.EXPECT().FetchDailyPrices(gomock.Any(), "002594.SZ", gomock.Any()).Return(nil, noData)

	// Act
	res, err := f.source.GetDailyPrices(t.Context(), "002594.SZ", start, end)

	// Assert
	require.NoError(t, err)
	require.Equal(t, models.SourceDatabase, res.Source)
	require.Len(t, res.Data, 2)
}

func TestNoDataAndOutageIsFallbackError(t *testing.T) {
	t.Parallel()

	// Arrange: the primary has nothing, the secondary is down
	f := newFixture(t, true, true)
	f.primary.EXPECT().FetchStockInfo(gomock.Any(), "600519.SH").Return(nil, helpers.NewProviderError("tushare", helpers.ErrNoData, "empty", nil))
	f.secondary.EXPECT().FetchStockInfo(gomock.Any(), "600519.SH").Return(nil, helpers.NewProviderError("eastmoney", helpers.ErrUpstreamUnavailable, "timeout", nil))

	// Act
	_, err := f.source.GetStockInfo(t.Context(), "600519.SH")

	// Assert: an outage never reads as a missing record
	var fb *helpers.FallbackError
	require.ErrorAs(t, err, &fb)
	require.False(t, helpers.IsNotFound(err))
	require.False(t, helpers.IsNoData(err))
	require.True(t, helpers.IsProviderKind(fb.Secondary, helpers.ErrUpstreamUnavailable))
}

func TestPartialCacheNotServedDuringOutage(t *testing.T) {
	t.Parallel()

	// Arrange: a gap in the cache, the primary has nothing, the secondary is down
	f := newFixture(t, true, true)
	start, end := utils.DayUTC(2024, 1, 8), utils.DayUTC(2024, 1, 12)
	_, err := f.db.UpsertPrices(t.Context(), "002594.SZ", weekdayBars("002594.SZ", start, utils.DayUTC(2024, 1, 9)))
	require.NoError(t, err)
	f.primary.EXPECT().FetchDailyPrices(gomock.Any(), "002594.SZ", gomock.Any()).Return(nil, helpers.NewProviderError("tushare", helpers.ErrNoData, "empty", nil))
	f.secondary.EXPECT().FetchDailyPrices(gomock.Any(), "002594.SZ", gomock.Any()).Return(nil, helpers.NewProviderError("eastmoney", helpers.ErrUpstreamUnavailable, "timeout", nil))

	// Act
	res, err := f.source.GetDailyPrices(t.Context(), "002594.SZ", start, end)

	// Assert: the error surfaces instead of the partial rows
	var fb *helpers.FallbackError
	require.ErrorAs(t, err, &fb)
	require.Empty(t, res.Data)
}

// gatedDB releases misses once n price reads of the cache have returned.
type gatedDB struct {
	interfaces.IDatabase
	n      int32
	reads  atomic.Int32
	misses sync.WaitGroup
}

func (g *gatedDB) QueryPrices(ctx context.Context, symbol string, r models.MDateRange) ([]models.MDailyPrice, error) {
	rows, err := g.IDatabase.QueryPrices(ctx, symbol, r)
	if g.reads.Add(1) <= g.n {
		g.misses.Done()
	}
	return rows, err
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	t.Parallel()

	// Arrange: callers all miss before the provider answers, while other
	// writers upsert overlapping bars
	const callers, writers = 8, 4
	f := newFixture(t, true, false)
	log := logger.NewLogger(nil, "unified-test")
	log.SetOutput(io.Discard)

	db := &gatedDB{IDatabase: f.db, n: callers}
	db.misses.Add(callers)
	source := NewUnifiedDataSource(&models.MConfig{}, db, f.primary, nil, log).
		WithClock(func() time.Time { return testNow }).
		WithCalendar(weekdayCalendar)

	start, end := utils.DayUTC(2024, 1, 3), utils.DayUTC(2024, 1, 16)
	bars := weekdayBars("600519.SH", start, end)

	var upserts errgroup.Group
	f.primary.EXPECT().FetchDailyPrices(gomock.Any(), "600519.SH", models.MDateRange{Start: start, End: end}).
		DoAndReturn(func(context.Context, string, models.MDateRange) ([]models.MDailyPrice, error) {
			db.misses.Wait()
			time.Sleep(20 * time.Millisecond)
			for i := range writers {
				upserts.Go(func() error {
					_, err := f.db.UpsertPrices(context.Background(), "600519.SH", bars[i:])
					return err
				})
			}
			return bars, nil
		}).Times(1)

	// Act
	var g errgroup.Group
	results := make([]models.MCacheQueryResult[models.MDailyPrice], callers)
	for i := range callers {
		g.Go(func() error {
			res, err := source.GetDailyPrices(t.Context(), "600519.SH", start, end)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	upsertErr := upserts.Wait()

	// Assert
	require.NoError(t, err)
	require.NoError(t, upsertErr)
	require.False(t, helpers.IsCacheError(err))
	for _, res := range results {
		require.Len(t, res.Data, len(bars))
	}
	n, err := f.db.CountPrices(t.Context(), "600519.SH", models.MDateRange{Start: start, End: end})
	require.NoError(t, err)
	require.Equal(t, len(bars), n)
}

func TestRefreshStockDataReportsEachKind(t *testing.T) {
	t.Parallel()

	// Arrange: prices and news from the primary, info from the secondary,
	// indicators from nobody
	f := newFixture(t, true, true)
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, utils.ChinaLocation)
	f.primary.EXPECT().FetchDailyPrices(gomock.Any(), "600519.SH", gomock.Any()).Return(weekdayBars("600519.SH", utils.DayUTC(2024, 1, 15), utils.DayUTC(2024, 1, 16)), nil)
	f.primary.EXPECT().FetchNews(gomock.Any(), "600519.SH", gomock.Any()).Return([]models.MNews{{PublishedAt: at, Title: "公告"}}, nil)
	f.primary.EXPECT().FetchStockInfo(gomock.Any(), "600519.SH").Return(nil, helpers.NewProviderError("tushare", helpers.ErrUpstreamUnavailable, "down", nil))
	f.secondary.EXPECT().FetchStockInfo(gomock.Any(), "600519.SH").Return(&models.MStockInfo{DisplayName: "贵州茅台"}, nil)
	f.primary.EXPECT().FetchFinancialIndicator(gomock.Any(), "600519.SH").Return(nil, helpers.NewProviderError("tushare", helpers.ErrNoData, "none", nil))
	f.secondary.EXPECT().FetchFinancialIndicator(gomock.Any(), "600519.SH").Return(nil, helpers.NewProviderError("eastmoney", helpers.ErrNoData, "none", nil))

	// Act
	res, err := f.source.RefreshStockData(t.Context(), "600519.sh")

	// Assert
	require.NoError(t, err)
	require.Equal(t, "600519.SH", res.Symbol)
	require.Equal(t, models.SourcePrimaryProvider, res.Sources[models.KindPrices])
	require.Equal(t, models.SourcePrimaryProvider, res.Sources[models.KindNews])
	require.Equal(t, models.SourceSecondaryProvider, res.Sources[models.KindInfo])
	require.Contains(t, res.Errors, models.KindIndicators)

	stats, err := f.source.Stats(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalStocks)
	require.Equal(t, 2, stats.Coverage["600519.SH"].PriceRows)
	require.True(t, stats.Coverage["600519.SH"].HasInfo)
}

func TestRefreshRangeCountsRowsWritten(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, true)
	r := models.MDateRange{Start: utils.DayUTC(2024, 1, 15), End: utils.DayUTC(2024, 1, 16)}
	f.primary.EXPECT().FetchDailyPrices(gomock.Any(), "601318.SH", r).Return(weekdayBars("601318.SH", r.Start, r.End), nil)

	source, rows, err := f.source.RefreshRange(t.Context(), models.KindPrices, "601318.SH", r)
	require.NoError(t, err)
	require.Equal(t, models.SourcePrimaryProvider, source)
	require.Equal(t, 2, rows)
}

func TestInvalidInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, true)

	_, err := f.source.GetStockInfo(t.Context(), "AAPL")
	require.ErrorIs(t, err, helpers.ErrInvalidInput)

	_, err = f.source.GetDailyPrices(t.Context(), "600519.SH", utils.DayUTC(2024, 1, 10), utils.DayUTC(2024, 1, 1))
	require.ErrorIs(t, err, helpers.ErrInvalidInput)
}
