package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-datahub/src/helpers"
	"stock-datahub/src/interfaces"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"
	"stock-datahub/src/utils"

	"golang.org/x/sync/singleflight"
)

// UnifiedDataSource serves every read from the cache when it can and
// otherwise from the primary provider, falling back to the secondary. Provider
// results are written back before they are returned.
type UnifiedDataSource struct {
	DB        interfaces.IDatabase
	Primary   interfaces.IDataSource // nil when not configured
	Secondary interfaces.IDataSource // nil when fallback is disabled
	Logger    *logger.Logger

	PriceWindowDays int
	NewsWindowDays  int

	publisher   interfaces.IDataExchanger
	calendarFor func(symbol string) *utils.TradingCalendar
	now         func() time.Time
	group       singleflight.Group
}

// -----------------------------------------------------------------------------

func NewUnifiedDataSource(cfg *models.MConfig, db interfaces.IDatabase, primary, secondary interfaces.IDataSource, log *logger.Logger) *UnifiedDataSource {
	u := &UnifiedDataSource{
		DB:              db,
		Primary:         primary,
		Secondary:       secondary,
		Logger:          log,
		PriceWindowDays: utils.DefaultPriceWindowDays,
		NewsWindowDays:  utils.DefaultNewsWindowDays,
		calendarFor:     utils.GetCalendar,
		now:             time.Now,
	}
	if cfg != nil {
		if cfg.DataSource.PriceWindowDays > 0 {
			u.PriceWindowDays = cfg.DataSource.PriceWindowDays
		}
		if cfg.DataSource.NewsWindowDays > 0 {
			u.NewsWindowDays = cfg.DataSource.NewsWindowDays
		}
	}
	return u
}

// SetPublisher attaches the listener notified after every write-back.
func (u *UnifiedDataSource) SetPublisher(p interfaces.IDataExchanger) {
	u.publisher = p
}

// WithClock replaces the time source, for tests.
func (u *UnifiedDataSource) WithClock(now func() time.Time) *UnifiedDataSource {
	u.now = now
	return u
}

// WithCalendar replaces the trading calendar lookup, for tests.
func (u *UnifiedDataSource) WithCalendar(calendarFor func(symbol string) *utils.TradingCalendar) *UnifiedDataSource {
	u.calendarFor = calendarFor
	return u
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

type readOptions struct {
	force bool
}

// Option tunes a single read.
type Option func(*readOptions)

// WithForce bypasses the cache check and always asks the providers.
func WithForce(force bool) Option {
	return func(o *readOptions) { o.force = force }
}

func collect(opts []Option) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// -----------------------------------------------------------------------------
// Public reads
// -----------------------------------------------------------------------------

// GetDailyPrices returns bars in [start, end]. A zero end means today and a
// zero start means PriceWindowDays before end.
func (u *UnifiedDataSource) GetDailyPrices(ctx context.Context, symbol string, start, end time.Time, opts ...Option) (models.MCacheQueryResult[models.MDailyPrice], error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return models.MCacheQueryResult[models.MDailyPrice]{}, err
	}
	r := u.priceRange(start, end)
	if r.IsEmpty() {
		return models.MCacheQueryResult[models.MDailyPrice]{}, fmt.Errorf("%w: start %s is after end %s", helpers.ErrInvalidInput, r.Start.Format(models.DateLayout), r.End.Format(models.DateLayout))
	}
	return read(ctx, u, symbol, u.priceOps(symbol, r), collect(opts))
}

// GetNews returns news of the last days days, today included.
func (u *UnifiedDataSource) GetNews(ctx context.Context, symbol string, days int, opts ...Option) (models.MCacheQueryResult[models.MNews], error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return models.MCacheQueryResult[models.MNews]{}, err
	}
	return read(ctx, u, symbol, u.newsOps(symbol, u.newsRange(days)), collect(opts))
}

// GetStockInfo returns the company profile snapshot.
func (u *UnifiedDataSource) GetStockInfo(ctx context.Context, symbol string, opts ...Option) (models.MCacheQueryResult[models.MStockInfo], error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return models.MCacheQueryResult[models.MStockInfo]{}, err
	}
	return read(ctx, u, symbol, u.infoOps(symbol), collect(opts))
}

// GetFinancialIndicator returns the latest indicator snapshot.
func (u *UnifiedDataSource) GetFinancialIndicator(ctx context.Context, symbol string, opts ...Option) (models.MCacheQueryResult[models.MFinancialIndicator], error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return models.MCacheQueryResult[models.MFinancialIndicator]{}, err
	}
	return read(ctx, u, symbol, u.indicatorOps(symbol), collect(opts))
}

// -----------------------------------------------------------------------------
// Refresh paths
// -----------------------------------------------------------------------------

// RefreshStockData forces all four kinds over the default windows. Provider
// failures are reported per kind in the result; a cache failure aborts.
func (u *UnifiedDataSource) RefreshStockData(ctx context.Context, symbol string) (models.MRefreshResult, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return models.MRefreshResult{}, err
	}

	result := models.MRefreshResult{
		Symbol:  symbol,
		Sources: make(map[models.DataKind]string),
		Errors:  make(map[models.DataKind]string),
	}
	for _, kind := range models.AllKinds {
		var r models.MDateRange
		switch kind {
		case models.KindPrices:
			r = u.priceRange(time.Time{}, time.Time{})
		case models.KindNews:
			r = u.newsRange(0)
		}

		source, _, err := u.RefreshRange(ctx, kind, symbol, r)
		if err != nil {
			if helpers.IsCacheError(err) {
				return result, err
			}
			u.Logger.Warning("Refresh of %s/%s failed: %v", symbol, kind, err)
			result.Errors[kind] = err.Error()
			continue
		}
		result.Sources[kind] = source
	}
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

// RefreshRange fetches one kind from the providers and writes it back,
// skipping the cache check. The range is ignored for info and indicators.
// It returns the provenance tag and the number of rows written.
func (u *UnifiedDataSource) RefreshRange(ctx context.Context, kind models.DataKind, symbol string, r models.MDateRange) (string, int, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return "", 0, err
	}

	switch kind {
	case models.KindPrices:
		return fetchAndStore(ctx, u, symbol, u.priceOps(symbol, r))
	case models.KindNews:
		return fetchAndStore(ctx, u, symbol, u.newsOps(symbol, r))
	case models.KindInfo:
		return fetchAndStore(ctx, u, symbol, u.infoOps(symbol))
	case models.KindIndicators:
		return fetchAndStore(ctx, u, symbol, u.indicatorOps(symbol))
	}
	return "", 0, fmt.Errorf("unknown data kind %q", kind)
}

// Stats summarizes cache coverage.
func (u *UnifiedDataSource) Stats(ctx context.Context) (models.MCacheStats, error) {
	return u.DB.Stats(ctx)
}

// -----------------------------------------------------------------------------
// Tiered read
// -----------------------------------------------------------------------------

// kindOps binds one record kind to its cache and provider calls.
type kindOps[T any] struct {
	kind    models.DataKind
	key     string
	read    func(ctx context.Context) ([]T, error)
	covered func(cached []T) bool
	fetch   func(ctx context.Context, src interfaces.IDataSource) ([]T, error)
	write   func(ctx context.Context, rows []T) (int, error)
}

type fetchResult struct {
	source string
	rows   int
}

func read[T any](ctx context.Context, u *UnifiedDataSource, symbol string, ops kindOps[T], o readOptions) (models.MCacheQueryResult[T], error) {
	var empty models.MCacheQueryResult[T]

	// 1. Cache
	cached, err := ops.read(ctx)
	if err != nil {
		return empty, err
	}
	if !o.force && len(cached) > 0 && ops.covered(cached) {
		u.Logger.Debug("Cache hit for %s/%s (%d rows)", symbol, ops.kind, len(cached))
		return models.MCacheQueryResult[T]{Data: cached, Source: models.SourceDatabase}, nil
	}

	// 2. Providers
	source, _, err := fetchAndStore(ctx, u, symbol, ops)
	if err != nil {
		if !helpers.IsNoData(err) {
			return empty, err
		}
		if len(cached) == 0 {
			return empty, helpers.NewNotFoundError(symbol, ops.kind, err)
		}
		if o.force {
			return empty, err
		}
		// Providers confirm there is nothing beyond what is cached
		return models.MCacheQueryResult[T]{Data: cached, Source: models.SourceDatabase}, nil
	}

	// 3. Merged view
	data, err := ops.read(ctx)
	if err != nil {
		return empty, err
	}
	return models.MCacheQueryResult[T]{Data: data, Source: source}, nil
}

// fetchAndStore asks the providers in order and writes the first success
// back. Identical concurrent calls share one provider round trip.
func fetchAndStore[T any](ctx context.Context, u *UnifiedDataSource, symbol string, ops kindOps[T]) (string, int, error) {
	v, err, shared := u.group.Do(ops.key, func() (interface{}, error) {
		return fetchWithFallback(ctx, u, symbol, ops)
	})
	if err != nil {
		return "", 0, err
	}
	if shared {
		u.Logger.Debug("Collapsed concurrent fetch of %s", ops.key)
	}
	res := v.(fetchResult)
	return res.source, res.rows, nil
}

func fetchWithFallback[T any](ctx context.Context, u *UnifiedDataSource, symbol string, ops kindOps[T]) (fetchResult, error) {
	if u.Primary == nil && u.Secondary == nil {
		return fetchResult{}, helpers.NewConfigurationError("no data provider configured", nil)
	}

	var primaryErr error
	if u.Primary != nil {
		res, err := tryProvider(ctx, u, symbol, ops, u.Primary, models.SourcePrimaryProvider)
		if err == nil || helpers.IsCacheError(err) {
			return res, err
		}
		var pe *helpers.ProviderError
		if !errors.As(err, &pe) || !pe.CanFallback() {
			return fetchResult{}, err
		}
		primaryErr = err
		if u.Secondary != nil {
			u.Logger.Warning("Primary %s failed for %s/%s: %v. Falling back to %s", u.Primary.Name(), symbol, ops.kind, err, u.Secondary.Name())
		}
	}

	if u.Secondary == nil {
		return fetchResult{}, primaryErr
	}

	res, secondaryErr := tryProvider(ctx, u, symbol, ops, u.Secondary, models.SourceSecondaryProvider)
	if secondaryErr == nil || helpers.IsCacheError(secondaryErr) {
		return res, secondaryErr
	}
	if primaryErr == nil {
		return fetchResult{}, secondaryErr
	}

	if helpers.IsNoData(primaryErr) && helpers.IsNoData(secondaryErr) {
		return fetchResult{}, primaryErr
	}
	u.Logger.Error("All providers failed for %s/%s: primary: %v; secondary: %v", symbol, ops.kind, primaryErr, secondaryErr)
	return fetchResult{}, &helpers.FallbackError{Primary: primaryErr, Secondary: secondaryErr}
}

func tryProvider[T any](ctx context.Context, u *UnifiedDataSource, symbol string, ops kindOps[T], src interfaces.IDataSource, tag string) (fetchResult, error) {
	rows, err := ops.fetch(ctx, src)
	if err != nil {
		return fetchResult{}, err
	}
	if len(rows) == 0 {
		return fetchResult{}, helpers.NewProviderError(src.Name(), helpers.ErrNoData, fmt.Sprintf("empty %s for %s", ops.kind, symbol), nil)
	}

	n, err := ops.write(ctx, rows)
	if err != nil {
		return fetchResult{}, err
	}
	u.Logger.Info("Stored %d %s rows for %s from %s", n, ops.kind, symbol, src.Name())
	u.publish(symbol, ops.kind, tag, n)
	return fetchResult{source: tag, rows: n}, nil
}

func (u *UnifiedDataSource) publish(symbol string, kind models.DataKind, source string, rows int) {
	if u.publisher == nil {
		return
	}
	u.publisher.Publish(models.MRefreshEvent{
		Type:      "REFRESH",
		Symbol:    symbol,
		Kind:      kind,
		Source:    source,
		Rows:      rows,
		Timestamp: u.now().Unix(),
	})
}

// -----------------------------------------------------------------------------
// Per-kind bindings
// -----------------------------------------------------------------------------

func (u *UnifiedDataSource) priceOps(symbol string, r models.MDateRange) kindOps[models.MDailyPrice] {
	return kindOps[models.MDailyPrice]{
		kind: models.KindPrices,
		key:  fmt.Sprintf("%s|%s|%s", models.KindPrices, symbol, r),
		read: func(ctx context.Context) ([]models.MDailyPrice, error) {
			return u.DB.QueryPrices(ctx, symbol, r)
		},
		covered: func(cached []models.MDailyPrice) bool {
			return u.pricesCovered(symbol, r, cached)
		},
		fetch: func(ctx context.Context, src interfaces.IDataSource) ([]models.MDailyPrice, error) {
			return src.FetchDailyPrices(ctx, symbol, r)
		},
		write: func(ctx context.Context, rows []models.MDailyPrice) (int, error) {
			return u.DB.UpsertPrices(ctx, symbol, rows)
		},
	}
}

func (u *UnifiedDataSource) newsOps(symbol string, r models.MDateRange) kindOps[models.MNews] {
	return kindOps[models.MNews]{
		kind: models.KindNews,
		key:  fmt.Sprintf("%s|%s|%s", models.KindNews, symbol, r),
		read: func(ctx context.Context) ([]models.MNews, error) {
			return u.DB.QueryNews(ctx, symbol, r)
		},
		covered: func(cached []models.MNews) bool { return len(cached) > 0 },
		fetch: func(ctx context.Context, src interfaces.IDataSource) ([]models.MNews, error) {
			return src.FetchNews(ctx, symbol, r)
		},
		write: func(ctx context.Context, rows []models.MNews) (int, error) {
			return u.DB.UpsertNews(ctx, symbol, rows)
		},
	}
}

func (u *UnifiedDataSource) infoOps(symbol string) kindOps[models.MStockInfo] {
	return kindOps[models.MStockInfo]{
		kind: models.KindInfo,
		key:  fmt.Sprintf("%s|%s", models.KindInfo, symbol),
		read: func(ctx context.Context) ([]models.MStockInfo, error) {
			info, err := u.DB.QueryInfo(ctx, symbol)
			return single(info, err)
		},
		covered: func(cached []models.MStockInfo) bool { return len(cached) > 0 },
		fetch: func(ctx context.Context, src interfaces.IDataSource) ([]models.MStockInfo, error) {
			info, err := src.FetchStockInfo(ctx, symbol)
			return single(info, err)
		},
		write: func(ctx context.Context, rows []models.MStockInfo) (int, error) {
			row := rows[0]
			row.Symbol = symbol
			if row.UpdatedAt.IsZero() {
				row.UpdatedAt = u.now().UTC()
			}
			return 1, u.DB.UpsertInfo(ctx, symbol, row)
		},
	}
}

func (u *UnifiedDataSource) indicatorOps(symbol string) kindOps[models.MFinancialIndicator] {
	return kindOps[models.MFinancialIndicator]{
		kind: models.KindIndicators,
		key:  fmt.Sprintf("%s|%s", models.KindIndicators, symbol),
		read: func(ctx context.Context) ([]models.MFinancialIndicator, error) {
			ind, err := u.DB.QueryIndicator(ctx, symbol)
			return single(ind, err)
		},
		covered: func(cached []models.MFinancialIndicator) bool { return len(cached) > 0 },
		fetch: func(ctx context.Context, src interfaces.IDataSource) ([]models.MFinancialIndicator, error) {
			ind, err := src.FetchFinancialIndicator(ctx, symbol)
			return single(ind, err)
		},
		write: func(ctx context.Context, rows []models.MFinancialIndicator) (int, error) {
			row := rows[0]
			row.Symbol = symbol
			if row.UpdatedAt.IsZero() {
				row.UpdatedAt = u.now().UTC()
			}
			return 1, u.DB.UpsertIndicator(ctx, symbol, row)
		},
	}
}

// single lifts a snapshot lookup into the slice shape used by kindOps.
func single[T any](v *T, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []T{}, nil
	}
	return []T{*v}, nil
}

// -----------------------------------------------------------------------------
// Coverage
// -----------------------------------------------------------------------------

// pricesCovered reports whether every session of the range up to the last
// completed one has a cached bar.
func (u *UnifiedDataSource) pricesCovered(symbol string, r models.MDateRange, cached []models.MDailyPrice) bool {
	cal := u.calendarFor(symbol)

	end := cal.LastCompletedSession(u.now())
	if !r.End.IsZero() && dayOf(r.End).Before(end) {
		end = dayOf(r.End)
	}
	start := cached[0].TradeDate
	if !r.Start.IsZero() {
		start = dayOf(r.Start)
	}

	sessions := cal.TradingDays(start, end)
	if len(sessions) == 0 {
		return true
	}

	if cal.Fallback {
		// Weekday-only calendar: holidays would read as gaps, so only the edges are checked
		first, last := cached[0].TradeDate, cached[len(cached)-1].TradeDate
		return !first.After(sessions[0]) && !last.Before(sessions[len(sessions)-1])
	}

	have := make(map[string]struct{}, len(cached))
	for _, p := range cached {
		have[p.DateKey()] = struct{}{}
	}
	for _, d := range sessions {
		if _, ok := have[d.Format(models.DateLayout)]; !ok {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Ranges
// -----------------------------------------------------------------------------

func (u *UnifiedDataSource) priceRange(start, end time.Time) models.MDateRange {
	if end.IsZero() {
		end = utils.Today(u.now())
	}
	if start.IsZero() {
		start = dayOf(end).AddDate(0, 0, -u.PriceWindowDays)
	}
	return models.MDateRange{Start: dayOf(start), End: dayOf(end)}
}

func (u *UnifiedDataSource) newsRange(days int) models.MDateRange {
	if days <= 0 {
		days = u.NewsWindowDays
	}
	today := utils.Today(u.now())
	return models.MDateRange{Start: today.AddDate(0, 0, -days), End: today}
}

func dayOf(t time.Time) time.Time {
	return utils.DayUTC(t.Year(), t.Month(), t.Day())
}

func checkSymbol(symbol string) (string, error) {
	s := utils.NormalizeSymbol(symbol)
	if !utils.IsValidSymbol(s) {
		return "", fmt.Errorf("%q: %w", symbol, helpers.ErrInvalidSymbol)
	}
	return s, nil
}
