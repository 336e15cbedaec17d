package updater

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stock-datahub/src/helpers"
	"stock-datahub/src/interfaces"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"
	"stock-datahub/src/utils"

	"golang.org/x/sync/errgroup"
)

// Scope selects which kinds a run synchronizes.
type Scope string

const (
	ScopeAll        Scope = "all"
	ScopePricesOnly Scope = "prices-only"
	ScopeNewsOnly   Scope = "news-only"
	ScopeInfoOnly   Scope = "info-only" // info and indicators
)

// Kinds returns the record kinds covered by the scope.
func (s Scope) Kinds() []models.DataKind {
	switch s {
	case ScopePricesOnly:
		return []models.DataKind{models.KindPrices}
	case ScopeNewsOnly:
		return []models.DataKind{models.KindNews}
	case ScopeInfoOnly:
		return []models.DataKind{models.KindInfo, models.KindIndicators}
	default:
		return models.AllKinds
	}
}

// ParseScope maps the mutually exclusive CLI switches onto a scope.
func ParseScope(pricesOnly, newsOnly, infoOnly bool) (Scope, error) {
	scope, set := ScopeAll, 0
	if pricesOnly {
		scope, set = ScopePricesOnly, set+1
	}
	if newsOnly {
		scope, set = ScopeNewsOnly, set+1
	}
	if infoOnly {
		scope, set = ScopeInfoOnly, set+1
	}
	if set > 1 {
		return "", helpers.NewConfigurationError("--prices-only, --news-only and --info-only are mutually exclusive", nil)
	}
	return scope, nil
}

// -----------------------------------------------------------------------------

// IRefresher is the write path of the unified data source.
type IRefresher interface {
	RefreshRange(ctx context.Context, kind models.DataKind, symbol string, r models.MDateRange) (string, int, error)
}

// IncrementalUpdater brings the cache of a watchlist up to date, fetching
// only what lies after the newest cached date of each symbol.
type IncrementalUpdater struct {
	DB              interfaces.IDatabase
	Source          IRefresher
	Logger          *logger.Logger
	Concurrency     int
	Pause           time.Duration
	PriceWindowDays int
	NewsWindowDays  int

	calendarFor func(symbol string) *utils.TradingCalendar
	now         func() time.Time
}

// -----------------------------------------------------------------------------

func NewIncrementalUpdater(cfg *models.MConfig, db interfaces.IDatabase, source IRefresher, log *logger.Logger) *IncrementalUpdater {
	u := &IncrementalUpdater{
		DB:              db,
		Source:          source,
		Logger:          log,
		Concurrency:     1,
		PriceWindowDays: utils.DefaultPriceWindowDays,
		NewsWindowDays:  utils.DefaultNewsWindowDays,
		calendarFor:     utils.GetCalendar,
		now:             time.Now,
	}
	if cfg != nil {
		if cfg.Network.ConcurrentRequests > 0 {
			u.Concurrency = cfg.Network.ConcurrentRequests
		}
		u.Pause = time.Duration(cfg.Updater.PauseMillis) * time.Millisecond
		if cfg.DataSource.PriceWindowDays > 0 {
			u.PriceWindowDays = cfg.DataSource.PriceWindowDays
		}
		if cfg.DataSource.NewsWindowDays > 0 {
			u.NewsWindowDays = cfg.DataSource.NewsWindowDays
		}
	}
	return u
}

// WithClock replaces the time source, for tests.
func (u *IncrementalUpdater) WithClock(now func() time.Time) *IncrementalUpdater {
	u.now = now
	return u
}

// WithCalendar replaces the trading calendar lookup, for tests.
func (u *IncrementalUpdater) WithCalendar(calendarFor func(symbol string) *utils.TradingCalendar) *IncrementalUpdater {
	u.calendarFor = calendarFor
	return u
}

// -----------------------------------------------------------------------------

// Run synchronizes every symbol for the kinds of scope. A failing symbol
// never stops the others; outcomes keep the order of symbols.
func (u *IncrementalUpdater) Run(ctx context.Context, symbols []string, scope Scope) models.MUpdateReport {
	kinds := scope.Kinds()
	perSymbol := make([][]models.MUpdateOutcome, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.Concurrency)

	var progress sync.Mutex
	done := 0

	for i, symbol := range symbols {
		g.Go(func() error {
			perSymbol[i] = u.UpdateSymbol(gctx, symbol, kinds)

			progress.Lock()
			done++
			u.Logger.Info("[%d/%d] %s done", done, len(symbols), symbol)
			progress.Unlock()

			u.pause(gctx)
			return nil
		})
	}
	_ = g.Wait()

	var report models.MUpdateReport
	for _, outcomes := range perSymbol {
		report.Outcomes = append(report.Outcomes, outcomes...)
	}

	u.Logger.Info("Update finished: %d updated, %d unchanged, %d failed",
		report.Count(models.OutcomeUpdated), report.Count(models.OutcomeUnchanged), report.Count(models.OutcomeFailed))
	return report
}

// UpdateSymbol synchronizes the given kinds of one symbol.
func (u *IncrementalUpdater) UpdateSymbol(ctx context.Context, symbol string, kinds []models.DataKind) []models.MUpdateOutcome {
	symbol = utils.NormalizeSymbol(symbol)
	outcomes := make([]models.MUpdateOutcome, 0, len(kinds))

	for _, kind := range kinds {
		if !utils.IsValidSymbol(symbol) {
			outcomes = append(outcomes, failed(symbol, kind, fmt.Errorf("%q: %w", symbol, helpers.ErrInvalidSymbol)))
			continue
		}
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, failed(symbol, kind, err))
			continue
		}

		var o models.MUpdateOutcome
		if kind.HasRange() {
			o = u.syncRange(ctx, symbol, kind)
		} else {
			o = u.syncSnapshot(ctx, symbol, kind)
		}
		if o.Status == models.OutcomeFailed {
			u.Logger.Warning("%s", o)
		} else {
			u.Logger.Debug("%s", o)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// -----------------------------------------------------------------------------

// syncRange fetches the delta after the newest cached date.
func (u *IncrementalUpdater) syncRange(ctx context.Context, symbol string, kind models.DataKind) models.MUpdateOutcome {
	delta, err := u.Delta(ctx, symbol, kind)
	if err != nil {
		return failed(symbol, kind, err)
	}
	if delta.IsEmpty() {
		return unchanged(symbol, kind, "already up to date")
	}
	if kind == models.KindPrices && len(u.calendarFor(symbol).TradingDays(delta.Start, delta.End)) == 0 {
		return unchanged(symbol, kind, "no trading day since last update")
	}

	_, rows, err := u.Source.RefreshRange(ctx, kind, symbol, delta)
	switch {
	case helpers.IsNoData(err):
		return unchanged(symbol, kind, "no new data at any provider")
	case err != nil:
		return failed(symbol, kind, err)
	case rows == 0:
		return unchanged(symbol, kind, "no new rows")
	}
	return models.MUpdateOutcome{Symbol: symbol, Kind: kind, Status: models.OutcomeUpdated, Rows: rows}
}

// Delta returns the range still missing from the cache. Prices stop at the
// last completed session so a bar is never stored before the close. News
// restarts at the day of the newest cached item.
func (u *IncrementalUpdater) Delta(ctx context.Context, symbol string, kind models.DataKind) (models.MDateRange, error) {
	now := u.now()
	today := utils.Today(now)

	end, window := today, u.NewsWindowDays
	if kind == models.KindPrices {
		end, window = u.calendarFor(symbol).LastCompletedSession(now), u.PriceWindowDays
	}

	last, ok, err := u.DB.LatestDate(ctx, symbol, kind)
	if err != nil {
		return models.MDateRange{}, err
	}

	start := today.AddDate(0, 0, -window)
	switch {
	case ok && kind == models.KindNews:
		// Later items of the last cached day may still be missing; upserts de-duplicate
		start = last
	case ok:
		start = last.AddDate(0, 0, 1)
	}
	return models.MDateRange{Start: start, End: end}, nil
}

// syncSnapshot always refreshes info and indicators. A snapshot missing at
// every provider means the symbol is not covered, so it fails.
func (u *IncrementalUpdater) syncSnapshot(ctx context.Context, symbol string, kind models.DataKind) models.MUpdateOutcome {
	_, rows, err := u.Source.RefreshRange(ctx, kind, symbol, models.MDateRange{})
	switch {
	case helpers.IsNoData(err):
		return failed(symbol, kind, fmt.Errorf("no data at any provider: %w", err))
	case err != nil:
		return failed(symbol, kind, err)
	}
	return models.MUpdateOutcome{Symbol: symbol, Kind: kind, Status: models.OutcomeUpdated, Rows: rows}
}

// -----------------------------------------------------------------------------

func (u *IncrementalUpdater) pause(ctx context.Context) {
	if u.Pause <= 0 {
		return
	}
	select {
	case <-time.After(u.Pause):
	case <-ctx.Done():
	}
}

func unchanged(symbol string, kind models.DataKind, reason string) models.MUpdateOutcome {
	return models.MUpdateOutcome{Symbol: symbol, Kind: kind, Status: models.OutcomeUnchanged, Reason: reason}
}

func failed(symbol string, kind models.DataKind, err error) models.MUpdateOutcome {
	return models.MUpdateOutcome{Symbol: symbol, Kind: kind, Status: models.OutcomeFailed, Reason: err.Error()}
}
