package utils

import (
	"sync"
	"time"

	"stock-datahub/src/logger"
)

// MarketScheduler maps watchlist symbols to their exchange calendars.
type MarketScheduler struct {
	Calendars map[string]*TradingCalendar
	Logger    *logger.Logger
	mu        sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(symbols []string, l *logger.Logger) *MarketScheduler {
	ms := &MarketScheduler{
		Calendars: make(map[string]*TradingCalendar),
		Logger:    l,
	}
	ms.MapSymbolsToCalendars(symbols)
	return ms
}

// -----------------------------------------------------------------------------

// MapSymbolsToCalendars replaces the symbol to calendar mapping.
func (ms *MarketScheduler) MapSymbolsToCalendars(symbols []string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.Calendars = make(map[string]*TradingCalendar)
	byMIC := make(map[string]*TradingCalendar)

	for _, symbol := range symbols {
		key := micKey(symbol)
		cal, ok := byMIC[key]
		if !ok {
			cal = GetCalendar(symbol)
			byMIC[key] = cal
		}
		ms.Calendars[symbol] = cal
	}

	if ms.Logger != nil {
		ms.Logger.Info("MarketScheduler: Mapped %d symbols to %d unique calendars.", len(symbols), len(byMIC))
	}
}

// UpdateSymbols updates the scheduler with a new list of symbols
func (ms *MarketScheduler) UpdateSymbols(symbols []string) {
	ms.MapSymbolsToCalendars(symbols)
}

// -----------------------------------------------------------------------------

// CalendarFor returns the calendar of a symbol, loading it on first use.
func (ms *MarketScheduler) CalendarFor(symbol string) *TradingCalendar {
	ms.mu.RLock()
	cal, ok := ms.Calendars[symbol]
	ms.mu.RUnlock()
	if ok {
		return cal
	}

	cal = GetCalendar(symbol)
	ms.mu.Lock()
	ms.Calendars[symbol] = cal
	ms.mu.Unlock()
	return cal
}

// -----------------------------------------------------------------------------

// AnyMarketOpen checks if ANY tracked markets are currently open
func (ms *MarketScheduler) AnyMarketOpen(now time.Time) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	uniqueCals := make(map[*TradingCalendar]bool)
	for _, cal := range ms.Calendars {
		uniqueCals[cal] = true
	}

	for cal := range uniqueCals {
		if cal.IsOpenOnMinute(now) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------

func micKey(symbol string) string {
	_, exchange, err := SplitSymbol(symbol)
	if err != nil {
		return symbol
	}
	return exchange
}
