package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func weekdays() *TradingCalendar {
	return &TradingCalendar{Fallback: true, Timezone: ChinaLocation}
}

// -----------------------------------------------------------------------------

func TestSymbols(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		valid    bool
		code     string
		exchange string
	}{
		{in: "600519.sh", valid: true, code: "600519", exchange: ExchangeShanghai},
		{in: " 000001.SZ ", valid: true, code: "000001", exchange: ExchangeShenzhen},
		{in: "830799.BJ", valid: true, code: "830799", exchange: ExchangeBeijing},
		{in: "600519", valid: false},
		{in: "60051.SH", valid: false},
		{in: "600519.HK", valid: false},
	}

	for _, tt := range tests {
		s := NormalizeSymbol(tt.in)
		require.Equal(t, tt.valid, IsValidSymbol(s), tt.in)

		code, exchange, err := SplitSymbol(s)
		if !tt.valid {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.code, code)
		require.Equal(t, tt.exchange, exchange)
	}
}

func TestUnitConversion(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1234.0, LotsToShares(12.34))
	require.Equal(t, 1500.0, ThousandsToUnits(1.5))
	require.Equal(t, 180388.1, ThousandsToUnits(180.3881))

	v, ok := ParseNumber(" 1712.50 ")
	require.True(t, ok)
	require.Equal(t, 1712.5, v)

	for _, absent := range []string{"", "-", "--", "n/a"} {
		_, ok := ParseNumber(absent)
		require.False(t, ok, absent)
	}
}

// -----------------------------------------------------------------------------

func TestLastCompletedSession(t *testing.T) {
	t.Parallel()

	cal := weekdays()
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"after close", time.Date(2024, 1, 16, 15, 30, 0, 0, ChinaLocation), DayUTC(2024, 1, 16)},
		{"before close", time.Date(2024, 1, 16, 10, 0, 0, 0, ChinaLocation), DayUTC(2024, 1, 15)},
		{"monday morning", time.Date(2024, 1, 15, 9, 0, 0, 0, ChinaLocation), DayUTC(2024, 1, 12)},
		{"sunday", time.Date(2024, 1, 14, 20, 0, 0, 0, ChinaLocation), DayUTC(2024, 1, 12)},
		{"utc evening is next local day", time.Date(2024, 1, 16, 23, 0, 0, 0, time.UTC), DayUTC(2024, 1, 16)},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, cal.LastCompletedSession(tt.now), tt.name)
	}
}

func TestTradingDaysAndOpen(t *testing.T) {
	t.Parallel()

	cal := weekdays()

	days := cal.TradingDays(DayUTC(2024, 1, 12), DayUTC(2024, 1, 16))
	require.Equal(t, []time.Time{DayUTC(2024, 1, 12), DayUTC(2024, 1, 15), DayUTC(2024, 1, 16)}, days)

	require.True(t, cal.IsOpenOnMinute(time.Date(2024, 1, 16, 10, 0, 0, 0, ChinaLocation)))
	require.False(t, cal.IsOpenOnMinute(time.Date(2024, 1, 16, 12, 0, 0, 0, ChinaLocation)))
	require.False(t, cal.IsOpenOnMinute(time.Date(2024, 1, 13, 10, 0, 0, 0, ChinaLocation)))
}

func TestToday(t *testing.T) {
	t.Parallel()

	// 20:00 UTC is already the next morning in Shanghai
	require.Equal(t, DayUTC(2024, 1, 17), Today(time.Date(2024, 1, 16, 20, 0, 0, 0, time.UTC)))
}

// -----------------------------------------------------------------------------

func TestMarketSchedulerSharesCalendars(t *testing.T) {
	t.Parallel()

	// Arrange
	ms := NewMarketScheduler([]string{"600519.SH", "601318.SH", "000001.SZ"}, nil)

	// Act
	sh1, sh2, sz := ms.CalendarFor("600519.SH"), ms.CalendarFor("601318.SH"), ms.CalendarFor("000001.SZ")
	late := ms.CalendarFor("830799.BJ")

	// Assert: one calendar per exchange, unknown symbols loaded on demand
	require.Same(t, sh1, sh2)
	require.NotSame(t, sh1, sz)
	require.NotNil(t, late)
	require.Len(t, ms.Calendars, 4)
}
