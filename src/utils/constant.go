package utils

import "time"

// -----------------------------------------------------------------------------

// Default sync windows used when the cache holds nothing for a symbol yet.
const (
	DefaultPriceWindowDays = 90
	DefaultNewsWindowDays  = 30
)

// ChinaLocation is the exchange timezone for A-shares.
var ChinaLocation = loadLocation("Asia/Shanghai", 8*60*60)

// -----------------------------------------------------------------------------

func loadLocation(name string, offset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, offset)
	}
	return loc
}

// Today returns the current exchange-local date as a UTC-midnight value,
// the representation used for trade dates throughout the cache.
func Today(now time.Time) time.Time {
	y, m, d := now.In(ChinaLocation).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayUTC builds the UTC-midnight value for a calendar date.
func DayUTC(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
