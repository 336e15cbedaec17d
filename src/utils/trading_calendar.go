package utils

import (
	"log"
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// sessionCloseHour is the local close of the A-share continuous session.
const sessionCloseHour = 15

// TradingCalendar calculates trading days using scmhub/calendar.
type TradingCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

func GetCalendar(symbol string) *TradingCalendar {
	// Simple mapping based on suffix to MIC code
	// See scmhub/calendar for supported MICs (ISO 10383)
	mic := "xshg"
	if strings.HasSuffix(symbol, ".SZ") {
		mic = "xshe"
	} else if strings.HasSuffix(symbol, ".BJ") {
		// Beijing follows the Shanghai/Shenzhen holiday schedule
		mic = "xshg"
	} else if strings.HasSuffix(symbol, ".HK") {
		mic = "xhkg"
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xshg")
	}

	if cal == nil {
		log.Printf("WARNING: Failed to load calendar for MIC '%s'. Using simple fallback (Mon-Fri, Asia/Shanghai).", mic)
		return &TradingCalendar{Fallback: true, Timezone: ChinaLocation}
	}

	loc := cal.Loc
	if loc == nil {
		loc = ChinaLocation
	}
	return &TradingCalendar{Calendar: cal, Fallback: false, Timezone: loc}
}

// -----------------------------------------------------------------------------

// IsTradingDay reports whether the calendar date of day is a session.
// Only the Y/M/D of day is used.
func (tc *TradingCalendar) IsTradingDay(day time.Time) bool {
	y, m, d := day.Date()
	local := time.Date(y, m, d, 12, 0, 0, 0, tc.Timezone)

	if tc.Fallback {
		// Simple fallback: Mon-Fri
		weekday := local.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	// Library handles IsHoliday / IsBusinessDay
	return tc.Calendar.IsBusinessDay(local)
}

// -----------------------------------------------------------------------------

// IsOpenOnMinute checks if the market is open at a specific minute.
func (tc *TradingCalendar) IsOpenOnMinute(t time.Time) bool {
	t = t.In(tc.Timezone)

	if tc.Fallback {
		if !tc.IsTradingDay(t) {
			return false
		}
		minutes := t.Hour()*60 + t.Minute()
		// 09:30-11:30 and 13:00-15:00 Beijing time
		return (minutes >= 9*60+30 && minutes < 11*60+30) || (minutes >= 13*60 && minutes < sessionCloseHour*60)
	}

	return tc.Calendar.IsOpen(t)
}

// -----------------------------------------------------------------------------

// LastCompletedSession returns the latest trading day whose session has
// closed at now, as a UTC-midnight date.
func (tc *TradingCalendar) LastCompletedSession(now time.Time) time.Time {
	local := now.In(tc.Timezone)
	day := DayUTC(local.Year(), local.Month(), local.Day())
	if !tc.IsTradingDay(day) || local.Hour() < sessionCloseHour {
		day = day.AddDate(0, 0, -1)
	}
	// Holidays never run longer than a few weeks.
	for i := 0; i < 60 && !tc.IsTradingDay(day); i++ {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// -----------------------------------------------------------------------------

// TradingDays lists the sessions in [start, end], both UTC-midnight dates.
func (tc *TradingCalendar) TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if tc.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}
