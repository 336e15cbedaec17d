package models

import "time"

// -----------------------------------------------------------------------------
// Provenance tags carried by every read result.
// -----------------------------------------------------------------------------

const (
	SourceDatabase          = "database"
	SourcePrimaryProvider   = "primary_provider"
	SourceSecondaryProvider = "secondary_provider"
)

// DataKind names one of the four cached record kinds.
type DataKind string

const (
	KindPrices     DataKind = "prices"
	KindNews       DataKind = "news"
	KindInfo       DataKind = "info"
	KindIndicators DataKind = "indicators"
)

// AllKinds lists the record kinds in refresh order.
var AllKinds = []DataKind{KindPrices, KindNews, KindInfo, KindIndicators}

// HasRange reports whether the kind is a dated series.
func (k DataKind) HasRange() bool {
	return k == KindPrices || k == KindNews
}

// -----------------------------------------------------------------------------

// MCacheQueryResult wraps data with the tier it was served from.
type MCacheQueryResult[T any] struct {
	Data   []T    `json:"data"`
	Source string `json:"source"`
}

// -----------------------------------------------------------------------------

// MDateRange is an inclusive range of calendar days. A zero Start or End
// leaves that side unbounded.
type MDateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange truncates both ends to whole days.
func NewDateRange(start, end time.Time) MDateRange {
	return MDateRange{Start: TruncateDay(start), End: TruncateDay(end)}
}

// IsEmpty reports whether Start is after End.
func (r MDateRange) IsEmpty() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && r.Start.After(r.End)
}

// Contains reports whether the calendar day of d, read in d's own location,
// lies inside the range.
func (r MDateRange) Contains(d time.Time) bool {
	day := calendarDay(d)
	if !r.Start.IsZero() && day.Before(calendarDay(r.Start)) {
		return false
	}
	if !r.End.IsZero() && day.After(calendarDay(r.End)) {
		return false
	}
	return true
}

// String formats the range as start..end.
func (r MDateRange) String() string {
	start, end := "-inf", "+inf"
	if !r.Start.IsZero() {
		start = r.Start.Format(DateLayout)
	}
	if !r.End.IsZero() {
		end = r.End.Format(DateLayout)
	}
	return start + ".." + end
}

// TruncateDay drops the clock part while keeping the location.
func TruncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
