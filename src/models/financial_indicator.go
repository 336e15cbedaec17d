package models

import "time"

// MFinancialIndicator holds the latest reported ratios, in percent.
// A nil field means the provider did not report it.
type MFinancialIndicator struct {
	Symbol         string    `json:"symbol"`
	ReturnOnEquity *float64  `json:"return_on_equity"`
	GrossMargin    *float64  `json:"gross_margin"`
	DebtRatio      *float64  `json:"debt_ratio"`
	ReportDate     string    `json:"report_date"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Float64Ptr is a small helper for building indicators in code and tests.
func Float64Ptr(v float64) *float64 {
	return &v
}
