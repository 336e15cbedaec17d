package models

import "time"

// Date layouts used across the cache and the provider adapters.
const (
	DateLayout        = "2006-01-02"
	DateTimeLayout    = "2006-01-02 15:04:05"
	CompactDateLayout = "20060102"
)

// MDailyPrice is one daily bar. Volume is in shares, Amount in CNY.
type MDailyPrice struct {
	Symbol    string    `json:"symbol"`
	TradeDate time.Time `json:"trade_date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`
}

// DateKey returns the trade date in the storage layout.
func (p MDailyPrice) DateKey() string {
	return p.TradeDate.Format(DateLayout)
}
