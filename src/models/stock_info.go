package models

import "time"

// MStockInfo is the current profile snapshot of a listed company.
type MStockInfo struct {
	Symbol       string    `json:"symbol"`
	DisplayName  string    `json:"display_name"`
	Industry     string    `json:"industry"`
	ListingDate  string    `json:"listing_date"` // YYYY-MM-DD, empty when unknown
	ProviderCode string    `json:"provider_code"`
	UpdatedAt    time.Time `json:"updated_at"`
}
