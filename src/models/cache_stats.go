package models

// MSymbolCoverage summarizes what the cache holds for one symbol.
type MSymbolCoverage struct {
	HasPrices     bool   `json:"has_prices"`
	HasNews       bool   `json:"has_news"`
	HasInfo       bool   `json:"has_info"`
	HasIndicators bool   `json:"has_indicators"`
	PriceRows     int    `json:"price_rows"`
	NewsRows      int    `json:"news_rows"`
	FirstTrade    string `json:"first_trade,omitempty"`
	LastTrade     string `json:"last_trade,omitempty"`
}

// MCacheStats is the cache-wide summary served to the dashboard.
type MCacheStats struct {
	TotalStocks int                        `json:"total_stocks"`
	Symbols     []string                   `json:"symbols"`
	Coverage    map[string]MSymbolCoverage `json:"coverage"`
}
