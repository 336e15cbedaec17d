package models

import "time"

// MNews is a news item attached to a symbol. The cache de-duplicates on
// (Symbol, PublishedAt, Title), so two items sharing a title and timestamp
// collapse even if their content differs.
type MNews struct {
	Symbol      string    `json:"symbol"`
	PublishedAt time.Time `json:"published_at"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Origin      string    `json:"origin"`
}
