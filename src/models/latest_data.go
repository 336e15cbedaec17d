package models

// -----------------------------------------------------------------------------
// Websocket feed structures
// -----------------------------------------------------------------------------

// MRefreshEvent is pushed to websocket clients whenever a provider response
// lands in the cache.
type MRefreshEvent struct {
	Type      string   `json:"type"` // "SNAPSHOT" or "REFRESH"
	Symbol    string   `json:"symbol"`
	Kind      DataKind `json:"kind"`
	Source    string   `json:"source"`
	Rows      int      `json:"rows"`
	Timestamp int64    `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// SubscribeCommand for client messages
// -----------------------------------------------------------------------------

type MSubscribeCommand struct {
	Command string   `json:"command"`
	Symbols []string `json:"symbols"`
}
