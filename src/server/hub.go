package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"stock-datahub/src/models"
	"stock-datahub/src/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop
func (s *APIServer) handleWebsockets() {
	for {
		select {
		case <-s.done:
			s.stateMutex.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			s.stateMutex.Unlock()
			return

		case client := <-s.register:
			s.stateMutex.Lock()
			s.clients[client] = struct{}{}
			s.stateMutex.Unlock()
			// Replay the latest state on connect
			s.sendSnapshot(client)

		case client := <-s.unregister:
			s.stateMutex.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			s.stateMutex.Unlock()

		case event := <-s.broadcast:
			s.stateMutex.Lock()
			s.latest[string(event.Kind)+"|"+event.Symbol] = event
			s.lastUpdate = event.Timestamp

			for client := range s.clients {
				if !client.wants(event.Symbol) {
					continue
				}
				select {
				case client.send <- event:
				default:
					// Client too slow, disconnect to prevent Hub blocking
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.stateMutex.Unlock()
		}
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Publish queues a refresh event for connected clients. Events are dropped
// when the queue is full rather than blocking the caller.
func (s *APIServer) Publish(event models.MRefreshEvent) {
	if event.Type == "" {
		event.Type = "REFRESH"
	}
	select {
	case s.broadcast <- event:
	default:
		s.Logger.Warning("Broadcast queue full, dropping %s/%s event", event.Symbol, event.Kind)
	}
}

// -----------------------------------------------------------------------------
// Helper Methods
// -----------------------------------------------------------------------------

// snapshot returns the latest event of every symbol the client follows,
// ordered by symbol then kind.
func (s *APIServer) snapshot(client *Client) []models.MRefreshEvent {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()

	events := make([]models.MRefreshEvent, 0, len(s.latest))
	for _, e := range s.latest {
		if client.wants(e.Symbol) {
			e.Type = "SNAPSHOT"
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Symbol != events[j].Symbol {
			return events[i].Symbol < events[j].Symbol
		}
		return events[i].Kind < events[j].Kind
	})
	return events
}

func (s *APIServer) sendSnapshot(client *Client) {
	for _, e := range s.snapshot(client) {
		select {
		case client.send <- e:
		default:
			return
		}
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *APIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send: make(chan models.MRefreshEvent, 256),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	// Start goroutines for reading/writing
	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// HandleClientMessage applies a subscribe command and replays the snapshot
// of the newly followed symbols.
func (s *APIServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	if cmd.Command != "subscribe" {
		return
	}

	symbols := make([]string, 0, len(cmd.Symbols))
	for _, sym := range cmd.Symbols {
		sym = utils.NormalizeSymbol(sym)
		if utils.IsValidSymbol(sym) && !contains(symbols, sym) {
			symbols = append(symbols, sym)
		}
	}
	client.subscribe(symbols)

	for _, e := range s.snapshot(client) {
		if !client.trySend(e) {
			return
		}
	}
}
