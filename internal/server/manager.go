package server

import (
	"log/slog"
	"sync"

	"lobbyhub/internal/protocol"
)

// ConnectionManager tracks all live client connections and fans messages out
// to them. Per-room broadcasts iterate the live set; membership truth stays
// in the registry, the manager only knows who is wired to which room.
type ConnectionManager struct {
	clients map[string]*ClientConnection // key: connection ID
	mu      sync.RWMutex
	logger  *slog.Logger
}

// constructor for ConnectionManager
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		clients: make(map[string]*ClientConnection),
		logger:  logger,
	}
}

// AddConnection registers a new client connection.
func (m *ConnectionManager) AddConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
	m.logger.Info("client_added", "client_id", client.ID)
}

// RemoveConnection unregisters a client connection.
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, client.ID)
	m.logger.Info("client_removed", "client_id", client.ID)
}

// ConnectionCount returns the number of live connections.
func (m *ConnectionManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CloseAllConnections closes every live connection and resets the map.
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		client.Close()
		m.logger.Info("client_connection_closed", "client_id", id)
	}
	m.clients = make(map[string]*ClientConnection)
}

// Broadcast sends a message to every connected client.
func (m *ConnectionManager) Broadcast(msg protocol.Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.clients {
		if err := c.SendMessage(msg); err != nil {
			m.logger.Warn("failed_to_send_broadcast",
				"client_id", id,
				"error", err.Error(),
			)
		}
	}
}

// BroadcastSystemMessage sends a SYSTEM_MESSAGE to every connected client.
func (m *ConnectionManager) BroadcastSystemMessage(text string) {
	m.Broadcast(protocol.NewMessage(protocol.TypeSystemMessage, text))
}

// BroadcastToRoom sends a message to every connection currently in the room,
// optionally excluding one connection (usually the originator).
func (m *ConnectionManager) BroadcastToRoom(roomID int64, msg protocol.Message, exceptID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.clients {
		if c.RoomID() != roomID || id == exceptID {
			continue
		}
		if err := c.SendMessage(msg); err != nil {
			m.logger.Warn("failed_to_send_room_broadcast",
				"client_id", id,
				"room_id", roomID,
				"error", err.Error(),
			)
		}
	}
}
