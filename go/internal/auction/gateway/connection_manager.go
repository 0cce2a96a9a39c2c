package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/auction/metrics"
	"github.com/char-123717/lelang/go/internal/models"
)

// Mode is how a connection takes part in its room.
type Mode string

const (
	ModeLobby Mode = "lobby"
	ModeWatch Mode = "watch"
	ModeBid   Mode = "bid"
)

// ConnectionManager manages WebSocket connections grouped into rooms: the lobby
// and one room per auction id.
type ConnectionManager struct {
	// Connection pools organized by room
	rooms map[string]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock
	metrics  metrics.Collector

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID            string
	Name          string
	Mode          Mode
	Subject       string
	WalletAddress string
	Room          string
	Conn          *websocket.Conn
	Send          chan []byte
	Manager       *ConnectionManager

	ConnectedAt time.Time

	// guards Send against writes after close
	sendMu sync.Mutex
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// JoinRequest describes a connection about to be registered.
type JoinRequest struct {
	Room          string
	Name          string
	Mode          Mode
	Subject       string
	WalletAddress string
}

// BroadcastMessage represents a message to broadcast to a room
type BroadcastMessage struct {
	Room  string
	Event *events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock, collector metrics.Collector) *ConnectionManager {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	return &ConnectionManager{
		rooms: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		metrics:     collector,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket, registers it in its
// room and queues the replay events ahead of any later broadcast.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, join JoinRequest, replay func() []*events.Event) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		Name:          join.Name,
		Mode:          join.Mode,
		Subject:       join.Subject,
		WalletAddress: join.WalletAddress,
		Room:          join.Room,
		Conn:          conn,
		Send:          make(chan []byte, cm.config.SendBufferSize),
		Manager:       cm,
		ConnectedAt:   cm.clock.Now(),
	}

	cm.registerConnection(connection)

	// The replay is read after registration so no committed state is missed.
	if replay != nil {
		for _, ev := range replay() {
			cm.SendTo(connection, ev)
		}
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("room", connection.Room).
		Str("mode", string(connection.Mode)).
		Str("name", connection.Name).
		Msg("WebSocket connection established")

	return connection, nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.rooms[conn.Room] == nil {
		cm.rooms[conn.Room] = make(map[*Connection]bool)
	}
	cm.rooms[conn.Room][conn] = true
	cm.metrics.RecordConnection(conn.Room, 1)

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room", conn.Room).
		Int("room_connections", len(cm.rooms[conn.Room])).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.rooms[conn.Room]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}

	delete(connections, conn)
	conn.closeSend()
	cm.metrics.RecordConnection(conn.Room, -1)

	if len(connections) == 0 {
		delete(cm.rooms, conn.Room)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("room", conn.Room).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.rooms {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// BroadcastToRoom queues an event for every connection in room.
func (cm *ConnectionManager) BroadcastToRoom(room string, event *events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Room: room, Event: event}:
	default:
		log.Warn().Str("room", room).Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// SendTo delivers an event to a single connection.
func (cm *ConnectionManager) SendTo(conn *Connection, event *events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event")
		return
	}
	if !conn.enqueue(data) {
		cm.dropSlowConsumer(conn)
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.rooms[message.Room]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the room so the lock is not held while sending
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.enqueue(eventData) {
			cm.dropSlowConsumer(conn)
		}
	}
	cm.metrics.RecordBroadcast(string(message.Event.Type), len(targets))

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room", message.Room).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) dropSlowConsumer(conn *Connection) {
	log.Warn().
		Str("connection_id", conn.ID).
		Str("room", conn.Room).
		Msg("connection send buffer full, closing connection")
	cm.metrics.RecordSlowConsumer(conn.Room)
	cm.unregisterConnection(conn)
	conn.Conn.Close()
}

// DisplayNames maps the lowercase wallet addresses of connections in an auction
// room to their display names.
func (cm *ConnectionManager) DisplayNames(auctionID string) map[string]string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	names := make(map[string]string)
	for conn := range cm.rooms[auctionID] {
		if conn.WalletAddress == "" || conn.Name == "" {
			continue
		}
		names[models.NormalizeAddress(conn.WalletAddress)] = conn.Name
	}
	return names
}

// ConnectionStats summarizes open connections.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{RoomConnections: make(map[string]int, len(cm.rooms))}
	for room, connections := range cm.rooms {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[room] = len(connections)
	}
	stats.ActiveRooms = len(cm.rooms)
	return stats
}

func (c *Connection) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage answers pings; every other frame is logged and ignored.
func (c *Connection) handleClientMessage(message []byte) {
	cmd, err := events.DecodeClientCommand(message)
	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("ignoring malformed client message")
		return
	}

	switch cmd.Type {
	case events.ClientCommandPing:
		now := c.Manager.clock.Now()
		c.Manager.SendTo(c, events.NewEvent(events.PongPayload{ServerTime: now}, now))
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("command", cmd.Type).
			Msg("ignoring unknown client command")
	}
}
