package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/trivialive/internal/coordinator"
)

// ConnectionManager owns the WebSocket connections of every active game.
// One connection corresponds to one participant session: the socket carries
// buzzer commands inbound and state pushes outbound.
type ConnectionManager struct {
	gameConnections map[uuid.UUID]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection is one participant's WebSocket plus its coordinator session.
type Connection struct {
	ID       string
	PlayerID uuid.UUID
	GameID   uuid.UUID
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager
	Session  *coordinator.Coordinator

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a server push to one game's connections.
type BroadcastMessage struct {
	GameID   uuid.UUID
	Message  ServerMessage
	PlayerID uuid.UUID // optional: if set, only send to this player
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		gameConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket and binds it to
// an already-started coordinator session. The session is closed when the
// connection goes away.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, playerID, gameID uuid.UUID, session *coordinator.Coordinator) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		GameID:      gameID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		Session:     session,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("player_id", playerID.String()).
		Str("game_id", gameID.String()).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.gameConnections[conn.GameID] == nil {
		cm.gameConnections[conn.GameID] = make(map[*Connection]bool)
	}
	cm.gameConnections[conn.GameID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("game_id", conn.GameID.String()).
		Int("total_connections", len(cm.gameConnections[conn.GameID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.gameConnections[conn.GameID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)

			if len(connections) == 0 {
				delete(cm.gameConnections, conn.GameID)
			}

			if conn.Session != nil {
				if err := conn.Session.Close(); err != nil {
					log.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to close session")
				}
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("player_id", conn.PlayerID.String()).
				Str("game_id", conn.GameID.String()).
				Msg("connection unregistered")
		}
	}
}

// BroadcastToGame queues a message for every connection in a game.
func (cm *ConnectionManager) BroadcastToGame(gameID uuid.UUID, msg ServerMessage) {
	select {
	case cm.broadcastCh <- BroadcastMessage{GameID: gameID, Message: msg}:
	default:
		log.Warn().Str("game_id", gameID.String()).Msg("broadcast channel full, dropping message")
	}
}

// SendToPlayer queues a message for one player's connections in a game.
func (cm *ConnectionManager) SendToPlayer(gameID, playerID uuid.UUID, msg ServerMessage) {
	select {
	case cm.broadcastCh <- BroadcastMessage{GameID: gameID, Message: msg, PlayerID: playerID}:
	default:
		log.Warn().
			Str("game_id", gameID.String()).
			Str("player_id", playerID.String()).
			Msg("broadcast channel full, dropping player message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.gameConnections[message.GameID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	var targets []*Connection
	for conn := range connections {
		if message.PlayerID != uuid.Nil && conn.PlayerID != message.PlayerID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("player_id", conn.PlayerID.String()).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}
}

// ConnectionStats reports active connection counts per game.
func (cm *ConnectionManager) ConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	gameCounts := make(map[string]int)
	for gameID, connections := range cm.gameConnections {
		count := len(connections)
		total += count
		gameCounts[gameID.String()] = count
	}

	return map[string]interface{}{
		"total_connections": total,
		"active_games":      len(cm.gameConnections),
		"game_connections":  gameCounts,
	}
}

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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
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

		c.handleClientCommand(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientCommand dispatches one inbound command to the coordinator
// session. Player sockets may only buzz; host sockets additionally drive the
// buzz window and manual focus.
func (c *Connection) handleClientCommand(message []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.sendError("malformed command")
		return
	}

	ctx := context.Background()
	switch cmd.Action {
	case ActionBuzz:
		if err := c.Session.Buzz(); err != nil {
			if errors.Is(err, coordinator.ErrNotInteractive) {
				// A click on a dead buzzer is not an error worth surfacing.
				return
			}
			log.Warn().Err(err).Str("connection_id", c.ID).Msg("buzz failed")
			c.sendError("buzz failed")
		}
	case ActionUnlock:
		if cmd.ClueID == nil {
			c.sendError("unlock requires clue_id")
			return
		}
		if err := c.Session.Unlock(ctx, *cmd.ClueID); err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID).Msg("unlock failed")
			c.sendError("unlock failed")
		}
	case ActionLock:
		if err := c.Session.Lock(ctx); err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID).Msg("lock failed")
			c.sendError("lock failed")
		}
	case ActionFocus:
		if cmd.PlayerID == nil {
			c.sendError("focus requires player_id")
			return
		}
		if err := c.Session.FocusPlayer(ctx, *cmd.PlayerID, cmd.Nickname); err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID).Msg("focus failed")
			c.sendError("focus failed")
		}
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("action", cmd.Action).
			Msg("ignoring unknown client action")
	}
}

func (c *Connection) sendError(msg string) {
	data, err := json.Marshal(NewErrorMessage(msg))
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}
