package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain/entities"
	"github.com/satriahrh/arunika/client/domain/repositories"
	"github.com/satriahrh/arunika/client/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum command size allowed from peer.
	maxMessageSize = 64 * 1024

	// Commands are bounded by the backend request timeout upstream.
	commandTimeout = 2 * time.Minute
)

// CommandHandler executes commands received from clients
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command) error
}

// Hub maintains the set of connected clients and fans events out to them.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Outbound frames for every client.
	broadcast chan []byte

	// Closed when Run returns.
	done chan struct{}

	// Set while Run is active. Events published outside Run are dropped.
	running atomic.Bool

	// Mutex for thread-safe access to clients map, handler and origin policy
	mu sync.RWMutex

	upgrader    websocket.Upgrader
	allowOrigin func(origin string) bool
	handler     CommandHandler
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Ensure Hub implements the ConversationNotifier interface
var _ repositories.ConversationNotifier = (*Hub)(nil)

// NewHub creates a new event hub. m may be nil.
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// SetOriginPolicy installs the check for the Origin header of upgrade
// requests. Without a policy only same-origin pages may connect.
func (h *Hub) SetOriginPolicy(allow func(origin string) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowOrigin = allow
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	h.mu.RLock()
	allow := h.allowOrigin
	h.mu.RUnlock()

	var ok bool
	if allow != nil {
		ok = allow(origin)
	} else {
		ok = sameOrigin(origin, r.Host)
	}
	if !ok {
		h.logger.Warn("Rejected WebSocket origin", zap.String("origin", origin))
	}
	return ok
}

func sameOrigin(origin, host string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, host)
}

// SetCommandHandler installs the handler for inbound commands
func (h *Hub) SetCommandHandler(handler CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			h.metrics.SetHubClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetHubClients(n)
			h.logger.Info("Client registered", zap.String("clientID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetHubClients(n)
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

		case frame := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- frame:
				default:
					h.logger.Warn("Dropping slow client", zap.String("clientID", id))
					delete(h.clients, id)
					close(client.send)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetHubClients(n)
		}
	}
}

// Publish queues an event for every connected client. It never blocks; when
// the hub is not running or the queue is full the event is dropped.
func (h *Hub) Publish(t EventType, payload any) {
	if !h.running.Load() {
		return
	}

	frame, err := json.Marshal(NewEvent(t, payload))
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", string(t)), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("Event queue full, dropping event", zap.String("type", string(t)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MessageAppended publishes a new conversation message
func (h *Hub) MessageAppended(msg entities.Message) {
	h.Publish(EventMessageAppended, msg)
}

// SessionStarted publishes the backend session id
func (h *Hub) SessionStarted(sessionID string) {
	h.Publish(EventSessionStarted, SessionStartedPayload{SessionID: sessionID})
}

// TurnFailed publishes a failed conversation turn
func (h *Hub) TurnFailed(input entities.InputType, message string) {
	h.Publish(EventTurnFailed, TurnFailedPayload{InputType: string(input), Message: message})
}

func (h *Hub) commandHandler() CommandHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handler
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Replies to this client only.
	reply chan []byte

	id     string
	logger *zap.Logger
}

// HandleWebSocket upgrades the request and attaches the peer to the hub
func HandleWebSocket(hub *Hub, c echo.Context, logger *zap.Logger) error {
	conn, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	id := uuid.New().String()
	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		reply:  make(chan []byte, 16),
		id:     id,
		logger: logger.With(zap.String("clientID", id)),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// readPump reads commands from the websocket connection.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
			continue
		}
		c.processCommand(message)
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error("Failed to write event", zap.Error(err))
				return
			}

		case frame := <-c.reply:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error("Failed to write reply", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processCommand validates a command and runs it off the read loop
func (c *Client) processCommand(message []byte) {
	cmd, err := ParseCommand(message)
	if err != nil {
		c.logger.Warn("Invalid command", zap.Error(err))
		c.respond(CreateErrorEvent("invalid_command", err.Error()))
		return
	}

	if cmd.Type == CommandPing {
		c.respond(NewEvent(EventPong, nil))
		return
	}

	handler := c.hub.commandHandler()
	if handler == nil {
		c.respond(CreateErrorEvent("unavailable", "commands are not accepted"))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := handler.HandleCommand(ctx, cmd); err != nil {
			c.logger.Warn("Command failed",
				zap.String("command", string(cmd.Type)),
				zap.Error(err))
			c.respond(CreateErrorEvent("command_failed", err.Error()))
		}
	}()
}

func (c *Client) respond(event Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("Failed to encode reply", zap.Error(err))
		return
	}
	select {
	case c.reply <- frame:
	default:
		c.logger.Warn("Reply queue full, dropping reply", zap.String("type", string(event.Type)))
	}
}
