// Package websocket carries live view sessions over WebSocket connections.
// Each connection gets its own Session; the hub tracks open connections so
// they can be counted and shut down together.
package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Session is the server side of one live connection. Handle receives each
// inbound text frame; Close is called once when the connection ends.
type Session interface {
	Handle(msg []byte)
	Close()
}

// SessionFactory builds the session for a new connection. send queues an
// outbound frame and reports false once the connection is gone.
type SessionFactory func(ctx context.Context, id string, send func([]byte) bool) (Session, error)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single WebSocket connection.
type Client struct {
	ID   string
	Send chan []byte

	mu      sync.Mutex
	closed  bool
	conn    Conn
	session Session
}

// Deliver queues data for the write pump. Frames are dropped when the buffer
// is full or the client is gone.
func (c *Client) Deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Hub tracks connected clients.
type Hub struct {
	mu  sync.RWMutex
	all map[*Client]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{all: make(map[*Client]struct{})}
}

// Register adds a client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.all[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.all, client)
	h.mu.Unlock()
	client.shutdown()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// CloseAll closes every connection. Read pumps then unregister their clients.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// ---------------------------------------------------------------------------
// Handler upgrades echo requests to websocket sessions.
// ---------------------------------------------------------------------------

// Handler upgrades HTTP connections and runs a Session per connection.
type Handler struct {
	hub      *Hub
	factory  SessionFactory
	logger   zerolog.Logger
	upgrader gorillawebsocket.Upgrader
	origins  []string
}

// NewHandler creates a handler bound to hub. Until AllowOrigins is called only
// same-host browser origins may connect.
func NewHandler(hub *Hub, factory SessionFactory, logger zerolog.Logger) *Handler {
	h := &Handler{hub: hub, factory: factory, logger: logger}
	h.upgrader = gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// AllowOrigins sets the browser origins allowed to open a connection. "*"
// allows any origin.
func (h *Handler) AllowOrigins(origins []string) {
	h.origins = append([]string(nil), origins...)
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients), same-host origins and the configured list.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// HandleConnect upgrades the request, builds the session and starts the
// read and write pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("origin", c.Request().Header.Get("Origin")).Msg("websocket upgrade rejected")
		return nil
	}
	h.Serve(context.WithoutCancel(c.Request().Context()), &gorillaConnAdapter{ws})
	return nil
}

// Serve runs a session over an established connection.
func (h *Handler) Serve(ctx context.Context, conn Conn) {
	client := &Client{
		ID:   uuid.New().String(),
		Send: make(chan []byte, 256),
		conn: conn,
	}

	session, err := h.factory(ctx, client.ID, client.Deliver)
	if err != nil {
		h.logger.Error().Err(err).Str("client_id", client.ID).Msg("websocket: session setup failed")
		conn.Close()
		return
	}
	client.session = session

	h.hub.Register(client)
	h.logger.Debug().Str("client_id", client.ID).Msg("websocket: client connected")

	go h.writePump(client)
	go h.readPump(client)
}

// readPump feeds inbound frames to the session until the connection fails.
func (h *Handler) readPump(client *Client) {
	defer func() {
		client.session.Close()
		h.hub.Unregister(client)
		client.conn.Close()
		h.logger.Debug().Str("client_id", client.ID).Msg("websocket: client disconnected")
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		client.session.Handle(message)
	}
}

// writePump writes queued frames to the connection.
func (h *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
