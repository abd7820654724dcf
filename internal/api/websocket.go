package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/obsrelay/internal/auth"
	"github.com/nerrad567/obsrelay/internal/bridge"
	"github.com/nerrad567/obsrelay/internal/infrastructure/config"
	"github.com/nerrad567/obsrelay/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe     = "subscribe"
	WSTypeUnsubscribe   = "unsubscribe"
	WSTypePing          = "ping"
	WSTypeGetDevices    = "get_devices"
	WSTypeToggleDevice  = "toggle_device"
	WSTypeSetVolume     = "set_volume"
	WSTypePong          = "pong"
	WSTypeStatus        = "status"
	WSTypeDevices       = "devices"
	WSTypeDeviceToggled = "device_toggled"
	WSTypeVolumeSet     = "volume_set"
	WSTypeEvent         = "event"
	WSTypeResponse      = "response"
	WSTypeError         = "error"

	// ChannelInputStateChanged carries bridge state changes.
	ChannelInputStateChanged = "input.state_changed"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// wsIntentTimeout bounds a toggle or volume change issued over WebSocket.
	wsIntentTimeout = 30 * time.Second
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSInputPayload is the payload for toggle_device and set_volume.
type WSInputPayload struct {
	InputName string   `json:"input_name"`
	VolumeDb  *float64 `json:"volume_db,omitempty"`
}

// InputStateEvent is broadcast on input.state_changed.
type InputStateEvent struct {
	InputName string   `json:"input_name"`
	InputKind string   `json:"input_kind,omitempty"`
	Muted     *bool    `json:"muted,omitempty"`
	VolumeDb  *float64 `json:"volume_db,omitempty"`
	Origin    string   `json:"origin"`
	Timestamp string   `json:"timestamp"`
}

// outbound is a server message before encoding.
type outbound struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub manages WebSocket connections and broadcasts events.
//
// Hub implements bridge.Observer: every state change is broadcast on
// input.state_changed.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// Ensure Hub receives bridge state changes.
var _ bridge.Observer = (*Hub)(nil)

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	server        *Server
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes its send
// channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	if client.cancel != nil {
		client.cancel()
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to the given channel.
// The hub lock is released before per-client subscription checks.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(outbound{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

// InputStateChanged broadcasts a bridge state change.
func (h *Hub) InputStateChanged(change bridge.StateChange) {
	h.Broadcast(ChannelInputStateChanged, InputStateEvent{
		InputName: change.InputName,
		InputKind: change.InputKind,
		Muted:     change.Muted,
		VolumeDb:  change.VolumeDb,
		Origin:    change.Origin,
		Timestamp: change.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.cancel != nil {
			client.cancel()
		}
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection. When auth is enabled a ticket
// from POST /api/auth/ws-ticket is required in the query string.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject := ""
	if s.secCfg.AuthEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.tickets.Consume(ticket)
		if !ok || entry.Role != auth.RoleOperator {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject = entry.Subject
	}
	s.logger.Debug("websocket connection accepted", "subject", subject, "remote", r.RemoteAddr)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	client := &WSClient{
		hub:           s.hub,
		server:        s,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}

	s.hub.Register(client)

	client.sendMessage("", WSTypeStatus, map[string]any{
		"message":       "Connected to OBS Remote Control",
		"obs_connected": s.bridge.IsConnected(),
		"version":       s.version,
	})

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message keeps the connection alive, even if the browser
		// ignores protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one client message. Bridge intents run on their
// own goroutine so the read loop keeps answering pings while they queue.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg, true)
	case WSTypeUnsubscribe:
		c.handleSubscribe(msg, false)
	case WSTypePing:
		c.sendMessage(msg.ID, WSTypePong, nil)
	case WSTypeGetDevices:
		go c.handleGetDevices(msg)
	case WSTypeToggleDevice:
		if p, ok := c.inputPayload(msg); ok {
			go c.handleToggle(msg, p)
		}
	case WSTypeSetVolume:
		if p, ok := c.inputPayload(msg); ok {
			go c.handleSetVolume(msg, p)
		}
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe adds or removes channels from the subscription list.
func (c *WSClient) handleSubscribe(msg WSMessage, subscribe bool) {
	var sub WSSubscribePayload
	if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &sub) != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if subscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
		c.hub.logger.Info("websocket client subscribed", "channels", sub.Channels)
	}
	c.sendMessage(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

// inputPayload decodes a toggle_device or set_volume payload.
func (c *WSClient) inputPayload(msg WSMessage) (WSInputPayload, bool) {
	var p WSInputPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(msg.ID, "invalid "+msg.Type+" payload")
			return p, false
		}
	}
	if p.InputName == "" {
		c.sendError(msg.ID, "Input name required")
		return p, false
	}
	return p, true
}

func (c *WSClient) handleGetDevices(msg WSMessage) {
	devices, err := c.server.enumerate(c.ctx, bridge.SourceWebSocket)
	if err != nil {
		c.hub.logger.Warn("listing devices over websocket failed", "error", err)
		c.sendError(msg.ID, "Failed to list devices")
		return
	}
	c.sendMessage(msg.ID, WSTypeDevices, devicesResponse{Devices: devices})
}

func (c *WSClient) handleToggle(msg WSMessage, p WSInputPayload) {
	ctx, cancel := context.WithTimeout(bridge.WithSource(c.ctx, bridge.SourceWebSocket), wsIntentTimeout)
	defer cancel()

	if !c.server.bridge.Toggle(ctx, p.InputName) {
		c.sendError(msg.ID, "Failed to toggle "+p.InputName)
		return
	}
	c.sendMessage(msg.ID, WSTypeDeviceToggled, map[string]any{
		"input_name": p.InputName,
		"success":    true,
	})
}

func (c *WSClient) handleSetVolume(msg WSMessage, p WSInputPayload) {
	db := 0.0
	if p.VolumeDb != nil {
		db = *p.VolumeDb
	}

	ctx, cancel := context.WithTimeout(bridge.WithSource(c.ctx, bridge.SourceWebSocket), wsIntentTimeout)
	defer cancel()

	if !c.server.bridge.SetVolume(ctx, p.InputName, db) {
		c.sendError(msg.ID, "Failed to set volume for "+p.InputName)
		return
	}
	c.sendMessage(msg.ID, WSTypeVolumeSet, map[string]any{
		"input_name": p.InputName,
		"volume_db":  db,
		"success":    true,
	})
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendMessage queues a message for the client.
func (c *WSClient) sendMessage(id, msgType string, payload any) {
	data, err := json.Marshal(outbound{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendMessage(id, WSTypeError, map[string]string{"message": message})
}
