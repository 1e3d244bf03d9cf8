package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/registry"
	"github.com/pion/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	presenceWait   = 2 * time.Second
	defaultMaxSize = 64 * 1024
	defaultBuffer  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Presence receives membership changes after the registry applied them
type Presence interface {
	Joined(ctx context.Context, roomID, participantID string) error
	Left(ctx context.Context, roomID, participantID string) error
}

// HubOptions tunes per-connection limits
type HubOptions struct {
	MaxMessageBytes int64
	SendBuffer      int
}

// Hub routes signaling events between connected clients. It holds no
// negotiation state: payloads are forwarded untouched.
type Hub struct {
	registry *registry.Registry
	presence Presence // nil when Redis is disabled
	log      logging.LeveledLogger
	opts     HubOptions

	mu      sync.RWMutex
	clients map[string]*Client

	chatSeq atomic.Uint64
	now     func() time.Time
}

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub(reg *registry.Registry, presence Presence, loggerFactory logging.LoggerFactory, opts HubOptions) *Hub {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultBuffer
	}
	return &Hub{
		registry: reg,
		presence: presence,
		log:      loggerFactory.NewLogger("relay"),
		opts:     opts,
		clients:  make(map[string]*Client),
		now:      time.Now,
	}
}

// HandleSignaling upgrades the request and serves one participant
func (h *Hub) HandleSignaling(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.log.Infof("Peer %s connected", client.ID)
	h.sendEvent(client, models.EventWelcome, models.Welcome{ParticipantID: client.ID})

	go h.writePump(client)
	go h.readPump(client)
}

// Connected reports how many clients currently hold a connection
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.disconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(h.opts.MaxMessageBytes)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warnf("WebSocket error from %s: %v", c.ID, err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			h.log.Debugf("Failed to parse message from %s: %v", c.ID, err)
			h.sendError(c, "malformed message")
			continue
		}
		h.dispatch(c, env)
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Debugf("Failed to write message to %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// dispatch performs the routing for one inbound event
func (h *Hub) dispatch(c *Client, env models.Envelope) {
	switch env.Event {
	case models.EventJoinRoom:
		var req models.RoomRequest
		if err := env.Decode(&req); err != nil || req.RoomID == "" {
			h.sendError(c, "join-room requires roomId")
			return
		}
		h.join(c, req.RoomID)

	case models.EventLeaveRoom:
		var req models.RoomRequest
		if err := env.Decode(&req); err != nil || req.RoomID == "" {
			h.sendError(c, "leave-room requires roomId")
			return
		}
		h.leave(c, req.RoomID)

	case models.EventOffer, models.EventAnswer, models.EventICECandidate:
		var sig models.Signal
		if err := env.Decode(&sig); err != nil {
			h.sendError(c, string(env.Event)+" is malformed")
			return
		}
		h.forward(c, env.Event, sig)

	case models.EventChatMessage:
		var msg models.ChatMessage
		if err := env.Decode(&msg); err != nil {
			h.sendError(c, "chat-message is malformed")
			return
		}
		h.chat(c, msg)

	default:
		h.log.Debugf("Unknown message type %q from %s", env.Event, c.ID)
		h.sendError(c, "unknown event "+strconv.Quote(string(env.Event)))
	}
}

func (h *Hub) join(c *Client, roomID string) {
	others, added := h.registry.Join(roomID, c.ID)

	list := models.ParticipantsList{Members: make([]models.Participant, 0, len(others))}
	for _, id := range others {
		list.Members = append(list.Members, models.NewParticipant(id))
	}
	h.sendEvent(c, models.EventParticipantsList, list)

	if !added {
		return
	}
	h.log.Infof("Peer %s joined room %s (%d others)", c.ID, roomID, len(others))
	h.broadcast(others, models.EventUserJoined, models.Presence{ParticipantID: c.ID})
	h.mirror(roomID, c.ID, true)
}

func (h *Hub) leave(c *Client, roomID string) {
	if !h.registry.Leave(roomID, c.ID) {
		return
	}
	h.log.Infof("Peer %s left room %s", c.ID, roomID)
	h.broadcast(h.registry.Members(roomID), models.EventUserLeft, models.Presence{ParticipantID: c.ID})
	h.mirror(roomID, c.ID, false)
}

// disconnect treats transport loss as leaving every joined room
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })

	for _, roomID := range h.registry.DropAll(c.ID) {
		h.broadcast(h.registry.Members(roomID), models.EventUserLeft, models.Presence{ParticipantID: c.ID})
		h.mirror(roomID, c.ID, false)
	}
	h.log.Infof("Peer %s disconnected", c.ID)
}

// forward relays a negotiation message to its target. The sender identity is
// always the connection's own id, whatever the client claimed.
func (h *Hub) forward(c *Client, event models.EventType, sig models.Signal) {
	target := sig.To
	if target == "" {
		h.log.Debugf("Dropping %s from %s without target", event, c.ID)
		return
	}

	h.mu.RLock()
	dst := h.clients[target]
	h.mu.RUnlock()
	if dst == nil {
		h.log.Debugf("Target peer %s not connected, dropping %s from %s", target, event, c.ID)
		return
	}

	h.sendEvent(dst, event, models.Signal{Payload: sig.Payload, From: c.ID})
}

func (h *Hub) chat(c *Client, msg models.ChatMessage) {
	members := h.registry.Members(msg.Room)
	if !slices.Contains(members, c.ID) {
		h.log.Debugf("Dropping chat from %s: not a member of %q", c.ID, msg.Room)
		return
	}

	if msg.ID == "" {
		msg.ID = strconv.FormatUint(h.chatSeq.Add(1), 10)
	}
	if msg.Timestamp == nil {
		ts := h.now().UTC()
		msg.Timestamp = &ts
	}
	msg.SenderID = c.ID

	h.broadcast(members, models.EventChatMessage, msg)
}

func (h *Hub) mirror(roomID, participantID string, joined bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
	defer cancel()

	var err error
	if joined {
		err = h.presence.Joined(ctx, roomID, participantID)
	} else {
		err = h.presence.Left(ctx, roomID, participantID)
	}
	if err != nil {
		h.log.Warnf("Presence mirror failed: %v", err)
	}
}

// broadcast encodes once and queues the same frame for every target
func (h *Hub) broadcast(targets []string, event models.EventType, v interface{}) {
	if len(targets) == 0 {
		return
	}
	data, ok := h.encode(event, v)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range targets {
		if client := h.clients[id]; client != nil {
			h.enqueue(client, data)
		}
	}
}

func (h *Hub) sendEvent(c *Client, event models.EventType, v interface{}) {
	if data, ok := h.encode(event, v); ok {
		h.enqueue(c, data)
	}
}

func (h *Hub) sendError(c *Client, message string) {
	h.sendEvent(c, models.EventError, models.ErrorMessage{Message: message})
}

func (h *Hub) encode(event models.EventType, v interface{}) ([]byte, bool) {
	env, err := models.NewEnvelope(event, v)
	if err != nil {
		h.log.Errorf("Failed to marshal message: %v", err)
		return nil, false
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Errorf("Failed to marshal message: %v", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) enqueue(c *Client, data []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.Send <- data:
	default:
		h.log.Warnf("Failed to send message to peer %s, buffer full", c.ID)
	}
}
