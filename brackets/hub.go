package brackets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	MessageBracketSnapshot = "BRACKET_SNAPSHOT"
	MessageError           = "ERROR"
)

const sportRoomPrefix = "sport_"

type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Room     string
	IsClosed bool
	Mu       sync.Mutex
}

type WebSocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	RoomID  string `json:"room_id,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// RoomFeed opens the data source behind a room. The hub opens a room when its
// first client joins and cancels it when the last one leaves. publish may be
// called from any goroutine until cancel returns.
type RoomFeed interface {
	SubscribeRoom(room string, publish func(message any)) (cancel func(), err error)
}

// Hub fans room messages out to websocket clients. Every room remembers its
// latest message so late joiners start from the current state.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	feed   RoomFeed
	logger *slog.Logger
	done   chan struct{}

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
	subs  map[string]func()
	last  map[string][]byte
}

func NewHub(feed RoomFeed, logger *slog.Logger) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		feed:       feed,
		logger:     logger,
		done:       make(chan struct{}),
		rooms:      make(map[string]map[*Client]bool),
		subs:       make(map[string]func()),
		last:       make(map[string][]byte),
	}
}

func SportRoom(sportID int) string {
	return sportRoomPrefix + strconv.Itoa(sportID)
}

func SportIDFromRoom(room string) (int, error) {
	raw, ok := strings.CutPrefix(room, sportRoomPrefix)
	if !ok {
		return 0, fmt.Errorf("room %q is not a sport room", room)
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("room %q has an invalid sport id", room)
	}
	return id, nil
}

// Run serves registrations until ctx is cancelled, then closes every client
// and room subscription.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		}
	}
}

// Join hands the client to the hub. It reports false once the hub stopped.
func (h *Hub) Join(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Leave(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	clients, exists := h.rooms[client.Room]
	if !exists {
		clients = make(map[*Client]bool)
		h.rooms[client.Room] = clients
	}
	clients[client] = true
	last := h.last[client.Room]
	total := len(clients)
	h.mu.Unlock()

	h.logger.Debug("client registered", slog.String("room", client.Room), slog.Int("clients", total))
	if last != nil {
		client.trySend(last)
	}
	if !exists {
		go h.openRoom(client.Room)
	}
}

func (h *Hub) openRoom(room string) {
	cancel, err := h.feed.SubscribeRoom(room, func(message any) {
		h.BroadcastToRoom(room, message)
	})
	if err != nil {
		h.logger.Error("failed to open room", slog.String("room", room), slog.Any("error", err))
		h.BroadcastToRoom(room, WebSocketMessage{Type: MessageError, Payload: "live updates unavailable", RoomID: room})
		return
	}

	h.mu.Lock()
	_, live := h.rooms[room]
	duplicate := h.subs[room] != nil
	if live && !duplicate {
		h.subs[room] = cancel
	}
	h.mu.Unlock()

	if !live || duplicate {
		cancel()
		return
	}
	h.logger.Info("room opened", slog.String("room", room))
}

func (h *Hub) unregister(client *Client) {
	var cancel func()

	h.mu.Lock()
	if clients, ok := h.rooms[client.Room]; ok && clients[client] {
		client.close()
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, client.Room)
			delete(h.last, client.Room)
			cancel = h.subs[client.Room]
			delete(h.subs, client.Room)
		}
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		h.logger.Info("room closed as it is empty", slog.String("room", client.Room))
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	cancels := make([]func(), 0, len(h.subs))
	for room, clients := range h.rooms {
		for client := range clients {
			client.close()
		}
		delete(h.rooms, room)
	}
	for room, cancel := range h.subs {
		cancels = append(cancels, cancel)
		delete(h.subs, room)
	}
	clear(h.last)
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// BroadcastToRoom sends message to every client of the room and remembers it
// for clients that join later. A client that is behind loses its oldest
// queued message, never the newest.
func (h *Hub) BroadcastToRoom(roomID string, message any) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal room message", slog.String("room", roomID), slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	roomClients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	h.last[roomID] = messageBytes
	for client := range roomClients {
		client.trySend(messageBytes)
	}
}

// ClientCount returns the number of clients in a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (c *Client) trySend(message []byte) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.IsClosed {
		return
	}
	select {
	case c.Send <- message:
		return
	default:
	}
	select {
	case <-c.Send:
	default:
	}
	select {
	case c.Send <- message:
	default:
	}
}

func (c *Client) close() {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if !c.IsClosed {
		close(c.Send)
		c.IsClosed = true
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Leave(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("websocket closed unexpectedly", slog.String("room", c.Room), slog.Any("error", err))
			}
			return
		}
	}
}

// WritePump delivers queued messages. When several are queued only the newest
// is written, since each message is a full snapshot.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			open := ok
			for open && len(c.Send) > 0 {
				var next []byte
				if next, open = <-c.Send; open {
					message = next
				}
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if message != nil {
				if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
					c.Hub.logger.Debug("failed to write to client", slog.String("room", c.Room), slog.Any("error", err))
					return
				}
			}
			if !open {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
