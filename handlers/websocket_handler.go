package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/Dosada05/league-portal/brackets"
	"github.com/Dosada05/league-portal/services"
)

// LiveRoomFeed backs hub rooms with live bracket sessions.
type LiveRoomFeed struct {
	bracketService services.BracketService
}

func NewLiveRoomFeed(bracketService services.BracketService) *LiveRoomFeed {
	return &LiveRoomFeed{bracketService: bracketService}
}

func (f *LiveRoomFeed) SubscribeRoom(room string, publish func(message any)) (func(), error) {
	sportID, err := brackets.SportIDFromRoom(room)
	if err != nil {
		return nil, err
	}
	return f.bracketService.SubscribeLive(sportID, func(snap *services.Snapshot) {
		publish(brackets.WebSocketMessage{
			Type:    brackets.MessageBracketSnapshot,
			Payload: snap,
			RoomID:  room,
		})
	})
}

type WebSocketHandler struct {
	responder
	hub      *brackets.Hub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler accepts browser connections from allowedOrigins. A "*"
// entry allows any origin.
func NewWebSocketHandler(hub *brackets.Hub, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		responder: responder{logger: logger},
		hub:       hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}
		// Same-host pages are always allowed.
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// ServeWs streams BRACKET_SNAPSHOT messages of one sport. Clients connect to
// /ws/sports/{sportID} and first receive the current snapshot.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	sportID, err := getIDFromURL(r, "sportID")
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn("failed to upgrade websocket connection", slog.Int("sport_id", sportID), slog.Any("error", err))
		return
	}

	client := &brackets.Client{
		Hub:  h.hub,
		Conn: conn,
		Send: make(chan []byte, 16),
		Room: brackets.SportRoom(sportID),
	}
	if !h.hub.Join(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
	h.logger.Debug("websocket client connected", slog.String("room", client.Room))
}
