package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// MonitorRoom receives every event, for operator dashboards.
	MonitorRoom = "monitor"

	wsSendBuffer = 64
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 512
)

// AccountRoom is the room an account's own events are delivered to.
func AccountRoom(accountID string) string { return "account:" + accountID }

// WSHub manages WebSocket connections and room-based message delivery.
type WSHub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*WSConn // room -> connID -> conn
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// WSConn is one registered connection. Messages queued on Send are written
// by the connection's write loop.
type WSConn struct {
	ID    string
	Send  chan []byte
	rooms []string
	once  sync.Once
}

// NewWSConn creates a connection record with a buffered send queue.
func NewWSConn() *WSConn {
	return &WSConn{ID: uuid.NewString(), Send: make(chan []byte, wsSendBuffer)}
}

func (c *WSConn) close() { c.once.Do(func() { close(c.Send) }) }

// WSMessage is the payload sent over WebSocket.
type WSMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func marshalWS(evt domain.Event) ([]byte, error) {
	return json.Marshal(WSMessage{Event: string(evt.EventType), Data: evt})
}

// NewWSHub creates a hub. allowedOrigins is a comma-separated list; "*"
// accepts any origin.
func NewWSHub(allowedOrigins string, logger *slog.Logger) *WSHub {
	origins := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		origins[strings.TrimSpace(o)] = true
	}
	return &WSHub{
		rooms: make(map[string]map[string]*WSConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
		logger: logger,
	}
}

// Join adds a connection to rooms.
func (h *WSHub) Join(conn *WSConn, rooms ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[string]*WSConn)
		}
		h.rooms[room][conn.ID] = conn
	}
	conn.rooms = append(conn.rooms, rooms...)
}

// Leave removes a connection from all its rooms and closes its queue.
func (h *WSHub) Leave(conn *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range conn.rooms {
		if conns, ok := h.rooms[room]; ok {
			delete(conns, conn.ID)
			if len(conns) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	conn.close()
}

// Publish sends a message to all connections in a room. Slow consumers
// whose queue is full miss the message.
func (h *WSHub) Publish(room string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.rooms[room] {
		select {
		case conn.Send <- payload:
		default:
			h.logger.Warn("ws send buffer full", "conn_id", conn.ID, "room", room)
		}
	}
}

// Emit delivers events to the owning account's room and the monitor room.
func (h *WSHub) Emit(ctx context.Context, evts ...domain.Event) {
	for _, evt := range evts {
		payload, err := marshalWS(evt)
		if err != nil {
			h.logger.ErrorContext(ctx, "ws marshal error", "error", err, "event_id", evt.EventID)
			continue
		}
		if evt.AccountID != "" {
			h.Publish(AccountRoom(evt.AccountID), payload)
		}
		h.Publish(MonitorRoom, payload)
	}
}

// ServeWS upgrades the request and streams the given rooms' messages until
// the client goes away. Inbound messages are read only to process control
// frames.
func (h *WSHub) ServeWS(w http.ResponseWriter, r *http.Request, rooms ...string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	conn := NewWSConn()
	h.Join(conn, rooms...)
	h.logger.Info("ws connected", "conn_id", conn.ID, "rooms", rooms)

	go h.writeLoop(ws, conn)
	h.readLoop(ws, conn)
}

func (h *WSHub) readLoop(ws *websocket.Conn, conn *WSConn) {
	defer func() {
		h.Leave(conn)
		ws.Close()
		h.logger.Info("ws disconnected", "conn_id", conn.ID)
	}()

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws read error", "conn_id", conn.ID, "error", err)
			}
			return
		}
	}
}

func (h *WSHub) writeLoop(ws *websocket.Conn, conn *WSConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ConnectionCount returns the number of distinct registered connections.
func (h *WSHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, conns := range h.rooms {
		for id := range conns {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// RoomCount returns the number of active rooms.
func (h *WSHub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Shutdown closes every connection's queue, which makes its write loop send
// a close frame.
func (h *WSHub) Shutdown(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, conns := range h.rooms {
		for _, conn := range conns {
			conn.close()
		}
		delete(h.rooms, room)
	}
}
