package progress

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/timmy/outreach/internal/config"
	"github.com/timmy/outreach/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Hub fans progress events out to websocket connections.
type Hub struct {
	mu         sync.RWMutex
	conns      map[*hubConn]struct{}
	closed     bool
	upgrader   websocket.Upgrader
	sendBuffer int
	log        *logger.Logger
}

type hubConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	topics map[string]struct{}

	closeOnce sync.Once
}

// NewHub creates a hub.
// Parameters:
//   - cfg: progress configuration; SendBuffer bounds per-connection queues.
//   - log: logger for connection lifecycle; nil uses the default logger.
//
// Returns:
//   - *Hub: hub ready to serve connections.
func NewHub(cfg config.ProgressConfig, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetDefault()
	}
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 64
	}
	return &Hub{
		conns:      make(map[*hubConn]struct{}),
		sendBuffer: buf,
		log:        log.WithField(logger.FieldComponent, "progress_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetOriginCheck restricts which browser origins may open the channel.
// Requests without an Origin header (non-browser clients) are always allowed.
// Call before serving.
func (h *Hub) SetOriginCheck(allow func(origin string) bool) {
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allow(origin)
	}
}

// Handle upgrades the request to a websocket and serves it until the peer leaves.
func (h *Hub) Handle(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = "anon_" + uuid.NewString()
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).WithField(logger.FieldClientID, clientID).Warn("Websocket upgrade failed")
		return
	}

	conn := &hubConn{
		id:     clientID,
		ws:     ws,
		send:   make(chan []byte, h.sendBuffer),
		topics: make(map[string]struct{}),
	}
	if !h.register(conn) {
		_ = ws.Close()
		return
	}
	h.log.WithField(logger.FieldClientID, clientID).Info("Progress client connected")

	go h.writePump(conn)
	h.readPump(conn)
}

func (h *Hub) register(conn *hubConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Hub) unregister(conn *hubConn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()

	if ok {
		conn.closeOnce.Do(func() { close(conn.send) })
		h.log.WithField(logger.FieldClientID, conn.id).Info("Progress client disconnected")
	}
}

// readPump consumes subscribe and unsubscribe intents until the connection fails.
func (h *Hub) readPump(conn *hubConn) {
	defer func() {
		h.unregister(conn)
		_ = conn.ws.Close()
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var intent Intent
		if err := conn.ws.ReadJSON(&intent); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).WithField(logger.FieldClientID, conn.id).Debug("Progress connection closed")
			}
			return
		}
		if intent.Topic == "" {
			continue
		}

		conn.mu.Lock()
		switch intent.Action {
		case ActionSubscribe:
			conn.topics[intent.Topic] = struct{}{}
		case ActionUnsubscribe:
			delete(conn.topics, intent.Topic)
		}
		conn.mu.Unlock()

		h.log.WithFields(logger.Fields{
			logger.FieldClientID: conn.id,
			"action":             intent.Action,
			"topic":              intent.Topic,
		}).Debug("Subscription intent")
	}
}

func (h *Hub) writePump(conn *hubConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubConn) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

// Publish delivers evt to every connection subscribed to its topic, or to
// every connection for broadcast kinds. Slow connections drop the event.
func (h *Hub) Publish(evt Event) {
	topic := evt.Topic()
	if topic == "" {
		h.log.WithField("type", string(evt.Type)).Debug("Dropping event without topic")
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal progress event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns {
		if !evt.Type.Broadcast() && !conn.subscribed(topic) {
			continue
		}
		select {
		case conn.send <- payload:
		default:
			h.log.WithFields(logger.Fields{
				logger.FieldClientID: conn.id,
				"topic":              topic,
			}).Warn("Progress client too slow, event dropped")
		}
	}
}

// Connections returns the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := h.conns
	h.conns = make(map[*hubConn]struct{})
	h.mu.Unlock()

	for conn := range conns {
		conn.closeOnce.Do(func() { close(conn.send) })
	}
}

// subscribers counts connections subscribed to topic.
func (h *Hub) subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for conn := range h.conns {
		if conn.subscribed(topic) {
			n++
		}
	}
	return n
}
