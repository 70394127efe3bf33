package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"leveltwo/internal/auth"
	"leveltwo/internal/changefeed"
	"leveltwo/internal/metrics"
	"leveltwo/internal/model"
	"leveltwo/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// Tables that may be subscribed to.
var Tables = map[string]bool{
	"members":            true,
	"attendance":         true,
	"visits":             true,
	"member_assignments": true,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket subscription.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter changefeed.Filter
	userID string
}

// Hub fans change-feed events out to websocket clients whose filter matches.
type Hub struct {
	feed       changefeed.Feed
	log        logger.Logger
	metrics    *metrics.Metrics
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub builds a hub; m may be nil.
func NewHub(feed changefeed.Feed, log logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		feed:       feed,
		log:        log,
		metrics:    m,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done or the feed closes.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	events, err := h.feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.gauge()
			h.log.Debug("realtime client registered", "user", c.userID, "table", c.filter.Table, "date", c.filter.Date)
		case c := <-h.unregister:
			h.drop(c)
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			h.broadcast(evt)
		}
	}
}

func (h *Hub) broadcast(evt changefeed.Event) {
	if h.metrics != nil {
		h.metrics.FeedEvents.WithLabelValues(evt.Table, string(evt.Type)).Inc()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		h.log.InternalError("encode change event", err)
		return
	}
	for c := range h.clients {
		if !c.filter.Matches(evt) {
			continue
		}
		select {
		case c.send <- body:
		default:
			h.log.Warn("realtime client too slow, dropping", "user", c.userID)
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.gauge()
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		h.drop(c)
	}
}

func (h *Hub) gauge() {
	if h.metrics != nil {
		h.metrics.RealtimeClients.Set(float64(len(h.clients)))
	}
}

// ServeWS upgrades an authenticated request into a subscription scoped by the
// table and date query parameters.
func (h *Hub) ServeWS(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	filter := changefeed.Filter{Table: c.Query("table"), Date: c.Query("date")}
	if !Tables[filter.Table] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown table"})
		return
	}
	if filter.Date != "" && !model.ValidDate(filter.Date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	select {
	case <-h.done:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	default:
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.BusinessError("websocket upgrade failed", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		filter: filter,
		userID: claims.Subject,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only drains control frames; subscriptions are read-only.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected websocket close", "err", err, "user", c.userID)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
