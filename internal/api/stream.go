package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"nifty-engine/internal/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub fans Redis pub/sub messages (indicator revisions, order transitions,
// position snapshots) out to WebSocket clients. Each client first gets the
// latest message per channel, or a replay since the sequence number it
// last saw.
type Hub struct {
	rdb     *goredis.Client
	pattern string
	log     *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[string][]byte // channel -> last payload
	seq     int64
	replay  *ReplayBuffer
}

// NewHub creates a hub. rdb may be nil when messages are fed through
// Broadcast directly.
func NewHub(rdb *goredis.Client, replaySize int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rdb:     rdb,
		pattern: "pub:*",
		log:     logger.Component(log, "stream"),
		now:     time.Now,
		clients: make(map[*client]struct{}),
		latest:  make(map[string][]byte),
		replay:  NewReplayBuffer(replaySize),
	}
}

// Run subscribes to the publisher's channels and broadcasts every message.
// Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	pubsub := h.rdb.PSubscribe(ctx, h.pattern)
	defer pubsub.Close()
	h.log.Info("subscribed", "pattern", h.pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Broadcast wraps data in an envelope and queues it on every client whose
// filter matches. Slow clients drop messages rather than block the hub.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	env := envelope(channel, data, h.now().UTC(), seq, false)
	h.latest[channel] = data
	h.replay.Push(seq, env)
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
	h.mu.Unlock()
}

// envelope hand-builds {"channel":..,"data":..,"ts":..,"seq":N}.
func envelope(channel string, data []byte, ts time.Time, seq int64, initial bool) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}

// ServeWS upgrades the request. Query parameters:
//
//	channels=pub:orders,pub:ind:   comma-separated channel prefixes (default all)
//	since=N                        replay envelopes after seq N instead of the latest state
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var prefixes []string
	if v := q.Get("channels"); v != "" {
		prefixes = strings.Split(v, ",")
	}
	since := int64(-1)
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}
	conn.EnableWriteCompression(true)

	c := &client{conn: conn, send: make(chan []byte, 256), hub: h, prefixes: prefixes}

	h.mu.Lock()
	if since >= 0 {
		entries, complete := h.replay.Since(since)
		if !complete {
			h.log.Info("replay truncated", "since", since)
		}
		for _, e := range entries {
			if c.wants(channelOf(e.Data)) {
				c.queue(e.Data)
			}
		}
	} else {
		channels := make([]string, 0, len(h.latest))
		for ch := range h.latest {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		now := h.now().UTC()
		for _, ch := range channels {
			if c.wants(ch) {
				c.queue(envelope(ch, h.latest[ch], now, h.seq, true))
			}
		}
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", count, "since", since)
	go c.writePump()
	go c.readPump()
}

// channelOf reads the channel back out of an envelope.
func channelOf(env []byte) string {
	var head struct {
		Channel string `json:"channel"`
	}
	_ = json.Unmarshal(env, &head)
	return head.Channel
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// deliver queues msg on c unless c was already removed.
func (h *Hub) deliver(c *client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.queue(msg)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// client is one WebSocket peer.
type client struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	prefixes []string
}

func (c *client) wants(channel string) bool {
	if len(c.prefixes) == 0 {
		return true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(channel, p) {
			return true
		}
	}
	return false
}

func (c *client) queue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		c.hub.log.Debug("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ping struct {
			Ping int64 `json:"ping"`
		}
		if json.Unmarshal(msg, &ping) == nil && ping.Ping > 0 {
			pong, _ := json.Marshal(map[string]any{
				"type":      "pong",
				"ping":      ping.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			c.hub.deliver(c, pong)
		}
	}
}
