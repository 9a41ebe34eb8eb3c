// Package realtime delivers live updates to connected dashboard clients over
// websockets. The hub is the concrete notification sink for the ingestion
// engine: publishes are fire-and-forget through a bounded queue with a
// drop-oldest overflow policy, so a slow subscriber can never stall
// ingestion.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lenko-d/workforce-monitoring-agent/internal/engine"
	"github.com/lenko-d/workforce-monitoring-agent/internal/observability"
	"github.com/lenko-d/workforce-monitoring-agent/internal/telemetry"
)

// Ingestor accepts agent payloads arriving over the websocket transport.
// Both transports funnel through the same dispatch path.
type Ingestor interface {
	Ingest(raw map[string]any) engine.Ack
}

// Config configures the hub.
type Config struct {
	QueueSize    int           `yaml:"queue_size"`
	ClientBuffer int           `yaml:"client_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DefaultConfig returns the stock hub settings.
func DefaultConfig() Config {
	return Config{
		QueueSize:    256,
		ClientBuffer: 32,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// envelope is the wire format pushed to clients.
type envelope struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// clientMessage is the wire format clients send to the hub.
type clientMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans published messages out to every connected client.
type Hub struct {
	cfg      Config
	ingestor Ingestor
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader

	queue chan envelope

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a hub. ingestor and metrics may be nil.
func New(cfg Config, ingestor Ingestor, metrics *observability.Metrics, logger *zap.Logger) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 32
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:      cfg,
		ingestor: ingestor,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dashboards are served from arbitrary origins in deployments.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		queue:   make(chan envelope, cfg.QueueSize),
		clients: make(map[*client]struct{}),
	}
}

// SetIngestor wires the dispatch target for agent submissions arriving over
// websocket. Called once during startup, before the hub accepts clients.
func (h *Hub) SetIngestor(ing Ingestor) { h.ingestor = ing }

// Run pumps the broadcast queue until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.queue:
			h.broadcast(msg)
		}
	}
}

// Sink implementation. These run inline on the ingestion path and must not
// block: publish drops the oldest queued message on overflow.

// OnUpdate publishes the generic per-event update.
func (h *Hub) OnUpdate(kind telemetry.Kind, raw map[string]any) {
	h.publish("data_update", map[string]any{"type": string(kind), "data": raw})
}

// OnAlert publishes a stored alert.
func (h *Hub) OnAlert(alert telemetry.Alert) {
	h.publish("alert", alert)
}

// OnPatternsBatch publishes the batch summary for a behavior_patterns
// envelope.
func (h *Hub) OnPatternsBatch(user string, count int, batchTimestamp string) {
	h.publish("behavior_patterns_update", map[string]any{
		"user":            user,
		"pattern_count":   count,
		"batch_timestamp": batchTimestamp,
	})
}

func (h *Hub) publish(channel string, payload any) {
	msg := envelope{Channel: channel, Payload: payload}
	for {
		select {
		case h.queue <- msg:
			return
		default:
		}
		// Queue full: evict the oldest message and retry.
		select {
		case <-h.queue:
			if h.metrics != nil {
				h.metrics.PushDropped.Inc()
			}
		default:
		}
	}
}

func (h *Hub) broadcast(msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("failed to encode realtime message", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
			if h.metrics != nil {
				h.metrics.PushDelivered.WithLabelValues(msg.Channel).Inc()
			}
		default:
			// Slow client: drop the message for this client only.
			if h.metrics != nil {
				h.metrics.PushDropped.Inc()
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket, registers the client, and
// reads agent_data messages until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.cfg.ClientBuffer)}
	h.register(c)
	defer h.unregister(c)

	go h.writeLoop(c)

	// Connection greeting, mirroring the original server's status emit.
	h.sendTo(c, envelope{Channel: "status", Payload: map[string]string{
		"message": "Connected to Workforce Monitoring Server",
	}})

	h.readLoop(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.PushClients.Set(float64(n))
	}
	h.logger.Debug("dashboard client connected", zap.Int("clients", n))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	c.conn.Close()
	if h.metrics != nil {
		h.metrics.PushClients.Set(float64(n))
	}
	h.logger.Debug("dashboard client disconnected", zap.Int("clients", n))
}

// closeAll force-closes every connection. Each connection goroutine's
// deferred unregister is the sole closer of its send channel: closing it
// here would race with a greeting or ack send still in flight on that
// goroutine. Closing the conn unblocks its readLoop, and unregister does
// the rest.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (h *Hub) sendTo(c *client, msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readLoop handles inbound messages. Agents may submit telemetry over the
// persistent connection; those payloads go through the same Ingest path as
// HTTP submissions, and the ack is returned on an ack channel.
func (h *Hub) readLoop(c *client) {
	// A peer that answers neither pings nor sends data within two ping
	// intervals is considered gone.
	wait := 2 * h.cfg.PingInterval
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wait))
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed websocket message", zap.Error(err))
			continue
		}
		if msg.Event == "agent_data" && h.ingestor != nil && msg.Data != nil {
			ack := h.ingestor.Ingest(msg.Data)
			h.sendTo(c, envelope{Channel: "ack", Payload: ack})
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.cfg.WriteTimeout))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
