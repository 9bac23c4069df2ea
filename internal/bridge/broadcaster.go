package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phrazzld/clinicdesk/internal/events"
)

// ErrTooManyConnections is returned by AddClient when the connection cap is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

// Envelope is the message written to clients for every published payload.
type Envelope struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// Config tunes a Broadcaster.
type Config struct {
	// MaxClients caps concurrent connections. Zero means unlimited.
	MaxClients int

	// SendBuffer is the number of envelopes queued per client before the
	// client is considered too slow and dropped.
	SendBuffer int

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration

	// AllowedOrigins are browser origins, besides the bridge's own host,
	// allowed to open /ws. Requests without an Origin header are not
	// browser requests and are always accepted.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		MaxClients:   32,
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
	}
}

// Client is one websocket connection registered with a Broadcaster.
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	once         sync.Once
	done         chan struct{}
}

func newClient(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *Client {
	c := &Client{
		conn:         conn,
		send:         make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *Client) writePump() {
	defer close(c.done)
	defer func() { _ = c.conn.Close() }()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Done is closed once the client's connection has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster fans bus deliveries out to websocket clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	cfg          Config
	logger       *slog.Logger
	unsubscribes []func()
}

// NewBroadcaster subscribes to every channel of bus.
func NewBroadcaster(bus *events.Bus, cfg Config, logger *slog.Logger) (*Broadcaster, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	b := &Broadcaster{
		clients: make(map[*Client]struct{}),
		cfg:     cfg,
		logger:  logger.With("component", "ws_broadcaster"),
	}

	for _, ch := range bus.Describe().Channels {
		unsubscribe, err := bus.SubscribeRaw(ch.Name, b.handle)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", ch.Name, err)
		}
		b.unsubscribes = append(b.unsubscribes, unsubscribe)
	}

	return b, nil
}

// AddClient registers conn and starts writing envelopes to it.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("broadcaster is closed")
	}
	if b.cfg.MaxClients > 0 && len(b.clients) >= b.cfg.MaxClients {
		return nil, ErrTooManyConnections
	}

	c := newClient(conn, b.cfg.SendBuffer, b.cfg.WriteTimeout)
	b.clients[c] = struct{}{}
	b.logger.Debug("websocket client added", "clients", len(b.clients))
	return c, nil
}

// RemoveClient unregisters c and closes its connection. It is safe to call
// more than once.
func (b *Broadcaster) RemoveClient(c *Client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Full reports whether the connection cap is reached.
func (b *Broadcaster) Full() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.MaxClients > 0 && len(b.clients) >= b.cfg.MaxClients
}

// Close unsubscribes from the bus and disconnects every client.
func (b *Broadcaster) Close() {
	for _, unsubscribe := range b.unsubscribes {
		unsubscribe()
	}

	b.mu.Lock()
	b.closed = true
	clients := b.clients
	b.clients = make(map[*Client]struct{})
	b.unsubscribes = nil
	b.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// handle runs on the consumer loop; it must not block.
func (b *Broadcaster) handle(_ context.Context, channel string, payload any) error {
	data, err := json.Marshal(Envelope{Channel: channel, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", channel, err)
	}
	b.broadcast(data)
	return nil
}

func (b *Broadcaster) broadcast(data []byte) {
	// Sends happen under the read lock so RemoveClient cannot close a send
	// channel mid-send. They never block.
	var slow []*Client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("websocket client too slow, disconnecting")
		b.RemoveClient(c)
	}
}
