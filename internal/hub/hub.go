package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

var (
	ErrClosed        = errors.New("hub closed")
	ErrUnknownClient = errors.New("client not registered")
)

// Config holds WebSocket tunables.
type Config struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// Feed produces the messages of one topic. It is started when the first
// client joins the topic and stopped when the last one leaves; publish must
// not be called after stop returns.
type Feed func(ctx context.Context, topic string, publish func(message interface{})) (stop func(), err error)

// Client is a connected WebSocket viewer.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
}

// NewClient creates a client for conn.
func (h *Hub) NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{ID: id, Hub: h, Conn: conn, Send: make(chan []byte, h.config.SendBuffer)}
}

type topic struct {
	clients map[string]*Client
	stop    func()
	last    []byte
}

// TopicMessage is a message for every client of a topic.
type TopicMessage struct {
	Topic   string
	Message []byte
}

// Hub fans topic messages out to WebSocket clients.
type Hub struct {
	config Config
	feed   Feed
	logger zerolog.Logger

	clients    map[string]*Client
	topics     map[string]*topic
	unregister chan *Client
	broadcast  chan *TopicMessage
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(cfg Config, feed Feed) *Hub {
	return &Hub{
		config:     cfg.withDefaults(),
		feed:       feed,
		logger:     log.Component("hub"),
		clients:    make(map[string]*Client),
		topics:     make(map[string]*topic),
		unregister: make(chan *Client),
		broadcast:  make(chan *TopicMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns after Close.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *TopicMessage) {
	var slow []*Client

	h.mu.Lock()
	t, ok := h.topics[msg.Topic]
	if ok {
		t.last = msg.Message
		for _, client := range t.clients {
			select {
			case client.Send <- msg.Message:
			default:
				slow = append(slow, client)
			}
		}
	}
	h.mu.Unlock()

	for _, client := range slow {
		h.logger.Warn().Str("client_id", client.ID).Msg("client send buffer full, dropping client")
		h.removeClient(client)
	}
}

func (h *Hub) removeClient(client *Client) {
	var stops []func()

	h.mu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		for name, t := range h.topics {
			if _, in := t.clients[client.ID]; !in {
				continue
			}
			delete(t.clients, client.ID)
			if len(t.clients) == 0 {
				delete(h.topics, name)
				if t.stop != nil {
					stops = append(stops, t.stop)
				}
			}
		}
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.mu.Unlock()

	// Feeds are stopped outside the lock; a feed may be publishing.
	for _, stop := range stops {
		go stop()
	}
	h.logger.Debug().Str("client_id", client.ID).Msg("client unregistered")
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	h.clients[client.ID] = client
	h.logger.Debug().Str("client_id", client.ID).Msg("client registered")
	return nil
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Join subscribes client to name. The first client of a topic starts its
// feed; later clients get the latest message straight away.
func (h *Hub) Join(ctx context.Context, client *Client, name string) error {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return ErrUnknownClient
	}
	t, ok := h.topics[name]
	if ok {
		t.clients[client.ID] = client
		if t.last != nil {
			select {
			case client.Send <- t.last:
			default:
			}
		}
		h.mu.Unlock()
		return nil
	}

	t = &topic{clients: map[string]*Client{client.ID: client}}
	h.topics[name] = t
	h.mu.Unlock()

	stop, err := h.feed(ctx, name, func(message interface{}) {
		h.Publish(name, message)
	})
	if err != nil {
		h.mu.Lock()
		if h.topics[name] == t {
			delete(h.topics, name)
		}
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	if h.topics[name] == t {
		t.stop = stop
		stop = nil
	}
	h.mu.Unlock()

	// Everyone left while the feed was starting.
	if stop != nil {
		stop()
	}

	h.logger.Info().Str("client_id", client.ID).Str("topic", name).Msg("topic feed started")
	return nil
}

// Publish sends message to every client of topic.
func (h *Hub) Publish(topic string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal message")
		return
	}

	select {
	case h.broadcast <- &TopicMessage{Topic: topic, Message: data}:
	case <-h.done:
	}
}

// Topics returns the number of topics with at least one client.
func (h *Hub) Topics() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// Close stops the hub, every feed and every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		close(h.done)
		topics := h.topics
		h.topics = make(map[string]*topic)
		for id, c := range h.clients {
			close(c.Send)
			delete(h.clients, id)
		}
		h.mu.Unlock()

		for _, t := range topics {
			if t.stop != nil {
				t.stop()
			}
		}
	})
}

// ReadPump reads from the connection until it fails. Viewers only send
// pings; any text message is answered with a pong.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
		return nil
	})

	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error().Err(err).Str("client_id", c.ID).Msg("websocket error")
			}
			return
		}
		c.SendMessage(map[string]string{"type": "pong"})
	}
}

// WritePump pumps messages from the hub to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues a message for the client, dropping it if the buffer
// is full.
func (c *Client) SendMessage(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if _, ok := c.Hub.clients[c.ID]; !ok {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}
