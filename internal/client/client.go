// Package client implements the websocket side spoken by controlled
// devices and controllers. The Client handles transport concerns: dial,
// announce, heartbeats, reconnect. Role behavior lives in Agent and
// Controller.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rdrelay/internal/protocol"
)

// Handler receives inbound messages. Calls happen from the read loop,
// one at a time.
type Handler interface {
	OnConnected(c *Client)
	OnMessage(c *Client, m *protocol.Message)
	OnDisconnected(c *Client, err error)
}

type Options struct {
	URL          string
	DeviceID     string
	Name         string
	Role         string
	Capabilities map[string]string

	Username string
	Password string

	HeartbeatInterval time.Duration
	SendQueueDepth    int
	DialTimeout       time.Duration

	// MaxBackoff caps the reconnect delay. Reconnect starts at one
	// second and doubles per failed attempt.
	MaxBackoff time.Duration

	Log *zap.Logger
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.SendQueueDepth <= 0 {
		o.SendQueueDepth = 256
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

type Client struct {
	opts    Options
	handler Handler

	mu    sync.Mutex
	queue chan *protocol.Message
	conn  *websocket.Conn
}

func New(opts Options, handler Handler) *Client {
	opts.setDefaults()
	return &Client{opts: opts, handler: handler}
}

// Send queues a message for delivery on the current connection. It
// never blocks: a full queue returns an error and the message is
// dropped.
func (c *Client) Send(m *protocol.Message) error {
	c.mu.Lock()
	queue := c.queue
	c.mu.Unlock()
	if queue == nil {
		return errors.New("not connected")
	}
	select {
	case queue <- m:
		return nil
	default:
		return errors.New("send queue full")
	}
}

// SendPayload builds a message and queues it.
func (c *Client) SendPayload(t protocol.Type, payload interface{}) error {
	m, err := protocol.New(t, payload)
	if err != nil {
		return err
	}
	return c.Send(m)
}

// Run connects and serves until ctx is cancelled, reconnecting with
// exponential backoff after every failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.handler.OnDisconnected(c, err)
		c.opts.Log.Warn("connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.DialTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	queue := make(chan *protocol.Message, c.opts.SendQueueDepth)
	c.mu.Lock()
	c.conn = conn
	c.queue = queue
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.queue = nil
		c.mu.Unlock()
	}()

	writeDone := make(chan error, 1)
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		writeDone <- c.writeLoop(loopCtx, conn, queue)
	}()

	if err := c.announce(queue); err != nil {
		return err
	}
	c.handler.OnConnected(c)

	for {
		select {
		case err := <-writeDone:
			return err
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m, err := protocol.Decode(data)
		if err != nil {
			c.opts.Log.Warn("dropping undecodable message", zap.Error(err))
			continue
		}
		c.handler.OnMessage(c, m)
	}
}

func (c *Client) announce(queue chan *protocol.Message) error {
	m, err := protocol.New(protocol.TypeConnect, protocol.DeviceInfo{
		DeviceID:     c.opts.DeviceID,
		Name:         c.opts.Name,
		Role:         c.opts.Role,
		Capabilities: c.opts.Capabilities,
	})
	if err != nil {
		return err
	}
	queue <- m

	if c.opts.Username != "" {
		m, err := protocol.New(protocol.TypeAuth, protocol.Auth{
			Username: c.opts.Username,
			Password: c.opts.Password,
		})
		if err != nil {
			return err
		}
		queue <- m
	}
	return nil
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, queue chan *protocol.Message) error {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	write := func(m *protocol.Message) error {
		data, err := protocol.Encode(m)
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-queue:
			if err := write(m); err != nil {
				conn.Close()
				return err
			}
		case <-ticker.C:
			m, err := protocol.New(protocol.TypeHeartbeat, protocol.Heartbeat{
				Timestamp: time.Now().UnixMilli(),
			})
			if err != nil {
				return err
			}
			if err := write(m); err != nil {
				conn.Close()
				return err
			}
		}
	}
}
