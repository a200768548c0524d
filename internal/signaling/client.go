// Package signaling implements the reconnecting JSON-over-WebSocket client
// described in spec §4.B. It is grounded on the teacher's connection-handling
// idiom (one long-lived goroutine pumping inbound messages, typed outbound
// sends) generalized from the teacher's TCP/QUIC peer loop to a WebSocket,
// the wire transport the rest of the examples pack (sumanthd032-CollabText)
// uses for this kind of client/server signaling.
package signaling

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/scrapyard/internal/scraperr"
	"github.com/sirupsen/logrus"
)

const (
	baseReconnectDelay = 1 * time.Second
	maxReconnectDelay  = 30 * time.Second
	maxReconnectTries  = 10
)

// Message is the JSON envelope exchanged over the signaling socket, a
// superset of every outgoing and incoming type spec §4.B enumerates.
type Message struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId,omitempty"`
	To        string `json:"to,omitempty"`
	From      string `json:"from,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate any    `json:"candidate,omitempty"`
	PeerIDs   []string `json:"peerIds,omitempty"`
	Attempt   int      `json:"attempt,omitempty"`
}

// Client is a reconnecting WebSocket signaling connection. Subscriptions
// are per event-name (the message's Type field) and return an unsubscribe
// token, per the design note on explicit subscriber handles.
type Client struct {
	log *logrus.Entry

	url   string
	token string

	mu          sync.Mutex
	conn        *websocket.Conn
	peerID      string
	attempt     int
	closed      bool
	subscribers map[string]map[int]func(Message)
	nextSubID   int
}

// New constructs a client for wss://host/path?token={token}.
func New(log *logrus.Logger, signalingURL, token string) *Client {
	return &Client{
		log:         log.WithField("component", "signaling"),
		url:         signalingURL,
		token:       token,
		subscribers: make(map[string]map[int]func(Message)),
	}
}

// On registers handler for every inbound (or synthetic status) message
// whose Type equals eventType. The returned function removes it.
func (c *Client) On(eventType string, handler func(Message)) func() {
	c.mu.Lock()
	if c.subscribers[eventType] == nil {
		c.subscribers[eventType] = make(map[int]func(Message))
	}
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[eventType][id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers[eventType], id)
		c.mu.Unlock()
	}
}

func (c *Client) emit(msg Message) {
	c.mu.Lock()
	handlers := make([]func(Message), 0, len(c.subscribers[msg.Type]))
	for _, h := range c.subscribers[msg.Type] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Connect dials the signaling server, sends join{peerId}, and starts the
// read pump. A failure here is a TransportUnavailable error; failures on
// a subsequent reconnect instead drive the reconnect state machine.
func (c *Client) Connect(ctx context.Context, peerID string) error {
	c.mu.Lock()
	c.peerID = peerID
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", scraperr.ErrTransportUnavailable, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.attempt = 0
	c.closed = false
	c.mu.Unlock()

	go c.readLoop()

	return c.Send(Message{Type: "join", PeerID: peerID})
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// Send marshals msg as JSON and writes it to the socket.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: signaling socket not connected", scraperr.ErrTransportUnavailable)
	}
	return conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.log.WithError(err).Warn("signaling socket closed")
			c.handleDisconnect()
			return
		}
		c.emit(msg)
	}
}

func (c *Client) handleDisconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	for attempt := 1; attempt <= maxReconnectTries; attempt++ {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.attempt = attempt
		c.mu.Unlock()

		delay := time.Duration(math.Min(
			float64(baseReconnectDelay)*math.Pow(2, float64(attempt-1)),
			float64(maxReconnectDelay),
		))
		time.Sleep(delay)

		c.emit(Message{Type: "reconnecting", Attempt: attempt})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.log.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempt = 0
		peerID := c.peerID
		c.mu.Unlock()

		go c.readLoop()
		_ = c.Send(Message{Type: "join", PeerID: peerID})
		c.emit(Message{Type: "reconnected"})
		return
	}

	c.emit(Message{Type: "disconnected"})
}

// Close terminates the connection and stops any pending reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
