package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtchat/client/api"
	"rtchat/protocol"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
	maxFrameSize        = 512 * 1024
)

// Sink receives every inbound event in arrival order, including the
// synthesized connect and disconnect.
type Sink func(protocol.Envelope)

// Client is the push channel: one websocket per session.
type Client struct {
	sink         Sink
	log          *zap.Logger
	pingInterval time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}

	sendMu sync.Mutex
}

func New(sink Sink, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		sink:         sink,
		log:          log.Named("transport"),
		pingInterval: defaultPingInterval,
	}
}

// Endpoint derives the websocket URL from the HTTP server root.
func Endpoint(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", errors.Wrap(err, "parse server url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Connect opens the push channel authenticated with token.
func (c *Client) Connect(ctx context.Context, serverURL, token string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	conn, err := c.dialLocked(ctx, serverURL, token)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	done := make(chan struct{})
	c.conn, c.done = conn, done
	c.mu.Unlock()

	// connect is delivered before the read loop can deliver anything else.
	c.sink(protocol.Envelope{Event: protocol.EventConnect})
	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)
	return nil
}

func (c *Client) dialLocked(ctx context.Context, serverURL, token string) (*websocket.Conn, error) {
	endpoint, err := Endpoint(serverURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Wrap(api.ErrUnauthorized, "connect")
		}
		return nil, errors.Wrap(err, "connect")
	}
	conn.SetReadLimit(maxFrameSize)

	pongWait := 2 * c.pingInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.log.Info("connected", zap.String("endpoint", endpoint))
	return conn, nil
}

// Disconnect closes the channel and reports the disconnect before
// returning, so it always precedes the connect of a later Connect.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn, c.done = nil, nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	close(done)
	c.sink(protocol.Envelope{Event: protocol.EventDisconnect})

	c.sendMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	c.sendMu.Unlock()
	return conn.Close()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// readLoop decodes frames until the connection fails or is closed. It
// reports the disconnect only while conn is still the current connection;
// otherwise Disconnect has already done so.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		owner := c.conn == conn
		if owner {
			c.conn, c.done = nil, nil
			close(done)
		}
		c.mu.Unlock()
		conn.Close()
		if owner {
			c.sink(protocol.Envelope{Event: protocol.EventDisconnect})
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("connection lost", zap.Error(err))
			} else {
				c.log.Info("connection closed")
			}
			return
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			c.log.Warn("dropping invalid frame", zap.Int("size", len(frame)), zap.Error(err))
			continue
		}
		c.sink(env)
	}
}

// pingLoop sends periodic pings so a dead peer is noticed by the read
// deadline.
func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.sendMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.sendMu.Unlock()
			if err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Send writes one event frame.
func (c *Client) Send(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", event)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Wrapf(err, "write %s", event)
	}
	return nil
}

func (c *Client) SendMessage(content, recipientID, tempID string) error {
	return c.Send(protocol.EventSendMessage, protocol.SendMessage{
		Content:     content,
		RecipientID: recipientID,
		TempID:      tempID,
	})
}

func (c *Client) EditMessage(messageID, content string) error {
	return c.Send(protocol.EventEditMessage, protocol.EditMessage{MessageID: messageID, Content: content})
}

func (c *Client) DeleteMessage(messageID string) error {
	return c.Send(protocol.EventDeleteMessage, protocol.DeleteMessage{MessageID: messageID})
}

func (c *Client) StartTyping(recipientID string) error {
	return c.Send(protocol.EventTypingStart, protocol.TypingSignal{RecipientID: recipientID})
}

func (c *Client) StopTyping(recipientID string) error {
	return c.Send(protocol.EventTypingStop, protocol.TypingSignal{RecipientID: recipientID})
}
