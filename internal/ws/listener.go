package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"smartparking/internal/models"
)

// ConnState is the live connection status reported upward.
type ConnState string

// Connection states. closed is terminal; there is no automatic reconnect.
const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

const maxMessageSize = 64 * 1024

// Event is delivered to a Handler. Exactly one of Tick or State is meaningful.
type Event struct {
	SessionID string
	State     ConnState
	Tick      *models.Tick
}

// Handler receives events for one subscription. ctx is cancelled as soon as the subscription
// starts closing; handlers that block must select on it.
type Handler func(ctx context.Context, ev Event)

// Subscription is a handle on one live connection.
type Subscription interface {
	SessionID() string
	State() ConnState
	// Close tears down the connection. When it returns no further handler calls happen.
	// Closing twice is a no-op.
	Close()
}

// TokenSource supplies the bearer token attached at connect time.
type TokenSource interface {
	Token() string
}

// ListenerConfig configures the live tick listener.
type ListenerConfig struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	// IdleTimeout closes the connection when no frame or ping arrives in time. Zero leaves
	// it to the transport.
	IdleTimeout time.Duration
}

// Listener opens live tick connections scoped to a single session id.
type Listener struct {
	baseURL     string
	tokens      TokenSource
	dialer      *websocket.Dialer
	idleTimeout time.Duration
	logger      *zap.Logger
}

// NewListener builds listener.
func NewListener(cfg ListenerConfig, tokens TokenSource, logger *zap.Logger) *Listener {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Listener{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		idleTimeout: cfg.IdleTimeout,
		logger:      logger,
	}
}

// SessionURL returns the push address for a session, with the token query parameter when present.
func (l *Listener) SessionURL(sessionID string) string {
	u := l.baseURL + "/sessions/ws/sessions/" + url.PathEscape(sessionID)
	if token := l.token(); token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func (l *Listener) token() string {
	if l.tokens == nil {
		return ""
	}
	return l.tokens.Token()
}

// Open starts connecting in the background and returns immediately. The handler sees
// connecting, then open, then closed unless Close is called first.
func (l *Listener) Open(ctx context.Context, sessionID string, handler Handler) Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	conn := &Connection{
		sessionID: sessionID,
		ctx:       subCtx,
		cancel:    cancel,
		handler:   handler,
		state:     StateConnecting,
		done:      make(chan struct{}),
		logger:    l.logger.With(zap.String("session_id", sessionID)),
	}
	go l.run(conn)
	return conn
}

func (l *Listener) run(c *Connection) {
	defer close(c.done)

	c.emit(Event{SessionID: c.sessionID, State: StateConnecting})

	header := http.Header{}
	if token := l.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	wsConn, resp, err := l.dialer.DialContext(c.ctx, l.SessionURL(c.sessionID), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("live connection handshake failed", zap.Error(err))
		c.finish()
		return
	}
	if !c.attach(wsConn) {
		_ = wsConn.Close()
		return
	}

	c.setState(StateOpen)
	c.emit(Event{SessionID: c.sessionID, State: StateOpen})
	l.readPump(c, wsConn)
}

func (l *Listener) readPump(c *Connection, wsConn *websocket.Conn) {
	defer c.finish()
	wsConn.SetReadLimit(maxMessageSize)
	l.extendDeadline(wsConn)
	wsConn.SetPingHandler(func(appData string) error {
		l.extendDeadline(wsConn)
		err := wsConn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		msgType, message, err := wsConn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Info("live connection read closed", zap.Error(err))
			}
			return
		}
		l.extendDeadline(wsConn)
		if msgType != websocket.TextMessage {
			continue
		}

		tick, err := ParseTick(c.sessionID, message)
		if err != nil {
			c.logger.Debug("discarding live message", zap.Error(err), zap.ByteString("payload", message))
			continue
		}
		c.emit(Event{SessionID: c.sessionID, Tick: &tick})
	}
}

func (l *Listener) extendDeadline(wsConn *websocket.Conn) {
	if l.idleTimeout > 0 {
		_ = wsConn.SetReadDeadline(time.Now().Add(l.idleTimeout))
	}
}

// Connection is one live subscription.
type Connection struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	handler   Handler
	logger    *zap.Logger
	done      chan struct{}

	// cbMu serialises handler calls against Close.
	cbMu   sync.Mutex
	closed bool

	mu    sync.Mutex
	state ConnState
	ws    *websocket.Conn
}

// SessionID returns the session the connection is scoped to.
func (c *Connection) SessionID() string {
	return c.sessionID
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the background goroutine has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close implements Subscription.
func (c *Connection) Close() {
	c.cancel()

	c.cbMu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.cbMu.Unlock()
	if alreadyClosed {
		return
	}

	c.mu.Lock()
	c.state = StateClosed
	wsConn := c.ws
	c.ws = nil
	c.mu.Unlock()

	if wsConn != nil {
		deadline := time.Now().Add(time.Second)
		_ = wsConn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = wsConn.Close()
	}
}

func (c *Connection) attach(wsConn *websocket.Conn) bool {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	if c.closed {
		return false
	}
	c.mu.Lock()
	c.ws = wsConn
	c.mu.Unlock()
	return true
}

func (c *Connection) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// finish handles a handshake failure, remote close or network drop.
func (c *Connection) finish() {
	c.mu.Lock()
	c.state = StateClosed
	wsConn := c.ws
	c.ws = nil
	c.mu.Unlock()
	if wsConn != nil {
		_ = wsConn.Close()
	}
	c.emit(Event{SessionID: c.sessionID, State: StateClosed})
}

func (c *Connection) emit(ev Event) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	if c.closed || c.handler == nil {
		return
	}
	c.handler(c.ctx, ev)
}
