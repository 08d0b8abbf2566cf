package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"smartparking/internal/models"
)

type tickMessage struct {
	Type        string `json:"type"`
	AmountCents int64  `json:"amount_cents"`
	SessionID   string `json:"session_id"`
}

// Subscriber is one live session websocket.
type Subscriber struct {
	sessionID    string
	ws           *websocket.Conn
	send         chan []byte
	logger       *zap.Logger
	writeTimeout time.Duration
	onClose      func(*Subscriber)
	closeOnce    sync.Once
}

func newSubscriber(sessionID string, ws *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger, onClose func(*Subscriber)) *Subscriber {
	return &Subscriber{
		sessionID:    sessionID,
		ws:           ws,
		send:         make(chan []byte, 16),
		logger:       logger,
		writeTimeout: writeTimeout,
		onClose:      onClose,
	}
}

// SessionID returns the subscribed session.
func (s *Subscriber) SessionID() string {
	return s.sessionID
}

// Start launches read/write pumps.
func (s *Subscriber) Start(ctx context.Context) {
	go s.writePump(ctx)
	s.readPump(ctx)
}

// readPump only drains control frames; clients never send data on this channel.
func (s *Subscriber) readPump(ctx context.Context) {
	defer s.cleanup()
	s.ws.SetReadLimit(4096)
	s.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, _, err := s.ws.ReadMessage(); err != nil {
			s.logger.Debug("subscriber read closed", zap.String("session_id", s.sessionID), zap.Error(err))
			return
		}
	}
}

func (s *Subscriber) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = s.ws.Close()
			return
		case msg, ok := <-s.send:
			if !ok {
				_ = s.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// Send enqueues a message for writing.
func (s *Subscriber) Send(msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("attempted to send on closed subscriber", zap.String("session_id", s.sessionID))
		}
	}()
	select {
	case s.send <- msg:
	default:
		s.logger.Warn("dropping tick, buffer full", zap.String("session_id", s.sessionID))
	}
}

func (s *Subscriber) write(messageType int, data []byte) error {
	s.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.ws.WriteMessage(messageType, data)
}

func (s *Subscriber) cleanup() {
	s.closeOnce.Do(func() {
		close(s.send)
		_ = s.ws.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// Hub tracks live subscribers per session and broadcasts accrued amounts.
type Hub struct {
	store        *Store
	logger       *zap.Logger
	interval     time.Duration
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	ctx          context.Context
	stop         context.CancelFunc

	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{}
}

// NewHub builds hub.
func NewHub(store *Store, interval time.Duration, logger *zap.Logger) *Hub {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Hub{
		ctx:          ctx,
		stop:         stop,
		store:        store,
		logger:       logger,
		interval:     interval,
		writeTimeout: 5 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		subscribers: make(map[string]map[*Subscriber]struct{}),
	}
}

// Add registers subscriber.
func (h *Hub) Add(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[sub.sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subscribers[sub.sessionID] = set
	}
	set[sub] = struct{}{}
}

// Remove unregisters subscriber.
func (h *Hub) Remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subscribers[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subscribers, sub.sessionID)
		}
	}
}

// Count returns the number of live subscribers of a session.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// HandleWS upgrades GET /sessions/ws/sessions/{id}. The auth middleware has already run.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	subCtx, cancel := context.WithCancel(h.ctx)
	sub := newSubscriber(sessionID, conn, h.writeTimeout, h.logger, func(s *Subscriber) {
		h.Remove(s)
		cancel()
	})
	h.Add(sub)
	h.push(sub)

	go sub.Start(subCtx)
	h.logger.Info("live subscriber connected", zap.String("session_id", sessionID))
}

// Run broadcasts ticks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.Broadcast()
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.stop()
}

// Broadcast sends the current amount to every subscriber of an active session.
func (h *Hub) Broadcast() {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, set := range h.subscribers {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.push(sub)
	}
}

func (h *Hub) push(sub *Subscriber) {
	amount, active, err := h.store.Amount(sub.sessionID)
	if err != nil || !active {
		return
	}
	msg, err := json.Marshal(tickMessage{Type: models.TickMessageType, AmountCents: amount, SessionID: sub.sessionID})
	if err != nil {
		return
	}
	sub.Send(msg)
}
