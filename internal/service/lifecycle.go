package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartparking/internal/ws"
)

// TickSource opens live tick subscriptions. *ws.Listener implements it.
type TickSource interface {
	Open(ctx context.Context, sessionID string, handler ws.Handler) ws.Subscription
}

// Binding ties one live subscription to one mount.
type Binding struct {
	id        uint64
	sessionID string
	sub       ws.Subscription
	once      sync.Once
	released  chan struct{}
}

// ID identifies the binding; events tagged with an older id are stale.
func (b *Binding) ID() uint64 {
	return b.id
}

// SessionID returns the bound session.
func (b *Binding) SessionID() string {
	return b.sessionID
}

// Released is closed once the subscription has been torn down.
func (b *Binding) Released() <-chan struct{} {
	return b.released
}

func (b *Binding) close() {
	b.once.Do(func() {
		b.sub.Close()
		close(b.released)
	})
}

// LifecycleController owns the single live connection of the session screen. Binding a new
// session closes the previous connection before opening the next one, and every teardown
// path funnels into one close per binding. Closes happen under mu so two connections are
// never open at once; handlers must not call back into the controller.
type LifecycleController struct {
	source TickSource
	logger *zap.Logger

	mu      sync.Mutex
	seq     uint64
	current *Binding
}

// NewLifecycleController builds controller.
func NewLifecycleController(source TickSource, logger *zap.Logger) *LifecycleController {
	return &LifecycleController{source: source, logger: logger}
}

// Bind opens a live connection for sessionID and makes it the current one.
func (c *LifecycleController) Bind(ctx context.Context, sessionID string, handler ws.Handler) *Binding {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.current; prev != nil {
		c.current = nil
		prev.close()
		c.logger.Debug("live connection replaced", zap.String("session_id", prev.sessionID))
	}

	c.seq++
	b := &Binding{
		id:        c.seq,
		sessionID: sessionID,
		released:  make(chan struct{}),
	}
	b.sub = c.source.Open(ctx, sessionID, handler)
	c.current = b
	c.logger.Debug("live connection bound", zap.String("session_id", sessionID), zap.Uint64("binding", b.id))
	return b
}

// Release closes the binding. Releasing nil, an already released or a superseded binding is a no-op.
func (c *LifecycleController) Release(b *Binding) {
	if b == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == b {
		c.current = nil
	}
	b.close()
}

// ReleaseAfter closes the binding after delay so an in-flight tick can still be consumed.
func (c *LifecycleController) ReleaseAfter(b *Binding, delay time.Duration) {
	if b == nil {
		return
	}
	if delay <= 0 {
		c.Release(b)
		return
	}
	time.AfterFunc(delay, func() { c.Release(b) })
}

// Current returns the active binding, if any.
func (c *LifecycleController) Current() (*Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

// Shutdown releases whatever is bound.
func (c *LifecycleController) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.close()
		c.current = nil
	}
}
