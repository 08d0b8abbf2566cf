package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartparking/internal/models"
	"smartparking/internal/ws"
)

// ErrUnmounted is returned by actions invoked on a mount that has been torn down.
var ErrUnmounted = errors.New("session view unmounted")

const (
	defaultPollInterval        = 10 * time.Second
	defaultPaymentPollInterval = 3 * time.Second
)

// ViewConfig controls the polling cadence of a mounted session view.
type ViewConfig struct {
	PollInterval        time.Duration
	PaymentPollInterval time.Duration
}

// ViewState is what the session screen renders.
type ViewState struct {
	SessionID   string
	Session     *models.Session
	AmountCents int64
	AmountKnown bool
	// AmountFromTick is true when the amount came from the live channel, false when polled.
	AmountFromTick bool
	Currency       string
	Status         models.SessionStatus
	Live           ws.ConnState
	Finalized      bool
	Paid           bool
	// PaymentURL is set once a checkout link was issued in this mount.
	PaymentURL         string
	PaymentOutstanding bool
	Notice             error
	UpdatedAt          time.Time
}

// SessionViewer mounts session views.
type SessionViewer struct {
	fetcher   *SnapshotFetcher
	lifecycle *LifecycleController
	actions   *ActionCoordinator
	cfg       ViewConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionViewer builds viewer.
func NewSessionViewer(fetcher *SnapshotFetcher, lifecycle *LifecycleController, actions *ActionCoordinator, cfg ViewConfig, logger *zap.Logger) *SessionViewer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PaymentPollInterval <= 0 {
		cfg.PaymentPollInterval = defaultPaymentPollInterval
	}
	return &SessionViewer{
		fetcher:   fetcher,
		lifecycle: lifecycle,
		actions:   actions,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// loop events
type (
	snapshotEvent struct {
		session *models.Session
		err     error
	}
	liveEvent struct {
		gen uint64
		ev  ws.Event
	}
	exitEvent struct {
		session *models.Session
		binding *Binding
		err     error
	}
	paymentLinkEvent struct {
		url string
		err error
	}
	refreshEvent struct{}
)

// Mount is one viewing of a session. A single goroutine owns the reconciler; fetches,
// live events and action completions are posted to it and dropped once the mount is gone.
type Mount struct {
	viewer    *SessionViewer
	sessionID string
	logger    *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan any
	updates chan ViewState
	done    chan struct{}
	once    sync.Once

	stateMu sync.RWMutex
	state   ViewState
	binding *Binding

	// owned by the loop goroutine
	reconciler  *Reconciler
	liveGen     uint64
	released    <-chan struct{}
	releasing   bool
	fetching    bool
	pending     bool
	timer       *time.Timer
	outstanding bool
	paymentURL  string
	live        ws.ConnState
	notice      error
}

// Mount starts viewing sessionID. The caller must Unmount when the screen goes away.
func (v *SessionViewer) Mount(ctx context.Context, sessionID string) *Mount {
	mctx, cancel := context.WithCancel(ctx)
	m := &Mount{
		viewer:     v,
		sessionID:  sessionID,
		logger:     v.logger.With(zap.String("session_id", sessionID)),
		ctx:        mctx,
		cancel:     cancel,
		events:     make(chan any),
		updates:    make(chan ViewState, 1),
		done:       make(chan struct{}),
		reconciler: NewReconciler(),
		live:       ws.StateClosed,
	}
	m.reconciler.Mount(sessionID)
	m.state = ViewState{SessionID: sessionID, Live: ws.StateClosed}

	bindLive := true
	if cached, ok := v.fetcher.Cached(mctx, sessionID); ok && !cached.Stale {
		m.reconciler.ApplySnapshot(cached.Session)
		bindLive = !m.reconciler.Completed()
	}
	if bindLive {
		m.bind()
	}
	m.publish()

	go m.loop()
	return m
}

// SessionID returns the viewed session.
func (m *Mount) SessionID() string {
	return m.sessionID
}

// Updates delivers the latest view state. Intermediate states may be skipped. The channel is
// closed when the mount goes away.
func (m *Mount) Updates() <-chan ViewState {
	return m.updates
}

// State returns the current view state.
func (m *Mount) State() ViewState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Done is closed once the mount has been torn down.
func (m *Mount) Done() <-chan struct{} {
	return m.done
}

// Refresh requests an immediate snapshot fetch.
func (m *Mount) Refresh() {
	m.post(refreshEvent{})
}

// Exit ends the session. Failures come back as *ActionError and leave the view unchanged.
func (m *Mount) Exit(ctx context.Context) (*models.Session, error) {
	if m.ctx.Err() != nil {
		return nil, ErrUnmounted
	}
	ctx, stop := m.bound(ctx)
	defer stop()

	binding := m.currentBinding()
	session, err := m.viewer.actions.Exit(ctx, m.sessionID, binding)
	if !m.post(exitEvent{session: session, binding: binding, err: err}) && err == nil {
		return session, ErrUnmounted
	}
	return session, err
}

// RequestPayment issues a checkout link and switches to the payment poll cadence.
func (m *Mount) RequestPayment(ctx context.Context) (string, error) {
	if m.ctx.Err() != nil {
		return "", ErrUnmounted
	}
	ctx, stop := m.bound(ctx)
	defer stop()

	url, err := m.viewer.actions.RequestPaymentLink(ctx, m.sessionID)
	if !m.post(paymentLinkEvent{url: url, err: err}) && err == nil {
		return url, ErrUnmounted
	}
	return url, err
}

// Unmount tears the view down. It is idempotent, and when it returns no further state
// changes happen.
func (m *Mount) Unmount() {
	m.once.Do(func() {
		m.cancel()
		<-m.done
		m.logger.Debug("session view unmounted")
	})
}

// bound derives a context cancelled by either the caller or the unmount.
func (m *Mount) bound(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// post hands an event to the loop. It reports false when the mount is gone.
func (m *Mount) post(ev any) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Mount) currentBinding() *Binding {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.binding
}

func (m *Mount) setBinding(b *Binding) {
	m.stateMu.Lock()
	m.binding = b
	m.stateMu.Unlock()
	if b == nil {
		m.released = nil
		return
	}
	m.released = b.Released()
}

func (m *Mount) bind() {
	m.liveGen++
	gen := m.liveGen
	handler := func(subCtx context.Context, ev ws.Event) {
		select {
		case m.events <- liveEvent{gen: gen, ev: ev}:
		case <-subCtx.Done():
		case <-m.ctx.Done():
		}
	}
	m.live = ws.StateConnecting
	m.setBinding(m.viewer.lifecycle.Bind(m.ctx, m.sessionID, handler))
}

func (m *Mount) unbind() {
	if b := m.currentBinding(); b != nil {
		m.viewer.lifecycle.Release(b)
	}
	m.liveGen++
	m.setBinding(nil)
	m.releasing = false
	m.live = ws.StateClosed
}

func (m *Mount) loop() {
	m.timer = time.NewTimer(time.Hour)
	m.timer.Stop()
	defer func() {
		m.timer.Stop()
		m.unbind()
		close(m.updates)
		close(m.done)
	}()

	m.startFetch()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.timer.C:
			m.startFetch()
		case <-m.released:
			m.liveGen++
			m.setBinding(nil)
			m.releasing = false
			m.live = ws.StateClosed
			m.publish()
		case raw := <-m.events:
			m.handle(raw)
		}
	}
}

func (m *Mount) handle(raw any) {
	switch ev := raw.(type) {
	case snapshotEvent:
		m.fetching = false
		if ev.err != nil {
			m.logger.Warn("session snapshot fetch failed", zap.Error(ev.err))
			m.notice = ev.err
		} else {
			m.notice = nil
			m.applySnapshot(ev.session)
		}
		if m.pending {
			m.pending = false
			m.startFetch()
		} else {
			m.schedule()
		}
	case liveEvent:
		if ev.gen != m.liveGen {
			return
		}
		if ev.ev.Tick != nil {
			if !m.reconciler.ApplyTick(*ev.ev.Tick) {
				return
			}
		} else {
			m.live = ev.ev.State
			if ev.ev.State == ws.StateClosed {
				m.logger.Info("live updates unavailable, relying on polling")
			}
		}
	case exitEvent:
		if ev.err != nil {
			m.notice = ev.err
			break
		}
		m.notice = nil
		// the coordinator already scheduled the delayed release of this binding
		if ev.binding != nil && ev.binding == m.currentBinding() {
			m.releasing = true
		}
		m.applySnapshot(ev.session)
		m.forceFetch()
	case paymentLinkEvent:
		if ev.err != nil {
			m.notice = ev.err
			break
		}
		m.notice = nil
		m.paymentURL = ev.url
		m.outstanding = true
		m.forceFetch()
	case refreshEvent:
		m.forceFetch()
	}
	m.publish()
}

func (m *Mount) applySnapshot(s *models.Session) {
	if s == nil || s.ID != m.sessionID {
		return
	}
	m.reconciler.ApplySnapshot(s)
	if latest := m.reconciler.Snapshot(); latest != nil && (latest.Paid() || latest.PaymentFailed()) {
		m.outstanding = false
	}
	if m.reconciler.Completed() && m.currentBinding() != nil && !m.releasing {
		m.unbind()
		m.logger.Debug("session completed, live connection released")
	}
}

func (m *Mount) startFetch() {
	if m.fetching {
		m.pending = true
		return
	}
	m.fetching = true
	go func() {
		session, err := m.viewer.fetcher.Fetch(m.ctx, m.sessionID)
		m.post(snapshotEvent{session: session, err: err})
	}()
}

func (m *Mount) forceFetch() {
	m.timer.Stop()
	m.startFetch()
}

func (m *Mount) schedule() {
	interval := m.viewer.cfg.PollInterval
	if m.outstanding {
		interval = m.viewer.cfg.PaymentPollInterval
	}
	m.timer.Stop()
	select {
	case <-m.timer.C:
	default:
	}
	m.timer.Reset(interval)
}

func (m *Mount) publish() {
	snap := m.reconciler.Snapshot()
	st := ViewState{
		SessionID:          m.sessionID,
		Session:            snap,
		AmountCents:        m.reconciler.Displayed(),
		AmountKnown:        m.reconciler.Known(),
		AmountFromTick:     m.reconciler.FromTick(),
		Live:               m.live,
		Finalized:          m.reconciler.Completed(),
		PaymentURL:         m.paymentURL,
		PaymentOutstanding: m.outstanding,
		Notice:             m.notice,
		UpdatedAt:          m.viewer.now().UTC(),
	}
	if snap != nil {
		st.Currency = snap.Currency
		st.Status = snap.Status
		st.Paid = snap.Paid()
	}

	m.stateMu.Lock()
	m.state = st
	m.stateMu.Unlock()

	select {
	case <-m.updates:
	default:
	}
	select {
	case m.updates <- st:
	default:
	}
}
