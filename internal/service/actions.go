package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smartparking/internal/clients"
	"smartparking/internal/models"
)

// Action names used in ActionError.
const (
	ActionExit        = "exit"
	ActionPaymentLink = "payment link"
)

// SessionActions is the backend surface used by the coordinator.
type SessionActions interface {
	ExitSession(ctx context.Context, id string) (*models.Session, error)
	PaymentURL(ctx context.Context, id string) (string, error)
}

// ActionError is a failed user action. Session state is untouched and the action can be retried.
type ActionError struct {
	Action    string
	SessionID string
	Err       error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed for session %s: %v", e.Action, e.SessionID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether retrying could succeed.
func (e *ActionError) Recoverable() bool {
	return clients.IsRecoverable(e.Err)
}

// ActionCoordinator issues exit and payment-link requests.
type ActionCoordinator struct {
	actions    SessionActions
	fetcher    *SnapshotFetcher
	lifecycle  *LifecycleController
	closeDelay time.Duration
	logger     *zap.Logger
}

// NewActionCoordinator builds coordinator. closeDelay is how long the live connection stays
// up after a successful exit.
func NewActionCoordinator(actions SessionActions, fetcher *SnapshotFetcher, lifecycle *LifecycleController, closeDelay time.Duration, logger *zap.Logger) *ActionCoordinator {
	return &ActionCoordinator{
		actions:    actions,
		fetcher:    fetcher,
		lifecycle:  lifecycle,
		closeDelay: closeDelay,
		logger:     logger,
	}
}

// Exit ends the session. On success the cached snapshot is invalidated and the binding, when
// given, is released after the close delay.
func (a *ActionCoordinator) Exit(ctx context.Context, sessionID string, binding *Binding) (*models.Session, error) {
	session, err := a.actions.ExitSession(ctx, sessionID)
	if err != nil {
		a.logger.Warn("exit request failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, &ActionError{Action: ActionExit, SessionID: sessionID, Err: err}
	}

	a.fetcher.Invalidate(ctx, sessionID)
	if binding != nil && a.lifecycle != nil {
		a.lifecycle.ReleaseAfter(binding, a.closeDelay)
	}
	a.logger.Info("session exited", zap.String("session_id", sessionID))
	return session, nil
}

// RequestPaymentLink returns a hosted checkout URL. It does not change session state.
func (a *ActionCoordinator) RequestPaymentLink(ctx context.Context, sessionID string) (string, error) {
	link, err := a.actions.PaymentURL(ctx, sessionID)
	if err != nil {
		a.logger.Warn("payment link request failed", zap.String("session_id", sessionID), zap.Error(err))
		return "", &ActionError{Action: ActionPaymentLink, SessionID: sessionID, Err: err}
	}
	if link == "" {
		return "", &ActionError{Action: ActionPaymentLink, SessionID: sessionID, Err: errors.New("empty payment url")}
	}
	return link, nil
}
