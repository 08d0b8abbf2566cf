package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"smartparking/internal/models"
)

// ErrPaymentFailed is returned when the backend reports the payment as failed.
var ErrPaymentFailed = errors.New("payment failed")

// PaymentWatcher polls a session until its payment settles.
type PaymentWatcher struct {
	fetcher  *SnapshotFetcher
	interval time.Duration
	logger   *zap.Logger
}

// NewPaymentWatcher builds watcher. A non-positive interval uses the payment poll default.
func NewPaymentWatcher(fetcher *SnapshotFetcher, interval time.Duration, logger *zap.Logger) *PaymentWatcher {
	if interval <= 0 {
		interval = defaultPaymentPollInterval
	}
	return &PaymentWatcher{fetcher: fetcher, interval: interval, logger: logger}
}

// Wait blocks until the session is paid, the payment fails or ctx is done. Fetch errors are
// logged and retried on the next poll.
func (w *PaymentWatcher) Wait(ctx context.Context, sessionID string) (*models.Session, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		session, err := w.fetcher.Fetch(ctx, sessionID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.logger.Warn("payment status check failed", zap.String("session_id", sessionID), zap.Error(err))
		case session.Paid():
			w.logger.Info("payment confirmed", zap.String("session_id", sessionID))
			return session, nil
		case session.PaymentFailed():
			return session, ErrPaymentFailed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ParseReturnLink extracts the session id from a checkout return link such as
// smartparking://paid?session_id=abc.
func ParseReturnLink(link, scheme string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse return link: %w", err)
	}
	if u.Scheme != scheme {
		return "", fmt.Errorf("unexpected scheme %q", u.Scheme)
	}
	// smartparking://paid puts "paid" in the host, smartparking:/paid in the path
	target := u.Host
	if target == "" {
		target = u.Opaque
	}
	if target == "" {
		target = strings.Trim(u.Path, "/")
	}
	if target != "paid" {
		return "", fmt.Errorf("unexpected return target %q", target)
	}
	id := u.Query().Get("session_id")
	if id == "" {
		return "", errors.New("return link has no session_id")
	}
	return id, nil
}

// ReturnLink builds the link the checkout page redirects to.
func ReturnLink(scheme, sessionID string) string {
	return scheme + "://paid?session_id=" + url.QueryEscape(sessionID)
}
