package service

import "smartparking/internal/models"

// Reconciler merges polled snapshots and live ticks into one displayed amount for the
// session being viewed. It is not safe for concurrent use; a Mount loop owns it.
//
// While the session is active the displayed amount is the highest amount observed in the
// current mount, from either source, so it never moves backwards when a stale snapshot lands
// after a fresher tick. The high-water mark is reset on Mount because ticks from an earlier
// viewing are not authoritative. The first completed snapshot freezes the value.
type Reconciler struct {
	sessionID string
	snapshot  *models.Session

	observed  bool
	fromTick  bool
	displayed int64
	completed bool
}

// NewReconciler returns an unmounted reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Mount starts a fresh viewing of sessionID and drops everything learned before.
func (r *Reconciler) Mount(sessionID string) {
	*r = Reconciler{sessionID: sessionID}
}

// SessionID returns the mounted session id.
func (r *Reconciler) SessionID() string {
	return r.sessionID
}

// ApplySnapshot folds an authoritative session record in. It reports whether the displayed
// amount or the completion state changed.
func (r *Reconciler) ApplySnapshot(s *models.Session) bool {
	if s == nil || s.ID != r.sessionID {
		return false
	}

	if r.completed {
		if !s.Completed() {
			// stale response from before the exit
			return false
		}
		r.snapshot = s
		changed := r.displayed != s.Payment.AmountCents
		r.displayed = s.Payment.AmountCents
		r.fromTick = false
		return changed
	}

	r.snapshot = s
	if s.Completed() {
		r.completed = true
		r.observed = true
		r.displayed = s.Payment.AmountCents
		r.fromTick = false
		return true
	}
	return r.raise(s.Payment.AmountCents, false)
}

// ApplyTick folds a live observation in. Ticks for other sessions and ticks after completion
// are ignored.
func (r *Reconciler) ApplyTick(t models.Tick) bool {
	if t.SessionID != r.sessionID || r.completed || t.AmountCents < 0 {
		return false
	}
	return r.raise(t.AmountCents, true)
}

func (r *Reconciler) raise(amount int64, fromTick bool) bool {
	if r.observed && amount <= r.displayed {
		return false
	}
	r.observed = true
	r.displayed = amount
	r.fromTick = fromTick
	return true
}

// Displayed returns the amount to show, in cents.
func (r *Reconciler) Displayed() int64 {
	return r.displayed
}

// Known reports whether any snapshot or tick has been observed in this mount.
func (r *Reconciler) Known() bool {
	return r.observed
}

// FromTick reports whether the displayed amount came from a live tick rather than a snapshot.
func (r *Reconciler) FromTick() bool {
	return r.fromTick
}

// Completed reports whether a completed snapshot has been observed.
func (r *Reconciler) Completed() bool {
	return r.completed
}

// Snapshot returns the latest accepted snapshot.
func (r *Reconciler) Snapshot() *models.Session {
	return r.snapshot
}
