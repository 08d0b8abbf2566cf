package devserver

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartparking/internal/models"
)

var (
	// ErrSessionNotFound is returned for unknown or foreign sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrLotNotFound is returned when starting in an unknown lot.
	ErrLotNotFound = errors.New("lot not found")
	// ErrLotFull is returned when a lot has no free spaces.
	ErrLotFull = errors.New("lot is full")
	// ErrPlateBusy is returned when the plate already has an active session.
	ErrPlateBusy = errors.New("plate already has an active session")
	// ErrNotCompleted is returned when paying for a session that is still running.
	ErrNotCompleted = errors.New("session is still active")
)

type record struct {
	session models.Session
	userID  int64
}

// Store keeps users, lots and sessions in memory. Active sessions accrue cost from the
// injected clock at the configured hourly price.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	price    int64
	currency string

	nextUser int64
	users    map[string]int64
	lots     []models.Lot
	sessions map[string]*record
	uploads  map[string][]byte
}

// NewStore builds store seeded with lots.
func NewStore(pricePerHourCents int64, currency string, now func() time.Time, lots []models.Lot) *Store {
	if now == nil {
		now = time.Now
	}
	if lots == nil {
		lots = DefaultLots(pricePerHourCents)
	}
	return &Store{
		now:      now,
		price:    pricePerHourCents,
		currency: currency,
		users:    make(map[string]int64),
		lots:     lots,
		sessions: make(map[string]*record),
		uploads:  make(map[string][]byte),
	}
}

// DefaultLots returns the demo lots around central Kigali.
func DefaultLots(pricePerHourCents int64) []models.Lot {
	price := float64(pricePerHourCents) / 100
	return []models.Lot{
		{ID: "lot-cbd", Name: "CBD Plaza", Capacity: 120, Available: 120, PricePerHour: price, Lat: -1.9441, Lng: 30.0619},
		{ID: "lot-kimihurura", Name: "Kimihurura Market", Capacity: 40, Available: 40, PricePerHour: price, Lat: -1.9547, Lng: 30.0925},
		{ID: "lot-nyamirambo", Name: "Nyamirambo Stadium", Capacity: 80, Available: 80, PricePerHour: price, Lat: -1.9706, Lng: 30.0443},
	}
}

// UserFor returns the user id of a phone number, registering it on first use.
func (s *Store) UserFor(phone string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.users[phone]; ok {
		return id
	}
	s.nextUser++
	s.users[phone] = s.nextUser
	return s.nextUser
}

// Lots returns all lots with current availability.
func (s *Store) Lots() []models.Lot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Lot, len(s.lots))
	copy(out, s.lots)
	return out
}

// SaveUpload keeps an uploaded file and returns its id.
func (s *Store) SaveUpload(data []byte) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.uploads[id] = data
	s.mu.Unlock()
	return id
}

// Upload returns an uploaded file.
func (s *Store) Upload(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.uploads[id]
	return data, ok
}

// Start opens a session for the user in lotID.
func (s *Store) Start(userID int64, lotID, plate string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lot := s.lotLocked(lotID)
	if lot == nil {
		return models.Session{}, ErrLotNotFound
	}
	if lot.Available <= 0 {
		return models.Session{}, ErrLotFull
	}
	plate = strings.ToUpper(strings.TrimSpace(plate))
	if plate != "" {
		for _, rec := range s.sessions {
			if rec.session.Plate == plate && rec.session.Active() {
				return models.Session{}, ErrPlateBusy
			}
		}
	}

	lot.Available--
	rec := &record{
		userID: userID,
		session: models.Session{
			ID:        uuid.NewString(),
			LotID:     lot.ID,
			LotName:   lot.Name,
			Plate:     plate,
			StartedAt: s.now().UTC(),
			Status:    models.SessionStatusActive,
			Currency:  s.currency,
			Payment:   models.Payment{Status: models.PaymentStatusPending, Currency: s.currency},
		},
	}
	s.sessions[rec.session.ID] = rec
	return s.viewLocked(rec), nil
}

// Get returns the user's session with the accrued amount filled in.
func (s *Store) Get(userID int64, id string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok || rec.userID != userID {
		return models.Session{}, ErrSessionNotFound
	}
	return s.viewLocked(rec), nil
}

// Active returns the active session for plate, if any.
func (s *Store) Active(userID int64, plate string) (*models.Session, error) {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.sessions {
		if rec.userID == userID && rec.session.Active() && (plate == "" || rec.session.Plate == plate) {
			view := s.viewLocked(rec)
			return &view, nil
		}
	}
	return nil, nil
}

// Exit completes the session and freezes the amount.
func (s *Store) Exit(userID int64, id string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || rec.userID != userID {
		return models.Session{}, ErrSessionNotFound
	}
	if rec.session.Active() {
		s.completeLocked(rec)
	}
	return s.viewLocked(rec), nil
}

// Close completes a session from the operator side, as when a gate camera sees the car leave.
func (s *Store) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if rec.session.Active() {
		s.completeLocked(rec)
	}
	return nil
}

// PaymentReference assigns a checkout reference to a completed session.
func (s *Store) PaymentReference(userID int64, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || rec.userID != userID {
		return "", ErrSessionNotFound
	}
	if rec.session.Active() {
		return "", ErrNotCompleted
	}
	if rec.session.Payment.Reference == "" {
		rec.session.Payment.Reference = uuid.NewString()
	}
	return rec.session.Payment.Reference, nil
}

// SettlePayment records the checkout outcome.
func (s *Store) SettlePayment(id string, status models.PaymentStatus) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	if rec.session.Active() {
		return models.Session{}, ErrNotCompleted
	}
	rec.session.Payment.Status = status
	rec.session.PaymentStatus = string(status)
	return s.viewLocked(rec), nil
}

// History returns the user's sessions, newest first.
func (s *Store) History(userID int64, limit int) []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Session
	for _, rec := range s.sessions {
		if rec.userID == userID {
			out = append(out, s.viewLocked(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Amount returns the current amount of a session and whether it is still active.
func (s *Store) Amount(id string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return 0, false, ErrSessionNotFound
	}
	view := s.viewLocked(rec)
	return view.Payment.AmountCents, view.Active(), nil
}

// Owns reports whether the session belongs to the user.
func (s *Store) Owns(userID int64, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return ok && rec.userID == userID
}

func (s *Store) lotLocked(id string) *models.Lot {
	for i := range s.lots {
		if s.lots[i].ID == id {
			return &s.lots[i]
		}
	}
	return nil
}

func (s *Store) completeLocked(rec *record) {
	now := s.now().UTC()
	rec.session.Payment.AmountCents = s.accrued(rec.session.StartedAt, now)
	rec.session.Status = models.SessionStatusCompleted
	rec.session.EndedAt = &now
	amount := rec.session.Payment.AmountCents
	rec.session.AmountCents = &amount
	if lot := s.lotLocked(rec.session.LotID); lot != nil && lot.Available < lot.Capacity {
		lot.Available++
	}
}

func (s *Store) viewLocked(rec *record) models.Session {
	view := rec.session
	if view.Active() {
		view.Payment.AmountCents = s.accrued(view.StartedAt, s.now())
	}
	return view
}

// accrued prices elapsed time in whole cents, rounding down.
func (s *Store) accrued(from, to time.Time) int64 {
	elapsed := to.Sub(from).Milliseconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed * s.price / int64(time.Hour/time.Millisecond)
}
