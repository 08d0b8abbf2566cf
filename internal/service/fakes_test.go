package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"smartparking/internal/clients"
	"smartparking/internal/models"
)

// fakeBackend serves one mutable session record per id.
type fakeBackend struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	getErr    error
	exitErr   error
	payErr    error
	payURL    string
	gets      int
	exits     int
	inFlight  int
	maxFlight int
	getDelay  time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: make(map[string]*models.Session), payURL: "https://pay.example/checkout/1"}
}

func (f *fakeBackend) put(s *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
}

func (f *fakeBackend) update(id string, fn func(s *models.Session)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.sessions[id])
}

func (f *fakeBackend) setGetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *fakeBackend) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeBackend) GetSession(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	f.gets++
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	delay := f.getDelay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, &clients.APIError{StatusCode: 404, Status: "404 Not Found", Body: "not found"}
	}
	cp := *s
	return &cp, nil
}

func (f *fakeBackend) ExitSession(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exits++
	if f.exitErr != nil {
		return nil, f.exitErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, &clients.APIError{StatusCode: 404, Status: "404 Not Found"}
	}
	now := time.Now().UTC()
	s.Status = models.SessionStatusCompleted
	s.EndedAt = &now
	cp := *s
	return &cp, nil
}

func (f *fakeBackend) PaymentURL(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payErr != nil {
		return "", f.payErr
	}
	return f.payURL, nil
}

func (f *fakeBackend) StartSession(_ context.Context, req clients.StartSessionRequest) (*models.Session, error) {
	s := &models.Session{ID: "new-" + req.LotID, LotID: req.LotID, Plate: req.Plate, Status: models.SessionStatusActive}
	f.put(s)
	return s, nil
}

func (f *fakeBackend) ActiveSession(_ context.Context, plate string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.Plate == plate && s.Active() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) UploadPhoto(_ context.Context, filename string, photo io.Reader) (string, error) {
	if _, err := io.ReadAll(photo); err != nil {
		return "", err
	}
	if filename == "" {
		return "", errors.New("filename required")
	}
	return "https://files.example/" + filename, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
