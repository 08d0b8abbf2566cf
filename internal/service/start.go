package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"smartparking/internal/clients"
	"smartparking/internal/models"
)

// ErrLotRequired is returned when starting a session without a lot.
var ErrLotRequired = errors.New("lot id is required")

// SessionStarter is the backend surface for starting and looking up sessions.
type SessionStarter interface {
	StartSession(ctx context.Context, req clients.StartSessionRequest) (*models.Session, error)
	ActiveSession(ctx context.Context, plate string) (*models.Session, error)
	UploadPhoto(ctx context.Context, filename string, photo io.Reader) (string, error)
}

// Photo is an optional plate picture attached when starting.
type Photo struct {
	Filename string
	Body     io.Reader
}

// StartParams describe a new session.
type StartParams struct {
	LotID string
	Plate string
	Photo *Photo
}

// StartService starts sessions and finds the active one.
type StartService struct {
	backend SessionStarter
	logger  *zap.Logger
}

// NewStartService builds service.
func NewStartService(backend SessionStarter, logger *zap.Logger) *StartService {
	return &StartService{backend: backend, logger: logger}
}

// NormalizePlate trims and upper-cases a plate.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

// Start uploads the photo when given and opens a session.
func (s *StartService) Start(ctx context.Context, params StartParams) (*models.Session, error) {
	lotID := strings.TrimSpace(params.LotID)
	if lotID == "" {
		return nil, ErrLotRequired
	}
	req := clients.StartSessionRequest{LotID: lotID, Plate: NormalizePlate(params.Plate)}

	if params.Photo != nil && params.Photo.Body != nil {
		photoURL, err := s.backend.UploadPhoto(ctx, params.Photo.Filename, params.Photo.Body)
		if err != nil {
			return nil, fmt.Errorf("upload plate photo: %w", err)
		}
		req.PhotoURL = photoURL
	}

	session, err := s.backend.StartSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	s.logger.Info("session started", zap.String("session_id", session.ID), zap.String("lot_id", lotID))
	return session, nil
}

// Active returns the active session for plate, or nil when there is none.
func (s *StartService) Active(ctx context.Context, plate string) (*models.Session, error) {
	return s.backend.ActiveSession(ctx, NormalizePlate(plate))
}
