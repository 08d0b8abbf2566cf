package service

import (
	"context"

	"smartparking/internal/geo"
	"smartparking/internal/models"
)

// LotLister lists lots near a position.
type LotLister interface {
	Lots(ctx context.Context, near *models.Coords) ([]models.Lot, error)
}

// LotsService finds lots around the user.
type LotsService struct {
	lister LotLister
}

// NewLotsService builds service.
func NewLotsService(lister LotLister) *LotsService {
	return &LotsService{lister: lister}
}

// Nearby returns lots nearest first. Without a position the backend order is kept.
func (s *LotsService) Nearby(ctx context.Context, near *models.Coords) ([]geo.LotDistance, error) {
	lots, err := s.lister.Lots(ctx, near)
	if err != nil {
		return nil, err
	}
	if near == nil {
		out := make([]geo.LotDistance, 0, len(lots))
		for _, lot := range lots {
			out = append(out, geo.LotDistance{Lot: lot, Meters: -1})
		}
		return out, nil
	}
	return geo.SortLotsByDistance(*near, lots), nil
}
