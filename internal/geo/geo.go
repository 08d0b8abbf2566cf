package geo

import (
	"math"
	"sort"

	"smartparking/internal/models"
)

const earthRadiusMeters = 6371000

// MetersBetween returns the great-circle distance between two positions.
func MetersBetween(a, b models.Coords) float64 {
	toRad := func(x float64) float64 { return x * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)

	sinLat, sinLng := math.Sin(dLat/2), math.Sin(dLng/2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// LotDistance pairs a lot with its distance from the user.
type LotDistance struct {
	Lot    models.Lot
	Meters float64
}

// SortLotsByDistance orders lots nearest first. Ties keep the backend order.
func SortLotsByDistance(origin models.Coords, lots []models.Lot) []LotDistance {
	out := make([]LotDistance, 0, len(lots))
	for _, lot := range lots {
		out = append(out, LotDistance{Lot: lot, Meters: MetersBetween(origin, lot.Position())})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Meters < out[j].Meters
	})
	return out
}
