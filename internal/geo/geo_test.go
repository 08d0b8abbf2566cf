package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"smartparking/internal/models"
)

func TestMetersBetween(t *testing.T) {
	kigali := models.Coords{Lat: -1.9441, Lng: 30.0619}
	assert.Equal(t, 0.0, MetersBetween(kigali, kigali))

	// one degree of latitude is roughly 111.2 km
	d := MetersBetween(models.Coords{Lat: 0, Lng: 0}, models.Coords{Lat: 1, Lng: 0})
	assert.InDelta(t, 111195, d, 50)

	assert.InDelta(t, MetersBetween(kigali, models.Coords{}), MetersBetween(models.Coords{}, kigali), 1e-6)
}

func TestSortLotsByDistance(t *testing.T) {
	origin := models.Coords{Lat: -1.95, Lng: 30.06}
	lots := []models.Lot{
		{ID: "far", Lat: -1.90, Lng: 30.10},
		{ID: "near", Coords: models.Coords{Lat: -1.951, Lng: 30.061}},
		{ID: "mid", Lat: -1.96, Lng: 30.07},
	}

	sorted := SortLotsByDistance(origin, lots)
	ids := make([]string, 0, len(sorted))
	for _, l := range sorted {
		ids = append(ids, l.Lot.ID)
	}
	assert.Equal(t, []string{"near", "mid", "far"}, ids)
	assert.Less(t, sorted[0].Meters, sorted[1].Meters)
}
