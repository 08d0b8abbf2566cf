package models

// Coords is a WGS84 position.
type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Lot is a parking lot listed by the backend.
type Lot struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Capacity     int     `json:"capacity"`
	Available    int     `json:"available"`
	PricePerHour float64 `json:"price_per_hour"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Coords       Coords  `json:"coords"`
}

// Position prefers the flat lat/lng fields and falls back to the nested coords object.
func (l Lot) Position() Coords {
	if l.Lat != 0 || l.Lng != 0 {
		return Coords{Lat: l.Lat, Lng: l.Lng}
	}
	return l.Coords
}
