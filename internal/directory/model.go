package directory

import (
	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/geo"
)

type Center struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	Phone       string    `json:"phone"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Specialties []string  `json:"specialties"`
	Timings     string    `json:"timings"`
	Rating      float64   `json:"rating"`
	Reviews     int       `json:"reviews"`
	Certified   bool      `json:"certified"`
	DistanceKm  *float64  `json:"distance_km,omitempty"`
}

func (c Center) Point() geo.Point {
	return geo.Point{Lat: c.Latitude, Lon: c.Longitude}
}

type Practitioner struct {
	ID              uuid.UUID   `json:"id"`
	Name            string      `json:"name"`
	Speciality      string      `json:"speciality"`
	ExperienceYears int         `json:"experience_years"`
	Rating          float64     `json:"rating"`
	SlotTimes       []string    `json:"slot_times"`
	CenterIDs       []uuid.UUID `json:"center_ids"`
}

// CenterFilter narrows a center search. An empty City or "All" matches every city.
type CenterFilter struct {
	City  string
	Query string
	Near  *geo.Point
	Limit int
}
