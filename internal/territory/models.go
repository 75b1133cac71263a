package territory

import (
	"time"

	"backend-routewars/internal/track"
)

type Territory struct {
	ID               string    `json:"id"`
	RouteID          string    `json:"route_id"`
	OwnerID          string    `json:"owner_id"`
	AreaSquareMeters float64   `json:"area_square_meters"`
	ClaimedAt        time.Time `json:"claimed_at"`
}

type PreviewRequest struct {
	RouteID     string             `json:"route_id" validate:"required"`
	Coordinates []track.Coordinate `json:"coordinates" validate:"required,min=2"`
}
