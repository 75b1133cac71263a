package route

import (
	"time"

	"backend-routewars/internal/track"
)

const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Route struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name,omitempty"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	PausedAt    time.Time `json:"paused_at,omitempty"`
	PausedSec   float64   `json:"paused_seconds"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Name   string `json:"name" validate:"max=120"`
}

type CoordinateRequest struct {
	Latitude  float64   `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64   `json:"longitude" validate:"min=-180,max=180"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Accuracy  float64   `json:"accuracy" validate:"min=0"`
	Altitude  float64   `json:"altitude"`
	Speed     float64   `json:"speed" validate:"min=0"`
	Bearing   float64   `json:"bearing" validate:"min=0,max=360"`
}

func (r CoordinateRequest) coordinate() track.Coordinate {
	return track.Coordinate{
		Lat:        r.Latitude,
		Lng:        r.Longitude,
		Timestamp:  r.Timestamp,
		AccuracyM:  r.Accuracy,
		AltitudeM:  r.Altitude,
		SpeedMps:   r.Speed,
		BearingDeg: r.Bearing,
	}
}

type CompleteRequest struct {
	UserID        string             `json:"user_id" validate:"required"`
	Name          string             `json:"name" validate:"max=120"`
	EndCoordinate *CoordinateRequest `json:"end_coordinate,omitempty"`
}
