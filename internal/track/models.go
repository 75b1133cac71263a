package track

import "time"

// Route tunables. LoopClosureMaxMeters is deliberately a single named constant:
// the source systems disagreed between 50 and 100 m, and eligibility gating
// requires every computation surface to apply the same value. A loop closes
// when the first-to-last distance is strictly below the threshold; exactly at
// the threshold does not close.
const (
	LoopClosureMaxMeters  = 75.0
	MinLoopCoordinates    = 4
	MinTerritoryDistanceM = 100.0
)

type Coordinate struct {
	Lat        float64   `json:"latitude"`
	Lng        float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"`
	AccuracyM  float64   `json:"accuracy,omitempty"`
	AltitudeM  float64   `json:"altitude,omitempty"`
	SpeedMps   float64   `json:"speed,omitempty"`
	BearingDeg float64   `json:"bearing,omitempty"`
}

// RouteStats is derived, never hand-edited. The same coordinate sequence must
// produce the same stats no matter who computes them (client or server); the
// reconciler depends on that to merge views field-wise.
type RouteStats struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
	CurrentSpeedKmh float64 `json:"current_speed_kmh"`
	AverageSpeedKmh float64 `json:"average_speed_kmh"`
	MaxSpeedKmh     float64 `json:"max_speed_kmh"`
	CoordinateCount int     `json:"coordinate_count"`
	IsClosedLoop    bool    `json:"is_closed_loop"`
	GPSQualityScore float64 `json:"gps_quality_score"`
}

// StatsPatch is a partial stats update; nil fields are absent and fall back to
// whatever the receiving side already computed.
type StatsPatch struct {
	DistanceMeters  *float64 `json:"distance_meters,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	CurrentSpeedKmh *float64 `json:"current_speed_kmh,omitempty"`
	AverageSpeedKmh *float64 `json:"average_speed_kmh,omitempty"`
	MaxSpeedKmh     *float64 `json:"max_speed_kmh,omitempty"`
	CoordinateCount *int     `json:"coordinate_count,omitempty"`
	IsClosedLoop    *bool    `json:"is_closed_loop,omitempty"`
	GPSQualityScore *float64 `json:"gps_quality_score,omitempty"`
}

// Snapshot is the partial route update carried by the push channel.
type Snapshot struct {
	RouteID     string       `json:"route_id"`
	Coordinates []Coordinate `json:"coordinates,omitempty"`
	Stats       *StatsPatch  `json:"stats,omitempty"`
}

const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// RouteView is one complete rendering of the in-progress route, as produced by
// the reconciler and consumed by presentation.
type RouteView struct {
	RouteID     string       `json:"route_id"`
	Status      string       `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	Coordinates []Coordinate `json:"coordinates"`
	Stats       RouteStats   `json:"stats"`
}

type EligibilityStatus string

const (
	EligibilityStarting     EligibilityStatus = "starting"
	EligibilityInsufficient EligibilityStatus = "insufficient"
	EligibilityPartial      EligibilityStatus = "partial"
	EligibilityEligible     EligibilityStatus = "eligible"
)

type TerritoryEligibility struct {
	Eligible bool              `json:"eligible"`
	Status   EligibilityStatus `json:"status"`
	Reason   string            `json:"reason"`
}

type ClaimStatus string

const (
	ClaimSuccess    ClaimStatus = "success"
	ClaimBlocked    ClaimStatus = "blocked"
	ClaimIneligible ClaimStatus = "ineligible"
	ClaimFailed     ClaimStatus = "failed"
	ClaimError      ClaimStatus = "error"
)

type TerritoryClaim struct {
	ID               string  `json:"id"`
	AreaSquareMeters float64 `json:"area_square_meters"`
}

type TerritoryConflict struct {
	TerritoryID string `json:"territory_id"`
	OwnerID     string `json:"owner_id"`
}

type ClaimReward struct {
	Points  int    `json:"points"`
	Message string `json:"message,omitempty"`
}

// TerritoryPreview is the recomputed claim preview for an in-progress route.
type TerritoryPreview struct {
	RouteID             string              `json:"route_id"`
	AreaSquareMeters    float64             `json:"area_square_meters"`
	IsValid             bool                `json:"is_valid"`
	EligibleForClaiming bool                `json:"eligible_for_claiming"`
	Conflicts           []TerritoryConflict `json:"conflicts"`
}

// CompletionResult is produced at most once per route id with a non-failed
// claim status; retries either return the stored result or a fresh attempt.
type CompletionResult struct {
	RouteID     string              `json:"route_id"`
	ClaimStatus ClaimStatus         `json:"territory_claim_status"`
	Territory   *TerritoryClaim     `json:"territory_claim,omitempty"`
	Conflicts   []TerritoryConflict `json:"conflicts,omitempty"`
	Reward      *ClaimReward        `json:"gamification,omitempty"`
}
