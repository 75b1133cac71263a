package route

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-routewars/internal/db"
	"backend-routewars/internal/stream"
	"backend-routewars/internal/track"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound       = errors.New("route not found")
	ErrActiveExists   = errors.New("an active route already exists")
	ErrNotActive      = errors.New("route is not active or paused")
	ErrClaimNotFailed = errors.New("territory claim is not retryable")
)

// Claimer attempts a territory claim for a completed route. A non-nil error
// maps to claim status "error"; the route itself stays completed either way.
type Claimer interface {
	Claim(ctx context.Context, routeID, userID string, coords []track.Coordinate) (track.ClaimStatus, *track.TerritoryClaim, []track.TerritoryConflict, error)
}

type Service struct {
	db        db.Querier
	hub       *stream.Hub
	claimer   Claimer
	validator track.Validator
}

func NewService(q db.Querier, hub *stream.Hub, claimer Claimer, accuracyCeilingM float64) *Service {
	return &Service{
		db:        q,
		hub:       hub,
		claimer:   claimer,
		validator: track.Validator{AccuracyCeilingM: accuracyCeilingM},
	}
}

// CreateRoute starts a new route for the user. At most one active or paused
// route may exist per user; a second start is a conflict, never auto-resolved.
func (s *Service) CreateRoute(ctx context.Context, userID, name string) (string, error) {
	var existing string
	err := s.db.QueryRow(ctx, `
		SELECT id FROM routes WHERE user_id=$1 AND status IN ('active','paused')
	`, userID).Scan(&existing)
	if err == nil {
		return "", fmt.Errorf("%w: %s", ErrActiveExists, existing)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	id := uuid.NewString()
	_, err = s.db.Exec(ctx, `
		INSERT INTO routes (id, user_id, name, status, started_at)
		VALUES ($1,$2,$3,'active',$4)
	`, id, userID, name, time.Now())
	if err != nil {
		return "", err
	}
	return id, nil
}

// AddCoordinate validates and appends one GPS sample, then broadcasts a
// partial snapshot with freshly computed server stats through the hub.
// Validation rejects come back as errors for the caller to count and drop.
func (s *Service) AddCoordinate(ctx context.Context, routeID string, req CoordinateRequest) (track.RouteStats, error) {
	status, _, pausedSec, err := s.routeState(ctx, routeID)
	if err != nil {
		return track.RouteStats{}, err
	}
	if status != StatusActive {
		return track.RouteStats{}, ErrNotActive
	}

	coord := req.coordinate()
	prev, err := s.lastPoint(ctx, routeID)
	if err != nil {
		return track.RouteStats{}, err
	}
	if err := s.validator.Validate(coord, prev); err != nil {
		return track.RouteStats{}, err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO route_points (route_id, location, accuracy_m, altitude_m, speed_mps, bearing_deg, recorded_at)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4, $5, $6, $7, $8)
	`, routeID, coord.Lng, coord.Lat, coord.AccuracyM, coord.AltitudeM, coord.SpeedMps, coord.BearingDeg, coord.Timestamp)
	if err != nil {
		return track.RouteStats{}, err
	}

	coords, err := s.points(ctx, routeID)
	if err != nil {
		return track.RouteStats{}, err
	}
	stats := track.ComputeStats(coords, time.Duration(pausedSec*float64(time.Second)))

	if s.hub != nil {
		s.hub.Broadcast(track.Snapshot{
			RouteID:     routeID,
			Coordinates: []track.Coordinate{coord},
			Stats:       statsPatch(stats),
		})
	}
	return stats, nil
}

// PauseRoute marks the route paused and starts the paused-interval clock.
func (s *Service) PauseRoute(ctx context.Context, routeID, userID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE routes SET status='paused', paused_at=$3
		WHERE id=$1 AND user_id=$2 AND status='active'
	`, routeID, userID, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// ResumeRoute folds the just-ended paused interval into the running total so
// elapsed-time accounting excludes it.
func (s *Service) ResumeRoute(ctx context.Context, routeID, userID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE routes
		SET status='active',
		    paused_seconds = paused_seconds + EXTRACT(EPOCH FROM (now() - paused_at)),
		    paused_at = NULL
		WHERE id=$1 AND user_id=$2 AND status='paused'
	`, routeID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// ActiveRoute is the poll view: last-known server truth for the user's
// in-progress route, or nil when none exists.
func (s *Service) ActiveRoute(ctx context.Context, userID string) (*track.RouteView, error) {
	var (
		id        string
		status    string
		startedAt time.Time
		pausedSec float64
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, status, started_at, COALESCE(paused_seconds,0)
		FROM routes WHERE user_id=$1 AND status IN ('active','paused')
	`, userID).Scan(&id, &status, &startedAt, &pausedSec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	coords, err := s.points(ctx, id)
	if err != nil {
		return nil, err
	}
	return &track.RouteView{
		RouteID:     id,
		Status:      status,
		StartedAt:   startedAt,
		Coordinates: coords,
		Stats:       track.ComputeStats(coords, time.Duration(pausedSec*float64(time.Second))),
	}, nil
}

// CompleteRoute finishes the route and attempts the territory claim. It is
// the idempotence boundary: a stored non-failed result for the route id is
// returned as-is, so client retries after an unknown outcome are safe. Claim
// failure is non-fatal, the route stays completed and only the claim remains
// retryable.
func (s *Service) CompleteRoute(ctx context.Context, routeID, userID, name string, end *track.Coordinate) (track.CompletionResult, error) {
	stored, hasStored, err := s.storedCompletion(ctx, routeID)
	if err != nil {
		return track.CompletionResult{}, err
	}
	if hasStored && stored.ClaimStatus != track.ClaimFailed && stored.ClaimStatus != track.ClaimError {
		return stored, nil
	}

	status, owner, pausedSec, err := s.routeState(ctx, routeID)
	if err != nil {
		return track.CompletionResult{}, err
	}
	if owner != userID {
		return track.CompletionResult{}, ErrNotFound
	}
	// An earlier attempt already completed the route but left the claim in a
	// retryable state. The route stays completed; only the claim is re-run.
	if status == StatusCompleted && hasStored {
		return s.reclaim(ctx, routeID, userID)
	}
	if status != StatusActive && status != StatusPaused {
		return track.CompletionResult{}, ErrNotActive
	}

	if end != nil {
		prev, err := s.lastPoint(ctx, routeID)
		if err != nil {
			return track.CompletionResult{}, err
		}
		if s.validator.Validate(*end, prev) == nil {
			_, err = s.db.Exec(ctx, `
				INSERT INTO route_points (route_id, location, accuracy_m, altitude_m, speed_mps, bearing_deg, recorded_at)
				VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4, $5, $6, $7, $8)
			`, routeID, end.Lng, end.Lat, end.AccuracyM, end.AltitudeM, end.SpeedMps, end.BearingDeg, end.Timestamp)
			if err != nil {
				return track.CompletionResult{}, err
			}
		}
	}

	coords, err := s.points(ctx, routeID)
	if err != nil {
		return track.CompletionResult{}, err
	}
	stats := track.ComputeStats(coords, time.Duration(pausedSec*float64(time.Second)))

	_, err = s.db.Exec(ctx, `
		UPDATE routes SET status='completed', name=$3, completed_at=$4 WHERE id=$1 AND user_id=$2
	`, routeID, userID, name, time.Now())
	if err != nil {
		return track.CompletionResult{}, err
	}

	result := s.attemptClaim(ctx, routeID, userID, coords, stats)
	if err := s.storeCompletion(ctx, result); err != nil {
		return track.CompletionResult{}, err
	}
	return result, nil
}

// DeleteRoute abandons an in-progress route and its points.
func (s *Service) DeleteRoute(ctx context.Context, routeID, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM route_points WHERE route_id=$1`, routeID); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		DELETE FROM routes WHERE id=$1 AND user_id=$2 AND status IN ('active','paused')
	`, routeID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RetryClaim re-attempts only the territory claim for an already-completed
// route whose previous claim failed. GPS data is never re-submitted; the
// stored points are reused.
func (s *Service) RetryClaim(ctx context.Context, routeID, userID string) (track.CompletionResult, error) {
	stored, ok, err := s.storedCompletion(ctx, routeID)
	if err != nil {
		return track.CompletionResult{}, err
	}
	if !ok {
		return track.CompletionResult{}, ErrNotFound
	}
	if stored.ClaimStatus != track.ClaimFailed && stored.ClaimStatus != track.ClaimError {
		return stored, ErrClaimNotFailed
	}
	return s.reclaim(ctx, routeID, userID)
}

// reclaim re-runs only the territory claim for a completed route, reusing its
// stored points, and upserts the result.
func (s *Service) reclaim(ctx context.Context, routeID, userID string) (track.CompletionResult, error) {
	coords, err := s.points(ctx, routeID)
	if err != nil {
		return track.CompletionResult{}, err
	}
	stats := track.ComputeStats(coords, 0)

	result := s.attemptClaim(ctx, routeID, userID, coords, stats)
	if err := s.storeCompletion(ctx, result); err != nil {
		return track.CompletionResult{}, err
	}
	return result, nil
}

func (s *Service) attemptClaim(ctx context.Context, routeID, userID string, coords []track.Coordinate, stats track.RouteStats) track.CompletionResult {
	result := track.CompletionResult{RouteID: routeID}

	if elig := track.Classify(stats); !elig.Eligible {
		result.ClaimStatus = track.ClaimIneligible
		return result
	}
	if s.claimer == nil {
		result.ClaimStatus = track.ClaimError
		return result
	}

	claimStatus, claim, conflicts, err := s.claimer.Claim(ctx, routeID, userID, coords)
	if err != nil {
		result.ClaimStatus = track.ClaimError
		return result
	}
	result.ClaimStatus = claimStatus
	result.Territory = claim
	result.Conflicts = conflicts
	if claimStatus == track.ClaimSuccess && claim != nil {
		result.Reward = &track.ClaimReward{
			Points:  100 + int(claim.AreaSquareMeters/100),
			Message: "territory claimed",
		}
	}
	return result
}

func (s *Service) storedCompletion(ctx context.Context, routeID string) (track.CompletionResult, bool, error) {
	var (
		result      = track.CompletionResult{RouteID: routeID}
		claimStatus string
		territoryID *string
		areaSqm     *float64
		points      *int
	)
	err := s.db.QueryRow(ctx, `
		SELECT claim_status, territory_id, area_sqm, reward_points
		FROM route_completions WHERE route_id=$1
	`, routeID).Scan(&claimStatus, &territoryID, &areaSqm, &points)
	if errors.Is(err, pgx.ErrNoRows) {
		return track.CompletionResult{}, false, nil
	}
	if err != nil {
		return track.CompletionResult{}, false, err
	}

	result.ClaimStatus = track.ClaimStatus(claimStatus)
	if territoryID != nil {
		claim := &track.TerritoryClaim{ID: *territoryID}
		if areaSqm != nil {
			claim.AreaSquareMeters = *areaSqm
		}
		result.Territory = claim
	}
	if points != nil {
		result.Reward = &track.ClaimReward{Points: *points}
	}
	return result, true, nil
}

func (s *Service) storeCompletion(ctx context.Context, result track.CompletionResult) error {
	var (
		territoryID *string
		areaSqm     *float64
		points      *int
	)
	if result.Territory != nil {
		territoryID = &result.Territory.ID
		areaSqm = &result.Territory.AreaSquareMeters
	}
	if result.Reward != nil {
		points = &result.Reward.Points
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO route_completions (route_id, claim_status, territory_id, area_sqm, reward_points, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (route_id) DO UPDATE
		SET claim_status=EXCLUDED.claim_status,
		    territory_id=EXCLUDED.territory_id,
		    area_sqm=EXCLUDED.area_sqm,
		    reward_points=EXCLUDED.reward_points
	`, result.RouteID, string(result.ClaimStatus), territoryID, areaSqm, points, time.Now())
	return err
}

func (s *Service) routeState(ctx context.Context, routeID string) (status, userID string, pausedSec float64, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT status, user_id, COALESCE(paused_seconds,0) FROM routes WHERE id=$1
	`, routeID).Scan(&status, &userID, &pausedSec)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", 0, ErrNotFound
	}
	return status, userID, pausedSec, err
}

func (s *Service) lastPoint(ctx context.Context, routeID string) (*track.Coordinate, error) {
	var c track.Coordinate
	err := s.db.QueryRow(ctx, `
		SELECT ST_Y(location::geometry), ST_X(location::geometry), recorded_at
		FROM route_points WHERE route_id=$1
		ORDER BY recorded_at DESC LIMIT 1
	`, routeID).Scan(&c.Lat, &c.Lng, &c.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) points(ctx context.Context, routeID string) ([]track.Coordinate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ST_Y(location::geometry), ST_X(location::geometry), COALESCE(accuracy_m,0),
		       COALESCE(altitude_m,0), COALESCE(speed_mps,0), COALESCE(bearing_deg,0), recorded_at
		FROM route_points WHERE route_id=$1
		ORDER BY recorded_at
	`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coords []track.Coordinate
	for rows.Next() {
		var c track.Coordinate
		if err := rows.Scan(&c.Lat, &c.Lng, &c.AccuracyM, &c.AltitudeM, &c.SpeedMps, &c.BearingDeg, &c.Timestamp); err != nil {
			return nil, err
		}
		coords = append(coords, c)
	}
	return coords, rows.Err()
}

func statsPatch(stats track.RouteStats) *track.StatsPatch {
	return &track.StatsPatch{
		DistanceMeters:  &stats.DistanceMeters,
		DurationSeconds: &stats.DurationSeconds,
		CurrentSpeedKmh: &stats.CurrentSpeedKmh,
		AverageSpeedKmh: &stats.AverageSpeedKmh,
		MaxSpeedKmh:     &stats.MaxSpeedKmh,
		CoordinateCount: &stats.CoordinateCount,
		IsClosedLoop:    &stats.IsClosedLoop,
		GPSQualityScore: &stats.GPSQualityScore,
	}
}
