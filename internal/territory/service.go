package territory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backend-routewars/internal/db"
	"backend-routewars/internal/shared/geo"
	"backend-routewars/internal/track"

	"github.com/google/uuid"
)

type Service struct {
	db db.Querier
}

func NewService(q db.Querier) *Service {
	return &Service{db: q}
}

// Preview recomputes the claim preview for an in-progress route: enclosed
// area, loop validity, claimability, and conflicts with already-claimed
// territories.
func (s *Service) Preview(ctx context.Context, routeID string, coords []track.Coordinate) (track.TerritoryPreview, error) {
	preview := track.TerritoryPreview{RouteID: routeID, Conflicts: []track.TerritoryConflict{}}
	if len(coords) == 0 {
		return preview, nil
	}

	preview.IsValid = track.IsClosedLoop(coords)
	preview.AreaSquareMeters = geo.PolygonAreaSquareMeters(toPoints(coords))

	elig := track.Classify(track.ComputeStats(coords, 0))
	if !elig.Eligible {
		return preview, nil
	}

	conflicts, err := s.conflicts(ctx, coords)
	if err != nil {
		return track.TerritoryPreview{}, err
	}
	preview.Conflicts = conflicts
	preview.EligibleForClaiming = len(conflicts) == 0
	return preview, nil
}

// Claim inserts the territory polygon for a completed route. Conflicting
// claims come back blocked with the conflict list; an open loop is
// ineligible. A non-nil error means the attempt itself failed and may be
// retried.
func (s *Service) Claim(ctx context.Context, routeID, userID string, coords []track.Coordinate) (track.ClaimStatus, *track.TerritoryClaim, []track.TerritoryConflict, error) {
	if !track.IsClosedLoop(coords) {
		return track.ClaimIneligible, nil, nil, nil
	}

	conflicts, err := s.conflicts(ctx, coords)
	if err != nil {
		return track.ClaimError, nil, nil, err
	}
	if len(conflicts) > 0 {
		return track.ClaimBlocked, nil, conflicts, nil
	}

	area := geo.PolygonAreaSquareMeters(toPoints(coords))
	id := uuid.NewString()
	_, err = s.db.Exec(ctx, `
		INSERT INTO territories (id, route_id, owner_id, boundary, area_sqm, claimed_at)
		VALUES ($1,$2,$3, ST_GeomFromText($4,4326)::geography, $5, $6)
	`, id, routeID, userID, polygonWKT(coords), area, time.Now())
	if err != nil {
		return track.ClaimError, nil, nil, err
	}

	return track.ClaimSuccess, &track.TerritoryClaim{ID: id, AreaSquareMeters: area}, nil, nil
}

// ByOwner lists a user's claimed territories.
func (s *Service) ByOwner(ctx context.Context, ownerID string) ([]Territory, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, route_id, owner_id, area_sqm, claimed_at
		FROM territories WHERE owner_id=$1
		ORDER BY claimed_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var territories []Territory
	for rows.Next() {
		var t Territory
		if err := rows.Scan(&t.ID, &t.RouteID, &t.OwnerID, &t.AreaSquareMeters, &t.ClaimedAt); err != nil {
			return nil, err
		}
		territories = append(territories, t)
	}
	return territories, rows.Err()
}

func (s *Service) conflicts(ctx context.Context, coords []track.Coordinate) ([]track.TerritoryConflict, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id FROM territories
		WHERE ST_Intersects(boundary, ST_GeomFromText($1,4326)::geography)
	`, polygonWKT(coords))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []track.TerritoryConflict
	for rows.Next() {
		var c track.TerritoryConflict
		if err := rows.Scan(&c.TerritoryID, &c.OwnerID); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// polygonWKT renders the route as a closed WKT ring (lng lat order).
func polygonWKT(coords []track.Coordinate) string {
	var b strings.Builder
	b.WriteString("POLYGON((")
	for i, c := range coords {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%f %f", c.Lng, c.Lat)
	}
	first := coords[0]
	if last := coords[len(coords)-1]; last.Lat != first.Lat || last.Lng != first.Lng {
		fmt.Fprintf(&b, ",%f %f", first.Lng, first.Lat)
	}
	b.WriteString("))")
	return b.String()
}

func toPoints(coords []track.Coordinate) []geo.Point {
	points := make([]geo.Point, len(coords))
	for i, c := range coords {
		points[i] = geo.Point{Lat: c.Lat, Lng: c.Lng}
	}
	return points
}
