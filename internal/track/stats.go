package track

import (
	"fmt"
	"time"

	"backend-routewars/internal/shared/geo"
)

// ComputeStats derives RouteStats from a coordinate sequence. pausedOffset is
// the accumulated time the route spent paused; it is excluded from duration
// and therefore from average speed. Pure function of its inputs.
func ComputeStats(coords []Coordinate, pausedOffset time.Duration) RouteStats {
	stats := RouteStats{CoordinateCount: len(coords)}
	if len(coords) == 0 {
		return stats
	}

	points := toPoints(coords)
	stats.DistanceMeters = geo.PathDistanceMeters(points)
	stats.IsClosedLoop = IsClosedLoop(coords)

	duration := coords[len(coords)-1].Timestamp.Sub(coords[0].Timestamp) - pausedOffset
	if duration < 0 {
		duration = 0
	}
	stats.DurationSeconds = duration.Seconds()

	if stats.DurationSeconds > 0 {
		stats.AverageSpeedKmh = stats.DistanceMeters / stats.DurationSeconds * 3.6
	}
	stats.CurrentSpeedKmh = coords[len(coords)-1].SpeedMps * 3.6
	for _, c := range coords {
		if kmh := c.SpeedMps * 3.6; kmh > stats.MaxSpeedKmh {
			stats.MaxSpeedKmh = kmh
		}
	}
	stats.GPSQualityScore = qualityScore(coords)
	return stats
}

// IsClosedLoop reports whether the path returned to its starting point:
// at least MinLoopCoordinates points and a first-to-last distance strictly
// below LoopClosureMaxMeters.
func IsClosedLoop(coords []Coordinate) bool {
	if len(coords) < MinLoopCoordinates {
		return false
	}
	first, last := coords[0], coords[len(coords)-1]
	return geo.HaversineMeters(first.Lat, first.Lng, last.Lat, last.Lng) < LoopClosureMaxMeters
}

// Efficiency and Tortuosity are reporting-only route quality metrics.
func Efficiency(coords []Coordinate) float64 {
	return geo.Efficiency(toPoints(coords))
}

func Tortuosity(coords []Coordinate) float64 {
	return geo.Tortuosity(toPoints(coords))
}

func HeadingVariance(coords []Coordinate) float64 {
	return geo.HeadingVarianceDegrees(toPoints(coords))
}

// qualityScore maps the mean reported accuracy to 0-100; 0 m accuracy scores
// 100 and 50 m or worse scores 0. Samples without accuracy are skipped; a
// route with no accuracy data at all scores 100.
func qualityScore(coords []Coordinate) float64 {
	sum, n := 0.0, 0
	for _, c := range coords {
		if c.AccuracyM > 0 {
			sum += c.AccuracyM
			n++
		}
	}
	if n == 0 {
		return 100
	}
	score := 100 - (sum/float64(n))*2
	if score < 0 {
		score = 0
	}
	return score
}

// Classify evaluates territory eligibility for the given stats. The statuses
// form an ordered priority, re-evaluated on every stats change.
func Classify(stats RouteStats) TerritoryEligibility {
	switch {
	case stats.CoordinateCount < MinLoopCoordinates:
		return TerritoryEligibility{
			Status: EligibilityStarting,
			Reason: fmt.Sprintf("need %d more GPS points", MinLoopCoordinates-stats.CoordinateCount),
		}
	case stats.DistanceMeters < MinTerritoryDistanceM:
		return TerritoryEligibility{
			Status: EligibilityInsufficient,
			Reason: fmt.Sprintf("need %.0f more meters", MinTerritoryDistanceM-stats.DistanceMeters),
		}
	case !stats.IsClosedLoop:
		return TerritoryEligibility{
			Status: EligibilityPartial,
			Reason: fmt.Sprintf("return to within %.0f m of your starting point", LoopClosureMaxMeters),
		}
	default:
		return TerritoryEligibility{
			Eligible: true,
			Status:   EligibilityEligible,
			Reason:   "route is ready to claim",
		}
	}
}

func toPoints(coords []Coordinate) []geo.Point {
	points := make([]geo.Point, len(coords))
	for i, c := range coords {
		points[i] = geo.Point{Lat: c.Lat, Lng: c.Lng}
	}
	return points
}
