package geo

import "math"

const earthRadiusM = 6371000.0

// Point is a bare lat/lng pair; callers that carry timestamps or accuracy
// project down to this before calling into the geometry functions.
type Point struct {
	Lat float64
	Lng float64
}

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// PathDistanceMeters sums consecutive pairwise distances over the sequence.
// This is the cumulative path length, not the first-to-last chord.
func PathDistanceMeters(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += HaversineMeters(points[i-1].Lat, points[i-1].Lng, points[i].Lat, points[i].Lng)
	}
	return total
}

// StraightLineMeters returns the chord from the first point to the last.
func StraightLineMeters(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	first, last := points[0], points[len(points)-1]
	return HaversineMeters(first.Lat, first.Lng, last.Lat, last.Lng)
}

// Efficiency is straight-line distance over path distance, in (0,1] for any
// path with positive length. Reporting-only, never gates eligibility.
func Efficiency(points []Point) float64 {
	path := PathDistanceMeters(points)
	if path <= 0 {
		return 1
	}
	e := StraightLineMeters(points) / path
	if e > 1 {
		e = 1
	}
	return e
}

// Tortuosity is the reciprocal of efficiency.
func Tortuosity(points []Point) float64 {
	e := Efficiency(points)
	if e <= 0 {
		return 1
	}
	return 1 / e
}

// BearingDegrees returns the initial bearing from the first coordinate to the
// second, normalized to [0, 360).
func BearingDegrees(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// HeadingVarianceDegrees measures the circular variance of consecutive segment
// bearings, scaled to degrees. Jittery tracks score high, steady tracks near 0.
func HeadingVarianceDegrees(points []Point) float64 {
	if len(points) < 3 {
		return 0
	}
	var sumSin, sumCos float64
	n := 0
	for i := 1; i < len(points); i++ {
		b := BearingDegrees(points[i-1].Lat, points[i-1].Lng, points[i].Lat, points[i].Lng) * math.Pi / 180
		sumSin += math.Sin(b)
		sumCos += math.Cos(b)
		n++
	}
	r := math.Sqrt(sumSin*sumSin+sumCos*sumCos) / float64(n)
	return (1 - r) * 180
}

// PolygonAreaSquareMeters computes the area enclosed by the points via the
// spherical excess formula. The ring is closed implicitly; order of traversal
// does not matter (the absolute value is returned).
func PolygonAreaSquareMeters(points []Point) float64 {
	if len(points) < 3 {
		return 0
	}
	area := 0.0
	n := len(points)
	for i := 0; i < n; i++ {
		p1 := points[i]
		p2 := points[(i+1)%n]
		lambda1 := p1.Lng * math.Pi / 180
		lambda2 := p2.Lng * math.Pi / 180
		phi1 := p1.Lat * math.Pi / 180
		phi2 := p2.Lat * math.Pi / 180
		area += (lambda2 - lambda1) * (2 + math.Sin(phi1) + math.Sin(phi2))
	}
	return math.Abs(area * earthRadiusM * earthRadiusM / 2)
}
