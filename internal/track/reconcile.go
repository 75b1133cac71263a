package track

// Merge reconciles the three candidate sources of route truth into one view.
// Any input may be nil. The function is pure and idempotent: the same triple
// always yields the same output, and the output never aliases input slices.
//
// Precedence, highest first:
//   - locally active: coordinates come from the local view (authoritative for
//     what this device recorded); stats are a field-wise merge where push
//     fields override local computation (the server's is_closed_loop may use
//     finer geometry) and absent fields fall back to local values.
//   - not locally active, push present: push stats over poll stats, push
//     coordinates when carried, else poll's.
//   - otherwise: the poll view verbatim.
//
// While active the merged coordinate count never decreases below the local
// buffer's, so a stale poll or push snapshot cannot visibly shrink the route.
func Merge(local *RouteView, push *Snapshot, poll *RouteView, locallyActive bool) *RouteView {
	if locallyActive && local != nil {
		merged := copyView(local)
		if push != nil {
			merged.Stats = applyPatch(merged.Stats, push.Stats)
		}
		if merged.Stats.CoordinateCount < len(merged.Coordinates) {
			merged.Stats.CoordinateCount = len(merged.Coordinates)
		}
		return merged
	}

	if push != nil {
		var merged *RouteView
		if poll != nil {
			merged = copyView(poll)
		} else {
			merged = &RouteView{RouteID: push.RouteID}
		}
		if push.Coordinates != nil {
			merged.Coordinates = copyCoords(push.Coordinates)
		}
		merged.Stats = applyPatch(merged.Stats, push.Stats)
		return merged
	}

	if poll != nil {
		return copyView(poll)
	}
	return nil
}

func applyPatch(base RouteStats, patch *StatsPatch) RouteStats {
	if patch == nil {
		return base
	}
	if patch.DistanceMeters != nil {
		base.DistanceMeters = *patch.DistanceMeters
	}
	if patch.DurationSeconds != nil {
		base.DurationSeconds = *patch.DurationSeconds
	}
	if patch.CurrentSpeedKmh != nil {
		base.CurrentSpeedKmh = *patch.CurrentSpeedKmh
	}
	if patch.AverageSpeedKmh != nil {
		base.AverageSpeedKmh = *patch.AverageSpeedKmh
	}
	if patch.MaxSpeedKmh != nil {
		base.MaxSpeedKmh = *patch.MaxSpeedKmh
	}
	if patch.CoordinateCount != nil {
		base.CoordinateCount = *patch.CoordinateCount
	}
	if patch.IsClosedLoop != nil {
		base.IsClosedLoop = *patch.IsClosedLoop
	}
	if patch.GPSQualityScore != nil {
		base.GPSQualityScore = *patch.GPSQualityScore
	}
	return base
}

func copyView(v *RouteView) *RouteView {
	out := *v
	out.Coordinates = copyCoords(v.Coordinates)
	return &out
}

func copyCoords(coords []Coordinate) []Coordinate {
	out := make([]Coordinate, len(coords))
	copy(out, coords)
	return out
}
