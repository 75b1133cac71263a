package track

// Buffer is the append-only ordered coordinate sequence for the route being
// recorded on this device. While the route is active nothing is removed or
// reordered; Version bumps on every admitted append so the reconciler can
// cheaply detect change.
type Buffer struct {
	coords  []Coordinate
	version uint64
}

// Append admits a validated coordinate. An exact duplicate of the tail (same
// position and timestamp) is idempotently ignored and reports false.
func (b *Buffer) Append(c Coordinate) bool {
	if n := len(b.coords); n > 0 {
		tail := b.coords[n-1]
		if tail.Lat == c.Lat && tail.Lng == c.Lng && tail.Timestamp.Equal(c.Timestamp) {
			return false
		}
	}
	b.coords = append(b.coords, c)
	b.version++
	return true
}

func (b *Buffer) Len() int {
	return len(b.coords)
}

func (b *Buffer) Version() uint64 {
	return b.version
}

// Last returns the most recently admitted coordinate.
func (b *Buffer) Last() (Coordinate, bool) {
	if len(b.coords) == 0 {
		return Coordinate{}, false
	}
	return b.coords[len(b.coords)-1], true
}

// Coordinates returns a copy of the sequence; the buffer's own backing array
// is never shared, coordinates are immutable once admitted.
func (b *Buffer) Coordinates() []Coordinate {
	out := make([]Coordinate, len(b.coords))
	copy(out, b.coords)
	return out
}

// Clear empties the buffer on route end. The version keeps increasing so a
// cleared buffer is still distinguishable from a fresh one.
func (b *Buffer) Clear() {
	b.coords = nil
	b.version++
}
