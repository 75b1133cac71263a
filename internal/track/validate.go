package track

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrMalformed      = errors.New("coordinate malformed")
	ErrInaccurate     = errors.New("coordinate accuracy above ceiling")
	ErrStaleTimestamp = errors.New("coordinate timestamp not after previous")
)

// Validator classifies raw GPS samples before they enter the buffer. It is
// pure: admission is the caller's decision, rejection reasons are errors.
type Validator struct {
	// AccuracyCeilingM rejects samples whose reported accuracy is worse than
	// this many meters. Zero disables the accuracy check.
	AccuracyCeilingM float64
}

// Validate accepts a raw sample and the previously accepted coordinate, if
// any. A nil previous means the sample would be the first of the route.
func (v Validator) Validate(sample Coordinate, previous *Coordinate) error {
	if math.IsNaN(sample.Lat) || math.IsNaN(sample.Lng) ||
		math.IsInf(sample.Lat, 0) || math.IsInf(sample.Lng, 0) {
		return fmt.Errorf("%w: non-finite position", ErrMalformed)
	}
	if sample.Lat < -90 || sample.Lat > 90 || sample.Lng < -180 || sample.Lng > 180 {
		return fmt.Errorf("%w: position out of range", ErrMalformed)
	}
	if sample.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	if v.AccuracyCeilingM > 0 && sample.AccuracyM > v.AccuracyCeilingM {
		return fmt.Errorf("%w: %.0fm > %.0fm", ErrInaccurate, sample.AccuracyM, v.AccuracyCeilingM)
	}
	// GPS receivers jitter and occasionally replay timestamps; admitting those
	// would corrupt cumulative distance and speed.
	if previous != nil && !sample.Timestamp.After(previous.Timestamp) {
		return ErrStaleTimestamp
	}
	return nil
}
