package tracing

import (
	"errors"
	"fmt"
)

// ErrMissingMarker is matched by every MissingMarkerError.
var ErrMissingMarker = errors.New("missing trace marker")

// MissingMarkerError reports a required trace marker that was not recorded.
type MissingMarkerError struct {
	Marker string
}

func (e *MissingMarkerError) Error() string {
	return fmt.Sprintf("no %s event found in trace", e.Marker)
}

func (e *MissingMarkerError) Is(target error) bool {
	return target == ErrMissingMarker
}

// MissingMarker returns a MissingMarkerError for marker.
func MissingMarker(marker string) error {
	return &MissingMarkerError{Marker: marker}
}
