package location

import (
	"context"
	"errors"
	"time"

	"fittrack/internal/shared/geo"
)

var (
	ErrPermissionDenied  = errors.New("location permission denied")
	ErrStreamInterrupted = errors.New("location updates interrupted")
	ErrBusy              = errors.New("location stream already in use by another session")
	ErrNoActiveRequest   = errors.New("no active location request")
)

// Fix is one raw sample reported by the platform.
type Fix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	AccuracyM float64   `json:"accuracy_m"`
	Timestamp time.Time `json:"timestamp"`
}

func (f Fix) Point() geo.Point {
	return geo.Point{Lat: f.Lat, Lng: f.Lng}
}

// Source is the platform location capability.
// The returned channel is closed when the platform stops delivering updates.
type Source interface {
	PermissionGranted() bool
	RequestUpdates(ctx context.Context, interval time.Duration, minDisplacementM float64) (<-chan Fix, error)
}

type UpdateKind string

const (
	Accepted    UpdateKind = "accepted"
	Interrupted UpdateKind = "interrupted"
	Resumed     UpdateKind = "resumed"
)

// Update is one message on a session's stream. Err is set only for Interrupted.
type Update struct {
	SessionID string
	Kind      UpdateKind
	Point     geo.Point
	Err       error
}

// Request describes the cadence hints of the active location request.
type Request struct {
	IntervalSeconds  float64 `json:"interval_seconds"`
	MinDisplacementM float64 `json:"min_displacement_m"`
}
