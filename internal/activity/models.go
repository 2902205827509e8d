package activity

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"fittrack/internal/shared/geo"
)

var (
	ErrInvalidType   = errors.New("activity type must be one of walking, running, cycling")
	ErrInvalidRecord = errors.New("invalid activity record")
)

type Type string

const (
	Walking Type = "walking"
	Running Type = "running"
	Cycling Type = "cycling"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case Walking, Running, Cycling:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Record is a finished session. It is built once and never changed afterwards.
type Record struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	Type            Type      `json:"type"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	DistanceMeters  int       `json:"distance_meters"`
	AverageSpeedKmh float64   `json:"average_speed_kmh"`
	Route           geo.Route `json:"route"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewRecord derives duration from the wall clock and rounds the accumulated distance.
func NewRecord(id string, typ Type, start, end time.Time, distanceM float64, route geo.Route) Record {
	duration := int64(end.Sub(start) / time.Second)
	if duration < 0 {
		duration = 0
	}
	return Record{
		ID:              id,
		Type:            typ,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: duration,
		DistanceMeters:  int(math.Round(distanceM)),
		AverageSpeedKmh: SpeedKmh(distanceM, duration),
		Route:           route.Clone(),
	}
}

// SpeedKmh returns (distance/1000)/(seconds/3600), or 0 when either is not positive.
func SpeedKmh(distanceM float64, seconds int64) float64 {
	if seconds <= 0 || distanceM <= 0 {
		return 0
	}
	return (distanceM / 1000) / (float64(seconds) / 3600)
}

func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidRecord)
	}
	if _, err := ParseType(string(r.Type)); err != nil {
		return err
	}
	if r.StartTime.IsZero() || r.EndTime.Before(r.StartTime) {
		return fmt.Errorf("%w: end_time before start_time", ErrInvalidRecord)
	}
	if r.DurationSeconds < 0 || r.DistanceMeters < 0 {
		return fmt.Errorf("%w: negative duration or distance", ErrInvalidRecord)
	}
	return nil
}
