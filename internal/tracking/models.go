package tracking

import (
	"errors"
	"fmt"
	"time"

	"fittrack/internal/activity"
	"fittrack/internal/location"
	"fittrack/internal/shared/geo"
)

var (
	ErrPermissionDenied  = location.ErrPermissionDenied
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrPersistenceFailed = errors.New("activity persistence failed")
	ErrNotRunning        = errors.New("tracker not running")
)

// PersistenceError carries the finished record whose save failed.
type PersistenceError struct {
	Record activity.Record
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist activity %s: %v", e.Record.ID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceFailed, e.Err}
}

type Status string

const (
	StatusIdle     Status = "idle"
	StatusTracking Status = "tracking"
)

const (
	SavePending   = "pending"
	SavePersisted = "persisted"
	SaveFailed    = "failed"
)

type SaveOutcome struct {
	RecordID string    `json:"record_id"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// State is the observable session state.
type State struct {
	Status         Status        `json:"status"`
	SessionID      string        `json:"session_id,omitempty"`
	ActivityType   activity.Type `json:"activity_type,omitempty"`
	Route          geo.Route     `json:"route"`
	DistanceM      float64       `json:"distance_m"`
	ElapsedSeconds int64         `json:"elapsed_seconds"`
	Elapsed        string        `json:"elapsed"`
	PaceKmh        *float64      `json:"pace_kmh"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	Fault          string        `json:"fault,omitempty"`
	LastSave       *SaveOutcome  `json:"last_save,omitempty"`
}

func idleState() State {
	return State{Status: StatusIdle, Route: geo.Route{}, Elapsed: FormatElapsed(0)}
}

// clone detaches the route and pointers so the copy can leave the tracker goroutine.
func (s State) clone() State {
	out := s
	out.Route = s.Route.Clone()
	if s.PaceKmh != nil {
		v := *s.PaceKmh
		out.PaceKmh = &v
	}
	if s.StartedAt != nil {
		v := *s.StartedAt
		out.StartedAt = &v
	}
	if s.LastSave != nil {
		v := *s.LastSave
		out.LastSave = &v
	}
	return out
}

// Pace is (distance/1000)/(elapsed/3600) in km/h. It is unavailable until both are positive.
func Pace(distanceM float64, elapsedSeconds int64) (float64, bool) {
	if elapsedSeconds <= 0 || distanceM <= 0 {
		return 0, false
	}
	return (distanceM / 1000) / (float64(elapsedSeconds) / 3600), true
}

// FormatElapsed renders seconds as HH:MM:SS.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}

type FaultEvent struct {
	SessionID string `json:"session_id"`
	Active    bool   `json:"active"`
	Error     string `json:"error,omitempty"`
}

type FailureEvent struct {
	Record activity.Record `json:"record"`
	Error  string          `json:"error"`
}

type StartRequest struct {
	ActivityType string `json:"activity_type"`
}

type PermissionRequest struct {
	Granted *bool `json:"granted"`
}
