package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fittrack/internal/db"
	"fittrack/internal/shared/geo"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound = errors.New("activity not found")
	// ErrConflict means the id is already stored for another owner.
	ErrConflict = errors.New("activity id belongs to another user")
)

// Saver is the persistence backend a finished session is handed to.
type Saver interface {
	SaveActivity(ctx context.Context, rec Record) (Record, error)
}

// Service stores activities in Postgres and backs the /activities routes.
type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Create inserts rec for userID. Saving an id the same user already stored returns the stored row
// unchanged; an id owned by someone else is ErrConflict.
func (s *Service) Create(ctx context.Context, userID string, rec Record) (Record, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	if rec.Route == nil {
		rec.Route = geo.Route{}
	}
	route, err := json.Marshal(rec.Route)
	if err != nil {
		return Record{}, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO activities (id, user_id, type, start_time, end_time, duration_seconds, distance_meters, average_speed_kmh, route)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		WHERE activities.user_id = EXCLUDED.user_id
		RETURNING id, user_id, type, start_time, end_time, duration_seconds, distance_meters, average_speed_kmh, route, created_at
	`, rec.ID, userID, string(rec.Type), rec.StartTime, rec.EndTime, rec.DurationSeconds, rec.DistanceMeters, rec.AverageSpeedKmh, route)
	stored, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrConflict, rec.ID)
	}
	if err != nil {
		return Record{}, err
	}
	return stored, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, type, start_time, end_time, duration_seconds, distance_meters, average_speed_kmh, route, created_at
		FROM activities WHERE user_id=$1
		ORDER BY start_time DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Service) Get(ctx context.Context, userID, id string) (Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, type, start_time, end_time, duration_seconds, distance_meters, average_speed_kmh, route, created_at
		FROM activities WHERE id=$1 AND user_id=$2
	`, id, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Saver binds the service to a fixed owner so the tracker can persist without a request context.
func (s *Service) Saver(userID string) Saver {
	return ownerSaver{svc: s, userID: userID}
}

type ownerSaver struct {
	svc    *Service
	userID string
}

func (o ownerSaver) SaveActivity(ctx context.Context, rec Record) (Record, error) {
	return o.svc.Create(ctx, o.userID, rec)
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec   Record
		typ   string
		route []byte
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &typ, &rec.StartTime, &rec.EndTime, &rec.DurationSeconds,
		&rec.DistanceMeters, &rec.AverageSpeedKmh, &route, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.Type = Type(typ)
	if len(route) > 0 {
		if err := json.Unmarshal(route, &rec.Route); err != nil {
			return Record{}, fmt.Errorf("decode route: %w", err)
		}
	}
	return rec, nil
}
