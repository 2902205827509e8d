package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"fittrack/internal/activity"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("retained record not found")

// Store keeps finished records whose persistence failed until a retry succeeds.
type Store interface {
	Retain(ctx context.Context, rec activity.Record) error
	Get(ctx context.Context, id string) (activity.Record, error)
	List(ctx context.Context) ([]activity.Record, error)
	Remove(ctx context.Context, id string) error
}

// New returns a redis-backed store, or an in-memory one when client is nil.
func New(client *redis.Client, key string) Store {
	if client == nil {
		return NewMemory()
	}
	return &RedisStore{client: client, key: key}
}

func Key(trackerID string) string {
	return "tracking:" + trackerID + ":outbox"
}

type RedisStore struct {
	client *redis.Client
	key    string
}

func (s *RedisStore) Retain(ctx context.Context, rec activity.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, rec.ID, payload).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (activity.Record, error) {
	payload, err := s.client.HGet(ctx, s.key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return activity.Record{}, ErrNotFound
	}
	if err != nil {
		return activity.Record{}, err
	}
	var rec activity.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return activity.Record{}, err
	}
	return rec, nil
}

func (s *RedisStore) List(ctx context.Context) ([]activity.Record, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	records := make([]activity.Record, 0, len(values))
	for _, v := range values {
		var rec activity.Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sortByEnd(records)
	return records, nil
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	return s.client.HDel(ctx, s.key, id).Err()
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]activity.Record
}

func NewMemory() *MemoryStore {
	return &MemoryStore{records: map[string]activity.Record{}}
}

func (s *MemoryStore) Retain(_ context.Context, rec activity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (activity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return activity.Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(_ context.Context) ([]activity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]activity.Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sortByEnd(records)
	return records, nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func sortByEnd(records []activity.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].EndTime.Before(records[j].EndTime)
	})
}
