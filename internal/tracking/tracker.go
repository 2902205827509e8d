package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fittrack/internal/activity"
	"fittrack/internal/location"
	"fittrack/internal/logging"
	"fittrack/internal/metrics"
	"fittrack/internal/outbox"
	"fittrack/internal/shared/geo"
	"fittrack/internal/stream"

	"github.com/google/uuid"
)

const tickInterval = time.Second

// Locations is the accepted-point source of a session. *location.Stream satisfies it.
type Locations interface {
	Start(sessionID string) (<-chan location.Update, error)
	Stop()
}

// Foreground marks the process as an ongoing user-visible task while a session runs.
type Foreground interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Publisher interface {
	Publish(topic, typ string, data any) error
}

type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) Chan() <-chan time.Time { return t.C }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

type Deps struct {
	Locations   Locations
	Saver       activity.Saver
	Outbox      outbox.Store
	Foreground  Foreground
	Publisher   Publisher
	Topic       string
	SaveTimeout time.Duration
	Log         *slog.Logger

	Now       func() time.Time
	NewTicker func(time.Duration) Ticker
}

// Tracker owns the tracking session. All state changes happen on the Run goroutine.
type Tracker struct {
	locations   Locations
	saver       activity.Saver
	outbox      outbox.Store
	foreground  Foreground
	publisher   Publisher
	topic       string
	saveTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time
	newTicker   func(time.Duration) Ticker

	cmds    chan func()
	quit    chan struct{}
	running atomic.Bool
	saves   sync.WaitGroup

	state    State
	distance float64
	updates  <-chan location.Update
	ticker   Ticker
	tickC    <-chan time.Time
}

func NewTracker(deps Deps) *Tracker {
	t := &Tracker{
		locations:   deps.Locations,
		saver:       deps.Saver,
		outbox:      deps.Outbox,
		foreground:  deps.Foreground,
		publisher:   deps.Publisher,
		topic:       deps.Topic,
		saveTimeout: deps.SaveTimeout,
		log:         deps.Log,
		now:         deps.Now,
		newTicker:   deps.NewTicker,
		cmds:        make(chan func()),
		quit:        make(chan struct{}),
		state:       idleState(),
	}
	if t.outbox == nil {
		t.outbox = outbox.NewMemory()
	}
	if t.saveTimeout <= 0 {
		t.saveTimeout = 30 * time.Second
	}
	if t.log == nil {
		t.log = logging.Discard()
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.newTicker == nil {
		t.newTicker = newTimeTicker
	}
	return t
}

// Run processes commands, ticks and location updates until ctx is done.
// A session still tracking at that point is stopped and handed to persistence.
func (t *Tracker) Run(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	defer close(t.quit)
	defer t.shutdown()

	t.log.Info("tracker running", "action", "tracker_started", "topic", t.topic)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-t.cmds:
			fn()
		case u, ok := <-t.updates:
			if !ok {
				t.updates = nil
				continue
			}
			t.onUpdate(u)
		case <-t.tickC:
			t.handleTick()
		}
	}
}

// Wait blocks until every launched save has finished.
func (t *Tracker) Wait() {
	t.saves.Wait()
}

// Start begins a session. While tracking, starting again with the same type returns the running
// session; a different type is ErrInvalidTransition.
func (t *Tracker) Start(ctx context.Context, activityType string) (State, error) {
	var (
		st  State
		err error
	)
	if doErr := t.do(ctx, func() { st, err = t.start(ctx, activityType) }); doErr != nil {
		return State{}, doErr
	}
	return st, err
}

// Stop finishes the session and returns its record. Persistence continues in the background.
func (t *Tracker) Stop(ctx context.Context) (activity.Record, error) {
	var (
		rec activity.Record
		err error
	)
	if doErr := t.do(ctx, func() { rec, err = t.stop(ctx) }); doErr != nil {
		return activity.Record{}, doErr
	}
	return rec, err
}

func (t *Tracker) Snapshot(ctx context.Context) (State, error) {
	var st State
	if err := t.do(ctx, func() { st = t.state.clone() }); err != nil {
		return State{}, err
	}
	return st, nil
}

func (t *Tracker) Pending(ctx context.Context) ([]activity.Record, error) {
	return t.outbox.List(ctx)
}

// Retry saves a retained record again. On success it leaves the outbox.
func (t *Tracker) Retry(ctx context.Context, id string) (activity.Record, error) {
	rec, err := t.outbox.Get(ctx, id)
	if err != nil {
		return activity.Record{}, err
	}

	t.log.Info("retrying activity save", "action", "activity_save_retry", "record_id", id)
	saved, err := t.save(ctx, rec)
	if err != nil {
		t.failed(rec, err)
		return activity.Record{}, &PersistenceError{Record: rec, Err: err}
	}
	if err := t.outbox.Remove(ctx, id); err != nil && !errors.Is(err, outbox.ErrNotFound) {
		t.log.Error("outbox remove failed", "action", "outbox_remove_failed", "record_id", id, "error", err.Error())
	}
	t.persisted(saved)
	return saved, nil
}

// do runs fn on the tracker goroutine and waits for it.
func (t *Tracker) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case t.cmds <- func() { defer close(done); fn() }:
	case <-t.quit:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (t *Tracker) start(ctx context.Context, activityType string) (State, error) {
	typ, err := activity.ParseType(activityType)
	if err != nil {
		return State{}, err
	}
	if t.state.Status == StatusTracking {
		if typ != t.state.ActivityType {
			return State{}, fmt.Errorf("%w: %s session already running", ErrInvalidTransition, t.state.ActivityType)
		}
		return t.state.clone(), nil
	}

	sessionID := uuid.NewString()
	updates, err := t.locations.Start(sessionID)
	if err != nil {
		t.log.Error("session start failed", "action", "session_start_failed", "error", err.Error())
		return State{}, err
	}
	if t.foreground != nil {
		if err := t.foreground.Start(ctx); err != nil {
			t.log.Warn("foreground task failed", "action", "foreground_start_failed", "error", err.Error())
		}
	}

	startedAt := t.now()
	lastSave := t.state.LastSave
	t.state = idleState()
	t.state.Status = StatusTracking
	t.state.SessionID = sessionID
	t.state.ActivityType = typ
	t.state.StartedAt = &startedAt
	t.state.LastSave = lastSave
	t.distance = 0
	t.updates = updates
	t.ticker = t.newTicker(tickInterval)
	t.tickC = t.ticker.Chan()

	metrics.SessionStarted()
	t.log.Info("session started", "action", "session_started", "session_id", sessionID, "activity_type", string(typ))
	t.publishState()
	return t.state.clone(), nil
}

func (t *Tracker) stop(ctx context.Context) (activity.Record, error) {
	if t.state.Status != StatusTracking {
		return activity.Record{}, ErrInvalidTransition
	}

	t.ticker.Stop()
	t.ticker = nil
	t.tickC = nil
	t.updates = nil
	t.locations.Stop()
	if t.foreground != nil {
		if err := t.foreground.Stop(ctx); err != nil {
			t.log.Warn("foreground task release failed", "action", "foreground_stop_failed", "error", err.Error())
		}
	}

	end := t.now()
	rec := activity.NewRecord(t.state.SessionID, t.state.ActivityType, *t.state.StartedAt, end, t.distance, t.state.Route)

	t.state.Status = StatusIdle
	t.state.Fault = ""
	t.state.LastSave = &SaveOutcome{RecordID: rec.ID, Status: SavePending, At: end}

	metrics.SessionStopped(t.distance)
	t.log.Info("session stopped",
		"action", "session_stopped",
		"session_id", rec.ID,
		"duration_seconds", rec.DurationSeconds,
		"distance_meters", rec.DistanceMeters,
		"points", len(rec.Route),
	)
	t.publishState()

	t.saves.Add(1)
	go t.persist(rec)
	return rec, nil
}

func (t *Tracker) shutdown() {
	if t.state.Status != StatusTracking {
		return
	}
	t.log.Warn("tracker shutting down with an active session", "action", "tracker_shutdown_stop", "session_id", t.state.SessionID)
	_, _ = t.stop(context.Background())
}

func (t *Tracker) onUpdate(u location.Update) {
	if t.state.Status != StatusTracking || u.SessionID != t.state.SessionID {
		t.log.Debug("late location update dropped", "action", "update_dropped", "session_id", u.SessionID)
		return
	}

	switch u.Kind {
	case location.Accepted:
		t.onPointReceived(u.Point)
	case location.Interrupted:
		msg := "location unavailable"
		if u.Err != nil {
			msg = u.Err.Error()
		}
		t.state.Fault = msg
		t.publish(stream.TypeFault, FaultEvent{SessionID: t.state.SessionID, Active: true, Error: msg})
		t.publishState()
	case location.Resumed:
		t.state.Fault = ""
		t.publish(stream.TypeFault, FaultEvent{SessionID: t.state.SessionID, Active: false})
		t.publishState()
	}
}

func (t *Tracker) onPointReceived(p geo.Point) {
	if last, ok := t.state.Route.Last(); ok {
		t.distance += geo.Distance(last, p)
	}
	t.state.Route = append(t.state.Route, p)
	t.state.DistanceM = t.distance
	t.updatePace()
	t.publishState()
}

func (t *Tracker) handleTick() {
	if t.state.Status != StatusTracking {
		return
	}
	t.state.ElapsedSeconds++
	t.state.Elapsed = FormatElapsed(t.state.ElapsedSeconds)
	t.updatePace()
	t.publishState()
}

func (t *Tracker) updatePace() {
	if pace, ok := Pace(t.distance, t.state.ElapsedSeconds); ok {
		t.state.PaceKmh = &pace
		return
	}
	t.state.PaceKmh = nil
}

func (t *Tracker) persist(rec activity.Record) {
	defer t.saves.Done()

	saved, err := t.save(context.Background(), rec)
	if err != nil {
		retainCtx, cancel := context.WithTimeout(context.Background(), t.saveTimeout)
		defer cancel()
		if rerr := t.outbox.Retain(retainCtx, rec); rerr != nil {
			t.log.Error("outbox retain failed", "action", "outbox_retain_failed", "record_id", rec.ID, "error", rerr.Error())
		}
		t.failed(rec, err)
		return
	}
	t.persisted(saved)
}

func (t *Tracker) save(ctx context.Context, rec activity.Record) (activity.Record, error) {
	if t.saver == nil {
		return activity.Record{}, errors.New("no persistence backend configured")
	}
	ctx, cancel := context.WithTimeout(ctx, t.saveTimeout)
	defer cancel()
	return t.saver.SaveActivity(ctx, rec)
}

func (t *Tracker) persisted(rec activity.Record) {
	metrics.ObserveSave(true)
	t.log.Info("activity persisted", "action", "activity_persisted", "record_id", rec.ID)
	t.publish(stream.TypePersisted, rec)
	t.recordOutcome(SaveOutcome{RecordID: rec.ID, Status: SavePersisted})
}

func (t *Tracker) failed(rec activity.Record, err error) {
	metrics.ObserveSave(false)
	t.log.Error("activity persistence failed", "action", "activity_persist_failed", "record_id", rec.ID, "error", err.Error())
	t.publish(stream.TypePersistenceFailed, FailureEvent{Record: rec, Error: err.Error()})
	t.recordOutcome(SaveOutcome{RecordID: rec.ID, Status: SaveFailed, Error: err.Error()})
}

func (t *Tracker) recordOutcome(outcome SaveOutcome) {
	if !t.running.Load() {
		return
	}
	_ = t.do(context.Background(), func() {
		outcome.At = t.now()
		t.state.LastSave = &outcome
		t.publishState()
	})
}

func (t *Tracker) publishState() {
	t.publish(stream.TypeState, t.state.clone())
}

func (t *Tracker) publish(typ string, data any) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(t.topic, typ, data); err != nil {
		t.log.Error("publish failed", "action", "publish_failed", "type", typ, "error", err.Error())
	}
}
