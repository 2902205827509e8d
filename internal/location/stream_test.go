package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"fittrack/internal/shared/geo"
)

func testOptions() Options {
	return Options{
		Interval:         20 * time.Millisecond,
		MinDisplacementM: 7,
		MaxAccuracyM:     25,
	}
}

func nextUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed")
		}
		return u
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for update")
	}
	return Update{}
}

func TestStreamPermissionDenied(t *testing.T) {
	s := NewStream(NewFeedSource(false), testOptions(), nil)
	if _, err := s.Start("session-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, active := s.Active(); active {
		t.Fatalf("stream should not be active")
	}
}

func TestStreamStartIdempotentAndExclusive(t *testing.T) {
	feed := NewFeedSource(true)
	s := NewStream(feed, testOptions(), nil)
	defer s.Stop()

	first, err := s.Start("session-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := s.Start("session-1")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first != second {
		t.Fatalf("expected same channel for the same session")
	}
	if _, err := s.Start("session-2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}

	req, ok := feed.Request()
	if !ok || req.IntervalSeconds != 0.02 || req.MinDisplacementM != 7 {
		t.Fatalf("unexpected request hints: %+v", req)
	}
}

func TestStreamFiltersAndOrders(t *testing.T) {
	feed := NewFeedSource(true)
	s := NewStream(feed, testOptions(), nil)
	defer s.Stop()

	updates, err := s.Start("session-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx := context.Background()
	fixes := []Fix{
		{Lat: 0, Lng: 0, AccuracyM: 5},
		{Lat: 0, Lng: 0.5, AccuracyM: 40},    // inaccurate
		{Lat: 0, Lng: 0.001, AccuracyM: 10},  // ~111m
		{Lat: 0, Lng: 0.00104, AccuracyM: 3}, // ~4.4m, jitter
		{Lat: 0, Lng: 0.002, AccuracyM: 3},
	}
	go func() {
		for _, fix := range fixes {
			_ = feed.Push(ctx, fix)
		}
	}()

	want := []geo.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.001}, {Lat: 0, Lng: 0.002}}
	for i, p := range want {
		u := nextUpdate(t, updates)
		if u.Kind != Accepted || u.Point != p || u.SessionID != "session-1" {
			t.Fatalf("update %d: got %+v, want point %v", i, u, p)
		}
	}
}

func TestStreamStopClosesAndReleases(t *testing.T) {
	feed := NewFeedSource(true)
	s := NewStream(feed, testOptions(), nil)

	updates, err := s.Start("session-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	s.Stop()

	if _, ok := <-updates; ok {
		t.Fatalf("expected closed channel after stop")
	}
	if _, active := s.Active(); active {
		t.Fatalf("stream still active")
	}

	// the resource is free for the next session
	if _, err := s.Start("session-2"); err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	s.Stop()
}

func TestStreamPermissionRevokedAndResumed(t *testing.T) {
	feed := NewFeedSource(true)
	s := NewStream(feed, testOptions(), nil)
	defer s.Stop()

	updates, err := s.Start("session-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	feed.SetPermission(false)
	u := nextUpdate(t, updates)
	if u.Kind != Interrupted || !errors.Is(u.Err, ErrPermissionDenied) {
		t.Fatalf("expected permission fault, got %+v", u)
	}

	feed.SetPermission(true)
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := feed.Request(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream did not re-request updates")
		}
		time.Sleep(5 * time.Millisecond)
	}

	go func() { _ = feed.Push(context.Background(), Fix{Lat: 1, Lng: 1, AccuracyM: 1}) }()
	if u := nextUpdate(t, updates); u.Kind != Resumed {
		t.Fatalf("expected resumed, got %+v", u)
	}
	if u := nextUpdate(t, updates); u.Kind != Accepted || u.Point != (geo.Point{Lat: 1, Lng: 1}) {
		t.Fatalf("expected accepted point, got %+v", u)
	}
}

func TestStreamInterruptedBySource(t *testing.T) {
	feed := NewFeedSource(true)
	s := NewStream(feed, testOptions(), nil)
	defer s.Stop()

	updates, err := s.Start("session-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	feed.Interrupt()

	u := nextUpdate(t, updates)
	if u.Kind != Interrupted || !errors.Is(u.Err, ErrStreamInterrupted) {
		t.Fatalf("expected interruption, got %+v", u)
	}
}

func TestStreamStaleWatchdog(t *testing.T) {
	feed := NewFeedSource(true)
	opts := testOptions()
	opts.StaleAfter = 30 * time.Millisecond
	s := NewStream(feed, opts, nil)
	defer s.Stop()

	updates, err := s.Start("session-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	u := nextUpdate(t, updates)
	if u.Kind != Interrupted || !errors.Is(u.Err, ErrStreamInterrupted) {
		t.Fatalf("expected stale interruption, got %+v", u)
	}
}

func TestFeedPushWithoutRequest(t *testing.T) {
	feed := NewFeedSource(true)
	if err := feed.Push(context.Background(), Fix{}); !errors.Is(err, ErrNoActiveRequest) {
		t.Fatalf("expected no active request, got %v", err)
	}
	if _, ok := feed.Request(); ok {
		t.Fatalf("expected no request")
	}
	if _, err := NewFeedSource(false).RequestUpdates(context.Background(), time.Second, 7); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestFeedPushRespectsContext(t *testing.T) {
	feed := NewFeedSource(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := feed.RequestUpdates(ctx, time.Second, 7); err != nil {
		t.Fatalf("request: %v", err)
	}

	// nobody reads the output channel, the forwarder holds the first fix
	_ = feed.Push(context.Background(), Fix{Lat: 1})

	pushCtx, pushCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer pushCancel()
	if err := feed.Push(pushCtx, Fix{Lat: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStreamStationaryUserIsNotAFault(t *testing.T) {
	feed := NewFeedSource(true)
	opts := DefaultOptions()
	opts.Interval = 20 * time.Millisecond
	s := NewStream(feed, opts, nil)
	defer s.Stop()

	updates, err := s.Start("session-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// no fixes at all, as from a device standing still under the displacement hint
	select {
	case u := <-updates:
		t.Fatalf("unexpected update while stationary: %+v", u)
	case <-time.After(150 * time.Millisecond):
	}
}
