package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fittrack/internal/logging"
	"fittrack/internal/metrics"
)

type Options struct {
	Interval         time.Duration
	MinDisplacementM float64
	MaxAccuracyM     float64
	// StaleAfter reports an interruption when no raw fix arrives for this long. Zero disables it;
	// a device honoring the displacement hint sends nothing while the user stands still.
	StaleAfter time.Duration
}

func DefaultOptions() Options {
	return Options{
		Interval:         5 * time.Second,
		MinDisplacementM: 7,
		MaxAccuracyM:     25,
		StaleAfter:       0,
	}
}

// Stream turns a Source into the accepted-point sequence of a single session.
type Stream struct {
	src  Source
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	sessionID string
	out       chan Update
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewStream(src Source, opts Options, log *slog.Logger) *Stream {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Stream{src: src, opts: opts, log: log}
}

// Start begins requesting fixes for sessionID. Calling it again for the same session returns the
// existing channel.
func (s *Stream) Start(sessionID string) (<-chan Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out != nil {
		if s.sessionID == sessionID {
			return s.out, nil
		}
		return nil, ErrBusy
	}
	if !s.src.PermissionGranted() {
		return nil, ErrPermissionDenied
	}

	ctx, cancel := context.WithCancel(context.Background())
	fixes, err := s.src.RequestUpdates(ctx, s.opts.Interval, s.opts.MinDisplacementM)
	if err != nil {
		cancel()
		return nil, err
	}

	s.sessionID = sessionID
	s.out = make(chan Update)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, sessionID, fixes, s.out, s.done)

	s.log.Info("location updates requested",
		"action", "location_stream_started",
		"session_id", sessionID,
		"interval", s.opts.Interval.String(),
		"min_displacement_m", s.opts.MinDisplacementM,
	)
	return s.out, nil
}

// Stop releases the source and returns once the stream goroutine has exited.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		return
	}
	s.cancel()
	<-s.done
	close(s.out)

	s.log.Info("location updates released", "action", "location_stream_stopped", "session_id", s.sessionID)
	s.out = nil
	s.cancel = nil
	s.done = nil
	s.sessionID = ""
}

// Active returns the session currently holding the stream.
func (s *Stream) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID, s.out != nil
}

func (s *Stream) run(ctx context.Context, sessionID string, fixes <-chan Fix, out chan<- Update, done chan<- struct{}) {
	defer close(done)

	filter := NewFilter(s.opts.MaxAccuracyM, s.opts.MinDisplacementM)
	emit := func(u Update) bool {
		u.SessionID = sessionID
		select {
		case out <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		stale       *time.Timer
		staleC      <-chan time.Time
		retryC      <-chan time.Time
		interrupted bool
	)
	if s.opts.StaleAfter > 0 {
		stale = time.NewTimer(s.opts.StaleAfter)
		defer stale.Stop()
		staleC = stale.C
	}

	interrupt := func(err error) bool {
		if interrupted {
			return true
		}
		interrupted = true
		metrics.ObserveFault(faultReason(err))
		s.log.Error("location stream fault", "action", "location_stream_fault", "session_id", sessionID, "error", err.Error())
		return emit(Update{Kind: Interrupted, Err: err})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case fix, ok := <-fixes:
			if !ok {
				fixes = nil
				err := ErrStreamInterrupted
				if !s.src.PermissionGranted() {
					err = ErrPermissionDenied
				}
				if !interrupt(err) {
					return
				}
				retryC = time.After(s.opts.Interval)
				continue
			}
			if stale != nil {
				resetTimer(stale, s.opts.StaleAfter)
			}
			if interrupted {
				interrupted = false
				s.log.Info("location stream resumed", "action", "location_stream_resumed", "session_id", sessionID)
				if !emit(Update{Kind: Resumed}) {
					return
				}
			}
			p, result, accepted := filter.Accept(fix)
			metrics.ObserveFix(result)
			if !accepted {
				s.log.Debug("fix rejected", "action", "fix_rejected", "session_id", sessionID, "reason", result, "accuracy_m", fix.AccuracyM)
				continue
			}
			if !emit(Update{Kind: Accepted, Point: p}) {
				return
			}

		case <-staleC:
			if !interrupt(ErrStreamInterrupted) {
				return
			}

		case <-retryC:
			retryC = nil
			if !s.src.PermissionGranted() {
				retryC = time.After(s.opts.Interval)
				continue
			}
			next, err := s.src.RequestUpdates(ctx, s.opts.Interval, s.opts.MinDisplacementM)
			if err != nil {
				s.log.Error("location re-request failed", "action", "location_rerequest_failed", "session_id", sessionID, "error", err.Error())
				retryC = time.After(s.opts.Interval)
				continue
			}
			fixes = next
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func faultReason(err error) string {
	if err == ErrPermissionDenied {
		return "permission_denied"
	}
	return "interrupted"
}
