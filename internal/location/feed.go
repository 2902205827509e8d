package location

import (
	"context"
	"sync"
	"time"
)

// FeedSource is a Source whose fixes are pushed in by the device, typically over HTTP.
// Only one request is active at a time; a new request replaces the previous one.
type FeedSource struct {
	mu      sync.Mutex
	granted bool
	current *feedRequest
}

type feedRequest struct {
	in      chan Fix
	quit    chan struct{}
	once    sync.Once
	request Request
}

func (r *feedRequest) end() {
	r.once.Do(func() { close(r.quit) })
}

func NewFeedSource(granted bool) *FeedSource {
	return &FeedSource{granted: granted}
}

func (f *FeedSource) PermissionGranted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted
}

// SetPermission grants or revokes location access. Revoking ends the active request.
func (f *FeedSource) SetPermission(granted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.granted = granted
	if !granted && f.current != nil {
		f.current.end()
		f.current = nil
	}
}

func (f *FeedSource) RequestUpdates(ctx context.Context, interval time.Duration, minDisplacementM float64) (<-chan Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.granted {
		return nil, ErrPermissionDenied
	}
	if f.current != nil {
		f.current.end()
	}

	req := &feedRequest{
		in:   make(chan Fix),
		quit: make(chan struct{}),
		request: Request{
			IntervalSeconds:  interval.Seconds(),
			MinDisplacementM: minDisplacementM,
		},
	}
	f.current = req

	out := make(chan Fix)
	go f.forward(ctx, req, out)
	return out, nil
}

// Push delivers a fix to the active request and blocks until it is taken.
func (f *FeedSource) Push(ctx context.Context, fix Fix) error {
	f.mu.Lock()
	req := f.current
	f.mu.Unlock()

	if req == nil {
		return ErrNoActiveRequest
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	select {
	case req.in <- fix:
		return nil
	case <-req.quit:
		return ErrNoActiveRequest
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request returns the cadence hints of the active request.
func (f *FeedSource) Request() (Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return Request{}, false
	}
	return f.current.request, true
}

// Interrupt ends the active request without touching permission, as when the platform
// stops delivering updates on its own.
func (f *FeedSource) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil {
		f.current.end()
		f.current = nil
	}
}

func (f *FeedSource) forward(ctx context.Context, req *feedRequest, out chan<- Fix) {
	defer close(out)
	defer func() {
		req.end()
		f.mu.Lock()
		if f.current == req {
			f.current = nil
		}
		f.mu.Unlock()
	}()

	for {
		select {
		case fix := <-req.in:
			select {
			case out <- fix:
			case <-req.quit:
				return
			case <-ctx.Done():
				return
			}
		case <-req.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}
