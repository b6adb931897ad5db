package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/platform/metrics"
)

// RateLimiter admits at most max submissions per fixed window. Callers over the
// limit wait in arrival order and are admitted when a window opens. A new window
// starts with the submissions still running already counted.
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	started     int
	running     int
	queue       []*rateWaiter
	timer       *time.Timer
}

type rateWaiter struct {
	ready    chan struct{}
	admitted bool
}

// NewRateLimiter returns a limiter. A non positive max disables limiting.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{max: max, window: window, now: time.Now}
}

// Acquire blocks until the caller may submit. The returned release must be
// called when the submission finishes.
func (l *RateLimiter) Acquire(ctx context.Context) (func(), error) {
	if l.max <= 0 {
		return func() {}, nil
	}

	l.mu.Lock()
	l.rollWindow()
	if len(l.queue) == 0 && l.started < l.max {
		l.started++
		l.running++
		l.mu.Unlock()
		return l.releaseFunc(), nil
	}

	w := &rateWaiter{ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.schedule()
	l.mu.Unlock()
	metrics.RateLimitWaits.Inc()

	select {
	case <-w.ready:
		return l.releaseFunc(), nil
	case <-ctx.Done():
		l.mu.Lock()
		if w.admitted {
			l.running--
		} else {
			l.remove(w)
		}
		l.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Running returns the number of admitted submissions not yet released.
func (l *RateLimiter) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Waiting returns the number of queued callers.
func (l *RateLimiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *RateLimiter) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.running--
			l.mu.Unlock()
		})
	}
}

// rollWindow opens a new window once the current one is over. Must hold mu.
func (l *RateLimiter) rollWindow() {
	now := l.now()
	if now.Sub(l.windowStart) > l.window {
		l.windowStart = now
		l.started = l.running
	}
}

// schedule arms the dispatch timer for the next window boundary. Must hold mu.
func (l *RateLimiter) schedule() {
	if l.timer != nil {
		return
	}
	wait := l.windowStart.Add(l.window).Sub(l.now()) + time.Millisecond
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	l.timer = time.AfterFunc(wait, l.dispatch)
}

func (l *RateLimiter) dispatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timer = nil
	l.rollWindow()
	for len(l.queue) > 0 && l.started < l.max {
		w := l.queue[0]
		l.queue = l.queue[1:]
		l.started++
		l.running++
		w.admitted = true
		close(w.ready)
	}
	if len(l.queue) > 0 {
		l.schedule()
	}
}

// remove drops a waiter that gave up. Must hold mu.
func (l *RateLimiter) remove(w *rateWaiter) {
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}
