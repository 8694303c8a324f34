package api

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a client may submit more work
type Limiter interface {
	AllowSubmission(ctx context.Context, client string, limit int64) (bool, error)
}

type window struct {
	count   int64
	expires time.Time
}

// WindowLimiter is an in-process fixed-window limiter used when no shared
// Redis limiter is configured
type WindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	length  time.Duration
	now     func() time.Time
}

// NewWindowLimiter creates a limiter with windows of the given length
func NewWindowLimiter(length time.Duration) *WindowLimiter {
	return &WindowLimiter{
		windows: make(map[string]*window),
		length:  length,
		now:     time.Now,
	}
}

// AllowSubmission counts one submission for client in its current window
func (l *WindowLimiter) AllowSubmission(_ context.Context, client string, limit int64) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[client]
	if !ok || now.After(w.expires) {
		w = &window{expires: now.Add(l.length)}
		l.windows[client] = w
	}
	w.count++
	return w.count <= limit, nil
}

// Cleanup removes expired windows
func (l *WindowLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, w := range l.windows {
		if now.After(w.expires) {
			delete(l.windows, k)
		}
	}
}

// StartCleanup removes expired windows every interval until ctx is done
func (l *WindowLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}
