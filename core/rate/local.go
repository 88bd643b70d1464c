package rate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var _ Limiter = (*LocalLimiter)(nil)

// LocalLimiter is the in-process sliding window used with the memory
// session store.
type LocalLimiter struct {
	mu     sync.Mutex
	config Config
	clock  clockwork.Clock
	events map[string][]time.Time
}

func NewLocalLimiter(cfg Config, clock clockwork.Clock) *LocalLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LocalLimiter{config: cfg, clock: clock, events: make(map[string][]time.Time)}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	if !l.config.Enabled() {
		return true, nil
	}
	now := l.clock.Now()
	cutoff := now.Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.events[key]
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	events = events[i:]
	if len(events) >= l.config.Limit {
		l.events[key] = events
		return false, nil
	}
	l.events[key] = append(events, now)
	return true, nil
}

// Forget drops the window of key.
func (l *LocalLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, key)
}
