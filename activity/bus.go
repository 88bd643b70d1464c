package activity

import (
	"sync"
)

// Source delivers interaction signals. The returned func removes the
// subscription and may be called more than once.
type Source interface {
	Subscribe(sig Signal, fn func()) (unsubscribe func())
}

// Bus is an in-process Source. Handlers run synchronously on the publisher's
// goroutine and must not block.
type Bus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[Signal]map[uint64]func()
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Signal]map[uint64]func())}
}

func (b *Bus) Subscribe(sig Signal, fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	if b.handlers[sig] == nil {
		b.handlers[sig] = make(map[uint64]func())
	}
	b.handlers[sig][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[sig], id)
			if len(b.handlers[sig]) == 0 {
				delete(b.handlers, sig)
			}
		})
	}
}

// Publish invokes every handler subscribed to sig.
func (b *Bus) Publish(sig Signal) {
	b.mu.RLock()
	fns := make([]func(), 0, len(b.handlers[sig]))
	for _, fn := range b.handlers[sig] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribers returns the number of handlers for sig.
func (b *Bus) Subscribers(sig Signal) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[sig])
}
