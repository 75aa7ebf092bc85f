// Package progress fans tick results out to in-process subscribers:
// the CLI progress printer, the tick persister, anything else watching
// a run. Publishing never blocks the simulation loop.
package progress

import (
	"errors"
	"sync"

	"mailweave/internal/domain"
)

var (
	ErrNotSubscribed  = errors.New("subscriber is not registered in bus")
	ErrSubscriberFull = errors.New("subscriber queue is full")
)

type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.TickResult
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.TickResult),
		buffer: buffer,
	}
}

func (b *Bus) Subscribe(name string) <-chan domain.TickResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[name]; ok {
		return ch
	}
	ch := make(chan domain.TickResult, b.buffer)
	b.subs[name] = ch
	return ch
}

func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[name]
	if !ok {
		return
	}
	delete(b.subs, name)
	close(ch)
}

// Publish delivers to every subscriber whose queue has room. A full
// subscriber drops the result rather than stalling the tick loop.
func (b *Bus) Publish(tr domain.TickResult) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.subs) == 0 {
		return ErrNotSubscribed
	}
	var err error
	for _, ch := range b.subs {
		select {
		case ch <- tr:
		default:
			err = ErrSubscriberFull
		}
	}
	return err
}

// Close unsubscribes everyone. Pending results stay readable until the
// closed channels drain.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, ch := range b.subs {
		delete(b.subs, name)
		close(ch)
	}
}
