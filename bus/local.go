package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("bus closed")

const subscriberBuffer = 64

// LocalBus fans events out to in-process subscribers.
// Publish never blocks: an event is dropped for a subscriber whose buffer is full.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	done   chan struct{}
	// watchers tracks the per-subscriber cleanup goroutines
	watchers sync.WaitGroup
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]chan Event), done: make(chan struct{})}
}

func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	b.watchers.Add(1)
	go func() {
		defer b.watchers.Done()
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}()
	return ch, nil
}

// Close ends every subscription and returns once their cleanup has finished.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()

	b.watchers.Wait()
	return nil
}
