package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a lightweight pub/sub broker using channels. It carries
// notifications out of the engine loop; nothing on the bus mutates state.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Topic][]chan any
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener for a topic and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[t] = append(b.subs[t], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[t]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[t] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// SubscribeMany fans several topics into one channel of Notice values.
func (b *Bus) SubscribeMany(buffer int, topics ...Topic) (<-chan Notice, func()) {
	out := make(chan Notice, buffer)
	unsubs := make([]func(), 0, len(topics))
	var wg sync.WaitGroup
	for _, t := range topics {
		ch, unsub := b.Subscribe(t, buffer)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func(t Topic, ch <-chan any) {
			defer wg.Done()
			for payload := range ch {
				select {
				case out <- Notice{Topic: t, Payload: payload}:
				default:
					b.dropped.Add(1)
				}
			}
		}(t, ch)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
			wg.Wait()
			close(out)
		})
	}
	return out, stop
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; keep broker non-blocking
			b.dropped.Add(1)
		}
	}
}

// Dropped counts payloads discarded because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
