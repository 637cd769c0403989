package presence

import (
	"context"
	"sync"
	"time"
)

const defaultDispatcherBuffer = 16

// Update is one live-count notification delivered to dashboard subscribers.
type Update struct {
	Active    int
	Timestamp time.Time
}

// Dispatcher fans active-session counts out to subscribers. Slow subscribers
// lose the oldest queued update, never the newest.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Update
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  defaultDispatcherBuffer,
	}
}

// Subscribe registers a stream that stays open until ctx ends or cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Update, func()) {
	sub := &subscriber{
		stream: make(chan Update, d.bufferSize),
	}
	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	d.subscribers[sub.id] = sub
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, sub.id)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// SessionsChanged implements Listener.
func (d *Dispatcher) SessionsChanged(active int, at time.Time) {
	d.Publish(Update{Active: active, Timestamp: at})
}

// Publish delivers the update to every current subscriber without blocking.
func (d *Dispatcher) Publish(update Update) {
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()

	for _, sub := range copies {
		select {
		case sub.stream <- update:
			continue
		default:
		}
		select {
		case <-sub.stream:
		default:
		}
		select {
		case sub.stream <- update:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}
