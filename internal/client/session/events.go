package session

import "sync"

// Event is a process-wide session notification.
type Event string

const (
	EventTokenRefreshed Event = "token_refreshed"
	EventSignedOut      Event = "signed_out"
)

type listener struct {
	id int
	fn func(Event)
}

// Broadcaster fans session events out to subscribers. Listeners run
// synchronously on the publishing goroutine in subscription order, so they
// must not block.
type Broadcaster struct {
	mu        sync.Mutex
	nextID    int
	listeners []listener
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, l := range b.listeners {
				if l.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	snapshot := make([]listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		l.fn(ev)
	}
}
