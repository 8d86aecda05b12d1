package config

import "sync"

// ChangeEvent is published whenever a setting or the credential changes.
type ChangeEvent struct {
	Key string
}

// Notifier fans ChangeEvents out to subscribers. Slow subscribers miss
// events instead of blocking the publisher.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan ChangeEvent
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan ChangeEvent)}
}

// Subscribe registers a listener with the given buffer size. The returned
// function unsubscribes and closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan ChangeEvent, buffer)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *Notifier) Publish(ev ChangeEvent) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
