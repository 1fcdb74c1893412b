// Package events publishes watchdog cycle reports to HTTP clients: a
// websocket stream, the latest report as JSON, and Prometheus metrics.
package events

import "sync"

const listenerBuffer = 16

// Broadcaster is a thread-safe pub/sub for encoded messages.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[chan []byte]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[chan []byte]struct{}),
	}
}

func (b *Broadcaster) Subscribe() chan []byte {
	ch := make(chan []byte, listenerBuffer)
	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[ch]; ok {
		delete(b.listeners, ch)
		close(ch)
	}
}

// Broadcast delivers msg to every listener. Listeners whose buffer is full
// miss the message.
func (b *Broadcaster) Broadcast(msg []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.listeners {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
