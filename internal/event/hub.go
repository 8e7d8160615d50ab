package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the default per-subscriber channel buffer.
	DefaultBufferSize = 64
)

// Publisher publishes events to subscribers.
type Publisher interface {
	Publish(event Event)
}

// Subscriber registers observers.
type Subscriber interface {
	Subscribe(topic Topic, buffer int) (string, <-chan Event, func())
}

// Hub delivers every published event at most once to each subscriber of its
// topic and to every TopicAll subscriber.
type Hub struct {
	mu      sync.RWMutex
	streams map[Topic]map[string]chan Event
	dropped atomic.Uint64
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		streams: map[Topic]map[string]chan Event{},
		now:     time.Now,
	}
}

// Publish fans event out without blocking. A subscriber whose buffer is full
// misses the event; Dropped counts those misses.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	if event.At.IsZero() {
		event.At = h.now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.streams[event.Topic], event)
	if event.Topic != TopicAll {
		h.deliver(h.streams[TopicAll], event)
	}
}

func (h *Hub) deliver(streams map[string]chan Event, event Event) {
	for _, ch := range streams {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (h *Hub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Subscribe registers one subscriber for topic. It returns a stream id, the
// event channel and a cancel function that unsubscribes and closes the
// channel; cancel is safe to call more than once.
func (h *Hub) Subscribe(topic Topic, buffer int) (string, <-chan Event, func()) {
	if h == nil {
		ch := make(chan Event)
		close(ch)
		return "", ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	streamID := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	streams, ok := h.streams[topic]
	if !ok {
		streams = map[string]chan Event{}
		h.streams[topic] = streams
	}
	streams[streamID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			streams := h.streams[topic]
			if streams != nil {
				if current, ok := streams[streamID]; ok {
					delete(streams, streamID)
					close(current)
				}
				if len(streams) == 0 {
					delete(h.streams, topic)
				}
			}
			h.mu.Unlock()
		})
	}

	return streamID, ch, cancel
}

// Observe runs fn for every event of topic on a dedicated goroutine until the
// returned cancel is called. fn must not call cancel itself.
func (h *Hub) Observe(topic Topic, fn func(Event)) func() {
	_, ch, cancel := h.Subscribe(topic, DefaultBufferSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			fn(ev)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
