package nodeindex

import (
	"sync"
	"sync/atomic"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/metrics"
)

// EventType identifies a node notification.
type EventType string

const (
	EventChildAdded   EventType = "child_added"
	EventChildRemoved EventType = "child_removed"
	EventChanged      EventType = "changed"
)

// Attribute names a node property carried by EventChanged.
type Attribute string

const (
	AttrSize           Attribute = "size"
	AttrFileCount      Attribute = "file_count"
	AttrDirectoryCount Attribute = "directory_count"
	AttrCreationTime   Attribute = "creation_time"
)

// Event is a node change notification. For child events Node is the
// parent and Child the added or removed entry; for EventChanged Attribute
// names the property of Node that changed.
type Event struct {
	Type      EventType
	Node      *Node
	Child     *Node
	Attribute Attribute
}

// DefaultBufferSize is the channel capacity of a subscription.
const DefaultBufferSize = 64

// Subscription receives events on C until it is unsubscribed.
type Subscription struct {
	C <-chan Event

	ch   chan Event
	node *Node
}

func (s *Subscription) wants(e Event) bool {
	return s.node == nil || s.node == e.Node
}

// broadcaster fans node events out to subscribers. Publishing never
// blocks: events for slow consumers are dropped.
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	active      atomic.Int32
	bufferSize  int
}

func newBroadcaster(bufferSize int) *broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &broadcaster{
		subscribers: make(map[*Subscription]struct{}),
		bufferSize:  bufferSize,
	}
}

func (b *broadcaster) subscribe(node *Node) *Subscription {
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{C: ch, ch: ch, node: node}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.active.Store(int32(len(b.subscribers)))
	b.mu.Unlock()
	return sub
}

func (b *broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
	b.active.Store(int32(len(b.subscribers)))
}

// enabled is the fast path used by writers to skip building events when
// nobody listens.
func (b *broadcaster) enabled() bool {
	return b.active.Load() > 0
}

func (b *broadcaster) publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			metrics.RecordNotificationDropped()
		}
	}
}

func (b *broadcaster) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
