package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/smacktalklabs/central/backend/internal/chat"
)

const subscriberBufferSize = 16

// EventMessage is one broadcast unit fanned out to a room's subscribers.
type EventMessage struct {
	RoomID    string     `json:"room_id"`
	Event     chat.Event `json:"event"`
	Timestamp time.Time  `json:"timestamp"`
}

// Dispatcher fans chat events out to room subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the message rather
// than blocking the publisher, and the dedup ledger downstream absorbs any
// double delivery from the optimistic/broadcast overlap.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
}

type subscriber struct {
	id     int64
	stream chan EventMessage
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
	}
}

// Subscribe registers a stream for the room. The subscription is released
// when the context ends or the returned cancel func runs, whichever first.
func (d *Dispatcher) Subscribe(ctx context.Context, roomID string) (<-chan EventMessage, func()) {
	if roomID == "" {
		ch := make(chan EventMessage)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan EventMessage, subscriberBufferSize),
	}
	d.register(roomID, sub)
	cleanup := func() {
		d.unregister(roomID, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the message to every current subscriber of its room.
func (d *Dispatcher) Publish(message EventMessage) {
	if message.RoomID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.RoomID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the current audience for a room.
func (d *Dispatcher) SubscriberCount(roomID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[roomID])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(roomID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[roomID]; !ok {
		d.subscribers[roomID] = make(map[int64]*subscriber)
	}
	d.subscribers[roomID][sub.id] = sub
}

func (d *Dispatcher) unregister(roomID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[roomID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, roomID)
		}
	}
	d.mu.Unlock()
}
