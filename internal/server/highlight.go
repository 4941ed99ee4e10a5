package server

import (
	"context"
	"sync"
	"time"
)

const (
	// HighlightEventRoomHighlight is the SSE event emitted when the
	// allocator hovers a candidate room.
	HighlightEventRoomHighlight = "room-highlight"
	highlightEventHeartbeat     = "heartbeat"
)

// HighlightMessage is an advisory room highlight. It carries no
// persistence or delivery guarantee; the authoritative state change
// is the allocation service's SelectRoom.
type HighlightMessage struct {
	MatchID   string
	RoomID    string
	UserID    string
	Timestamp time.Time
}

// HighlightDispatcher fans highlight messages out to every subscriber
// of a match's channel. Slow subscribers drop messages rather than
// block the publisher; reconnecting clients only see the next
// highlight and must re-fetch authoritative state.
type HighlightDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*highlightSubscriber
	nextID      int64
	bufferSize  int
}

type highlightSubscriber struct {
	id     int64
	stream chan HighlightMessage
}

// NewHighlightDispatcher constructs an empty dispatcher.
func NewHighlightDispatcher() *HighlightDispatcher {
	return &HighlightDispatcher{
		subscribers: make(map[string]map[int64]*highlightSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for the match's highlight channel.
// The subscription ends when ctx is cancelled or cleanup is called.
func (d *HighlightDispatcher) Subscribe(ctx context.Context, matchID string) (<-chan HighlightMessage, func()) {
	if matchID == "" {
		ch := make(chan HighlightMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &highlightSubscriber{
		id:     d.nextSequence(),
		stream: make(chan HighlightMessage, d.bufferSize),
	}
	d.registerSubscriber(matchID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(matchID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to current subscribers of its match.
func (d *HighlightDispatcher) Publish(message HighlightMessage) {
	if message.MatchID == "" || message.RoomID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.MatchID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*highlightSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *HighlightDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *HighlightDispatcher) registerSubscriber(matchID string, subscriber *highlightSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[matchID]; !ok {
		d.subscribers[matchID] = make(map[int64]*highlightSubscriber)
	}
	d.subscribers[matchID][subscriber.id] = subscriber
}

func (d *HighlightDispatcher) unregisterSubscriber(matchID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[matchID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, matchID)
		}
	}
	d.mu.Unlock()
}
