package server

import (
	"context"
	"sync"
	"time"
)

const (
	// RefreshEventRevisionRestored tells a tenant's other clients to refetch
	// a note after a restore rewrote its live content.
	RefreshEventRevisionRestored = "revision-restored"
	refreshEventHeartbeat        = "heartbeat"
)

// RefreshMessage is one refresh hint delivered to a tenant's connected clients.
type RefreshMessage struct {
	TenantID  string
	EventType string
	NoteID    string
	Timestamp time.Time
}

// RefreshDispatcher fans refresh hints out to a tenant's subscribed clients.
// Delivery is best-effort: a subscriber with a full buffer misses the hint
// and catches up on its next full fetch.
type RefreshDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*refreshSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type refreshSubscriber struct {
	id     int64
	stream chan RefreshMessage
}

// NewRefreshDispatcher constructs a dispatcher with a small per-subscriber buffer.
func NewRefreshDispatcher() *RefreshDispatcher {
	return &RefreshDispatcher{
		subscribers: make(map[string]map[int64]*refreshSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a client stream for one tenant. The stream is removed
// when the context ends or the returned cleanup runs.
func (d *RefreshDispatcher) Subscribe(ctx context.Context, tenantID string) (<-chan RefreshMessage, func()) {
	if tenantID == "" {
		ch := make(chan RefreshMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &refreshSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RefreshMessage, d.bufferSize),
	}
	d.registerSubscriber(tenantID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(tenantID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers a message to every subscriber of its tenant without blocking.
func (d *RefreshDispatcher) Publish(message RefreshMessage) {
	if message.TenantID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.TenantID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*refreshSubscriber, 0, len(subscribers))
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

// NotifyRevisionRestored implements the engine's refresh notifier contract.
func (d *RefreshDispatcher) NotifyRevisionRestored(tenantID string, noteID string) {
	d.Publish(RefreshMessage{
		TenantID:  tenantID,
		EventType: RefreshEventRevisionRestored,
		NoteID:    noteID,
		Timestamp: d.clock().UTC(),
	})
}

func (d *RefreshDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RefreshDispatcher) registerSubscriber(tenantID string, subscriber *refreshSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[tenantID]; !ok {
		d.subscribers[tenantID] = make(map[int64]*refreshSubscriber)
	}
	d.subscribers[tenantID][subscriber.id] = subscriber
}

func (d *RefreshDispatcher) unregisterSubscriber(tenantID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[tenantID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, tenantID)
		}
	}
	d.mu.Unlock()
}
