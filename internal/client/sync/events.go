package sync

import (
	"context"
	gosync "sync"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// EventName identifies a sync lifecycle notification.
type EventName string

const (
	EventSyncStart    EventName = "sync_start"
	EventSyncComplete EventName = "sync_complete"
	EventConflict     EventName = "conflict"
	EventSyncOffline  EventName = "sync_offline"
	EventPhotoSynced  EventName = "photo_synced"
	EventPhotoFailed  EventName = "photo_failed"
)

// Event is delivered to subscribed listeners. Payload depends on the name:
// CompletePayload for sync_complete, ConflictPayload for conflict,
// PhotoPayload for the photo events, nil otherwise.
type Event struct {
	Name    EventName
	Payload any
}

type CompletePayload struct {
	Synced int
	Failed int
}

type ConflictPayload struct {
	OfflineID string
	Type      string
	Fields    []string
}

type PhotoPayload struct {
	ID       string
	ParentID string
	FileName string
}

// Listener receives events synchronously on the syncing goroutine. Keep it
// cheap; slow listeners delay the cycle.
type Listener func(Event)

// eventBus fans events out to subscribers. A panicking listener is logged
// and must not take the sync cycle down with it.
type eventBus struct {
	mu        gosync.Mutex
	nextID    int
	listeners map[int]Listener
	log       logging.Logger
}

func newEventBus(log logging.Logger) *eventBus {
	return &eventBus{listeners: make(map[int]Listener), log: log}
}

// subscribe registers fn and returns its unsubscribe function. Unsubscribing
// twice is harmless.
func (b *eventBus) subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *eventBus) emit(event Event) {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		b.deliver(fn, event)
	}
}

func (b *eventBus) deliver(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error(context.Background(), "sync event listener panicked", "event", string(event.Name), "panic", r)
		}
	}()
	fn(event)
}
