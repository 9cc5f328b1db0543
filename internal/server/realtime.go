package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "proofmind-registry"
	defaultRealtimeBuffer  = 16
)

// RealtimeDispatcher fans committed certificate events out to SSE subscribers.
// Slow subscribers drop events instead of blocking the publisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	allOwners   map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	owner  string
	all    bool
	stream chan certificates.Event
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		allOwners:   make(map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBuffer,
	}
}

// Subscribe streams events for certificates owned by ownerID until ctx ends.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, ownerID string) (<-chan certificates.Event, func()) {
	if ownerID == "" {
		ch := make(chan certificates.Event)
		close(ch)
		return ch, func() {}
	}
	return d.subscribe(ctx, &realtimeSubscriber{owner: ownerID})
}

// SubscribeAll streams every owner's events until ctx ends.
func (d *RealtimeDispatcher) SubscribeAll(ctx context.Context) (<-chan certificates.Event, func()) {
	return d.subscribe(ctx, &realtimeSubscriber{all: true})
}

// Publish implements certificates.EventSink.
func (d *RealtimeDispatcher) Publish(_ context.Context, event certificates.Event) error {
	if event.Owner == "" || event.Type == "" {
		return nil
	}
	d.mu.RLock()
	owned := d.subscribers[event.Owner]
	targets := make([]*realtimeSubscriber, 0, len(owned)+len(d.allOwners))
	for _, subscriber := range owned {
		targets = append(targets, subscriber)
	}
	for _, subscriber := range d.allOwners {
		targets = append(targets, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range targets {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
	return nil
}

func (d *RealtimeDispatcher) subscribe(ctx context.Context, subscriber *realtimeSubscriber) (<-chan certificates.Event, func()) {
	subscriber.stream = make(chan certificates.Event, d.bufferSize)
	d.registerSubscriber(subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(subscriber)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) subscriberCount(ownerID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[ownerID])
}

func (d *RealtimeDispatcher) allOwnersCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.allOwners)
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	if subscriber.all {
		d.allOwners[subscriber.id] = subscriber
		return
	}
	if _, ok := d.subscribers[subscriber.owner]; !ok {
		d.subscribers[subscriber.owner] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[subscriber.owner][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if subscriber.all {
		delete(d.allOwners, subscriber.id)
		return
	}
	subscribers := d.subscribers[subscriber.owner]
	if subscribers != nil {
		delete(subscribers, subscriber.id)
		if len(subscribers) == 0 {
			delete(d.subscribers, subscriber.owner)
		}
	}
}
