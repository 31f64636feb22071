package docstore

import (
	"context"
	"sync"
)

const subscriberBuffer = 256

// Subscription receives the snapshot taken when it was opened and every
// later change to matching documents. A subscriber that does not drain its
// channel fast enough is closed; Err then reports ErrSlowSubscriber and the
// consumer is expected to subscribe again and rebuild from the new snapshot.
type Subscription struct {
	snapshot []Document
	events   chan Event
	done     chan struct{}

	hub        *Hub
	key        int
	collection string
	filters    []Filter
	matching   map[string]bool

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *Subscription) Snapshot() []Document {
	return s.snapshot
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Err returns why the events channel was closed, or nil after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops delivery. Safe to call more than once, and on a nil or
// never-opened subscription.
func (s *Subscription) Close() error {
	if s == nil {
		return nil
	}
	if s.hub != nil {
		s.hub.remove(s.key)
	}
	s.terminate(nil)
	return nil
}

func (s *Subscription) terminate(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.done != nil {
			close(s.done)
		}
		if s.events != nil {
			close(s.events)
		}
	})
}

// Hub fans committed changes out to subscriptions. Stores call Publish after
// a batch commits and open subscriptions while holding the same lock they
// commit under, so no change falls between snapshot and stream.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*Subscription)}
}

// Open registers a subscription seeded with snapshot.
func (h *Hub) Open(ctx context.Context, collection string, filters []Filter, snapshot []Document) *Subscription {
	sub := &Subscription{
		snapshot:   snapshot,
		events:     make(chan Event, subscriberBuffer),
		done:       make(chan struct{}),
		hub:        h,
		collection: collection,
		filters:    filters,
		matching:   make(map[string]bool, len(snapshot)),
	}
	for _, doc := range snapshot {
		sub.matching[doc.ID] = true
	}

	h.mu.Lock()
	h.nextID++
	sub.key = h.nextID
	h.subs[sub.key] = sub
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub
}

func (h *Hub) remove(key int) {
	h.mu.Lock()
	delete(h.subs, key)
	h.mu.Unlock()
}

// Publish delivers committed changes. A modification that moves a document
// into or out of a subscription's filter is delivered as added or removed.
func (h *Hub) Publish(events []Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, sub := range h.subs {
		for _, ev := range events {
			if ev.Doc.Collection != sub.collection {
				continue
			}
			out, ok := sub.translate(ev)
			if !ok {
				continue
			}
			select {
			case sub.events <- out:
			default:
				delete(h.subs, key)
				sub.terminate(ErrSlowSubscriber)
			}
			if _, open := h.subs[key]; !open {
				break
			}
		}
	}
}

// Close terminates every open subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, sub := range h.subs {
		delete(h.subs, key)
		sub.terminate(ErrClosed)
	}
}

func (s *Subscription) translate(ev Event) (Event, bool) {
	was := s.matching[ev.Doc.ID]
	if ev.Type == EventRemoved {
		if !was {
			return Event{}, false
		}
		delete(s.matching, ev.Doc.ID)
		return ev, true
	}

	now := Matches(ev.Doc.Data, s.filters)
	switch {
	case now && was:
		return Event{Type: EventModified, Doc: ev.Doc}, true
	case now:
		s.matching[ev.Doc.ID] = true
		return Event{Type: EventAdded, Doc: ev.Doc}, true
	case was:
		delete(s.matching, ev.Doc.ID)
		return Event{Type: EventRemoved, Doc: ev.Doc}, true
	default:
		return Event{}, false
	}
}
