package kitchen

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/models"
)

// change is one order event, whatever transport delivered it.
type change struct {
	kind    docstore.EventType
	id      string
	version int64
	data    json.RawMessage
}

// Queue is the projection of orders waiting in the kitchen. Every change
// carries the document version, and a change older than the last one seen
// for the same order is dropped, so the result does not depend on the
// order in which changes arrive.
type Queue struct {
	mu      sync.RWMutex
	orders  map[string]models.Order
	seen    map[string]int64
	touched map[string]uint64
	epoch   uint64
}

func NewQueue() *Queue {
	return &Queue{
		orders:  make(map[string]models.Order),
		seen:    make(map[string]int64),
		touched: make(map[string]uint64),
	}
}

// ApplyEvent applies a store subscription event.
func (q *Queue) ApplyEvent(ev docstore.Event) (bool, error) {
	return q.apply(change{kind: ev.Type, id: ev.Doc.ID, version: ev.Doc.Version, data: ev.Doc.Data})
}

// ApplyMessage applies a change relayed over the broker.
func (q *Queue) ApplyMessage(msg models.ChangeMessage) (bool, error) {
	kind := docstore.EventType(msg.Type)
	switch kind {
	case docstore.EventAdded, docstore.EventModified, docstore.EventRemoved:
	default:
		return false, fmt.Errorf("unknown change type %q", msg.Type)
	}
	if msg.ID == "" {
		return false, fmt.Errorf("change without id")
	}
	return q.apply(change{kind: kind, id: msg.ID, version: msg.Version, data: msg.Data})
}

// apply reports whether the change was newer than what the queue had seen.
func (q *Queue) apply(c change) (bool, error) {
	var order models.Order
	if c.kind != docstore.EventRemoved {
		decoded, err := docstore.Decode[models.Order](docstore.Document{
			Collection: models.CollectionOrders,
			ID:         c.id,
			Data:       c.data,
			Version:    c.version,
		})
		if err != nil {
			return false, err
		}
		order = decoded
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if c.version <= q.seen[c.id] {
		return false, nil
	}
	q.seen[c.id] = c.version
	q.touched[c.id] = q.epoch

	if c.kind == docstore.EventRemoved || order.Status != models.StatusKitchenPending {
		delete(q.orders, c.id)
		return true, nil
	}
	q.orders[c.id] = order
	return true, nil
}

// Mark starts a rebuild. Call it before reading the snapshot handed to
// Rebuild; changes applied after Mark survive the rebuild.
func (q *Queue) Mark() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.epoch++
	return q.epoch
}

// Rebuild replaces the projection with snapshot. Orders whose last seen
// version is newer than the snapshot keep their current state, as do
// orders changed after mark that the snapshot does not contain yet.
func (q *Queue) Rebuild(snapshot []docstore.Document, mark uint64) error {
	decoded := make(map[string]models.Order, len(snapshot))
	versions := make(map[string]int64, len(snapshot))
	for _, doc := range snapshot {
		o, err := docstore.Decode[models.Order](doc)
		if err != nil {
			return err
		}
		decoded[doc.ID] = o
		versions[doc.ID] = doc.Version
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	next := make(map[string]models.Order)
	for id, o := range decoded {
		if q.seen[id] > versions[id] {
			if current, ok := q.orders[id]; ok {
				next[id] = current
			}
			continue
		}
		q.seen[id] = versions[id]
		if o.Status == models.StatusKitchenPending {
			next[id] = o
		}
	}
	for id, o := range q.orders {
		if _, inSnapshot := decoded[id]; !inSnapshot && q.touched[id] >= mark {
			next[id] = o
		}
	}
	q.orders = next
	return nil
}

// List returns the queued orders, oldest first.
func (q *Queue) List() []models.Order {
	q.mu.RLock()
	out := make([]models.Order, 0, len(q.orders))
	for _, o := range q.orders {
		out = append(out, o)
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.orders)
}
