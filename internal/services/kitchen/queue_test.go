package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/messaging"
	"labonnas-pos/internal/models"
)

func orderDoc(t *testing.T, id string, version int64, status models.OrderStatus) docstore.Document {
	t.Helper()
	data, err := json.Marshal(models.Order{ID: id, Status: status, TableNumber: 1, Responsible: "Ana"})
	if err != nil {
		t.Fatal(err)
	}
	return docstore.Document{Collection: models.CollectionOrders, ID: id, Data: data, Version: version}
}

func ids(orders []models.Order) map[string]bool {
	out := make(map[string]bool, len(orders))
	for _, o := range orders {
		out[o.ID] = true
	}
	return out
}

func TestQueue_ApplyRules(t *testing.T) {
	q := NewQueue()
	steps := []struct {
		ev   docstore.Event
		want int
	}{
		{docstore.Event{Type: docstore.EventAdded, Doc: orderDoc(t, "a", 1, models.StatusPending)}, 0},
		{docstore.Event{Type: docstore.EventModified, Doc: orderDoc(t, "a", 2, models.StatusKitchenPending)}, 1},
		{docstore.Event{Type: docstore.EventAdded, Doc: orderDoc(t, "b", 1, models.StatusKitchenPending)}, 2},
		{docstore.Event{Type: docstore.EventModified, Doc: orderDoc(t, "b", 2, models.StatusKitchenPending)}, 2},
		{docstore.Event{Type: docstore.EventModified, Doc: orderDoc(t, "a", 3, models.StatusCompleted)}, 1},
		// stale replay of an older version
		{docstore.Event{Type: docstore.EventModified, Doc: orderDoc(t, "a", 2, models.StatusKitchenPending)}, 1},
		{docstore.Event{Type: docstore.EventRemoved, Doc: orderDoc(t, "b", 3, models.StatusKitchenPending)}, 0},
	}
	for i, s := range steps {
		if _, err := q.ApplyEvent(s.ev); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if q.Len() != s.want {
			t.Fatalf("step %d: %d queued, want %d", i, q.Len(), s.want)
		}
	}
}

func TestQueue_AnyInterleavingConverges(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := []models.OrderStatus{models.StatusPending, models.StatusKitchenPending, models.StatusCompleted, models.StatusCancelled}

	for run := 0; run < 300; run++ {
		var events []docstore.Event
		want := map[string]bool{}

		for n := 0; n < 8; n++ {
			id := fmt.Sprintf("o%d", n)
			steps := 1 + rng.Intn(5)
			var last docstore.Event
			for v := 1; v <= steps; v++ {
				evType := docstore.EventModified
				if v == 1 {
					evType = docstore.EventAdded
				}
				if v == steps && rng.Intn(5) == 0 {
					evType = docstore.EventRemoved
				}
				last = docstore.Event{Type: evType, Doc: orderDoc(t, id, int64(v), statuses[rng.Intn(len(statuses))])}
				events = append(events, last)
				if rng.Intn(4) == 0 {
					events = append(events, last) // redelivery
				}
			}
			var final models.Order
			_ = json.Unmarshal(last.Doc.Data, &final)
			want[id] = last.Type != docstore.EventRemoved && final.Status == models.StatusKitchenPending
		}

		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		q := NewQueue()
		for _, ev := range events {
			if _, err := q.ApplyEvent(ev); err != nil {
				t.Fatal(err)
			}
		}
		got := ids(q.List())
		for id, queued := range want {
			if got[id] != queued {
				t.Fatalf("run %d: order %s queued=%v, want %v", run, id, got[id], queued)
			}
		}
	}
}

func TestQueue_Rebuild(t *testing.T) {
	q := NewQueue()
	mark := q.Mark()

	// a change that arrives after the snapshot was read but before Rebuild
	if _, err := q.ApplyEvent(docstore.Event{Type: docstore.EventModified, Doc: orderDoc(t, "a", 5, models.StatusCompleted)}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.ApplyEvent(docstore.Event{Type: docstore.EventAdded, Doc: orderDoc(t, "new", 1, models.StatusKitchenPending)}); err != nil {
		t.Fatal(err)
	}
	// stale entry from an earlier subscription
	q.orders["gone"] = models.Order{ID: "gone", Status: models.StatusKitchenPending}

	snapshot := []docstore.Document{
		orderDoc(t, "a", 4, models.StatusKitchenPending),
		orderDoc(t, "b", 2, models.StatusKitchenPending),
		orderDoc(t, "c", 1, models.StatusPending),
	}
	if err := q.Rebuild(snapshot, mark); err != nil {
		t.Fatal(err)
	}

	got := ids(q.List())
	want := map[string]bool{"b": true, "new": true}
	if len(got) != len(want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
	for id := range want {
		if !got[id] {
			t.Fatalf("queue = %v, missing %s", got, id)
		}
	}

	// a late event for the snapshot version is ignored
	if applied, _ := q.ApplyEvent(docstore.Event{Type: docstore.EventModified, Doc: orderDoc(t, "b", 2, models.StatusCompleted)}); applied {
		t.Fatalf("event with an already seen version was applied")
	}
}

func TestWorker_RunLocal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := docstore.NewMemory()
	if _, err := store.Apply(ctx, docstore.Create(models.CollectionOrders, "o1", models.Order{Status: models.StatusKitchenPending, CreatedAt: time.Now()})); err != nil {
		t.Fatal(err)
	}

	q := NewQueue()
	w := NewWorker(q, store, 0, logger.Discard())
	done := make(chan error, 1)
	go func() { done <- w.RunLocal(ctx) }()

	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for q.Len() != n {
			if time.Now().After(deadline) {
				t.Fatalf("queue has %d orders, want %d", q.Len(), n)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	waitFor(1)

	if _, err := store.Apply(ctx, docstore.Create(models.CollectionOrders, "o2", models.Order{Status: models.StatusKitchenPending})); err != nil {
		t.Fatal(err)
	}
	waitFor(2)
	if _, err := store.Apply(ctx, docstore.Update(models.CollectionOrders, "o1", map[string]any{"status": models.StatusCompleted})); err != nil {
		t.Fatal(err)
	}
	waitFor(1)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunLocal: %v", err)
	}
}

// remoteStore sees the shared rows but none of the other process's change events.
type remoteStore struct {
	docstore.Store
}

func (remoteStore) Subscribe(context.Context, string, ...docstore.Filter) (*docstore.Subscription, error) {
	return nil, errors.New("no change feed across processes")
}

func TestWorker_RunPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared := docstore.NewMemory()
	if _, err := shared.Apply(ctx, docstore.Create(models.CollectionOrders, "o1", models.Order{Status: models.StatusKitchenPending})); err != nil {
		t.Fatal(err)
	}

	q := NewQueue()
	w := NewWorker(q, remoteStore{shared}, 0, logger.Discard())
	done := make(chan error, 1)
	go func() { done <- w.RunPolling(ctx, 10*time.Millisecond) }()

	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for q.Len() != n {
			if time.Now().After(deadline) {
				t.Fatalf("queue has %d orders, want %d", q.Len(), n)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	waitFor(1)

	if _, err := shared.Apply(ctx, docstore.Create(models.CollectionOrders, "o2", models.Order{Status: models.StatusKitchenPending})); err != nil {
		t.Fatal(err)
	}
	waitFor(2)
	if _, err := shared.Apply(ctx, docstore.Update(models.CollectionOrders, "o1", map[string]any{"status": models.StatusCancelled})); err != nil {
		t.Fatal(err)
	}
	waitFor(1)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunPolling: %v", err)
	}

	if err := w.RunPolling(context.Background(), 0); err == nil {
		t.Fatalf("expected an error for a zero interval")
	}
}

type stubConsumer struct {
	bodies [][]byte
	errs   []error
}

func (c *stubConsumer) StartConsuming(ctx context.Context, handler messaging.MessageHandler) error {
	for _, b := range c.bodies {
		c.errs = append(c.errs, handler(ctx, b))
	}
	return errors.New("channel closed")
}

func (c *stubConsumer) Close() error { return nil }

func TestWorker_RunBroker(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	if _, err := store.Apply(ctx, docstore.Create(models.CollectionOrders, "o1", models.Order{Status: models.StatusKitchenPending})); err != nil {
		t.Fatal(err)
	}

	change := func(id, typ string, version int64, status models.OrderStatus) []byte {
		data, _ := json.Marshal(models.Order{ID: id, Status: status})
		body, _ := json.Marshal(models.ChangeMessage{Collection: models.CollectionOrders, Type: typ, ID: id, Version: version, Data: data})
		return body
	}
	c := &stubConsumer{bodies: [][]byte{
		change("o2", "added", 1, models.StatusKitchenPending),
		change("o1", "modified", 2, models.StatusCompleted),
		[]byte("{not json"),
		change("o3", "exploded", 1, models.StatusKitchenPending),
		[]byte(`{"collection":"mesas","type":"modified","id":"mesa-01","version":3}`),
	}}

	q := NewQueue()
	w := NewWorker(q, store, 0, logger.Discard())
	if err := w.RunBroker(ctx, c); err == nil {
		t.Fatalf("expected the consumer error to be returned")
	}

	got := ids(q.List())
	if len(got) != 1 || !got["o2"] {
		t.Fatalf("queue = %v, want only o2", got)
	}
	for i, want := range []bool{false, false, true, true, false} {
		if malformed := errors.Is(c.errs[i], messaging.ErrMalformed); malformed != want {
			t.Errorf("message %d: malformed = %v (%v), want %v", i, malformed, c.errs[i], want)
		}
	}
}

func TestHandler_List(t *testing.T) {
	q := NewQueue()
	_, _ = q.ApplyEvent(docstore.Event{Type: docstore.EventAdded, Doc: orderDoc(t, "a", 1, models.StatusKitchenPending)})

	r := chi.NewRouter()
	NewHandler(q).Routes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/kitchen/orders", nil))

	var orders []models.Order
	if err := json.NewDecoder(rr.Body).Decode(&orders); err != nil {
		t.Fatal(err)
	}
	if rr.Code != http.StatusOK || len(orders) != 1 || orders[0].ID != "a" {
		t.Fatalf("unexpected response %d %+v", rr.Code, orders)
	}
}
