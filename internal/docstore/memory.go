package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store. It backs tests and the "memory" driver.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]map[string]Document
	hub      *Hub
	maxBatch int
	closed   bool
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]map[string]Document),
		hub:      NewHub(),
		maxBatch: DefaultMaxBatch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithMaxBatch lowers the batch limit. Used to exercise chunked deletes.
func (m *Memory) WithMaxBatch(n int) *Memory {
	m.maxBatch = n
	return m
}

func (m *Memory) MaxBatch() int { return m.maxBatch }

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.hub.Close()
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Document{}, ErrClosed
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (m *Memory) List(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.listLocked(collection, filters), nil
}

func (m *Memory) listLocked(collection string, filters []Filter) []Document {
	out := make([]Document, 0, len(m.docs[collection]))
	for _, doc := range m.docs[collection] {
		if Matches(doc.Data, filters) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Subscribe(ctx context.Context, collection string, filters ...Filter) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.hub.Open(ctx, collection, filters, m.listLocked(collection, filters)), nil
}

func (m *Memory) Apply(ctx context.Context, writes ...Write) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateBatch(writes, m.maxBatch); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	tx := &memTx{base: m.docs, staged: make(map[string]map[string]*Document)}
	results, events, err := ApplyTx(ctx, tx, writes, m.now())
	if err != nil {
		return nil, err
	}

	for collection, docs := range tx.staged {
		if m.docs[collection] == nil {
			m.docs[collection] = make(map[string]Document)
		}
		for id, d := range docs {
			if d == nil {
				delete(m.docs[collection], id)
				continue
			}
			m.docs[collection][id] = *d
		}
	}
	m.hub.Publish(events)

	return results, nil
}

// memTx stages writes privately; nothing is visible until every write succeeds.
type memTx struct {
	base   map[string]map[string]Document
	staged map[string]map[string]*Document
}

func (t *memTx) Load(_ context.Context, collection, id string) (Document, bool, error) {
	if c, ok := t.staged[collection]; ok {
		if d, ok := c[id]; ok {
			if d == nil {
				return Document{}, false, nil
			}
			return *d, true, nil
		}
	}
	d, ok := t.base[collection][id]
	return d, ok, nil
}

func (t *memTx) Put(_ context.Context, doc Document, _ bool) error {
	t.stage(doc.Collection, doc.ID, &doc)
	return nil
}

func (t *memTx) Remove(_ context.Context, collection, id string) error {
	t.stage(collection, id, nil)
	return nil
}

func (t *memTx) stage(collection, id string, d *Document) {
	if t.staged[collection] == nil {
		t.staged[collection] = make(map[string]*Document)
	}
	t.staged[collection][id] = d
}
