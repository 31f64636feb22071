package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
)

type notifier interface {
	Notify(ctx context.Context, msg models.Notification)
}

// CartView is a snapshot of a table's cart.
type CartView struct {
	TableID string             `json:"table_id"`
	Items   []models.OrderLine `json:"items"`
	Total   decimal.Decimal    `json:"total"`
}

// Drafts keeps one cart per table in memory. Mutations return at once; Run
// mirrors changed carts to the carrinhos collection in the background and
// reports failures as notifications.
type Drafts struct {
	mu    sync.Mutex
	carts map[string]*Cart
	dirty map[string]string // table id -> user that last changed it

	store    docstore.Store
	notifier notifier
	logger   *logger.Logger
	signal   chan struct{}
	now      func() time.Time
}

func NewDrafts(store docstore.Store, n notifier, log *logger.Logger) *Drafts {
	return &Drafts{
		carts:    make(map[string]*Cart),
		dirty:    make(map[string]string),
		store:    store,
		notifier: n,
		logger:   log,
		signal:   make(chan struct{}, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Restore loads the stored mirrors into memory. Used once at start so carts
// survive a restart when the mirror is current.
func (d *Drafts) Restore(ctx context.Context) error {
	carts, err := docstore.NewCollection[models.Cart](d.store, models.CollectionCarts).List(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range carts {
		if _, ok := d.carts[c.TableID]; !ok && len(c.Items) > 0 {
			d.carts[c.TableID] = NewCart(c.Items)
		}
	}
	return nil
}

func (d *Drafts) View(tableID string) CartView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewLocked(tableID)
}

// Mutate applies fn to the table's cart and schedules a sync.
func (d *Drafts) Mutate(tableID, by string, fn func(c *Cart) error) (CartView, error) {
	d.mu.Lock()
	c, ok := d.carts[tableID]
	if !ok {
		c = &Cart{}
		d.carts[tableID] = c
	}
	if err := fn(c); err != nil {
		view := d.viewLocked(tableID)
		d.mu.Unlock()
		return view, err
	}
	d.dirty[tableID] = by
	view := d.viewLocked(tableID)
	d.mu.Unlock()

	d.kick()
	return view, nil
}

// Take removes the table's cart and returns its lines.
func (d *Drafts) Take(tableID, by string) []models.OrderLine {
	d.mu.Lock()
	c, ok := d.carts[tableID]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	lines := c.Lines()
	delete(d.carts, tableID)
	d.dirty[tableID] = by
	d.mu.Unlock()

	d.kick()
	return lines
}

// PutBack returns lines taken by Take to the cart, e.g. after a failed submit.
func (d *Drafts) PutBack(tableID, by string, lines []models.OrderLine) {
	if len(lines) == 0 {
		return
	}
	_, _ = d.Mutate(tableID, by, func(c *Cart) error {
		c.merge(lines)
		return nil
	})
}

func (d *Drafts) viewLocked(tableID string) CartView {
	view := CartView{TableID: tableID, Items: []models.OrderLine{}, Total: decimal.Zero}
	if c, ok := d.carts[tableID]; ok {
		view.Items = c.Lines()
		view.Total = c.TotalPrice()
	}
	return view
}

func (d *Drafts) kick() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// Run syncs changed carts until ctx is cancelled.
func (d *Drafts) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.signal:
			d.Flush(ctx)
		}
	}
}

// Flush writes every changed cart once. Failed carts are not retried until
// they change again.
func (d *Drafts) Flush(ctx context.Context) {
	d.mu.Lock()
	type pending struct {
		tableID string
		by      string
		lines   []models.OrderLine
	}
	batch := make([]pending, 0, len(d.dirty))
	for tableID, by := range d.dirty {
		var lines []models.OrderLine
		if c, ok := d.carts[tableID]; ok {
			lines = c.Lines()
		}
		batch = append(batch, pending{tableID: tableID, by: by, lines: lines})
	}
	d.dirty = make(map[string]string)
	d.mu.Unlock()

	for _, p := range batch {
		if err := d.write(ctx, p.tableID, p.by, p.lines); err != nil {
			d.logger.Error("cart_sync_failed", "Failed to mirror cart", "", err, map[string]interface{}{
				"table_id": p.tableID,
			})
			number, _ := models.TableNumber(p.tableID)
			d.notifier.Notify(ctx, models.Notification{
				Type:        models.NotifyCartSyncFailed,
				TableNumber: number,
				ChangedBy:   p.by,
				Detail:      err.Error(),
			})
		}
	}
}

func (d *Drafts) write(ctx context.Context, tableID, by string, lines []models.OrderLine) error {
	if len(lines) == 0 {
		_, err := d.store.Apply(ctx, docstore.Delete(models.CollectionCarts, tableID))
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err := d.store.Apply(ctx, docstore.Set(models.CollectionCarts, tableID, models.Cart{
		TableID:   tableID,
		Items:     lines,
		UpdatedAt: d.now(),
		UpdatedBy: by,
	}))
	return err
}
