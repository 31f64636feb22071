package menu

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/models"
)

// Catalog is the read side of the menu. It is not edited while the
// restaurant operates; Import replaces entries during setup.
type Catalog struct {
	store docstore.Store
}

func NewCatalog(store docstore.Store) *Catalog {
	return &Catalog{store: store}
}

// List returns menu items, optionally limited to one category, ordered by
// category and name.
func (c *Catalog) List(ctx context.Context, category models.Category) ([]models.MenuItem, error) {
	var filters []docstore.Filter
	if category != "" {
		filters = append(filters, docstore.Eq("category", category))
	}

	docs, err := c.store.List(ctx, models.CollectionMenu, filters...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	items, err := docstore.DecodeAll[models.MenuItem](docs)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// Grouped returns the menu keyed by category.
func (c *Catalog) Grouped(ctx context.Context) (map[models.Category][]models.MenuItem, error) {
	items, err := c.List(ctx, "")
	if err != nil {
		return nil, err
	}
	grouped := make(map[models.Category][]models.MenuItem)
	for _, item := range items {
		grouped[item.Category] = append(grouped[item.Category], item)
	}
	return grouped, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (models.MenuItem, error) {
	doc, err := c.store.Get(ctx, models.CollectionMenu, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.MenuItem{}, apperr.NotFound("menu item")
		}
		return models.MenuItem{}, apperr.Storage(err)
	}
	return docstore.Decode[models.MenuItem](doc)
}

// Import writes items, replacing entries with the same id. Items are
// written in chunks of the store's batch limit.
func (c *Catalog) Import(ctx context.Context, items []models.MenuItem) (int, error) {
	writes := make([]docstore.Write, 0, len(items))
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return 0, fmt.Errorf("item %d: %w", i, err)
		}
		if item.ID == "" {
			return 0, apperr.Validation("id", fmt.Sprintf("item %d has no id", i))
		}
		writes = append(writes, docstore.Set(models.CollectionMenu, item.ID, item))
	}

	size := c.store.MaxBatch()
	for start := 0; start < len(writes); start += size {
		end := min(start+size, len(writes))
		if _, err := c.store.Apply(ctx, writes[start:end]...); err != nil {
			return start, apperr.Storage(err)
		}
	}
	return len(writes), nil
}
