package docstore

import "context"

// Collection is typed read access to one collection.
type Collection[T any] struct {
	store Store
	name  string
}

func NewCollection[T any](store Store, name string) Collection[T] {
	return Collection[T]{store: store, name: name}
}

func (c Collection[T]) Name() string { return c.name }

func (c Collection[T]) Get(ctx context.Context, id string) (T, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](doc)
}

func (c Collection[T]) List(ctx context.Context, filters ...Filter) ([]T, error) {
	docs, err := c.store.List(ctx, c.name, filters...)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](docs)
}
