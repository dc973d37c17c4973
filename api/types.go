package api

import (
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/collection"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/store"
)

// Engine abstracts the collection manager for handlers.
type Engine interface {
	Collection(desc collection.Descriptor) *collection.Collection
	Release(contextKey string)
	Filters() *store.FilterStore
	Stats() *collection.SubItemStore
	Notifier() *collection.Notifier
}
