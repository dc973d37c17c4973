package collection

import (
	"context"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/remote"
)

// Fetcher abstracts the item-retrieval API for collection stores.
type Fetcher interface {
	FetchItems(ctx context.Context, req remote.PageRequest) (remote.PageSet, error)
	CreateItem(ctx context.Context, params map[string]string, item domain.Item) (domain.Item, error)
	UpdateItem(ctx context.Context, id string, patch domain.ItemPatch) (domain.Item, error)
	ArchiveItem(ctx context.Context, id string) (int64, error)
	DeleteItem(ctx context.Context, id string) error
	BulkUpdateItems(ctx context.Context, ids []string, patch domain.ItemPatch) error
}

// Descriptor parameterizes the one generic collection engine per
// context kind (project, epic, sprint, workspace view, archived list,
// profile, drafts). It is the only piece that differs between contexts.
type Descriptor interface {
	// Key uniquely identifies the context instance, e.g. "project/p1".
	Key() string
	// ScopeParams identify the container on every request.
	ScopeParams() map[string]string
	// FilterParams derive the full retrieval query from the applied
	// filter state, scope included.
	FilterParams(f domain.ContextFilters) map[string]string
	// Archived selects which side of the archive line this context shows.
	Archived() ArchivedSide
}

// ArchivedSide mirrors the entity store's archived filtering.
type ArchivedSide int

const (
	// ActiveItems is the normal case: archived items leave the index.
	ActiveItems ArchivedSide = iota
	// ArchivedItems is for archived-list contexts.
	ArchivedItems
)

// StatsObserver receives every item transition so parent-level
// aggregates (sub-item distributions, child counts) are patched in the
// same tick as the mutation. A nil before means the item was created;
// a nil after means it was removed from the context.
type StatsObserver interface {
	ItemChanged(before, after *domain.Item)
}

// State is the collection store's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
