package collection

import (
	"context"
	"errors"
	"sync"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/remote"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/store"
)

type fakeFetcher struct {
	mu         sync.Mutex
	fetchFn    func(ctx context.Context, req remote.PageRequest) (remote.PageSet, error)
	createFn   func(ctx context.Context, params map[string]string, item domain.Item) (domain.Item, error)
	updateFn   func(ctx context.Context, id string, patch domain.ItemPatch) (domain.Item, error)
	archiveFn  func(ctx context.Context, id string) (int64, error)
	deleteFn   func(ctx context.Context, id string) error
	bulkFn     func(ctx context.Context, ids []string, patch domain.ItemPatch) error
	fetchCalls int
	lastReq    remote.PageRequest
}

func (f *fakeFetcher) FetchItems(ctx context.Context, req remote.PageRequest) (remote.PageSet, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.lastReq = req
	fn := f.fetchFn
	f.mu.Unlock()
	if fn == nil {
		return remote.PageSet{}, errors.New("unexpected FetchItems call")
	}
	return fn(ctx, req)
}

func (f *fakeFetcher) CreateItem(ctx context.Context, params map[string]string, item domain.Item) (domain.Item, error) {
	if f.createFn == nil {
		return domain.Item{}, errors.New("unexpected CreateItem call")
	}
	return f.createFn(ctx, params, item)
}

func (f *fakeFetcher) UpdateItem(ctx context.Context, id string, patch domain.ItemPatch) (domain.Item, error) {
	if f.updateFn == nil {
		return domain.Item{}, errors.New("unexpected UpdateItem call")
	}
	return f.updateFn(ctx, id, patch)
}

func (f *fakeFetcher) ArchiveItem(ctx context.Context, id string) (int64, error) {
	if f.archiveFn == nil {
		return 0, errors.New("unexpected ArchiveItem call")
	}
	return f.archiveFn(ctx, id)
}

func (f *fakeFetcher) DeleteItem(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		return errors.New("unexpected DeleteItem call")
	}
	return f.deleteFn(ctx, id)
}

func (f *fakeFetcher) BulkUpdateItems(ctx context.Context, ids []string, patch domain.ItemPatch) error {
	if f.bulkFn == nil {
		return errors.New("unexpected BulkUpdateItems call")
	}
	return f.bulkFn(ctx, ids, patch)
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func flatPage(items []domain.Item, nextCursor string, hasNext bool) remote.PageSet {
	return remote.PageSet{
		Groups: map[string]remote.Page{
			"": {Results: items, NextCursor: nextCursor, NextPageResults: hasNext, TotalCount: len(items)},
		},
		Total: len(items),
	}
}

// newTestCollection wires a collection over a fake fetcher with the
// given display filters already applied for the context.
func newTestCollection(t interface {
	Fatalf(format string, args ...any)
	Helper()
}, desc Descriptor, fetcher *fakeFetcher, display domain.DisplayFiltersPatch) (*Collection, *store.EntityStore, *store.FilterStore) {
	t.Helper()
	entities := store.NewEntityStore()
	filters := store.NewFilterStore(nil, nil, nil, DefaultGroupByFor, nil)
	if _, err := filters.UpdateDisplayFilters(context.Background(), desc.Key(), display); err != nil {
		t.Fatalf("seed display filters: %v", err)
	}
	col := New(Config{
		Descriptor: desc,
		Fetcher:    fetcher,
		Entities:   entities,
		Filters:    filters,
	})
	return col, entities, filters
}

func groupByPatch(groupBy domain.GroupBy) domain.DisplayFiltersPatch {
	gb := groupBy
	return domain.DisplayFiltersPatch{GroupBy: &gb}
}
