package collection

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/remote"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/store"
)

func loadedCollection(t *testing.T, fetcher *fakeFetcher, items []domain.Item) (*Collection, *store.EntityStore) {
	t.Helper()
	fetcher.fetchFn = func(context.Context, remote.PageRequest) (remote.PageSet, error) {
		return flatPage(items, "", false), nil
	}
	col, entities, _ := newTestCollection(t, ProjectContext("p1"), fetcher, groupByPatch(domain.GroupByState))
	if err := col.FetchFirstPage(context.Background(), FetchOptions{}); err != nil {
		t.Fatalf("seed collection: %v", err)
	}
	return col, entities
}

func TestUpdateItemMovesGroupBucket(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, entities := loadedCollection(t, fetcher, []domain.Item{
		{ID: "1", StateID: "todo", SortOrder: 1},
		{ID: "2", StateID: "todo", SortOrder: 2},
	})
	fetcher.updateFn = func(_ context.Context, id string, patch domain.ItemPatch) (domain.Item, error) {
		it, _ := entities.Get(id)
		return patch.Apply(it), nil
	}

	done := "done"
	if _, err := col.UpdateItem(context.Background(), "1", domain.ItemPatch{StateID: &done}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := col.IDs("todo", ""); !reflect.DeepEqual(got, []string{"2"}) {
		t.Fatalf("old bucket not patched: %v", got)
	}
	if got := col.IDs("done", ""); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("new bucket not patched: %v", got)
	}
	it, _ := entities.Get("1")
	if it.StateID != "done" {
		t.Fatalf("entity store not updated: %+v", it)
	}
}

func TestUpdateItemRollsBackOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, entities := loadedCollection(t, fetcher, []domain.Item{
		{ID: "1", StateID: "todo", SortOrder: 1},
	})
	before, _ := entities.Get("1")
	fetcher.updateFn = func(context.Context, string, domain.ItemPatch) (domain.Item, error) {
		// The optimistic move must already be visible when the request
		// is in flight.
		if got := col.IDs("done", ""); !reflect.DeepEqual(got, []string{"1"}) {
			t.Fatalf("optimistic move missing: %v", got)
		}
		return domain.Item{}, errors.New("rejected")
	}

	done := "done"
	if _, err := col.UpdateItem(context.Background(), "1", domain.ItemPatch{StateID: &done}); err == nil {
		t.Fatal("failed update must return the error")
	}

	restored, _ := entities.Get("1")
	if restored.StateID != "todo" || restored.UpdatedAt != before.UpdatedAt {
		t.Fatalf("entity store not restored: %+v", restored)
	}
	if got := col.IDs("todo", ""); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("index not restored: %v", got)
	}
	if got := col.IDs("done", ""); len(got) != 0 {
		t.Fatalf("optimistic bucket not reverted: %v", got)
	}
}

func TestCreateItemOptimisticThenCanonical(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, entities := loadedCollection(t, fetcher, nil)
	fetcher.createFn = func(_ context.Context, params map[string]string, it domain.Item) (domain.Item, error) {
		if params["project"] != "p1" {
			t.Fatalf("scope params missing: %v", params)
		}
		it.ID = "server-1"
		return it, nil
	}

	created, err := col.CreateItem(context.Background(), domain.Item{StateID: "todo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "server-1" {
		t.Fatalf("unexpected canonical id: %s", created.ID)
	}
	if got := col.IDs("todo", ""); !reflect.DeepEqual(got, []string{"server-1"}) {
		t.Fatalf("index must hold only the canonical id: %v", got)
	}
	if _, ok := entities.Get("server-1"); !ok {
		t.Fatal("canonical record missing from entity store")
	}
	if entities.Len() != 1 {
		t.Fatalf("optimistic record must be dropped, got %d records", entities.Len())
	}
	if col.GroupTotals()["todo"] != 1 {
		t.Fatalf("group total not incremented: %v", col.GroupTotals())
	}
}

func TestCreateItemRollsBackOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, entities := loadedCollection(t, fetcher, nil)
	fetcher.createFn = func(context.Context, map[string]string, domain.Item) (domain.Item, error) {
		return domain.Item{}, errors.New("rejected")
	}

	if _, err := col.CreateItem(context.Background(), domain.Item{StateID: "todo"}); err == nil {
		t.Fatal("failed create must return the error")
	}
	if len(col.Groups()) != 0 {
		t.Fatalf("optimistic insert not reverted: %v", col.Groups())
	}
	if entities.Len() != 0 {
		t.Fatalf("optimistic record not removed, %d records", entities.Len())
	}
	if col.TotalCount() != 0 {
		t.Fatalf("total not reverted: %d", col.TotalCount())
	}
}

func TestArchiveItemRemovesFromActiveIndex(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, entities := loadedCollection(t, fetcher, []domain.Item{
		{ID: "1", StateID: "todo", SortOrder: 1},
	})
	fetcher.archiveFn = func(context.Context, string) (int64, error) {
		return 777, nil
	}

	if err := col.ArchiveItem(context.Background(), "1"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if got := col.IDs("todo", ""); len(got) != 0 {
		t.Fatalf("archived item must leave the active index: %v", got)
	}
	it, ok := entities.Get("1")
	if !ok || it.ArchivedAt != 777 {
		t.Fatalf("server archive stamp not adopted: %+v", it)
	}
}

func TestArchiveItemRollsBackOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, entities := loadedCollection(t, fetcher, []domain.Item{
		{ID: "1", StateID: "todo", SortOrder: 1},
	})
	fetcher.archiveFn = func(context.Context, string) (int64, error) {
		return 0, errors.New("rejected")
	}

	if err := col.ArchiveItem(context.Background(), "1"); err == nil {
		t.Fatal("failed archive must return the error")
	}
	if got := col.IDs("todo", ""); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("index not restored: %v", got)
	}
	it, _ := entities.Get("1")
	if it.Archived() {
		t.Fatalf("archive stamp not reverted: %+v", it)
	}
}

func TestRemoveItemRollsBackOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, entities := loadedCollection(t, fetcher, []domain.Item{
		{ID: "1", StateID: "todo", SortOrder: 1},
	})
	fetcher.deleteFn = func(context.Context, string) error {
		if _, ok := entities.Get("1"); ok {
			t.Fatal("optimistic delete must already be applied")
		}
		return errors.New("rejected")
	}

	if err := col.RemoveItem(context.Background(), "1"); err == nil {
		t.Fatal("failed delete must return the error")
	}
	if _, ok := entities.Get("1"); !ok {
		t.Fatal("record not restored after rollback")
	}
	if got := col.IDs("todo", ""); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("index not restored: %v", got)
	}
}

func TestRemoveItemSucceeds(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, entities := loadedCollection(t, fetcher, []domain.Item{
		{ID: "1", StateID: "todo", SortOrder: 1},
		{ID: "2", StateID: "todo", SortOrder: 2},
	})
	fetcher.deleteFn = func(context.Context, string) error { return nil }

	if err := col.RemoveItem(context.Background(), "1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := col.IDs("todo", ""); !reflect.DeepEqual(got, []string{"2"}) {
		t.Fatalf("unexpected bucket: %v", got)
	}
	if _, ok := entities.Get("1"); ok {
		t.Fatal("record must be gone")
	}
	if col.GroupTotals()["todo"] != 1 {
		t.Fatalf("group total not decremented: %v", col.GroupTotals())
	}
}

func TestBulkUpdateRollsBackEveryItem(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, entities := loadedCollection(t, fetcher, []domain.Item{
		{ID: "1", StateID: "todo", SortOrder: 1},
		{ID: "2", StateID: "todo", SortOrder: 2},
	})
	fetcher.bulkFn = func(context.Context, []string, domain.ItemPatch) error {
		return errors.New("rejected")
	}

	done := "done"
	if err := col.BulkUpdate(context.Background(), []string{"1", "2"}, domain.ItemPatch{StateID: &done}); err == nil {
		t.Fatal("failed bulk update must return the error")
	}
	if got := col.IDs("todo", ""); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("index not restored: %v", got)
	}
	for _, id := range []string{"1", "2"} {
		it, _ := entities.Get(id)
		if it.StateID != "todo" {
			t.Fatalf("item %s not restored: %+v", id, it)
		}
	}
}

func TestBulkUpdateAppliesToAllItems(t *testing.T) {
	fetcher := &fakeFetcher{}
	col, _ := loadedCollection(t, fetcher, []domain.Item{
		{ID: "1", StateID: "todo", SortOrder: 1},
		{ID: "2", StateID: "todo", SortOrder: 2},
	})
	fetcher.bulkFn = func(context.Context, []string, domain.ItemPatch) error { return nil }

	done := "done"
	if err := col.BulkUpdate(context.Background(), []string{"1", "2"}, domain.ItemPatch{StateID: &done}); err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	if got := col.IDs("done", ""); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("unexpected done bucket: %v", got)
	}
	if got := col.IDs("todo", ""); len(got) != 0 {
		t.Fatalf("old bucket not emptied: %v", got)
	}
}

func TestMutationsNotifySubscribers(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.fetchFn = func(context.Context, remote.PageRequest) (remote.PageSet, error) {
		return flatPage([]domain.Item{{ID: "1", StateID: "todo"}}, "", false), nil
	}
	entities := store.NewEntityStore()
	filters := store.NewFilterStore(nil, nil, nil, DefaultGroupByFor, nil)
	if _, err := filters.UpdateDisplayFilters(context.Background(), "project/p1", groupByPatch(domain.GroupByState)); err != nil {
		t.Fatalf("seed filters: %v", err)
	}
	notifier := NewNotifier()
	ch, cancel := notifier.Subscribe(8)
	defer cancel()

	col := New(Config{
		Descriptor: ProjectContext("p1"),
		Fetcher:    fetcher,
		Entities:   entities,
		Filters:    filters,
		Notifier:   notifier,
	})
	if err := col.FetchFirstPage(context.Background(), FetchOptions{}); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Kind != EventLoaded || ev.ContextKey != "project/p1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("loaded event not published")
	}
}
