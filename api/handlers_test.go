package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/collection"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/remote"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/store"
)

type stubFetcher struct {
	fetchFn  func(ctx context.Context, req remote.PageRequest) (remote.PageSet, error)
	createFn func(ctx context.Context, params map[string]string, item domain.Item) (domain.Item, error)
	updateFn func(ctx context.Context, id string, patch domain.ItemPatch) (domain.Item, error)
	deleteFn func(ctx context.Context, id string) error
}

func (s *stubFetcher) FetchItems(ctx context.Context, req remote.PageRequest) (remote.PageSet, error) {
	if s.fetchFn == nil {
		return remote.PageSet{}, errors.New("unexpected FetchItems call")
	}
	return s.fetchFn(ctx, req)
}

func (s *stubFetcher) CreateItem(ctx context.Context, params map[string]string, item domain.Item) (domain.Item, error) {
	if s.createFn == nil {
		return domain.Item{}, errors.New("unexpected CreateItem call")
	}
	return s.createFn(ctx, params, item)
}

func (s *stubFetcher) UpdateItem(ctx context.Context, id string, patch domain.ItemPatch) (domain.Item, error) {
	if s.updateFn == nil {
		return domain.Item{}, errors.New("unexpected UpdateItem call")
	}
	return s.updateFn(ctx, id, patch)
}

func (s *stubFetcher) ArchiveItem(ctx context.Context, id string) (int64, error) {
	return 0, errors.New("unexpected ArchiveItem call")
}

func (s *stubFetcher) DeleteItem(ctx context.Context, id string) error {
	if s.deleteFn == nil {
		return errors.New("unexpected DeleteItem call")
	}
	return s.deleteFn(ctx, id)
}

func (s *stubFetcher) BulkUpdateItems(ctx context.Context, ids []string, patch domain.ItemPatch) error {
	return errors.New("unexpected BulkUpdateItems call")
}

func newTestServer(t *testing.T, fetcher *stubFetcher) (*echo.Echo, *collection.Manager) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	filters := store.NewFilterStore(nil, nil, nil, collection.DefaultGroupByFor, logger)
	manager := collection.NewManager(collection.ManagerConfig{
		Fetcher: fetcher,
		Filters: filters,
		Logger:  logger,
	})
	e := echo.New()
	Register(e, manager, logger)
	return e, manager
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// setGroupByState switches a context to state grouping through the
// filters endpoint.
func setGroupByState(t *testing.T, e *echo.Echo, kind, id string) {
	t.Helper()
	body := `{"display_filters":{"layout":"list","group_by":"state","sub_group_by":"","order_by":"sort_order","show_sub_items":false,"show_empty_groups":false}}`
	rec := doRequest(e, http.MethodPatch, "/api/contexts/"+kind+"/"+id+"/filters", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed display filters: %d %s", rec.Code, rec.Body.String())
	}
}

func TestGetItemsReturnsGroupedIndex(t *testing.T) {
	fetcher := &stubFetcher{
		fetchFn: func(_ context.Context, req remote.PageRequest) (remote.PageSet, error) {
			if req.Params["project"] != "p1" {
				t.Fatalf("project scope missing: %v", req.Params)
			}
			return remote.PageSet{
				Groups: map[string]remote.Page{
					"": {
						Results: []domain.Item{
							{ID: "1", StateID: "todo", SortOrder: 1},
							{ID: "2", StateID: "done", SortOrder: 2},
						},
						NextPageResults: true,
						NextCursor:      "2:2:1",
					},
				},
				Total: 2,
			}, nil
		},
	}
	e, _ := newTestServer(t, fetcher)
	setGroupByState(t, e, "projects", "p1")

	rec := doRequest(e, http.MethodGet, "/api/contexts/projects/p1/items", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var resp itemsResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != "loaded" {
		t.Fatalf("unexpected state: %s", resp.State)
	}
	todo, ok := resp.Groups["todo"]
	if !ok {
		t.Fatalf("todo group missing: %v", resp.Groups)
	}
	if len(todo[""].Items) != 1 || todo[""].Items[0].ID != "1" {
		t.Fatalf("unexpected todo items: %+v", todo[""].Items)
	}
	// Flat responses paginate as a whole: the cursor signal is
	// context-level, never on the client-sliced buckets.
	if !resp.HasNextPage {
		t.Fatal("context-level next-page flag missing")
	}
	if resp.GroupHasNext["todo"] {
		t.Fatalf("client-sliced group must not claim a cursor: %v", resp.GroupHasNext)
	}
}

func TestGetItemsGroupedPaginationFlags(t *testing.T) {
	fetcher := &stubFetcher{
		fetchFn: func(context.Context, remote.PageRequest) (remote.PageSet, error) {
			return remote.PageSet{
				Grouped: true,
				Groups: map[string]remote.Page{
					"todo": {
						Results:         []domain.Item{{ID: "1", StateID: "todo"}},
						NextCursor:      "1:1:1",
						NextPageResults: true,
						TotalCount:      5,
					},
					"done": {
						Results:    []domain.Item{{ID: "2", StateID: "done"}},
						TotalCount: 1,
					},
				},
				Total: 6,
			}, nil
		},
	}
	e, _ := newTestServer(t, fetcher)
	setGroupByState(t, e, "projects", "p1")

	rec := doRequest(e, http.MethodGet, "/api/contexts/projects/p1/items", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var resp itemsResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.HasNextPage {
		t.Fatal("grouped responses have no context-level cursor")
	}
	if !resp.GroupHasNext["todo"] {
		t.Fatalf("todo group cursor missing: %v", resp.GroupHasNext)
	}
	if resp.GroupHasNext["done"] {
		t.Fatalf("exhausted group must not claim a cursor: %v", resp.GroupHasNext)
	}
}

func TestGetItemsUnknownContextKind(t *testing.T) {
	e, _ := newTestServer(t, &stubFetcher{})
	rec := doRequest(e, http.MethodGet, "/api/contexts/bogus/p1/items", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestGetItemsInvalidPerPage(t *testing.T) {
	e, _ := newTestServer(t, &stubFetcher{})
	rec := doRequest(e, http.MethodGet, "/api/contexts/projects/p1/items?per_page=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestGetItemsUpstreamFailure(t *testing.T) {
	fetcher := &stubFetcher{
		fetchFn: func(context.Context, remote.PageRequest) (remote.PageSet, error) {
			return remote.PageSet{}, errors.New("upstream down")
		},
	}
	e, _ := newTestServer(t, fetcher)
	rec := doRequest(e, http.MethodGet, "/api/contexts/projects/p1/items", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestNextPagePaginates(t *testing.T) {
	page := 0
	fetcher := &stubFetcher{}
	fetcher.fetchFn = func(context.Context, remote.PageRequest) (remote.PageSet, error) {
		page++
		if page == 1 {
			return remote.PageSet{Groups: map[string]remote.Page{
				"": {Results: []domain.Item{{ID: "1", StateID: "todo", SortOrder: 1}}, NextCursor: "1:1:1", NextPageResults: true},
			}}, nil
		}
		return remote.PageSet{Groups: map[string]remote.Page{
			"": {Results: []domain.Item{{ID: "2", StateID: "todo", SortOrder: 2}}, NextPageResults: false},
		}}, nil
	}
	e, _ := newTestServer(t, fetcher)
	setGroupByState(t, e, "projects", "p1")

	if rec := doRequest(e, http.MethodGet, "/api/contexts/projects/p1/items", ""); rec.Code != http.StatusOK {
		t.Fatalf("seed items: %d", rec.Code)
	}
	rec := doRequest(e, http.MethodPost, "/api/contexts/projects/p1/items/next", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var resp itemsResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got := resp.Groups["todo"][""].Items; len(got) != 2 {
		t.Fatalf("expected merged page, got %+v", got)
	}
	if resp.HasNextPage {
		t.Fatal("exhausted context must report no next page")
	}
}

func TestCreateItemEndpoint(t *testing.T) {
	fetcher := &stubFetcher{
		fetchFn: func(context.Context, remote.PageRequest) (remote.PageSet, error) {
			return remote.PageSet{Groups: map[string]remote.Page{"": {}}}, nil
		},
		createFn: func(_ context.Context, _ map[string]string, it domain.Item) (domain.Item, error) {
			it.ID = "server-1"
			return it, nil
		},
	}
	e, _ := newTestServer(t, fetcher)

	rec := doRequest(e, http.MethodPost, "/api/contexts/projects/p1/items", `{"id":"","state_id":"todo","sort_order":1,"created_at":0,"updated_at":0}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var created domain.Item
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID != "server-1" {
		t.Fatalf("unexpected id: %s", created.ID)
	}
}

func TestCreateItemRejectsUnknownFields(t *testing.T) {
	e, _ := newTestServer(t, &stubFetcher{})
	rec := doRequest(e, http.MethodPost, "/api/contexts/projects/p1/items", `{"bogus_field":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestUpdateItemUpstreamFailure(t *testing.T) {
	fetcher := &stubFetcher{
		updateFn: func(context.Context, string, domain.ItemPatch) (domain.Item, error) {
			return domain.Item{}, errors.New("rejected")
		},
	}
	e, _ := newTestServer(t, fetcher)
	rec := doRequest(e, http.MethodPatch, "/api/contexts/projects/p1/items/i1", `{"state_id":"done"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestPatchFiltersReportsRefetch(t *testing.T) {
	e, _ := newTestServer(t, &stubFetcher{})
	rec := doRequest(e, http.MethodPatch, "/api/contexts/projects/p1/filters",
		`{"rich_filters":{"field":"state","values":["todo"]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var resp patchFiltersResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Refetch {
		t.Fatal("rich filter change must require a refetch")
	}
}

func TestPatchFiltersDisplayOnlyNeedsNoRefetch(t *testing.T) {
	e, _ := newTestServer(t, &stubFetcher{})
	rec := doRequest(e, http.MethodPatch, "/api/contexts/projects/p1/filters",
		`{"display_properties":{"assignee":true,"priority":true,"state":true,"sub_items":false,"labels":false,"due_date":false,"created_on":false,"updated_on":false,"link":false,"attachment":false}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var resp patchFiltersResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Refetch {
		t.Fatal("display property change must not require a refetch")
	}
}

func TestGetFiltersReturnsDefaults(t *testing.T) {
	e, _ := newTestServer(t, &stubFetcher{})
	rec := doRequest(e, http.MethodGet, "/api/contexts/projects/p1/filters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var cf domain.ContextFilters
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &cf); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cf.Display.Layout != domain.LayoutList {
		t.Fatalf("expected default layout: %+v", cf.Display)
	}
}

func TestGetCalendarValidation(t *testing.T) {
	e, _ := newTestServer(t, &stubFetcher{})
	if rec := doRequest(e, http.MethodGet, "/api/contexts/projects/p1/calendar?week_start=9", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid week_start must 400, got %d", rec.Code)
	}
	if rec := doRequest(e, http.MethodGet, "/api/contexts/projects/p1/calendar?anchor=nonsense", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid anchor must 400, got %d", rec.Code)
	}
	rec := doRequest(e, http.MethodGet, "/api/contexts/projects/p1/calendar?anchor=2024-07-15&week_start=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestGetChildren(t *testing.T) {
	fetcher := &stubFetcher{
		fetchFn: func(_ context.Context, req remote.PageRequest) (remote.PageSet, error) {
			if req.Params["parent"] != "epic-1" {
				t.Fatalf("parent param missing: %v", req.Params)
			}
			return remote.PageSet{Groups: map[string]remote.Page{
				"": {Results: []domain.Item{
					{ID: "c1", ParentID: "epic-1", StateGroup: domain.StateGroupStarted},
				}},
			}}, nil
		},
	}
	e, _ := newTestServer(t, fetcher)

	rec := doRequest(e, http.MethodGet, "/api/contexts/epics/e1/children/epic-1?refresh=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var resp childrenResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ChildCount != 1 || len(resp.Children) != 1 {
		t.Fatalf("unexpected children: %+v", resp)
	}
	if len(resp.Distribution[domain.StateGroupStarted]) != 1 {
		t.Fatalf("unexpected distribution: %+v", resp.Distribution)
	}
}

func TestReleaseContext(t *testing.T) {
	e, manager := newTestServer(t, &stubFetcher{})
	a := manager.Collection(collection.ProjectContext("p1"))
	rec := doRequest(e, http.MethodDelete, "/api/contexts/projects/p1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if manager.Collection(collection.ProjectContext("p1")) == a {
		t.Fatal("release must tear the instance down")
	}
}

func TestHealthz(t *testing.T) {
	e, _ := newTestServer(t, &stubFetcher{})
	if rec := doRequest(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
