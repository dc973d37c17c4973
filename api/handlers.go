package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/collection"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/views"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Register wires up all engine routes on the provided Echo instance.
func Register(e *echo.Echo, engine Engine, logger *log.Logger) {
	e.GET("/api/contexts/:kind/:id/items", getItems(engine, logger))
	e.POST("/api/contexts/:kind/:id/items/next", nextPage(engine))
	e.POST("/api/contexts/:kind/:id/items", createItem(engine))
	e.PATCH("/api/contexts/:kind/:id/items/:itemID", updateItem(engine))
	e.DELETE("/api/contexts/:kind/:id/items/:itemID", deleteItem(engine))
	e.GET("/api/contexts/:kind/:id/filters", getFilters(engine))
	e.PATCH("/api/contexts/:kind/:id/filters", patchFilters(engine))
	e.GET("/api/contexts/:kind/:id/children/:parentID", getChildren(engine))
	e.GET("/api/contexts/:kind/:id/calendar", getCalendar(engine))
	e.DELETE("/api/contexts/:kind/:id", releaseContext(engine))
	e.GET("/api/events", streamEvents(engine))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func descriptorOf(c echo.Context) (collection.Descriptor, error) {
	return collection.DescriptorFor(c.Param("kind"), c.Param("id"))
}

type groupPayload struct {
	Items       []domain.Item `json:"items"`
	HasNextPage bool          `json:"has_next_page"`
}

type itemsResponse struct {
	State string `json:"state"`
	// HasNextPage is the context-level cursor state: flat responses
	// paginate as a whole, so the signal to call the next-page endpoint
	// with no group lives here, not on any bucket.
	HasNextPage bool                               `json:"has_next_page"`
	Groups      map[string]map[string]groupPayload `json:"groups"`
	// GroupHasNext carries the per-group cursor state for server-grouped
	// responses; sub-group buckets are sliced client-side and never own
	// a cursor of their own.
	GroupHasNext map[string]bool `json:"group_has_next,omitempty"`
	GroupTotals  map[string]int  `json:"group_totals,omitempty"`
	TotalCount   int             `json:"total_count,omitempty"`
}

func buildItemsResponse(col *collection.Collection) itemsResponse {
	resp := itemsResponse{
		State:       col.State().String(),
		HasNextPage: col.HasNextPage("", ""),
		Groups:      map[string]map[string]groupPayload{},
		GroupTotals: col.GroupTotals(),
		TotalCount:  col.TotalCount(),
	}
	for _, g := range col.Groups() {
		subs := map[string]groupPayload{}
		for _, sg := range col.SubGroups(g) {
			subs[sg] = groupPayload{
				Items:       col.Items(g, sg),
				HasNextPage: col.HasNextPage(g, sg),
			}
		}
		resp.Groups[g] = subs
		if g != "" {
			if resp.GroupHasNext == nil {
				resp.GroupHasNext = map[string]bool{}
			}
			resp.GroupHasNext[g] = col.HasNextPage(g, "")
		}
	}
	return resp
}

func getItems(engine Engine, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newItemsRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		desc, derr := descriptorOf(c)
		if derr != nil {
			metrics.SetErrorStage("context")
			err = c.String(http.StatusNotFound, derr.Error())
			return err
		}
		col := engine.Collection(desc)

		refresh := c.QueryParam("refresh") == "true"
		if col.State() == collection.StateIdle || col.State() == collection.StateError {
			refresh = true
		}
		metrics.SetRefreshed(refresh)

		if refresh {
			if _, ferr := engine.Filters().Fetch(ctx, desc.Key()); ferr != nil {
				metrics.SetErrorStage("filters")
				err = c.String(http.StatusInternalServerError, ferr.Error())
				return err
			}
			perPage := 0
			if v := c.QueryParam("per_page"); v != "" {
				n, perr := strconv.Atoi(v)
				if perr != nil || n <= 0 {
					metrics.SetErrorStage("invalid_per_page")
					err = c.String(http.StatusBadRequest, "invalid per_page")
					return err
				}
				perPage = n
			}
			fetchStart := time.Now()
			ferr := col.FetchFirstPage(ctx, collection.FetchOptions{PerPage: perPage})
			metrics.ObserveFetch(time.Since(fetchStart))
			if ferr != nil && !errors.Is(ferr, context.Canceled) {
				var stale domain.InvalidCursorError
				if errors.As(ferr, &stale) {
					metrics.SetErrorStage("invalid_cursor")
					err = c.String(http.StatusBadRequest, "invalid cursor")
					return err
				}
				metrics.SetErrorStage("fetch")
				c.Logger().Error(ferr)
				err = c.String(http.StatusInternalServerError, ferr.Error())
				return err
			}
		}

		resp := buildItemsResponse(col)
		metrics.SetGroupsReturned(len(resp.Groups))
		if resp.HasNextPage {
			metrics.SetHasNextPage(true)
		}
		for _, hasNext := range resp.GroupHasNext {
			if hasNext {
				metrics.SetHasNextPage(true)
			}
		}
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func nextPage(engine Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		desc, err := descriptorOf(c)
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		col := engine.Collection(desc)
		group := c.QueryParam("group")
		subGroup := c.QueryParam("sub_group")
		if err := col.FetchNextPage(c.Request().Context(), group, subGroup); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, buildItemsResponse(col))
	}
}

func createItem(engine Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		desc, err := descriptorOf(c)
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		var item domain.Item
		if err := decodeBody(c, &item); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		created, err := engine.Collection(desc).CreateItem(c.Request().Context(), item)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusCreated, created)
	}
}

func updateItem(engine Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		desc, err := descriptorOf(c)
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		var patch domain.ItemPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		updated, err := engine.Collection(desc).UpdateItem(c.Request().Context(), c.Param("itemID"), patch)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteItem(engine Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		desc, err := descriptorOf(c)
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		col := engine.Collection(desc)
		ctx := c.Request().Context()
		id := c.Param("itemID")
		if c.QueryParam("archive") == "true" {
			err = col.ArchiveItem(ctx, id)
		} else {
			err = col.RemoveItem(ctx, id)
		}
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getFilters(engine Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		desc, err := descriptorOf(c)
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		cf, err := engine.Filters().Fetch(c.Request().Context(), desc.Key())
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, cf)
	}
}

type patchFiltersResponse struct {
	Refetch bool   `json:"refetch"`
	Warning string `json:"warning,omitempty"`
}

func patchFilters(engine Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		desc, err := descriptorOf(c)
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		var doc domain.FilterDocument
		if err := decodeBody(c, &doc); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		ctx := c.Request().Context()
		fs := engine.Filters()
		key := desc.Key()
		resp := patchFiltersResponse{}
		warn := func(err error) {
			if err != nil && resp.Warning == "" {
				resp.Warning = err.Error()
			}
		}
		if doc.RichFilters != nil {
			refetch, err := fs.UpdateRichFilters(ctx, key, *doc.RichFilters)
			resp.Refetch = resp.Refetch || refetch
			warn(err)
		}
		if doc.DisplayFilters != nil {
			refetch, err := fs.UpdateDisplayFilters(ctx, key, doc.DisplayFilters.AsPatch())
			resp.Refetch = resp.Refetch || refetch
			warn(err)
		}
		if doc.DisplayProperties != nil {
			warn(fs.UpdateDisplayProperties(ctx, key, *doc.DisplayProperties))
		}
		if doc.KanbanFilters != nil {
			warn(fs.UpdateKanbanFilters(ctx, key, *doc.KanbanFilters))
		}
		return c.JSON(http.StatusOK, resp)
	}
}

type childrenResponse struct {
	Children     []string            `json:"children"`
	ChildCount   int                 `json:"child_count"`
	Distribution domain.Distribution `json:"distribution"`
}

func getChildren(engine Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		parentID := c.Param("parentID")
		stats := engine.Stats()
		if c.QueryParam("refresh") == "true" {
			if _, err := stats.FetchChildren(c.Request().Context(), parentID); err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
		}
		return c.JSON(http.StatusOK, childrenResponse{
			Children:     stats.Children(parentID),
			ChildCount:   stats.ChildCount(parentID),
			Distribution: stats.Distribution(parentID),
		})
	}
}

func getCalendar(engine Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		anchor := time.Now()
		if v := c.QueryParam("anchor"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid anchor date")
			}
			anchor = parsed
		}
		weekStart := 0
		if v := c.QueryParam("week_start"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 6 {
				return c.String(http.StatusBadRequest, "invalid week_start")
			}
			weekStart = n
		}
		return c.JSON(http.StatusOK, views.BuildMonthGrid(anchor, views.WeekStart(weekStart)))
	}
}

func releaseContext(engine Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		desc, err := descriptorOf(c)
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		engine.Release(desc.Key())
		return c.NoContent(http.StatusNoContent)
	}
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
