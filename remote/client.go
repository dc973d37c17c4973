package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
)

const responseMaxSize = 8 * 1024 * 1024 // 8 MiB

// Client talks to the external item-retrieval and filter-persistence
// APIs. Both are black boxes; the client owns nothing but the wire
// translation.
type Client struct {
	baseURL   string
	workspace string
	token     string
	http      *http.Client
	logger    *log.Logger
}

// New creates a Client for the given workspace. A nil httpClient falls
// back to http.DefaultClient.
func New(baseURL, workspace, token string, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		workspace: workspace,
		token:     token,
		http:      httpClient,
		logger:    logger,
	}
}

// PageRequest describes one items fetch.
type PageRequest struct {
	// Params is the flat field → comma-joined value map derived from the
	// applied filter, including container scoping (project, epic, ...).
	Params map[string]string
	// GroupBy asks the server to return the grouped response shape.
	GroupBy domain.GroupBy
	PerPage int
	// Cursor is the opaque token for the requested page; empty means
	// page one.
	Cursor string
}

// Page is one page of items plus its pagination metadata.
type Page struct {
	Results         []domain.Item
	NextCursor      string
	NextPageResults bool
	TotalCount      int
}

// PageSet normalizes the two response shapes. A flat response has
// Grouped=false and a single page under the empty key.
type PageSet struct {
	Grouped bool
	Groups  map[string]Page
	Total   int
}

// Items returns every item in the set, in group-key order.
func (ps PageSet) Items() []domain.Item {
	keys := make([]string, 0, len(ps.Groups))
	for k := range ps.Groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []domain.Item
	for _, k := range keys {
		out = append(out, ps.Groups[k].Results...)
	}
	return out
}

type wirePage struct {
	Results         []domain.Item `json:"results"`
	NextCursor      string        `json:"next_cursor"`
	NextPageResults bool          `json:"next_page_results"`
	TotalCount      int           `json:"total_count"`
}

type wireEnvelope struct {
	Results         sonic.NoCopyRawMessage `json:"results"`
	NextCursor      string                 `json:"next_cursor"`
	NextPageResults bool                   `json:"next_page_results"`
	TotalCount      int                    `json:"total_count"`
}

// StatusError is returned for non-2xx responses that carry no more
// specific meaning.
type StatusError struct {
	Status int
	Body   string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("remote: unexpected status %d: %s", e.Status, e.Body)
}

// NotFound marks 404 responses for errors.As callers.
func (e StatusError) NotFound() bool { return e.Status == http.StatusNotFound }

type invalidCursorError struct{ body string }

func (e invalidCursorError) Error() string  { return "remote: rejected cursor: " + e.body }
func (e invalidCursorError) InvalidCursor() {}

func (c *Client) itemsURL() string {
	return fmt.Sprintf("%s/api/workspaces/%s/items", c.baseURL, url.PathEscape(c.workspace))
}

func (c *Client) itemURL(id string) string {
	return c.itemsURL() + "/" + url.PathEscape(id)
}

// FetchItems requests one page of items. Both the flat and the grouped
// response shapes are accepted and normalized into a PageSet.
func (c *Client) FetchItems(ctx context.Context, req PageRequest) (PageSet, error) {
	q := url.Values{}
	for field, vals := range req.Params {
		q.Set(field, vals)
	}
	if req.GroupBy != domain.GroupByNone {
		q.Set("group_by", string(req.GroupBy))
	}
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = 30
	}
	q.Set("per_page", strconv.Itoa(perPage))
	cursor := req.Cursor
	if cursor == "" {
		cursor = domain.FirstPageCursor(perPage).String()
	}
	q.Set("cursor", cursor)

	body, err := c.do(ctx, http.MethodGet, c.itemsURL()+"?"+q.Encode(), nil)
	if err != nil {
		return PageSet{}, err
	}

	var env wireEnvelope
	if err := sonic.ConfigStd.Unmarshal(body, &env); err != nil {
		return PageSet{}, fmt.Errorf("remote: decode items response: %w", err)
	}
	set := PageSet{Groups: map[string]Page{}, Total: env.TotalCount}
	switch shapeOf(env.Results) {
	case '[':
		var items []domain.Item
		if err := sonic.ConfigStd.Unmarshal(env.Results, &items); err != nil {
			return PageSet{}, fmt.Errorf("remote: decode flat results: %w", err)
		}
		set.Groups[""] = Page{
			Results:         items,
			NextCursor:      env.NextCursor,
			NextPageResults: env.NextPageResults,
			TotalCount:      env.TotalCount,
		}
	case '{':
		var groups map[string]wirePage
		if err := sonic.ConfigStd.Unmarshal(env.Results, &groups); err != nil {
			return PageSet{}, fmt.Errorf("remote: decode grouped results: %w", err)
		}
		set.Grouped = true
		for key, page := range groups {
			set.Groups[key] = Page(page)
		}
	default:
		return PageSet{}, fmt.Errorf("remote: unrecognized results shape")
	}
	return set, nil
}

// shapeOf returns the first non-whitespace byte of a JSON value, or 0.
func shapeOf(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// CreateItem posts a new item and returns the canonical record.
func (c *Client) CreateItem(ctx context.Context, params map[string]string, item domain.Item) (domain.Item, error) {
	payload, err := sonic.ConfigStd.Marshal(item)
	if err != nil {
		return domain.Item{}, err
	}
	u := c.itemsURL()
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}
	body, err := c.do(ctx, http.MethodPost, u, payload)
	if err != nil {
		return domain.Item{}, err
	}
	var created domain.Item
	if err := sonic.ConfigStd.Unmarshal(body, &created); err != nil {
		return domain.Item{}, fmt.Errorf("remote: decode created item: %w", err)
	}
	return created, nil
}

// UpdateItem patches an existing item and returns the updated record.
func (c *Client) UpdateItem(ctx context.Context, id string, patch domain.ItemPatch) (domain.Item, error) {
	payload, err := sonic.ConfigStd.Marshal(patch)
	if err != nil {
		return domain.Item{}, err
	}
	body, err := c.do(ctx, http.MethodPatch, c.itemURL(id), payload)
	if err != nil {
		return domain.Item{}, err
	}
	var updated domain.Item
	if err := sonic.ConfigStd.Unmarshal(body, &updated); err != nil {
		return domain.Item{}, fmt.Errorf("remote: decode updated item: %w", err)
	}
	return updated, nil
}

// ArchiveItem archives an item server-side and returns the archive
// timestamp the server assigned.
func (c *Client) ArchiveItem(ctx context.Context, id string) (int64, error) {
	body, err := c.do(ctx, http.MethodPost, c.itemURL(id)+"/archive", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ArchivedAt int64 `json:"archived_at"`
	}
	if err := sonic.ConfigStd.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("remote: decode archive response: %w", err)
	}
	return resp.ArchivedAt, nil
}

// DeleteItem removes an item server-side.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.itemURL(id), nil)
	return err
}

// BulkUpdateItems applies one patch to many items in a single request.
func (c *Client) BulkUpdateItems(ctx context.Context, ids []string, patch domain.ItemPatch) error {
	payload, err := sonic.ConfigStd.Marshal(struct {
		IDs   []string         `json:"ids"`
		Patch domain.ItemPatch `json:"patch"`
	}{IDs: ids, Patch: patch})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.itemsURL()+"/bulk", payload)
	return err
}

func (c *Client) do(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, responseMaxSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(data), "cursor") {
			return nil, invalidCursorError{body: strings.TrimSpace(string(data))}
		}
		return nil, StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
