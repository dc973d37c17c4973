package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
)

// NotFoundError is matched by errors for resources the server has no
// record of. Contexts without previously saved filters are expected to
// produce it.
type NotFoundError interface {
	error
	NotFound() bool
}

// IsNotFound reports whether err marks a missing remote resource.
func IsNotFound(err error) bool {
	var nf NotFoundError
	if errors.As(err, &nf) {
		return nf.NotFound()
	}
	return false
}

func (c *Client) filtersURL(contextKey string) string {
	return fmt.Sprintf("%s/api/workspaces/%s/views/%s/filters",
		c.baseURL, url.PathEscape(c.workspace), url.PathEscape(contextKey))
}

// FetchFilters loads the persisted filter document for a context. A 404
// is returned as a NotFoundError; callers apply defaults.
func (c *Client) FetchFilters(ctx context.Context, contextKey string) (domain.FilterDocument, error) {
	body, err := c.do(ctx, http.MethodGet, c.filtersURL(contextKey), nil)
	if err != nil {
		return domain.FilterDocument{}, err
	}
	var doc domain.FilterDocument
	if err := sonic.ConfigStd.Unmarshal(body, &doc); err != nil {
		return domain.FilterDocument{}, fmt.Errorf("remote: decode filter document: %w", err)
	}
	return doc, nil
}

// PatchFilters persists one section of the filter document. Sections
// are patched independently so a failure on one does not block the
// others.
func (c *Client) PatchFilters(ctx context.Context, contextKey, section string, payload []byte) error {
	body, err := sonic.ConfigStd.Marshal(map[string]sonic.NoCopyRawMessage{section: payload})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPatch, c.filtersURL(contextKey), body)
	return err
}
