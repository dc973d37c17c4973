package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Cursor is the opaque pagination token of the retrieval API, encoding
// "<per_page>:<offset>:<page_number>". The all-zero offset and page
// request page one.
type Cursor struct {
	PerPage int
	Offset  int
	Page    int
}

// FirstPageCursor returns the token for page one at the given size.
func FirstPageCursor(perPage int) Cursor {
	return Cursor{PerPage: perPage}
}

// String encodes the cursor in wire form.
func (c Cursor) String() string {
	return fmt.Sprintf("%d:%d:%d", c.PerPage, c.Offset, c.Page)
}

type invalidCursorError struct {
	token string
}

func (e invalidCursorError) Error() string {
	return fmt.Sprintf("invalid cursor token %q", e.token)
}

// InvalidCursor marks the error for errors.As callers.
func (e invalidCursorError) InvalidCursor() {}

// InvalidCursorError is matched by errors produced from malformed or
// expired pagination tokens.
type InvalidCursorError interface {
	error
	InvalidCursor()
}

// ParseCursor decodes a wire cursor token.
func ParseCursor(token string) (Cursor, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return Cursor{}, invalidCursorError{token: token}
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Cursor{}, invalidCursorError{token: token}
		}
		nums[i] = n
	}
	return Cursor{PerPage: nums[0], Offset: nums[1], Page: nums[2]}, nil
}
