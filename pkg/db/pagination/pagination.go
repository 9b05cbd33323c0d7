package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Pagination carries the cursor query parameters shared by list endpoints.
type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=50" validate:"gte=1,lte=250"` // Min 1, Max 250
}

// Cursor marks a position in a created_at, id ordered scan.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// PageInfo is the paging envelope returned alongside list results.
type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

// Tokens use the unpadded URL-safe alphabet so they survive query strings
// without escaping.
var tokenEncoding = base64.RawURLEncoding

// EncodeCursor renders the cursor as an opaque token.
func EncodeCursor(c Cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return tokenEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(token string) (*Cursor, error) {
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	c := new(Cursor)
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	return c, nil
}

// BuildCursorPageInfo derives the paging envelope from a result slice that
// was fetched with one lookahead row beyond limit. The token always points
// at the last row of the page being returned; callers trim the lookahead
// row themselves since the reslice here is local.
func BuildCursorPageInfo[T any](rows []*T, limit int32, cursorOf func(*T) string) *PageInfo {
	if len(rows) == 0 {
		return &PageInfo{}
	}

	info := &PageInfo{HasMore: int32(len(rows)) > limit}
	if info.HasMore {
		rows = rows[:limit]
	}
	info.NextPageToken = cursorOf(rows[len(rows)-1])
	return info
}
