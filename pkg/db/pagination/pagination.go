package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBadCursor is returned for any token that does not decode to a valid
// (createdAt, id) pair.
var ErrBadCursor = errors.New("bad_cursor")

// Cursor is the ordering key of the last row a caller has seen. Listings
// ordered by (created_at DESC, id DESC) resume strictly after it, so rows
// inserted while paging can never reappear on a later page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type cursorJSON struct {
	CreatedAt string `json:"createdAt"`
	ID        string `json:"id"`
}

// Encode serializes a cursor as base64url over a JSON {createdAt, id} pair.
func Encode(createdAt time.Time, id uuid.UUID) string {
	b, _ := json.Marshal(cursorJSON{
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
		ID:        id.String(),
	})
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode validates and parses a cursor token. The timestamp must be valid
// ISO-8601 and the id a well-formed UUID; anything else is ErrBadCursor.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, ErrBadCursor
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		// Tolerate padded tokens from clients that use standard base64url.
		raw, err = base64.URLEncoding.DecodeString(token)
		if err != nil {
			return Cursor{}, ErrBadCursor
		}
	}

	var payload cursorJSON
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Cursor{}, ErrBadCursor
	}

	createdAt, err := time.Parse(time.RFC3339Nano, payload.CreatedAt)
	if err != nil {
		return Cursor{}, ErrBadCursor
	}
	id, err := uuid.Parse(payload.ID)
	if err != nil {
		return Cursor{}, ErrBadCursor
	}

	return Cursor{CreatedAt: createdAt.UTC(), ID: id}, nil
}

// Pagination carries cursor paging inputs, embedded in list requests.
type Pagination struct {
	Limit  int    `form:"limit" json:"limit"`
	Cursor string `form:"cursor" json:"cursor"`
}

// Clamp returns the effective page size, def when unset and capped at max.
func (p Pagination) Clamp(def, max int) int {
	limit := p.Limit
	if limit <= 0 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}

// PageInfo carries cursor paging outputs, embedded in list responses.
type PageInfo struct {
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Page is one cursor page of a listing.
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}

// BuildPage trims a limit+1 read down to the page size and derives the next
// cursor from the last returned row.
func BuildPage[T any](items []T, limit int, cursorFor func(T) string) Page[T] {
	page := Page[T]{Items: items}
	if limit > 0 && len(items) > limit {
		page.HasMore = true
		page.Items = items[:limit]
	}
	if page.HasMore && len(page.Items) > 0 {
		page.NextCursor = cursorFor(page.Items[len(page.Items)-1])
	}
	return page
}
