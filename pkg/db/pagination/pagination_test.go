package pagination

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCursorRoundTrip(t *testing.T) {
	id := uuid.New()
	createdAt := time.Date(2024, time.March, 7, 10, 30, 45, 123456000, time.UTC)

	token := Encode(createdAt, id)
	got, err := Decode(token)
	assert.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.True(t, createdAt.Equal(got.CreatedAt))
}

func TestDecodeAcceptsPaddedTokens(t *testing.T) {
	id := uuid.New()
	createdAt := time.Date(2024, time.March, 7, 10, 30, 45, 0, time.UTC)
	payload := fmt.Sprintf(`{"createdAt":%q,"id":%q}`, createdAt.Format(time.RFC3339Nano), id)

	token := base64.URLEncoding.EncodeToString([]byte(payload))
	got, err := Decode(token)
	assert.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	bad := []string{
		"",
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("not json")),
		base64.RawURLEncoding.EncodeToString([]byte(`{"createdAt":"2024-03-07T10:30:45Z","id":"not-a-uuid"}`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{"createdAt":"yesterday","id":"2b0b2f6e-7f93-4f44-9f5e-8f4a2d2c9a11"}`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{}`)),
	}
	for _, token := range bad {
		_, err := Decode(token)
		assert.ErrorIs(t, err, ErrBadCursor, "token %q", token)
	}
}

func TestBuildPageTrimsAndFlagsMore(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	page := BuildPage(items, 3, func(s string) string { return "cursor-" + s })
	assert.True(t, page.HasMore)
	assert.Equal(t, []string{"a", "b", "c"}, page.Items)
	assert.Equal(t, "cursor-c", page.NextCursor)
}

func TestBuildPageExactFit(t *testing.T) {
	items := []string{"a", "b", "c"}
	page := BuildPage(items, 3, func(s string) string { return s })
	assert.False(t, page.HasMore)
	assert.Equal(t, items, page.Items)
	assert.Empty(t, page.NextCursor)
}

func TestBuildPageEmpty(t *testing.T) {
	page := BuildPage(nil, 3, func(s string) string { return s })
	assert.False(t, page.HasMore)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextCursor)
}
