package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCatalog(t *testing.T) {
	c := New()

	_, err := c.Get("res-1")
	assert.ErrorIs(t, err, ErrNotFound)

	res := Resource{
		ID:        "res-1",
		Name:      "display.mkv",
		Size:      1 << 30,
		MimeType:  "video/x-matroska",
		Key:       "files/res-1",
		OwnerID:   "usman",
		CreatedAt: time.Now(),
	}
	c.Put(res)
	assert.Exactly(t, 1, c.Len())

	got, err := c.Get("res-1")
	assert.NoError(t, err)
	assert.Exactly(t, res, got)

	assert.True(t, c.Remove("res-1"))
	assert.False(t, c.Remove("res-1"))
	_, err = c.Get("res-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
