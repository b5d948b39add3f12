package stream

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRespondFull(t *testing.T) {
	tr := Transfer{Size: 1 << 20, MimeType: "video/mp4", Filename: "clip.mp4"}
	status, h := Respond(tr, nil, DefaultCachePolicy())

	assert.Exactly(t, http.StatusOK, status)
	assert.Exactly(t, "bytes", h.Get("Accept-Ranges"))
	assert.Exactly(t, "1048576", h.Get("Content-Length"))
	assert.Exactly(t, "video/mp4", h.Get("Content-Type"))
	assert.Exactly(t, `inline; filename="clip.mp4"`, h.Get("Content-Disposition"))
	assert.Empty(t, h.Get("Content-Range"), "full responses carry no Content-Range")
}

func TestRespondPartial(t *testing.T) {
	tr := Transfer{Size: 1000, MimeType: "video/mp4", Filename: "clip.mp4"}
	rng := &ByteRange{Start: 200, End: 299, TotalSize: 1000}
	status, h := Respond(tr, rng, DefaultCachePolicy())

	assert.Exactly(t, http.StatusPartialContent, status)
	assert.Exactly(t, "bytes 200-299/1000", h.Get("Content-Range"))
	assert.Exactly(t, "100", h.Get("Content-Length"))
	assert.Exactly(t, "bytes", h.Get("Accept-Ranges"))
}

func TestRespondCacheDirectives(t *testing.T) {
	policy := DefaultCachePolicy()

	t.Run("media cached publicly with stale-while-revalidate", func(t *testing.T) {
		for _, mime := range []string{"video/mp4", "audio/flac", "image/png"} {
			_, h := Respond(Transfer{Size: 10, MimeType: mime}, nil, policy)
			assert.Exactly(t, "public, max-age=21600, stale-while-revalidate=86400",
				h.Get("Cache-Control"), "mime %s", mime)
		}
	})

	t.Run("everything else cached privately", func(t *testing.T) {
		for _, mime := range []string{"application/pdf", "text/plain", "application/zip"} {
			_, h := Respond(Transfer{Size: 10, MimeType: mime}, nil, policy)
			assert.Exactly(t, "private, max-age=3600", h.Get("Cache-Control"), "mime %s", mime)
		}
	})
}

func TestRespondDefaultsMimeType(t *testing.T) {
	_, h := Respond(Transfer{Size: 10}, nil, DefaultCachePolicy())
	assert.Exactly(t, "application/octet-stream", h.Get("Content-Type"))
	assert.Empty(t, h.Get("Content-Disposition"), "no filename, no disposition")
}
