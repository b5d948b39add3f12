package stream

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CachePolicy holds the cache directives applied to transfer responses.
// Media gets a long public cache with stale-while-revalidate semantics,
// everything else a short private one. Durations are policy, not contract.
type CachePolicy struct {
	MediaMaxAge               time.Duration
	MediaStaleWhileRevalidate time.Duration
	DefaultMaxAge             time.Duration
}

// DefaultCachePolicy returns the cache durations used when none are configured.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		MediaMaxAge:               6 * time.Hour,
		MediaStaleWhileRevalidate: 24 * time.Hour,
		DefaultMaxAge:             time.Hour,
	}
}

// Transfer describes the resource a response is composed for.
type Transfer struct {
	Size     uint64
	MimeType string
	Filename string
}

// Respond composes the status code and headers for serving a resource in
// full (rng nil) or in part. It never touches resource bytes, emission
// belongs to the transport layer the headers are handed to.
//
// Full responses are 200 with Content-Length set to the resource size and
// Accept-Ranges advertising byte serving. Partial responses are 206 with
// Content-Range "bytes start-end/total" and Content-Length covering just the
// interval.
func Respond(t Transfer, rng *ByteRange, cache CachePolicy) (int, http.Header) {
	h := make(http.Header)
	h.Set("Accept-Ranges", "bytes")

	mimeType := t.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	if t.Filename != "" {
		h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", t.Filename))
	}

	if isMedia(mimeType) {
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
			int(cache.MediaMaxAge.Seconds()), int(cache.MediaStaleWhileRevalidate.Seconds())))
	} else {
		h.Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(cache.DefaultMaxAge.Seconds())))
	}

	status := http.StatusOK
	length := t.Size
	if rng != nil {
		status = http.StatusPartialContent
		h.Set("Content-Range", rng.ContentRange())
		length = rng.Length()
	}
	h.Set("Content-Length", strconv.FormatUint(length, 10))
	return status, h
}

func isMedia(mimeType string) bool {
	return strings.HasPrefix(mimeType, "video/") ||
		strings.HasPrefix(mimeType, "audio/") ||
		strings.HasPrefix(mimeType, "image/")
}
