package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MuhamedUsman/letstream/internal/artifact"
	"github.com/MuhamedUsman/letstream/internal/catalog"
	"github.com/MuhamedUsman/letstream/internal/config"
	"github.com/stretchr/testify/assert"
	_ "gocloud.dev/blob/memblob"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Addr:                ":0",
			LogLevel:            "error",
			ShutdownTimeoutSecs: 1,
			RateLimitRPS:        100,
			RateLimitBurst:      100,
		},
		Stream: config.StreamConfig{
			DefaultWindow: "64 KiB",
			Tiers: []config.SizeTier{
				{MinSize: "20 GiB", Chunk: "4 MiB"},
				{MinSize: "5 GiB", Chunk: "3 MiB"},
				{MinSize: "512 MiB", Chunk: "2 MiB"},
				{MinSize: "128 MiB", Chunk: "2 MiB"},
				{MinSize: "0 B", Chunk: "1 MiB"},
			},
			MediaCacheHours:  6,
			MediaStaleHours:  24,
			DefaultCacheMins: 60,
		},
		Token:  config.TokenConfig{TTLMins: 10, SweepIntervalSecs: 60},
		Upload: config.UploadConfig{MaxFileSize: "1 GiB", MaxChunkSize: "1 MiB", MaxTotalChunks: 100, IdleExpiryHours: 1, SweepIntervalSecs: 60},
		Pool:   config.PoolConfig{MaxPerResource: 2, MaxPerRequester: 3, StalenessSecs: 60, SweepIntervalSecs: 60},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	arts, err := artifact.Open(context.Background(), "mem://")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = arts.Close() })
	return New(testConfig(), arts)
}

// seedResource writes content into the artifact bucket and registers it in
// the catalog, the state a finalized upload leaves behind.
func seedResource(t *testing.T, s *Server, id, name, mime, content string) catalog.Resource {
	t.Helper()
	ctx := context.Background()
	_, err := s.Artifacts.SaveChunk(ctx, "seed-"+id, 0, strings.NewReader(content))
	assert.NoError(t, err)
	size, err := s.Artifacts.Assemble(ctx, "seed-"+id, 1, artifact.FileKey(id))
	assert.NoError(t, err)
	assert.NoError(t, s.Artifacts.DeleteChunks(ctx, "seed-"+id))
	res := catalog.Resource{
		ID:        id,
		Name:      name,
		Size:      uint64(size),
		MimeType:  mime,
		Key:       artifact.FileKey(id),
		OwnerID:   "alice",
		CreatedAt: time.Now(),
	}
	s.Catalog.Put(res)
	return res
}

// do runs one request through the full route chain and returns the recorder.
// A non-empty requester sets the identity header the auth proxy would.
func do(h http.Handler, method, target, requester string, body io.Reader) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, body)
	if requester != "" {
		r.Header.Set(RequesterHeader, requester)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func doJSON(t *testing.T, h http.Handler, method, target, requester string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(payload)
	assert.NoError(t, err)
	return do(h, method, target, requester, bytes.NewReader(b))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	assert.NoErrorf(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := do(s.routes(), http.MethodGet, "/api/v1/healthz", "", nil)

	assert.Exactly(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Exactly(t, "available", body["status"])
	stores, ok := body["stores"].(map[string]any)
	assert.True(t, ok, "healthz must report store gauges")
	for _, gauge := range []string{"downloadTokens", "uploadSessions", "admittedTransfers", "resources"} {
		assert.Containsf(t, stores, gauge, "missing gauge %q", gauge)
	}
}

func TestRequireRequester(t *testing.T) {
	s := newTestServer(t)
	routes := s.routes()

	cases := map[string]struct {
		method, target string
	}{
		"prepare download": {http.MethodPost, "/api/v1/files/res-1/download"},
		"create upload":    {http.MethodPost, "/api/v1/uploads"},
		"upload status":    {http.MethodGet, "/api/v1/uploads/up-1"},
		"upload chunk":     {http.MethodPut, "/api/v1/uploads/up-1/chunks/0"},
		"complete upload":  {http.MethodPost, "/api/v1/uploads/up-1/complete"},
		"abort upload":     {http.MethodDelete, "/api/v1/uploads/up-1"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(routes, tc.method, tc.target, "", nil)
			assert.Exactly(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

// The per-IP limiter must gate the JSON API but never the stream endpoint,
// a throttled range fetch would stall playback for a well-behaved client.
func TestRateLimitExemptsStream(t *testing.T) {
	arts, err := artifact.Open(context.Background(), "mem://")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = arts.Close() })

	cfg := testConfig()
	cfg.Server.RateLimitRPS = 1
	cfg.Server.RateLimitBurst = 1
	s := New(cfg, arts)
	routes := s.routes()
	seedResource(t, s, "res-1", "clip.mp4", "video/mp4", "0123456789")

	// the single burst slot
	rec := do(routes, http.MethodPost, "/api/v1/files/res-1/download", "alice", nil)
	assert.Exactly(t, http.StatusCreated, rec.Code)
	tok := decodeBody(t, rec)["token"].(string)

	rec = do(routes, http.MethodPost, "/api/v1/files/res-1/download", "alice", nil)
	assert.Exactly(t, http.StatusTooManyRequests, rec.Code, "second API call must be limited")

	// same exhausted bucket, stream must still go through
	rec = do(routes, http.MethodGet, "/api/v1/stream/"+tok, "", nil)
	assert.Exactly(t, http.StatusOK, rec.Code)
	assert.Exactly(t, "0123456789", rec.Body.String())
}

func TestRecoverPanic(t *testing.T) {
	s := newTestServer(t)
	h := s.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(h, http.MethodGet, "/api/v1/healthz", "", nil)

	assert.Exactly(t, http.StatusInternalServerError, rec.Code)
	assert.Exactly(t, "close", rec.Header().Get("Connection"))
}
