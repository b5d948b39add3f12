package artifact

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	_ "gocloud.dev/blob/memblob"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "mem://")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func saveChunks(t *testing.T, s *Store, uploadID string, parts ...string) {
	t.Helper()
	for i, p := range parts {
		n, err := s.SaveChunk(context.Background(), uploadID, i, strings.NewReader(p))
		assert.NoErrorf(t, err, "saving chunk %d", i)
		assert.Exactly(t, int64(len(p)), n)
	}
}

func TestSaveChunkOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveChunks(t, s, "up-1", "first")
	ok, err := s.ChunkExists(ctx, "up-1", 0)
	assert.NoError(t, err)
	assert.True(t, ok)

	// a retried chunk replaces the earlier bytes
	_, err = s.SaveChunk(ctx, "up-1", 0, strings.NewReader("second"))
	assert.NoError(t, err)

	_, err = s.Assemble(ctx, "up-1", 1, FileKey("res-1"))
	assert.NoError(t, err)
	r, err := s.Reader(ctx, FileKey("res-1"))
	assert.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Exactly(t, "second", string(b))
}

func TestMissingChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveChunk(ctx, "up-1", 0, strings.NewReader("aa"))
	assert.NoError(t, err)
	_, err = s.SaveChunk(ctx, "up-1", 3, strings.NewReader("dd"))
	assert.NoError(t, err)

	missing, err := s.MissingChunks(ctx, "up-1", 5)
	assert.NoError(t, err)
	assert.Exactly(t, []int{1, 2, 4}, missing)

	missing, err = s.MissingChunks(ctx, "unknown", 3)
	assert.NoError(t, err)
	assert.Exactly(t, []int{0, 1, 2}, missing)
}

func TestAssemble(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveChunks(t, s, "up-1", "hello ", "chunked ", "world")

	written, err := s.Assemble(ctx, "up-1", 3, FileKey("res-1"))
	assert.NoError(t, err)
	assert.Exactly(t, int64(len("hello chunked world")), written)

	r, err := s.Reader(ctx, FileKey("res-1"))
	assert.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Exactly(t, "hello chunked world", string(b))
}

func TestAssembleMissingChunkCommitsNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// chunk 1 of 3 never arrives
	_, err := s.SaveChunk(ctx, "up-1", 0, strings.NewReader("aa"))
	assert.NoError(t, err)
	_, err = s.SaveChunk(ctx, "up-1", 2, strings.NewReader("cc"))
	assert.NoError(t, err)

	_, err = s.Assemble(ctx, "up-1", 3, FileKey("res-1"))
	assert.Error(t, err)

	_, err = s.Reader(ctx, FileKey("res-1"))
	assert.Error(t, err)
	assert.True(t, IsNotFound(err), "aborted assembly must not leave a partial object")
}

func TestRangeReader(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveChunks(t, s, "up-1", "0123456789")
	_, err := s.Assemble(ctx, "up-1", 1, FileKey("res-1"))
	assert.NoError(t, err)

	tt := map[string]struct {
		offset, length int64
		want           string
	}{
		"middle":      {offset: 2, length: 3, want: "234"},
		"from start":  {offset: 0, length: 4, want: "0123"},
		"to the end":  {offset: 6, length: -1, want: "6789"},
		"single byte": {offset: 9, length: 1, want: "9"},
	}

	for name, tc := range tt {
		t.Run(name, func(t *testing.T) {
			r, err := s.RangeReader(ctx, FileKey("res-1"), tc.offset, tc.length)
			assert.NoError(t, err)
			defer r.Close()
			b, err := io.ReadAll(r)
			assert.NoError(t, err)
			assert.Exactly(t, tc.want, string(b))
		})
	}
}

func TestDeleteChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveChunks(t, s, "up-1", "aa", "bb", "cc")
	saveChunks(t, s, "up-2", "dd")

	assert.NoError(t, s.DeleteChunks(ctx, "up-1"))

	missing, err := s.MissingChunks(ctx, "up-1", 3)
	assert.NoError(t, err)
	assert.Exactly(t, []int{0, 1, 2}, missing)

	// other uploads keep their chunks
	ok, err := s.ChunkExists(ctx, "up-2", 0)
	assert.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, s.DeleteChunks(ctx, "up-1"), "deleting an already clean upload")
}

func TestRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveChunks(t, s, "up-1", "aa")
	_, err := s.Assemble(ctx, "up-1", 1, FileKey("res-1"))
	assert.NoError(t, err)

	assert.NoError(t, s.Remove(ctx, FileKey("res-1")))
	_, err = s.Reader(ctx, FileKey("res-1"))
	assert.True(t, IsNotFound(err))

	assert.NoError(t, s.Remove(ctx, FileKey("res-1")), "removing an absent object")
}
