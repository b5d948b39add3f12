// Package artifact persists upload chunks and finalized files behind a
// gocloud.dev blob bucket, so a local directory (fileblob), memory (memblob)
// and cloud buckets interchange via the bucket URL alone. Chunk objects live
// under "uploads/<uploadID>/chunk-<index>", finalized files under
// "files/<resourceID>".
package artifact

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/MuhamedUsman/letstream/internal/bgtask"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Store reads and writes transfer artifacts in a blob bucket. The driver for
// the bucket URL scheme must be linked into the binary, the server registers
// fileblob, tests register memblob.
type Store struct {
	bucket *blob.Bucket
}

// Open connects to the bucket named by bucketURL, e.g.
// "file:///var/letstream?create_dir=true" or "mem://".
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("opening bucket %q: %w", bucketURL, err)
	}
	return &Store{bucket: bucket}, nil
}

// Close releases the underlying bucket.
func (s *Store) Close() error { return s.bucket.Close() }

// FileKey returns the bucket key a finalized resource's bytes live under.
func FileKey(resourceID string) string { return "files/" + resourceID }

func chunkKey(uploadID string, index int) string {
	return fmt.Sprintf("uploads/%s/chunk-%06d", uploadID, index)
}

func chunkPrefix(uploadID string) string { return "uploads/" + uploadID + "/" }

// chunkIndex recovers the index from a chunk object key.
func chunkIndex(key string) (int, bool) {
	name, ok := strings.CutPrefix(path.Base(key), "chunk-")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// SaveChunk writes the chunk bytes for (uploadID, index), replacing any
// previous write of the same index, so client retries stay idempotent at the
// byte level. It returns the number of bytes stored. A read failure aborts
// the pending write, a chunk object is either whole or absent.
func (s *Store) SaveChunk(ctx context.Context, uploadID string, index int, r io.Reader) (int64, error) {
	key := chunkKey(uploadID, index)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := s.bucket.NewWriter(wctx, key, nil)
	if err != nil {
		return 0, fmt.Errorf("opening writer for %s: %w", key, err)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return n, fmt.Errorf("writing %s: %w", key, err)
	}
	if err = w.Close(); err != nil {
		return n, fmt.Errorf("committing %s: %w", key, err)
	}
	return n, nil
}

// ChunkExists reports whether the chunk object for (uploadID, index) is stored.
func (s *Store) ChunkExists(ctx context.Context, uploadID string, index int) (bool, error) {
	return s.bucket.Exists(ctx, chunkKey(uploadID, index))
}

// MissingChunks returns the indices in [0, total) with no stored chunk
// object, in ascending order. One bucket listing answers for all indices.
func (s *Store) MissingChunks(ctx context.Context, uploadID string, total int) ([]int, error) {
	present := make([]bool, total)
	iter := s.bucket.List(&blob.ListOptions{Prefix: chunkPrefix(uploadID)})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing chunks of %s: %w", uploadID, err)
		}
		if idx, ok := chunkIndex(obj.Key); ok && idx < total {
			present[idx] = true
		}
	}
	missing := make([]int, 0)
	for i, ok := range present {
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// DeleteChunks removes every chunk object stored for uploadID, fanning the
// deletes out over a worker pool. Chunks already gone do not count as
// failures, the reaper and an explicit abort may race.
func (s *Store) DeleteChunks(ctx context.Context, uploadID string) error {
	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: chunkPrefix(uploadID)})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("listing chunks of %s: %w", uploadID, err)
		}
		keys = append(keys, obj.Key)
	}
	wp := bgtask.NewWorkerPool(ctx, 0)
	for _, key := range keys {
		wp.Spawn(func() error {
			if err := s.bucket.Delete(wp.Ctx, key); err != nil && !IsNotFound(err) {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
			return nil
		})
	}
	return wp.Wait()
}

// Assemble concatenates the chunks of uploadID in index order into a single
// object under destKey and returns its size. A failure aborts the pending
// write instead of committing a partial object.
func (s *Store) Assemble(ctx context.Context, uploadID string, total int, destKey string) (int64, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := s.bucket.NewWriter(wctx, destKey, nil)
	if err != nil {
		return 0, fmt.Errorf("opening writer for %s: %w", destKey, err)
	}
	var written int64
	for i := range total {
		n, err := s.copyChunk(ctx, w, uploadID, i)
		if err != nil {
			cancel()
			_ = w.Close()
			return written, fmt.Errorf("assembling %s: %w", destKey, err)
		}
		written += n
	}
	if err = w.Close(); err != nil {
		return written, fmt.Errorf("committing %s: %w", destKey, err)
	}
	return written, nil
}

func (s *Store) copyChunk(ctx context.Context, w io.Writer, uploadID string, index int) (int64, error) {
	key := chunkKey(uploadID, index)
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return 0, fmt.Errorf("opening chunk %s: %w", key, err)
	}
	defer r.Close()
	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("copying chunk %s: %w", key, err)
	}
	return n, nil
}

// Reader streams the object under key in full.
func (s *Store) Reader(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	return r, nil
}

// RangeReader streams length bytes of the object under key starting at
// offset. A negative length reads to the end.
func (s *Store) RangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	r, err := s.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, fmt.Errorf("opening %s at %d: %w", key, offset, err)
	}
	return r, nil
}

// Remove deletes the object under key. Removing an absent object is not an
// error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && !IsNotFound(err) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
