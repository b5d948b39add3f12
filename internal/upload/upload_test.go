package upload

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testMeta(total int) Meta {
	return Meta{
		RequesterID: "usman",
		FileName:    "display.mkv",
		FileSize:    1 << 30,
		MimeType:    "video/x-matroska",
		TotalChunks: total,
	}
}

func TestCreate(t *testing.T) {
	m := NewManager(100, time.Hour)

	s, err := m.Create("up-1", testMeta(10))
	assert.NoErrorf(t, err, "creating a fresh session")
	assert.Exactly(t, "up-1", s.UploadID)
	assert.Exactly(t, StatusCreated, s.Status())
	assert.Exactly(t, 1, m.Len())

	_, err = m.Create("up-1", testMeta(10))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateChunkBounds(t *testing.T) {
	m := NewManager(100, time.Hour)

	tt := map[string]struct {
		total int
		ok    bool
	}{
		"zero chunks":           {total: 0, ok: false},
		"negative chunks":       {total: -1, ok: false},
		"single chunk":          {total: 1, ok: true},
		"at configured max":     {total: 100, ok: true},
		"beyond configured max": {total: 101, ok: false},
	}

	for name, tc := range tt {
		t.Run(name, func(t *testing.T) {
			_, err := m.Create("up-"+name, testMeta(tc.total))
			if tc.ok {
				assert.NoErrorf(t, err, "total %d must be accepted", tc.total)
			} else {
				assert.ErrorIs(t, err, ErrTooManyChunks)
			}
		})
	}
}

func TestManagerCapsConfiguredMax(t *testing.T) {
	// a zero or absurd configured max falls back to the hard ceiling
	for _, limit := range []int{0, -5, MaxTotalChunks * 10} {
		m := NewManager(limit, time.Hour)
		_, err := m.Create("ok", testMeta(MaxTotalChunks))
		assert.NoErrorf(t, err, "limit %d", limit)
		_, err = m.Create("too-many", testMeta(MaxTotalChunks+1))
		assert.ErrorIs(t, err, ErrTooManyChunks)
	}
}

func TestAddChunkIdempotent(t *testing.T) {
	m := NewManager(100, time.Hour)
	_, err := m.Create("up-1", testMeta(10))
	assert.NoError(t, err)

	p, err := m.AddChunk("up-1", 3)
	assert.NoError(t, err)
	assert.Exactly(t, Progress{Received: 1, Total: 10}, p)

	p, err = m.AddChunk("up-1", 3)
	assert.NoErrorf(t, err, "re-submitting a recorded index")
	assert.Exactly(t, Progress{Received: 1, Total: 10}, p, "tally must not change")
}

func TestAddChunkErrors(t *testing.T) {
	m := NewManager(100, time.Hour)
	_, err := m.Create("up-1", testMeta(10))
	assert.NoError(t, err)

	_, err = m.AddChunk("nope", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, idx := range []int{-1, 10, 1 << 20} {
		_, err = m.AddChunk("up-1", idx)
		assert.ErrorIs(t, err, ErrInvalidIndex, "index %d", idx)
	}

	s, err := m.Get("up-1")
	assert.NoError(t, err)
	assert.Exactly(t, 0, s.Received, "rejected indices must not be recorded")
}

// Finalize eligibility requires all distinct indices, submission order must
// not matter.
func TestCompletionAnyOrder(t *testing.T) {
	m := NewManager(100, time.Hour)
	_, err := m.Create("up-1", testMeta(10))
	assert.NoError(t, err)

	order := rand.Perm(10)
	for i, idx := range order {
		p, err := m.AddChunk("up-1", idx)
		assert.NoError(t, err)
		if i < len(order)-1 {
			assert.Falsef(t, p.Complete(), "complete after %d of 10 chunks", i+1)
		} else {
			assert.True(t, p.Complete())
		}
	}

	s, err := m.Get("up-1")
	assert.NoError(t, err)
	assert.True(t, s.Complete())
	assert.Exactly(t, StatusComplete, s.Status())
}

func TestStatusTransitions(t *testing.T) {
	m := NewManager(100, time.Hour)
	_, err := m.Create("up-1", testMeta(2))
	assert.NoError(t, err)

	s, _ := m.Get("up-1")
	assert.Exactly(t, StatusCreated, s.Status())

	_, err = m.AddChunk("up-1", 0)
	assert.NoError(t, err)
	s, _ = m.Get("up-1")
	assert.Exactly(t, StatusReceiving, s.Status())

	_, err = m.AddChunk("up-1", 1)
	assert.NoError(t, err)
	s, _ = m.Get("up-1")
	assert.Exactly(t, StatusComplete, s.Status())
}

func TestMissing(t *testing.T) {
	m := NewManager(100, time.Hour)
	_, err := m.Create("up-1", testMeta(5))
	assert.NoError(t, err)

	for _, idx := range []int{0, 2, 4} {
		_, err = m.AddChunk("up-1", idx)
		assert.NoError(t, err)
	}

	missing, err := m.Missing("up-1")
	assert.NoError(t, err)
	assert.Exactly(t, []int{1, 3}, missing)

	_, err = m.Missing("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBeginFinalize(t *testing.T) {
	m := NewManager(100, time.Hour)
	_, err := m.Create("up-1", testMeta(2))
	assert.NoError(t, err)

	_, err = m.BeginFinalize("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.BeginFinalize("up-1")
	assert.ErrorIs(t, err, ErrNotComplete)

	for i := range 2 {
		_, err = m.AddChunk("up-1", i)
		assert.NoError(t, err)
	}

	sess, err := m.BeginFinalize("up-1")
	assert.NoError(t, err)
	assert.True(t, sess.Complete())

	_, err = m.BeginFinalize("up-1")
	assert.ErrorIs(t, err, ErrFinalizing)

	// a failed assembly reopens the session for another attempt
	m.EndFinalize("up-1")
	_, err = m.BeginFinalize("up-1")
	assert.NoError(t, err)
}

// Two clients racing to finalize one upload must not both assemble.
func TestBeginFinalizeExactlyOnce(t *testing.T) {
	m := NewManager(100, time.Hour)
	_, err := m.Create("up-1", testMeta(1))
	assert.NoError(t, err)
	_, err = m.AddChunk("up-1", 0)
	assert.NoError(t, err)

	const claimers = 32
	var wg sync.WaitGroup
	wins := make(chan Session, claimers)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sess, err := m.BeginFinalize("up-1"); err == nil {
				wins <- sess
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Exactly(t, 1, count, "exactly one claim must win")
}

func TestRemove(t *testing.T) {
	m := NewManager(100, time.Hour)
	_, err := m.Create("up-1", testMeta(10))
	assert.NoError(t, err)

	assert.True(t, m.Remove("up-1"))
	assert.False(t, m.Remove("up-1"))
	_, err = m.Get("up-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepIdle(t *testing.T) {
	m := NewManager(100, time.Hour)
	_, err := m.Create("stale", testMeta(10))
	assert.NoError(t, err)
	_, err = m.Create("fresh", testMeta(10))
	assert.NoError(t, err)

	reaped := m.SweepIdle(time.Now())
	assert.Empty(t, reaped, "sessions inside the idle window must survive")

	reaped = m.SweepIdle(time.Now().Add(2 * time.Hour))
	assert.ElementsMatch(t, []string{"stale", "fresh"}, reaped)
	assert.Exactly(t, 0, m.Len())
}

func TestSweepIdleSparesActiveSessions(t *testing.T) {
	m := NewManager(100, time.Minute)
	_, err := m.Create("active", testMeta(10))
	assert.NoError(t, err)

	// chunk arrival refreshes the idle clock
	time.Sleep(2 * time.Millisecond)
	_, err = m.AddChunk("active", 0)
	assert.NoError(t, err)

	s, err := m.Get("active")
	assert.NoError(t, err)
	assert.True(t, s.LastSeen.After(s.CreatedAt), "chunk arrival must refresh the idle clock")

	// idle is measured from the last chunk, not from creation
	reaped := m.SweepIdle(s.CreatedAt.Add(time.Minute))
	assert.Empty(t, reaped)
	assert.Exactly(t, 1, m.Len())

	reaped = m.SweepIdle(s.LastSeen.Add(2 * time.Minute))
	assert.ElementsMatch(t, []string{"active"}, reaped)
	assert.Exactly(t, 0, m.Len())
}

// Concurrent submissions of distinct indices must all be recorded, a lost
// chunk record would strand the upload short of finalize eligibility.
func TestAddChunkConcurrent(t *testing.T) {
	const total = 64
	m := NewManager(total, time.Hour)
	_, err := m.Create("up-1", testMeta(total))
	assert.NoError(t, err)

	var wg sync.WaitGroup
	for i := range total {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AddChunk("up-1", i)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := m.Get("up-1")
	assert.NoError(t, err)
	assert.Exactly(t, total, s.Received)
	assert.True(t, s.Complete())
}
