// Package upload tracks in-progress chunked uploads: which chunk indices
// have arrived, session ownership metadata, completion detection and idle
// expiry. It manages tracking state only, chunk bytes live in the artifact
// store and assembly is the caller's concern.
package upload

import (
	"errors"
	"fmt"
	"time"

	"github.com/MuhamedUsman/letstream/internal/store"
)

var (
	// ErrNotFound is returned when no session exists for the given upload ID.
	ErrNotFound = errors.New("upload session not found")
	// ErrAlreadyExists is returned when a session is created with an upload
	// ID that is already tracked.
	ErrAlreadyExists = errors.New("upload session already exists")
	// ErrInvalidIndex is returned when a chunk index falls outside
	// [0, totalChunks).
	ErrInvalidIndex = errors.New("chunk index out of bounds")
	// ErrTooManyChunks is returned when a session is created with a chunk
	// count outside [1, the configured maximum].
	ErrTooManyChunks = errors.New("total chunk count out of bounds")
	// ErrNotComplete is returned when finalization is requested before every
	// chunk has arrived.
	ErrNotComplete = errors.New("upload session is not complete")
	// ErrFinalizing is returned when a session is already claimed by another
	// finalization attempt.
	ErrFinalizing = errors.New("upload session finalization already in progress")
)

// Lifecycle states derived from the received chunk count. Idle sessions have
// no state of their own, the sweep removes the record outright.
const (
	StatusCreated   = "created"
	StatusReceiving = "receiving"
	StatusComplete  = "complete"
)

// MaxTotalChunks caps totalChunks for any session regardless of
// configuration, bounding the bitmap allocation a single create can cause.
const MaxTotalChunks = 10_000

// Meta carries the immutable description a session is created with. The
// manager stores it verbatim, ownership checks against RequesterID are the
// caller's responsibility.
type Meta struct {
	RequesterID string
	FileName    string
	FileSize    uint64
	MimeType    string
	TotalChunks int
	FolderID    string
}

// Session is a point-in-time snapshot of a tracked upload.
type Session struct {
	UploadID string
	Meta
	Received  int
	CreatedAt time.Time
	LastSeen  time.Time
}

// Complete reports finalize eligibility, every chunk index recorded.
func (s Session) Complete() bool { return s.Received == s.TotalChunks }

// Status derives the lifecycle state from the received count.
func (s Session) Status() string {
	switch {
	case s.Received == 0:
		return StatusCreated
	case s.Received < s.TotalChunks:
		return StatusReceiving
	default:
		return StatusComplete
	}
}

// Progress reports the chunk tally after an AddChunk call.
type Progress struct {
	Received int
	Total    int
}

// Complete reports whether every chunk has arrived.
func (p Progress) Complete() bool { return p.Received == p.Total }

// session is the mutable record behind the store. It is only read or written
// through the store's View/Update so field access stays under the store lock.
type session struct {
	meta       Meta
	received   *chunkSet
	createdAt  time.Time
	lastSeen   time.Time
	finalizing bool
}

// Manager tracks upload sessions in a store.KV. Chunk arrival is a
// read-modify-write under the store lock, concurrent submissions for the
// same session cannot lose a recorded index.
type Manager struct {
	maxChunks int
	idle      time.Duration
	sessions  store.KV[string, *session]
}

// NewManager returns a Manager accepting at most maxChunks chunks per
// session, capped at MaxTotalChunks, and treating sessions without chunk
// activity for idleExpiry as abandoned.
func NewManager(maxChunks int, idleExpiry time.Duration) *Manager {
	if maxChunks < 1 || maxChunks > MaxTotalChunks {
		maxChunks = MaxTotalChunks
	}
	return &Manager{
		maxChunks: maxChunks,
		idle:      idleExpiry,
		sessions:  store.NewMemory[string, *session](),
	}
}

// Create registers a new session under uploadID.
func (m *Manager) Create(uploadID string, meta Meta) (Session, error) {
	if meta.TotalChunks < 1 || meta.TotalChunks > m.maxChunks {
		return Session{}, fmt.Errorf("%w: %d not in [1, %d]", ErrTooManyChunks, meta.TotalChunks, m.maxChunks)
	}
	now := time.Now()
	s := &session{
		meta:      meta,
		received:  newChunkSet(meta.TotalChunks),
		createdAt: now,
		lastSeen:  now,
	}
	snap := snapshot(uploadID, s)
	if !m.sessions.SetIfAbsent(uploadID, s) {
		return Session{}, ErrAlreadyExists
	}
	return snap, nil
}

// Get returns a snapshot of the session tracked under uploadID.
func (m *Manager) Get(uploadID string) (Session, error) {
	var snap Session
	if !m.sessions.View(uploadID, func(s *session) { snap = snapshot(uploadID, s) }) {
		return Session{}, ErrNotFound
	}
	return snap, nil
}

// AddChunk records the arrival of chunk index for uploadID and returns the
// resulting tally. Re-submitting an already recorded index is a no-op that
// still refreshes the idle clock.
func (m *Manager) AddChunk(uploadID string, index int) (Progress, error) {
	var (
		p       Progress
		invalid bool
		total   int
	)
	ok := m.sessions.Update(uploadID, func(s *session) *session {
		total = s.meta.TotalChunks
		if index < 0 || index >= total {
			invalid = true
			return s
		}
		s.received.add(index)
		s.lastSeen = time.Now()
		p = Progress{Received: s.received.count, Total: total}
		return s
	})
	if !ok {
		return Progress{}, ErrNotFound
	}
	if invalid {
		return Progress{}, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidIndex, index, total)
	}
	return p, nil
}

// Missing returns the chunk indices not yet recorded for uploadID in
// ascending order, the resume list a client works through after an
// interrupted upload.
func (m *Manager) Missing(uploadID string) ([]int, error) {
	var missing []int
	if !m.sessions.View(uploadID, func(s *session) { missing = s.received.missing() }) {
		return nil, ErrNotFound
	}
	return missing, nil
}

// BeginFinalize claims a finalize-eligible session for assembly and returns
// its snapshot. Exactly one of several concurrent claims wins, the rest get
// ErrFinalizing. A session short of its chunk count fails with ErrNotComplete.
// The winner removes the session after assembling, or reopens it with
// EndFinalize so the client can retry.
func (m *Manager) BeginFinalize(uploadID string) (Session, error) {
	var (
		snap             Session
		incomplete, busy bool
	)
	ok := m.sessions.Update(uploadID, func(s *session) *session {
		switch {
		case s.received.count != s.meta.TotalChunks:
			incomplete = true
		case s.finalizing:
			busy = true
		default:
			s.finalizing = true
			snap = snapshot(uploadID, s)
		}
		return s
	})
	switch {
	case !ok:
		return Session{}, ErrNotFound
	case incomplete:
		return Session{}, ErrNotComplete
	case busy:
		return Session{}, ErrFinalizing
	}
	return snap, nil
}

// EndFinalize releases a finalize claim after a failed assembly.
func (m *Manager) EndFinalize(uploadID string) {
	m.sessions.Update(uploadID, func(s *session) *session {
		s.finalizing = false
		return s
	})
}

// Remove drops the session record, reporting whether one existed. Cleaning
// up any persisted chunk artifacts is the caller's job.
func (m *Manager) Remove(uploadID string) bool {
	return m.sessions.Delete(uploadID)
}

// SweepIdle removes sessions without chunk activity for the idle expiry
// window and returns their upload IDs so the caller can reap the chunk
// artifacts that go with them.
func (m *Manager) SweepIdle(now time.Time) []string {
	var reaped []string
	m.sessions.Sweep(func(id string, s *session) bool {
		if now.Sub(s.lastSeen) < m.idle {
			return false
		}
		reaped = append(reaped, id)
		return true
	})
	return reaped
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int { return m.sessions.Len() }

func snapshot(id string, s *session) Session {
	return Session{
		UploadID:  id,
		Meta:      s.meta,
		Received:  s.received.count,
		CreatedAt: s.createdAt,
		LastSeen:  s.lastSeen,
	}
}
