// Package pool admits or rejects transfer sessions against two independent
// concurrency caps, max sessions per resource and max sessions per requester.
// It bounds resource exhaustion on the streaming endpoints, which stay exempt
// from the general per-IP API rate limiting.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAdmissionDenied is returned by Admit when either cap is already met.
var ErrAdmissionDenied = errors.New("admission denied")

// Denial reasons reported by CanAdmit and wrapped into Admit errors.
const (
	ReasonResourceCap  = "resource connection cap reached"
	ReasonRequesterCap = "requester connection cap reached"
)

// Handle identifies a single admitted session. Each Admit call hands out a
// fresh one, so two concurrent sessions for the same (requester, resource)
// pair release independently. The zero Handle is never issued.
type Handle uint64

type record struct {
	requesterID string
	resourceID  string
	admittedAt  time.Time
}

// Pool tracks admitted transfer sessions under a single mutex. Both count
// indices and the record registry move together, an admit or release is
// atomic across all three.
type Pool struct {
	maxPerResource  int
	maxPerRequester int
	staleness       time.Duration

	mu           sync.Mutex
	lastHandle   Handle
	records      map[Handle]record
	perResource  map[string]int
	perRequester map[string]int
}

// New returns a Pool enforcing the given caps. A cap of zero or less
// disables that limit. Records older than staleness are reclaimable by
// Sweep whether or not they were released, the backstop for aborted
// transfers that never reach their deferred release.
func New(maxPerResource, maxPerRequester int, staleness time.Duration) *Pool {
	return &Pool{
		maxPerResource:  maxPerResource,
		maxPerRequester: maxPerRequester,
		staleness:       staleness,
		records:         make(map[Handle]record),
		perResource:     make(map[string]int),
		perRequester:    make(map[string]int),
	}
}

// CanAdmit reports whether a session for (requesterID, resourceID) would be
// admitted right now, with the denial reason when it would not. It is
// advisory, Admit re-checks under the same lock.
func (p *Pool) CanAdmit(requesterID, resourceID string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.check(requesterID, resourceID)
}

// check must be called with p.mu held.
func (p *Pool) check(requesterID, resourceID string) (bool, string) {
	if p.maxPerResource > 0 && p.perResource[resourceID] >= p.maxPerResource {
		return false, ReasonResourceCap
	}
	if p.maxPerRequester > 0 && p.perRequester[requesterID] >= p.maxPerRequester {
		return false, ReasonRequesterCap
	}
	return true, ""
}

// Admit registers a session for (requesterID, resourceID) and returns its
// handle. Both caps must pass, otherwise ErrAdmissionDenied carrying the
// reason is returned.
func (p *Pool) Admit(requesterID, resourceID string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok, reason := p.check(requesterID, resourceID); !ok {
		return 0, fmt.Errorf("%w: %s", ErrAdmissionDenied, reason)
	}
	p.lastHandle++
	p.records[p.lastHandle] = record{
		requesterID: requesterID,
		resourceID:  resourceID,
		admittedAt:  time.Now(),
	}
	p.perResource[resourceID]++
	p.perRequester[requesterID]++
	return p.lastHandle, nil
}

// Release frees the session admitted under h, reporting whether it was still
// registered. Releasing an already swept handle is a no-op.
func (p *Pool) Release(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[h]
	if !ok {
		return false
	}
	p.drop(h, rec)
	return true
}

// drop must be called with p.mu held.
func (p *Pool) drop(h Handle, rec record) {
	delete(p.records, h)
	if p.perResource[rec.resourceID]--; p.perResource[rec.resourceID] <= 0 {
		delete(p.perResource, rec.resourceID)
	}
	if p.perRequester[rec.requesterID]--; p.perRequester[rec.requesterID] <= 0 {
		delete(p.perRequester, rec.requesterID)
	}
}

// Sweep removes records admitted before the staleness window and reports the
// number reclaimed. It keeps the pool bounded when clients disconnect
// abruptly and release never runs.
func (p *Pool) Sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for h, rec := range p.records {
		if now.Sub(rec.admittedAt) >= p.staleness {
			p.drop(h, rec)
			removed++
		}
	}
	return removed
}

// Len returns the number of currently admitted sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}
