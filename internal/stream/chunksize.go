package stream

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Tier maps resources of at least MinSize bytes to a response chunk size.
type Tier struct {
	MinSize uint64
	Chunk   uint64
}

// DefaultTiers returns the default chunk-size policy, largest resources
// first. Bigger files get bigger chunks so open-ended range requests trade a
// little latency for fewer round trips, small files stay at the minimum so
// playback starts fast.
func DefaultTiers() []Tier {
	return []Tier{
		{MinSize: 20 * humanize.GiByte, Chunk: 4 * humanize.MiByte},
		{MinSize: 5 * humanize.GiByte, Chunk: 3 * humanize.MiByte},
		{MinSize: 512 * humanize.MiByte, Chunk: 2 * humanize.MiByte},
		{MinSize: 128 * humanize.MiByte, Chunk: 2 * humanize.MiByte},
		{MinSize: 0, Chunk: 1 * humanize.MiByte},
	}
}

// ChooseChunkSize picks the response chunk size for a resource of the given
// size. It is pure and deterministic, and monotonic non-decreasing in
// resourceSize as long as the tiers are. Tiers are consulted in order and the
// first tier whose MinSize the resource reaches wins, so they must be listed
// from largest MinSize down. With no tiers given, DefaultTiers applies.
func ChooseChunkSize(resourceSize uint64, tiers ...Tier) uint64 {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	for _, t := range tiers {
		if resourceSize >= t.MinSize {
			return t.Chunk
		}
	}
	return tiers[len(tiers)-1].Chunk
}

// ResolveOpenEndedRange widens an open-ended range to a concrete interval
// using the chosen chunk size: end = min(start+chunkSize-1, resourceSize-1).
//
// A start at or past the resource size fails with ErrInvalidRange rather
// than clamping to an empty interval, the caller gets an explicit signal
// that the request points beyond the last byte.
func ResolveOpenEndedRange(start, resourceSize, chunkSize uint64) (ByteRange, error) {
	if start >= resourceSize {
		return ByteRange{}, fmt.Errorf("%w: start %d is past resource size %d", ErrInvalidRange, start, resourceSize)
	}
	if chunkSize == 0 {
		chunkSize = 1
	}
	end := start + chunkSize - 1
	if end < start || end > resourceSize-1 { // wrapped around or past the last byte
		end = resourceSize - 1
	}
	return ByteRange{Start: start, End: end, TotalSize: resourceSize}, nil
}
