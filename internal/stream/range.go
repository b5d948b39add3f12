package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRange reports range input that is out of bounds for the
	// resource it was resolved against.
	ErrInvalidRange = errors.New("invalid byte range")
	// ErrRangeNotSatisfiable reports a well-formed range whose start lies
	// beyond the resource size, the HTTP 416 case.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// ByteRange is a validated byte interval over a resource of known size.
// Bounds are inclusive and satisfy Start <= End < TotalSize.
type ByteRange struct {
	Start, End uint64
	// TotalSize is the full resource size the range was validated against.
	TotalSize uint64
	// OpenEnded marks a range whose end the client left open, the parser
	// filled in a provisional end and the caller may widen it via
	// ResolveOpenEndedRange with a size-appropriate chunk.
	OpenEnded bool
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() uint64 { return r.End - r.Start + 1 }

// ContentRange renders the range as a Content-Range header value for a
// Partial Content response.
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.TotalSize)
}

// ParseRange parses an HTTP Range header value against a known resource size.
//
// A nil ByteRange with a nil error means no usable range was requested and
// the caller serves the full resource. That covers an absent header and every
// malformed form (wrong unit, multi-range list, suffix ranges, garbage
// bounds, end before start), streaming clients handle a full response better
// than a refused one.
//
// Accepted syntax is "bytes=<start>-<end>" and the open-ended
// "bytes=<start>-". For the open-ended form the provisional end is
// start+defaultWindow-1, the caller may widen it afterwards via
// ResolveOpenEndedRange with a size-appropriate chunk. A requested end past
// the last byte is clamped to totalSize-1.
//
// A start at or beyond totalSize fails with ErrRangeNotSatisfiable.
func ParseRange(header string, totalSize, defaultWindow uint64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, nil
	}
	// single range only, "start-end, start-end" lists serve as full responses
	if strings.Contains(spec, ",") {
		return nil, nil
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok || first == "" {
		return nil, nil
	}
	start, err := strconv.ParseUint(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return nil, nil
	}
	if start >= totalSize {
		return nil, fmt.Errorf("%w: start %d of %d", ErrRangeNotSatisfiable, start, totalSize)
	}

	if defaultWindow == 0 {
		defaultWindow = 1
	}
	openEnded := false
	end := start + defaultWindow - 1
	if end < start { // wrapped around
		end = totalSize - 1
	}
	if last = strings.TrimSpace(last); last != "" {
		if end, err = strconv.ParseUint(last, 10, 64); err != nil {
			return nil, nil
		}
		if end < start {
			return nil, nil
		}
	} else {
		openEnded = true
	}
	if end > totalSize-1 {
		end = totalSize - 1
	}
	return &ByteRange{Start: start, End: end, TotalSize: totalSize, OpenEnded: openEnded}, nil
}
