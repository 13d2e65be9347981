// Package playback serves session artifacts over HTTP with byte-range
// support, so a local player can seek without downloading whole files.
package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRange reports an unsatisfiable or malformed Range header.
var ErrInvalidRange = errors.New("invalid range")

// Range is one satisfiable byte range, bounds inclusive.
type Range struct {
	Start int64
	End   int64
}

// ParseRange parses a "bytes=" Range header against the file size. Only the
// first range of a multi-range header is honored. A nil Range with nil error
// means the header was absent.
func ParseRange(header string, size int64) (*Range, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	spec = strings.TrimSpace(spec)

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}

	// Suffix form: "-N" means the last N bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
		if n > size {
			n = size
		}
		return &Range{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	if start >= size {
		return nil, fmt.Errorf("%w: start %d beyond size %d", ErrInvalidRange, start, size)
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return &Range{Start: start, End: end}, nil
}

// ContentLength returns the number of bytes in the range.
func (r *Range) ContentLength() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range response header value.
func (r *Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}
