// Package httprange models HTTP byte ranges for partial artifact downloads.
package httprange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRange indicates a Range header that could not be parsed.
var ErrInvalidRange = errors.New("invalid range header")

const bytesUnitPrefix = "bytes="

// ByteRange is a half-open byte window into an artifact. Limit == 0 means
// "to end of file"; otherwise reads stop at Limit (exclusive).
type ByteRange struct {
	Offset int64
	Limit  int64
}

// Length returns the number of bytes the range covers within an artifact of
// totalLength bytes, or -1 when it cannot be determined.
func (r ByteRange) Length(totalLength int64) int64 {
	switch {
	case r.Limit > 0:
		return r.Limit - r.Offset
	case totalLength > 0:
		return totalLength - r.Offset
	default:
		return -1
	}
}

// ContentRange renders the Content-Range header value for the range against
// an artifact of totalLength bytes.
func (r ByteRange) ContentRange(totalLength int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Offset, totalLength-1, totalLength)
}

func (r ByteRange) String() string {
	if r.Limit > 0 {
		return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Limit)
	}
	return fmt.Sprintf("bytes=%d-", r.Offset)
}

// IsRangedRequest reports whether the Range header value denotes an actual
// ranged request. The legacy sentinel values "0/*", "0-" and "0" disable
// ranged handling entirely.
func IsRangedRequest(header string) bool {
	return header != "" && header != "0/*" && header != "0-" && header != "0"
}

// Parse decodes a Range header of the form "bytes=offset-[limit]", possibly
// with multiple comma-separated ranges.
func Parse(header string) ([]ByteRange, error) {
	if !strings.HasPrefix(header, bytesUnitPrefix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}

	specs := strings.Split(strings.TrimPrefix(header, bytesUnitPrefix), ",")
	ranges := make([]ByteRange, 0, len(specs))
	for _, spec := range specs {
		r, err := parseOne(strings.TrimSpace(spec))
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}

	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	return ranges, nil
}

func parseOne(spec string) (ByteRange, error) {
	dash := strings.Index(spec, "-")
	if dash <= 0 {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, spec)
	}

	offset, err := strconv.ParseInt(spec[:dash], 10, 64)
	if err != nil || offset < 0 {
		return ByteRange{}, fmt.Errorf("%w: bad offset in %q", ErrInvalidRange, spec)
	}

	r := ByteRange{Offset: offset}
	if rest := spec[dash+1:]; rest != "" {
		limit, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || limit < offset {
			return ByteRange{}, fmt.Errorf("%w: bad limit in %q", ErrInvalidRange, spec)
		}
		r.Limit = limit
	}
	return r, nil
}
