package domain

import (
	"fmt"
	"io"

	"github.com/artifactd/artifactd/pkg/httprange"
)

// Source is an opened artifact byte stream. Length is the total artifact
// size, or -1 when unknowable. A Source honors a single active byte range
// for partial downloads; sources backed by seekable streams additionally
// support independent sections for multi-range responses.
type Source struct {
	rc     io.ReadCloser
	length int64
	path   string

	active    *httprange.ByteRange
	remaining int64
}

// NewSource wraps an opened stream as an artifact source.
func NewSource(rc io.ReadCloser, length int64, path string) *Source {
	return &Source{rc: rc, length: length, path: path, remaining: -1}
}

// Length returns the total artifact length, or -1 if unknown.
func (s *Source) Length() int64 { return s.length }

// Path returns the repository-relative path the source was opened for.
func (s *Source) Path() string { return s.path }

// CurrentRange returns the active byte range, or nil for a full-body read.
func (s *Source) CurrentRange() *httprange.ByteRange { return s.active }

// SetRange positions the source at the range offset and caps subsequent
// reads at the range length. Fails when the offset lies at or beyond the
// end of the artifact.
func (s *Source) SetRange(r httprange.ByteRange) error {
	if s.length >= 0 && r.Offset >= s.length {
		return fmt.Errorf("%w: offset %d, length %d", ErrRangeNotSatisfiable, r.Offset, s.length)
	}

	if err := s.skipTo(r.Offset); err != nil {
		return err
	}

	s.active = &r
	if n := r.Length(s.length); n >= 0 {
		s.remaining = n
	} else {
		s.remaining = -1
	}
	return nil
}

// Section returns an independent reader over the given range. The
// underlying stream must be seekable; each call repositions it.
func (s *Source) Section(r httprange.ByteRange) (io.Reader, error) {
	seeker, ok := s.rc.(io.ReadSeeker)
	if !ok {
		return nil, fmt.Errorf("%w: source is not seekable", ErrRangeNotSatisfiable)
	}
	if s.length >= 0 && r.Offset >= s.length {
		return nil, fmt.Errorf("%w: offset %d, length %d", ErrRangeNotSatisfiable, r.Offset, s.length)
	}
	if _, err := seeker.Seek(r.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to range offset: %w", err)
	}
	if n := r.Length(s.length); n >= 0 {
		return io.LimitReader(seeker, n), nil
	}
	return seeker, nil
}

func (s *Source) skipTo(offset int64) error {
	if offset == 0 {
		return nil
	}
	if seeker, ok := s.rc.(io.Seeker); ok {
		_, err := seeker.Seek(offset, io.SeekStart)
		if err != nil {
			return fmt.Errorf("seek to range offset: %w", err)
		}
		return nil
	}
	if _, err := io.CopyN(io.Discard, s.rc, offset); err != nil {
		return fmt.Errorf("skip to range offset: %w", err)
	}
	return nil
}

func (s *Source) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	if s.remaining > 0 && int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.rc.Read(p)
	if s.remaining > 0 {
		s.remaining -= int64(n)
	}
	return n, err
}

// Close releases the underlying stream.
func (s *Source) Close() error {
	return s.rc.Close()
}
