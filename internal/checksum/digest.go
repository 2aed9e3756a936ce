// Package checksum provides streaming digest computation for artifact I/O
// and the process-wide digest cache.
package checksum

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/artifactd/artifactd/internal/domain"
)

// Supported digest algorithm names. These double as sidecar file extensions.
const (
	AlgorithmMD5  = "md5"
	AlgorithmSHA1 = "sha1"
)

// DefaultAlgorithms are the algorithms computed for every artifact write.
var DefaultAlgorithms = []string{AlgorithmMD5, AlgorithmSHA1}

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmMD5:
		return md5.New(), nil
	case AlgorithmSHA1:
		return sha1.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAlgorithm, algorithm)
	}
}

func newHashes(algorithms []string) (map[string]hash.Hash, error) {
	hashes := make(map[string]hash.Hash, len(algorithms))
	for _, algorithm := range algorithms {
		h, err := newHash(algorithm)
		if err != nil {
			return nil, err
		}
		hashes[algorithm] = h
	}
	return hashes, nil
}

func sums(hashes map[string]hash.Hash) map[string]string {
	digests := make(map[string]string, len(hashes))
	for algorithm, h := range hashes {
		digests[algorithm] = hex.EncodeToString(h.Sum(nil))
	}
	return digests
}

// Reader forwards reads from an underlying source while feeding every byte
// through the configured digest algorithms.
type Reader struct {
	src    io.ReadCloser
	hashes map[string]hash.Hash
}

// NewReader wraps src with streaming digest computation.
func NewReader(src io.ReadCloser, algorithms ...string) (*Reader, error) {
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}
	hashes, err := newHashes(algorithms)
	if err != nil {
		return nil, err
	}
	return &Reader{src: src, hashes: hashes}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		for _, h := range r.hashes {
			h.Write(p[:n])
		}
	}
	return n, err
}

// Close closes the underlying source.
func (r *Reader) Close() error {
	return r.src.Close()
}

// Sums returns the hex digests of all bytes read so far, keyed by algorithm.
func (r *Reader) Sums() map[string]string {
	return sums(r.hashes)
}

// Writer forwards writes to an underlying sink while feeding every byte
// through the configured digest algorithms.
type Writer struct {
	dst    io.Writer
	hashes map[string]hash.Hash
}

// NewWriter wraps dst with streaming digest computation.
func NewWriter(dst io.Writer, algorithms ...string) (*Writer, error) {
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}
	hashes, err := newHashes(algorithms)
	if err != nil {
		return nil, err
	}
	return &Writer{dst: dst, hashes: hashes}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		for _, h := range w.hashes {
			h.Write(p[:n])
		}
	}
	return n, err
}

// Sums returns the hex digests of all bytes written so far, keyed by algorithm.
func (w *Writer) Sums() map[string]string {
	return sums(w.hashes)
}

// ParseSidecar reads a digest sidecar file and returns its hex token.
// Sidecars written by various build tools may carry trailing filenames or
// whitespace; only the first token counts.
func ParseSidecar(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read checksum sidecar: %w", err)
		}
		return "", nil
	}
	return strings.ToLower(scanner.Text()), nil
}
