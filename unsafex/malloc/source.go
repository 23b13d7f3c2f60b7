// Package malloc supplies the raw memory behind allocators.
//
// A Source hands out buffers of a requested size and takes them back.
// ArenaSource and LimitSource are not safe for concurrent use.
package malloc

import (
	"errors"
	"fmt"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"
)

var (
	// ErrOutOfMemory is returned when a Source cannot satisfy a request.
	ErrOutOfMemory = errors.New("malloc: out of memory")

	// ErrUnsupported is returned by sources not available on the current platform.
	ErrUnsupported = errors.New("malloc: unsupported on this platform")
)

// Source supplies the raw memory that allocators carve up.
//
// Alloc returns a buffer of exactly size bytes, or an error wrapping
// ErrOutOfMemory if the request cannot be satisfied. The content of the
// returned buffer is undefined.
// Free gives back a buffer returned by Alloc of the same Source. Buffers must
// not be used after Free.
type Source interface {
	Alloc(size int) ([]byte, error)
	Free(b []byte)
}

func checkSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("malloc: invalid size %d", size)
	}
	return nil
}

// HeapSource allocates from the Go heap without zeroing.
// Free is a no-op, buffers are reclaimed by GC once unreferenced.
type HeapSource struct{}

// Alloc ...
func (HeapSource) Alloc(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return dirtmake.Bytes(size, size), nil
}

// Free ...
func (HeapSource) Free([]byte) {}

// CacheSource allocates from a process wide cache of power-of-two sized buffers.
// Buffers given back by Free are reused by later Alloc calls of any CacheSource.
type CacheSource struct{}

// Alloc ...
func (CacheSource) Alloc(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return mcache.Malloc(size), nil
}

// Free ...
func (CacheSource) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	mcache.Free(b)
}

// LimitSource wraps a Source, tracking usage and optionally
// capping the number of outstanding bytes.
type LimitSource struct {
	src   Source
	limit int // 0 means unlimited

	inuse  int
	allocs int
	frees  int
}

// NewLimitSource returns a LimitSource over src.
// A limit of 0 disables the cap and only keeps the counters.
func NewLimitSource(src Source, limit int) (*LimitSource, error) {
	if src == nil {
		return nil, errors.New("malloc: nil source")
	}
	if limit < 0 {
		return nil, fmt.Errorf("malloc: limit must be >= 0, got %d", limit)
	}
	return &LimitSource{src: src, limit: limit}, nil
}

// Alloc ...
func (s *LimitSource) Alloc(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if s.limit > 0 && s.inuse+size > s.limit {
		return nil, fmt.Errorf("malloc: %d bytes in use, %d more exceeds limit %d: %w",
			s.inuse, size, s.limit, ErrOutOfMemory)
	}
	b, err := s.src.Alloc(size)
	if err != nil {
		return nil, err
	}
	s.inuse += len(b)
	s.allocs++
	return b, nil
}

// Free ...
func (s *LimitSource) Free(b []byte) {
	s.inuse -= len(b)
	s.frees++
	s.src.Free(b)
}

// InUse returns the number of bytes handed out and not yet freed.
func (s *LimitSource) InUse() int { return s.inuse }

// Allocs returns the number of successful Alloc calls.
func (s *LimitSource) Allocs() int { return s.allocs }

// Frees returns the number of Free calls.
func (s *LimitSource) Frees() int { return s.frees }
