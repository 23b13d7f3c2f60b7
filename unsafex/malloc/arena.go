package malloc

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/mempool/unsafex"
)

// ArenaSource hands out fixed-size chunks of a single caller supplied arena.
// It never grows: once every chunk is in use Alloc fails with ErrOutOfMemory.
type ArenaSource struct {
	// arena is the memory we are managing, trimmed to start pointer aligned.
	arena []byte

	// arenaStart is a cached pointer to the start of the arena.
	// Used for fast offset calculations in Free().
	arenaStart unsafe.Pointer

	chunkSize int
	numChunks int

	// next is the index of the first chunk never handed out.
	next int

	// freeList holds offsets of chunks given back by Free, most recent last.
	freeList []int

	// used has one bit per chunk, set while the chunk is handed out.
	used []uint64
}

// NewArenaSource creates an ArenaSource carving chunkSize byte chunks out of arena.
// chunkSize must be a positive multiple of the pointer size so every chunk
// starts pointer aligned. The arena must hold at least one chunk.
func NewArenaSource(arena []byte, chunkSize int) (*ArenaSource, error) {
	if chunkSize <= 0 || uintptr(chunkSize)%unsafex.PtrAlign != 0 {
		return nil, fmt.Errorf("chunkSize must be a positive multiple of %d, got %d", unsafex.PtrAlign, chunkSize)
	}
	if len(arena) == 0 {
		return nil, fmt.Errorf("arena too small: need at least %d bytes, got 0", chunkSize)
	}
	pad := int(unsafex.Padding(uintptr(unsafe.Pointer(&arena[0])), unsafex.PtrAlign))
	if len(arena) < pad+chunkSize {
		return nil, fmt.Errorf("arena too small: need at least %d bytes, got %d", pad+chunkSize, len(arena))
	}
	arena = arena[pad:]
	numChunks := len(arena) / chunkSize

	return &ArenaSource{
		arena:      arena,
		arenaStart: unsafe.Pointer(&arena[0]),
		chunkSize:  chunkSize,
		numChunks:  numChunks,
		freeList:   make([]int, 0, 64),
		used:       make([]uint64, (numChunks+63)>>6),
	}, nil
}

// ChunkSize returns the size of each chunk.
func (a *ArenaSource) ChunkSize() int { return a.chunkSize }

// Alloc returns a chunk of the arena, trimmed to size.
// Requests larger than the chunk size can never be satisfied.
func (a *ArenaSource) Alloc(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if size > a.chunkSize {
		return nil, fmt.Errorf("arena: %d bytes requested, chunk size is %d: %w", size, a.chunkSize, ErrOutOfMemory)
	}

	var offset int
	if n := len(a.freeList); n > 0 {
		offset = a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
	} else if a.next < a.numChunks {
		offset = a.next * a.chunkSize
		a.next++
	} else {
		return nil, fmt.Errorf("arena: all %d chunks in use: %w", a.numChunks, ErrOutOfMemory)
	}

	idx := offset / a.chunkSize
	a.used[idx>>6] |= 1 << (idx & 63)
	return a.arena[offset : offset+size : offset+a.chunkSize], nil
}

// Free returns a chunk to the arena.
// Panics if the chunk does not belong to the arena or is already freed.
func (a *ArenaSource) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	offset := int(uintptr(unsafe.Pointer(unsafe.SliceData(b))) - uintptr(a.arenaStart))
	if offset < 0 || offset >= a.numChunks*a.chunkSize {
		panic("arena: chunk not in arena")
	}
	if offset%a.chunkSize != 0 {
		panic("arena: misaligned chunk")
	}
	idx := offset / a.chunkSize
	if a.used[idx>>6]&(1<<(idx&63)) == 0 {
		panic("arena: double free or invalid chunk")
	}
	a.used[idx>>6] &^= 1 << (idx & 63)
	a.freeList = append(a.freeList, offset)
}

// Available returns the number of bytes in chunks not handed out.
func (a *ArenaSource) Available() int {
	return (a.numChunks - a.next + len(a.freeList)) * a.chunkSize
}

// Reset forgets every handed out chunk and returns the arena to its initial state.
func (a *ArenaSource) Reset() {
	a.next = 0
	a.freeList = a.freeList[:0]
	for i := range a.used {
		a.used[i] = 0
	}
}
