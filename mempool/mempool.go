/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mempool

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/cloudwego/mempool/unsafex"
	"github.com/cloudwego/mempool/unsafex/malloc"
)

// DefaultBlockSize is the block size used when Option.BlockSize is not set.
const DefaultBlockSize = 4096

var (
	// ErrAllocationFailure is returned when a new block cannot be obtained from the Source.
	ErrAllocationFailure = errors.New("mempool: allocation failure")

	// ErrBlockSize is returned when a block cannot hold two slots.
	ErrBlockSize = errors.New("mempool: block size too small")

	// ErrPointerType is returned for element types holding pointers to the Go heap.
	ErrPointerType = errors.New("mempool: element type holds pointers")
)

// Option ...
type Option struct {
	// BlockSize is the number of bytes requested from Source at a time.
	// It must be at least twice the slot size.
	BlockSize int

	// Source supplies blocks. It's malloc.HeapSource if nil.
	Source malloc.Source
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		BlockSize: DefaultBlockSize,
		Source:    malloc.HeapSource{},
	}
}

// noCopy makes go vet complain about Pool values being copied.
// Use Clone instead.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// freeSlot is how a slot is read while it's on the free list.
type freeSlot struct {
	next *freeSlot
}

// Pool hands out storage for values of T one slot at a time.
//
// Each block starts with a link to the previously acquired block, followed by
// padding up to slot alignment and then as many slots as fit. A slot holds
// either a live T owned by the caller or a free list link owned by the pool.
type Pool[T any] struct {
	_ noCopy

	blockSize int
	source    malloc.Source

	slotSize  uintptr
	slotAlign uintptr

	// blocks owns every acquired block, oldest first.
	blocks [][]byte

	// currentBlock is the head of the block chain, nil before the first block.
	currentBlock unsafe.Pointer

	// currentSlot is the offset of the next slot to carve in currentBlock.
	// Carving stops once it reaches lastSlot.
	currentSlot uintptr
	lastSlot    uintptr

	freeSlots *freeSlot

	carved int
	inuse  int
	free   int
}

// New creates an empty Pool. No memory is acquired until the first Allocate.
//
// T must not hold strings, slices, maps, interfaces, channels, funcs or
// pointers, except pointers to T itself. Such types fail with ErrPointerType.
func New[T any](o *Option) (*Pool[T], error) {
	if o == nil {
		o = DefaultOption()
	}
	blockSize, source := o.BlockSize, o.Source
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if source == nil {
		source = malloc.HeapSource{}
	}
	return newPool[T](blockSize, source)
}

func newPool[T any](blockSize int, source malloc.Source) (*Pool[T], error) {
	if err := checkElem[T](); err != nil {
		return nil, err
	}
	slotSize, slotAlign := unsafex.SlotLayout[T]()
	if blockSize < 0 || uintptr(blockSize) < 2*slotSize {
		return nil, fmt.Errorf("%w: %d bytes cannot hold 2 slots of %d bytes", ErrBlockSize, blockSize, slotSize)
	}
	return &Pool[T]{
		blockSize: blockSize,
		source:    source,
		slotSize:  slotSize,
		slotAlign: slotAlign,
	}, nil
}

// Clone returns a new empty Pool with the same options.
// Nothing is shared with p: no blocks, no free slots.
func (p *Pool[T]) Clone() *Pool[T] {
	return &Pool[T]{
		blockSize: p.blockSize,
		source:    p.source,
		slotSize:  p.slotSize,
		slotAlign: p.slotAlign,
	}
}

// Rebind returns a new empty Pool for U with the same options as p.
// It fails if p's block size is too small for U, or if U is rejected by New.
func Rebind[U, T any](p *Pool[T]) (*Pool[U], error) {
	return newPool[U](p.blockSize, p.source)
}

// Address returns the address of an element.
func (p *Pool[T]) Address(ref *T) *T {
	return ref
}

// Allocate returns uninitialized storage for one T.
//
// Exactly one slot is returned regardless of n, and hint is ignored.
// Recently freed slots are reused first, most recent first. The returned
// error wraps ErrAllocationFailure if a new block is needed and the Source
// cannot supply it.
func (p *Pool[T]) Allocate(n int, hint *T) (*T, error) {
	if s := p.freeSlots; s != nil {
		p.freeSlots = s.next
		p.free--
		p.inuse++
		return (*T)(unsafe.Pointer(s)), nil
	}
	if p.currentSlot >= p.lastSlot {
		if err := p.acquireBlock(); err != nil {
			return nil, err
		}
	}
	ptr := unsafe.Add(p.currentBlock, p.currentSlot)
	p.currentSlot += p.slotSize
	p.carved++
	p.inuse++
	return (*T)(ptr), nil
}

// Deallocate puts the slot at ptr on the free list. n is ignored.
// A nil ptr is a no-op.
func (p *Pool[T]) Deallocate(ptr *T, n int) {
	if ptr == nil {
		return
	}
	// the old content is caller data, store the link as a plain word
	*(*uintptr)(unsafe.Pointer(ptr)) = uintptr(unsafe.Pointer(p.freeSlots))
	p.freeSlots = (*freeSlot)(unsafe.Pointer(ptr))
	p.inuse--
	p.free++
}

// MaxSize returns an estimate of the number of elements the pool could ever carve.
// It's advisory only and not enforced.
func (p *Pool[T]) MaxSize() int {
	maxBlocks := math.MaxInt / p.blockSize
	return maxBlocks * int((uintptr(p.blockSize)-unsafex.PtrSize)/p.slotSize)
}

// Construct stores v in the storage at ptr.
func (p *Pool[T]) Construct(ptr *T, v T) {
	*ptr = v
}

// Destroy clears the element at ptr. The storage stays allocated.
func (p *Pool[T]) Destroy(ptr *T) {
	var zero T
	*ptr = zero
}

// NewElement allocates a slot and stores v in it.
func (p *Pool[T]) NewElement(v T) (*T, error) {
	ptr, err := p.Allocate(1, nil)
	if err != nil {
		return nil, err
	}
	p.Construct(ptr, v)
	return ptr, nil
}

// DeleteElement destroys the element at ptr and gives its slot back.
// A nil ptr is a no-op.
func (p *Pool[T]) DeleteElement(ptr *T) {
	if ptr == nil {
		return
	}
	p.Destroy(ptr)
	p.Deallocate(ptr, 1)
}

// Stats ...
type Stats struct {
	Blocks        int // blocks acquired from the Source
	BlockSize     int
	SlotSize      int
	SlotAlign     int
	SlotsPerBlock int
	Carved        int // distinct slots ever carved
	InUse         int // slots held by callers
	Free          int // slots on the free list
}

// Stats returns the current counters of the pool.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Blocks:        len(p.blocks),
		BlockSize:     p.blockSize,
		SlotSize:      int(p.slotSize),
		SlotAlign:     int(p.slotAlign),
		SlotsPerBlock: p.slotsPerBlock(),
		Carved:        p.carved,
		InUse:         p.inuse,
		Free:          p.free,
	}
}
