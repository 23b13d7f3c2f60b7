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
	"fmt"
	"unsafe"

	"github.com/cloudwego/mempool/unsafex"
)

// blockHeaderSize is the size of the link to the previous block.
const blockHeaderSize = unsafex.PtrSize

// acquireBlock gets a new block from the Source and makes it the carving target.
// The pool is left untouched if it fails.
func (p *Pool[T]) acquireBlock() error {
	b, err := p.source.Alloc(p.blockSize)
	if err != nil {
		return fmt.Errorf("mempool: acquire %d byte block: %w: %w", p.blockSize, ErrAllocationFailure, err)
	}
	if len(b) < p.blockSize {
		p.source.Free(b)
		return fmt.Errorf("mempool: source returned %d bytes, want %d: %w", len(b), p.blockSize, ErrAllocationFailure)
	}
	base := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(base)%unsafex.PtrAlign != 0 {
		p.source.Free(b)
		return fmt.Errorf("mempool: source returned misaligned block %p: %w", base, ErrAllocationFailure)
	}
	body := blockHeaderSize + unsafex.Padding(uintptr(base)+blockHeaderSize, p.slotAlign)
	if body+p.slotSize > uintptr(p.blockSize) {
		p.source.Free(b)
		return fmt.Errorf("mempool: block at %p has no room for a slot after padding: %w", base, ErrAllocationFailure)
	}

	// slots are written through typed pointers, stale bytes must not look like pointers
	clear(b[:p.blockSize])
	*(*unsafe.Pointer)(base) = p.currentBlock
	p.currentBlock = base
	p.blocks = append(p.blocks, b)

	p.currentSlot = body
	// a slot starting at or past lastSlot would run off the end of the block
	p.lastSlot = uintptr(p.blockSize) - p.slotSize + 1
	return nil
}

// prevBlock returns the block acquired before blk, nil for the first one.
func prevBlock(blk unsafe.Pointer) unsafe.Pointer {
	return *(*unsafe.Pointer)(blk)
}

// Release gives every block back to the Source, most recent first, and
// returns the pool to its initial empty state.
//
// Elements still held by callers are not destroyed and must not be used
// afterwards.
func (p *Pool[T]) Release() {
	i := len(p.blocks) - 1
	for blk := p.currentBlock; blk != nil; i-- {
		prev := prevBlock(blk)
		p.source.Free(p.blocks[i])
		p.blocks[i] = nil
		blk = prev
	}
	p.blocks = nil
	p.currentBlock = nil
	p.currentSlot, p.lastSlot = 0, 0
	p.freeSlots = nil
	p.carved, p.inuse, p.free = 0, 0, 0
}

// slotsPerBlock returns the number of slots carved from a pointer aligned block.
func (p *Pool[T]) slotsPerBlock() int {
	body := unsafex.AlignUp(blockHeaderSize, p.slotAlign)
	return int((uintptr(p.blockSize) - body) / p.slotSize)
}
