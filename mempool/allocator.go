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
	"math"

	"github.com/cloudwego/mempool/unsafex"
)

// Allocator is what node based containers need from an allocator.
//
// Allocate returns uninitialized storage and Construct fills it in, so the
// container decides when an element comes to life. Destroy and Deallocate
// undo them in reverse order.
type Allocator[T any] interface {
	Allocate(n int, hint *T) (*T, error)
	Deallocate(p *T, n int)
	Construct(p *T, v T)
	Destroy(p *T)
	MaxSize() int
}

var (
	_ Allocator[int] = (*Pool[int])(nil)
	_ Allocator[int] = HeapAllocator[int]{}
)

// HeapAllocator allocates from the Go heap. Deallocate leaves it to GC.
type HeapAllocator[T any] struct{}

// Allocate returns storage for n consecutive elements.
func (HeapAllocator[T]) Allocate(n int, _ *T) (*T, error) {
	if n <= 1 {
		return new(T), nil
	}
	s := make([]T, n)
	return &s[0], nil
}

// Deallocate ...
func (HeapAllocator[T]) Deallocate(*T, int) {}

// Construct ...
func (HeapAllocator[T]) Construct(p *T, v T) { *p = v }

// Destroy ...
func (HeapAllocator[T]) Destroy(p *T) {
	var zero T
	*p = zero
}

// MaxSize ...
func (HeapAllocator[T]) MaxSize() int {
	sz := unsafex.SizeOf[T]()
	if sz == 0 {
		return math.MaxInt
	}
	return int(uintptr(math.MaxInt) / sz)
}
