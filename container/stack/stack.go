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

package stack

import "github.com/cloudwego/mempool/mempool"

// Node is the element stored in the Stack.
// It's exported so callers can build an allocator for it.
type Node[T any] struct {
	data T
	prev *Node[T]
}

// Stack is a linked stack which gets node storage from an allocator.
// It's not safe for concurrent use.
type Stack[T any] struct {
	alloc mempool.Allocator[Node[T]]
	head  *Node[T]
	size  int
}

// New creates a Stack using alloc for its nodes.
// If alloc hands out memory GC does not scan, T must not hold pointers.
func New[T any](alloc mempool.Allocator[Node[T]]) *Stack[T] {
	return &Stack[T]{alloc: alloc}
}

// NewWithHeap creates a Stack whose nodes live on the Go heap.
func NewWithHeap[T any]() *Stack[T] {
	return New[T](mempool.HeapAllocator[Node[T]]{})
}

// NewWithPool creates a Stack whose nodes come from a new pool with p's options.
// p itself is not used for nodes.
//
// Pool memory is not scanned by GC, so T must be free of pointers, strings,
// slices, maps and interfaces. Element types holding any of them fail with
// mempool.ErrPointerType; use NewWithHeap for them.
func NewWithPool[T any](p *mempool.Pool[T]) (*Stack[T], error) {
	np, err := mempool.Rebind[Node[T]](p)
	if err != nil {
		return nil, err
	}
	return New[T](np), nil
}

// Empty returns true if the stack has no element.
func (s *Stack[T]) Empty() bool {
	return s.head == nil
}

// Len returns the number of elements.
func (s *Stack[T]) Len() int {
	return s.size
}

// Push puts v on the top of the stack.
func (s *Stack[T]) Push(v T) error {
	n, err := s.alloc.Allocate(1, nil)
	if err != nil {
		return err
	}
	s.alloc.Construct(n, Node[T]{data: v, prev: s.head})
	s.head = n
	s.size++
	return nil
}

// Pop removes and returns the top element.
// It returns false if the stack is empty.
func (s *Stack[T]) Pop() (T, bool) {
	n := s.head
	if n == nil {
		var zero T
		return zero, false
	}
	v := n.data
	s.head = n.prev
	s.size--
	s.alloc.Destroy(n)
	s.alloc.Deallocate(n, 1)
	return v, true
}

// Top returns the top element without removing it.
func (s *Stack[T]) Top() (T, bool) {
	if s.head == nil {
		var zero T
		return zero, false
	}
	return s.head.data, true
}

// Clear removes every element, giving node storage back to the allocator.
func (s *Stack[T]) Clear() {
	for n := s.head; n != nil; {
		prev := n.prev
		s.alloc.Destroy(n)
		s.alloc.Deallocate(n, 1)
		n = prev
	}
	s.head = nil
	s.size = 0
}
