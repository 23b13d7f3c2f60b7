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

package unsafex

import "unsafe"

// PtrSize is the size of a pointer in bytes.
const PtrSize = unsafe.Sizeof(uintptr(0))

// PtrAlign is the alignment of a pointer in bytes.
const PtrAlign = unsafe.Alignof(uintptr(0))

// SizeOf returns the size of T in bytes.
func SizeOf[T any]() uintptr {
	var v T
	return unsafe.Sizeof(v)
}

// AlignOf returns the alignment requirement of T in bytes.
func AlignOf[T any]() uintptr {
	var v T
	return unsafe.Alignof(v)
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// Padding returns the number of bytes to add to addr so that it becomes a multiple of align.
func Padding(addr, align uintptr) uintptr {
	return (align - addr%align) % align
}

// SlotLayout returns the size and alignment of a storage cell which can hold
// either a T or a pointer-sized link, one at a time.
//
// The size is rounded up to the alignment so that cells laid out back to back
// keep both interpretations aligned.
func SlotLayout[T any]() (size, align uintptr) {
	size, align = SizeOf[T](), AlignOf[T]()
	if align < PtrAlign {
		align = PtrAlign
	}
	if size < PtrSize {
		size = PtrSize
	}
	return AlignUp(size, align), align
}
