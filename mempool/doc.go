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

// Package mempool implements a fixed-size object pool.
//
// A Pool[T] hands out storage for exactly one T per call. Storage is carved
// from large blocks obtained from a malloc.Source and freed slots are kept on
// a LIFO free list for reuse, so steady state allocation never touches the
// Source. Blocks are only given back to the Source by Release.
//
// Limitations:
//
//   - A Pool is not safe for concurrent use. Use one Pool per goroutine or
//     serialize access.
//   - Deallocating a pointer twice, or one not obtained from the same Pool,
//     corrupts the free list. It is not detected.
//   - Slots live in raw memory which is not scanned by GC. T must not hold
//     references to Go heap memory, New fails with ErrPointerType otherwise.
//     A *T field linking slots of the same Pool is allowed.
package mempool
