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
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/mempool/unsafex"
	"github.com/cloudwego/mempool/unsafex/malloc"
)

func TestNew(t *testing.T) {
	p, err := New[int64](nil)
	require.NoError(t, err)
	st := p.Stats()
	assert.Equal(t, DefaultBlockSize, st.BlockSize)
	assert.Equal(t, 0, st.Blocks)

	p, err = New[int64](&Option{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBlockSize, p.Stats().BlockSize)

	tests := []struct {
		name      string
		blockSize int
		wantErr   bool
	}{
		{"two_slots", 16, false},
		{"one_slot", 8, true},
		{"negative", -64, true},
		{"large", 1 << 20, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New[int64](&Option{BlockSize: tt.blockSize})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBlockSize)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err = New[[40]byte](&Option{BlockSize: 64})
	assert.ErrorIs(t, err, ErrBlockSize)
}

func TestBlockCarving(t *testing.T) {
	src := newTestSource(t, malloc.HeapSource{}, 0)
	p, err := New[int64](&Option{BlockSize: 64, Source: src})
	require.NoError(t, err)

	st := p.Stats()
	require.Equal(t, 8, st.SlotSize)
	require.Equal(t, 7, st.SlotsPerBlock)

	// nothing is acquired before the first allocation
	assert.Equal(t, 0, src.Allocs())

	ptrs := make([]*int64, 0, 10)
	for i := 0; i < 10; i++ {
		ptr, err := p.Allocate(1, nil)
		require.NoError(t, err)
		*ptr = int64(i)
		ptrs = append(ptrs, ptr)
	}
	assert.Equal(t, 2, src.Allocs())
	assert.Equal(t, 2, p.Stats().Blocks)
	assert.Equal(t, 10, p.Stats().Carved)
	assert.Equal(t, 10, p.Stats().InUse)

	for i, ptr := range ptrs {
		assert.Equal(t, int64(i), *ptr)
	}

	for i := len(ptrs) - 1; i >= 0; i-- {
		p.Deallocate(ptrs[i], 1)
	}
	assert.Equal(t, 10, p.Stats().Free)
	assert.Equal(t, 0, p.Stats().InUse)

	for i := 0; i < 10; i++ {
		_, err := p.Allocate(1, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.Allocs())
	assert.Equal(t, 10, p.Stats().Carved)
	assert.Equal(t, 0, p.Stats().Free)
}

func TestSlotsWithinBlock(t *testing.T) {
	p, err := New[int64](&Option{BlockSize: 64})
	require.NoError(t, err)

	var ptrs []*int64
	for i := 0; i < 7; i++ {
		ptr, err := p.Allocate(1, nil)
		require.NoError(t, err)
		ptrs = append(ptrs, ptr)
	}
	require.Equal(t, 1, p.Stats().Blocks)

	block := p.blocks[0]
	start := uintptr(unsafe.Pointer(&block[0]))
	for i, ptr := range ptrs {
		off := uintptr(unsafe.Pointer(ptr)) - start
		// slots follow the header back to back
		assert.Equal(t, blockHeaderSize+uintptr(i)*8, off)
		assert.LessOrEqual(t, off+8, uintptr(len(block)))
	}
}

func TestFreeListLIFO(t *testing.T) {
	p, err := New[int64](nil)
	require.NoError(t, err)

	a, err := p.Allocate(1, nil)
	require.NoError(t, err)
	b, err := p.Allocate(1, nil)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	p.Deallocate(a, 1)
	p.Deallocate(b, 1)

	x, err := p.Allocate(1, nil)
	require.NoError(t, err)
	y, err := p.Allocate(1, nil)
	require.NoError(t, err)
	assert.Equal(t, b, x)
	assert.Equal(t, a, y)
}

func TestDeallocateNil(t *testing.T) {
	p, err := New[int64](nil)
	require.NoError(t, err)

	a, err := p.Allocate(1, nil)
	require.NoError(t, err)
	p.Deallocate(a, 1)

	p.Deallocate(nil, 1)
	p.DeleteElement(nil)
	assert.Equal(t, 1, p.Stats().Free)

	// the free list still hands out a first
	x, err := p.Allocate(1, nil)
	require.NoError(t, err)
	assert.Equal(t, a, x)

	y, err := p.Allocate(1, nil)
	require.NoError(t, err)
	assert.NotEqual(t, x, y)
}

func TestAllocateIgnoresCountAndHint(t *testing.T) {
	p, err := New[int64](&Option{BlockSize: 64})
	require.NoError(t, err)

	a, err := p.Allocate(5, nil)
	require.NoError(t, err)
	b, err := p.Allocate(0, a)
	require.NoError(t, err)
	assert.Equal(t, uintptr(8), uintptr(unsafe.Pointer(b))-uintptr(unsafe.Pointer(a)))
	assert.Equal(t, 2, p.Stats().Carved)
}

type oddStruct struct {
	a int64
	b byte
}

func TestAlignment(t *testing.T) {
	testAlignment[byte](t)
	testAlignment[[3]byte](t)
	testAlignment[[12]byte](t)
	testAlignment[int32](t)
	testAlignment[oddStruct](t)
	testAlignment[struct{}](t)
}

func testAlignment[T any](t *testing.T) {
	t.Helper()
	p, err := New[T](&Option{BlockSize: 256})
	require.NoError(t, err)
	align := unsafex.AlignOf[T]()
	for i := 0; i < 100; i++ {
		ptr, err := p.Allocate(1, nil)
		require.NoError(t, err)
		assert.Zero(t, uintptr(unsafe.Pointer(ptr))%align)
		assert.Zero(t, uintptr(unsafe.Pointer(ptr))%unsafex.PtrAlign)
	}
}

func TestAllocationFailure(t *testing.T) {
	src := newTestSource(t, malloc.HeapSource{}, 2*64)
	p, err := New[int64](&Option{BlockSize: 64, Source: src})
	require.NoError(t, err)

	var ptrs []*int64
	for i := 0; i < 14; i++ {
		ptr, err := p.Allocate(1, nil)
		require.NoError(t, err)
		ptrs = append(ptrs, ptr)
	}

	_, err = p.Allocate(1, nil)
	assert.ErrorIs(t, err, ErrAllocationFailure)
	assert.ErrorIs(t, err, malloc.ErrOutOfMemory)

	_, err = p.NewElement(1)
	assert.ErrorIs(t, err, ErrAllocationFailure)

	// a failed acquisition leaves the pool as it was
	st := p.Stats()
	assert.Equal(t, 2, st.Blocks)
	assert.Equal(t, 14, st.InUse)

	// freed slots can still be handed out
	p.Deallocate(ptrs[3], 1)
	ptr, err := p.Allocate(1, nil)
	require.NoError(t, err)
	assert.Equal(t, ptrs[3], ptr)
}

type badSource struct {
	shift int
	short int
	freed int
}

func (s *badSource) Alloc(size int) ([]byte, error) {
	b := make([]byte, size+s.shift)
	return b[s.shift : size+s.shift-s.short], nil
}

func (s *badSource) Free([]byte) { s.freed++ }

func TestBadSource(t *testing.T) {
	tests := []struct {
		name string
		src  *badSource
	}{
		{"misaligned", &badSource{shift: 1}},
		{"short", &badSource{short: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New[int64](&Option{BlockSize: 64, Source: tt.src})
			require.NoError(t, err)
			_, err = p.Allocate(1, nil)
			assert.ErrorIs(t, err, ErrAllocationFailure)
			assert.Equal(t, 1, tt.src.freed)
			assert.Equal(t, 0, p.Stats().Blocks)
		})
	}
}

func TestRelease(t *testing.T) {
	arena, err := malloc.NewArenaSource(make([]byte, 8*64+8), 64)
	require.NoError(t, err)
	src := newTestSource(t, arena, 0)
	available := arena.Available()

	p, err := New[int64](&Option{BlockSize: 64, Source: src})
	require.NoError(t, err)

	// empty pools have nothing to release
	p.Release()
	assert.Equal(t, 0, src.Frees())

	for i := 0; i < 20; i++ {
		_, err := p.Allocate(1, nil)
		require.NoError(t, err)
	}
	require.Equal(t, 3, src.Allocs())

	// the arena panics if a chunk is freed twice
	require.NotPanics(t, p.Release)
	assert.Equal(t, 3, src.Frees())
	assert.Equal(t, 0, src.InUse())
	assert.Equal(t, available, arena.Available())
	assert.Equal(t, Stats{BlockSize: 64, SlotSize: 8, SlotAlign: int(unsafex.PtrAlign), SlotsPerBlock: 7}, p.Stats())

	// a released pool can be used again
	ptr, err := p.NewElement(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), *ptr)
	assert.Equal(t, 4, src.Allocs())
	p.Release()
	assert.Equal(t, 4, src.Frees())
}

func TestBlockChain(t *testing.T) {
	p, err := New[int64](&Option{BlockSize: 64})
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, err := p.Allocate(1, nil)
		require.NoError(t, err)
	}
	require.Equal(t, 5, len(p.blocks))

	// the chain links every block to the one acquired before it
	i := len(p.blocks) - 1
	for blk := p.currentBlock; blk != nil; blk = prevBlock(blk) {
		assert.Equal(t, unsafe.Pointer(&p.blocks[i][0]), blk)
		i--
	}
	assert.Equal(t, -1, i)
}

func TestElementLifecycle(t *testing.T) {
	type pair struct {
		k, v int
	}
	p, err := New[pair](nil)
	require.NoError(t, err)

	e, err := p.NewElement(pair{1, 2})
	require.NoError(t, err)
	assert.Equal(t, pair{1, 2}, *e)
	assert.Equal(t, e, p.Address(e))

	ptr, err := p.Allocate(1, nil)
	require.NoError(t, err)
	p.Construct(ptr, pair{3, 4})
	assert.Equal(t, pair{3, 4}, *ptr)
	p.Destroy(ptr)
	assert.Equal(t, pair{}, *ptr)
	p.Deallocate(ptr, 1)

	p.DeleteElement(e)
	st := p.Stats()
	assert.Equal(t, 0, st.InUse)
	assert.Equal(t, 2, st.Free)

	// most recently deleted first
	x, err := p.Allocate(1, nil)
	require.NoError(t, err)
	assert.Equal(t, e, x)
}

func TestClone(t *testing.T) {
	src := newTestSource(t, malloc.HeapSource{}, 0)
	p, err := New[int64](&Option{BlockSize: 64, Source: src})
	require.NoError(t, err)
	a, err := p.Allocate(1, nil)
	require.NoError(t, err)
	p.Deallocate(a, 1)

	c := p.Clone()
	st := c.Stats()
	assert.Equal(t, 0, st.Blocks)
	assert.Equal(t, 0, st.Free)
	assert.Equal(t, 64, st.BlockSize)

	// the clone does not see p's free slot
	x, err := c.Allocate(1, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, x)
	assert.Equal(t, 2, src.Allocs())
	assert.Equal(t, 1, p.Stats().Free)

	c.Release()
	assert.Equal(t, 1, p.Stats().Blocks)
}

func TestRebind(t *testing.T) {
	p, err := New[int64](&Option{BlockSize: 64})
	require.NoError(t, err)
	_, err = p.Allocate(1, nil)
	require.NoError(t, err)

	q, err := Rebind[int32](p)
	require.NoError(t, err)
	st := q.Stats()
	assert.Equal(t, 0, st.Blocks)
	assert.Equal(t, 64, st.BlockSize)
	assert.Equal(t, int(unsafex.PtrSize), st.SlotSize)

	_, err = Rebind[[64]byte](p)
	assert.ErrorIs(t, err, ErrBlockSize)

	_, err = Rebind[string](p)
	assert.ErrorIs(t, err, ErrPointerType)
}

type link struct {
	v    int64
	next *link
}

func TestPointerTypes(t *testing.T) {
	type named struct {
		id   int
		name string
	}
	type nested struct {
		a [2]struct{ p *int }
	}
	type other struct {
		next *link
	}
	tests := []struct {
		name string
		newf func() error
	}{
		{"string", func() error { _, err := New[string](nil); return err }},
		{"slice", func() error { _, err := New[[]int](nil); return err }},
		{"map", func() error { _, err := New[map[int]int](nil); return err }},
		{"pointer", func() error { _, err := New[*int](nil); return err }},
		{"interface", func() error { _, err := New[any](nil); return err }},
		{"chan", func() error { _, err := New[chan int](nil); return err }},
		{"func", func() error { _, err := New[func()](nil); return err }},
		{"unsafe_pointer", func() error { _, err := New[unsafe.Pointer](nil); return err }},
		{"struct_field", func() error { _, err := New[named](nil); return err }},
		{"array_elem", func() error { _, err := New[nested](nil); return err }},
		{"foreign_link", func() error { _, err := New[other](nil); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.newf(), ErrPointerType)
		})
	}

	_, err := New[link](nil)
	assert.NoError(t, err)
	_, err = New[[0]*int](nil)
	assert.NoError(t, err)
	_, err = New[uintptr](nil)
	assert.NoError(t, err)
}

func TestLinksSurviveGC(t *testing.T) {
	const n = 20000
	p, err := New[link](&Option{BlockSize: 256})
	require.NoError(t, err)

	var head *link
	for i := 0; i < n; i++ {
		l, err := p.NewElement(link{v: int64(i), next: head})
		require.NoError(t, err)
		head = l
	}
	for i := 0; i < 3; i++ {
		runtime.GC()
		garbage := make([][]byte, 0, 1024)
		for j := 0; j < 1024; j++ {
			garbage = append(garbage, make([]byte, 64))
		}
		runtime.KeepAlive(garbage)
	}

	want := int64(n - 1)
	for l := head; l != nil; l = l.next {
		require.Equal(t, want, l.v)
		want--
	}
	assert.Equal(t, int64(-1), want)
	p.Release()
}

func TestMaxSize(t *testing.T) {
	p, err := New[int64](&Option{BlockSize: 64})
	require.NoError(t, err)
	want := (math.MaxInt / 64) * int((64-unsafex.PtrSize)/8)
	assert.Equal(t, want, p.MaxSize())

	assert.Equal(t, math.MaxInt/8, HeapAllocator[int64]{}.MaxSize())
	assert.Equal(t, math.MaxInt, HeapAllocator[struct{}]{}.MaxSize())
}

func TestHeapAllocator(t *testing.T) {
	var a Allocator[int] = HeapAllocator[int]{}
	p, err := a.Allocate(1, nil)
	require.NoError(t, err)
	a.Construct(p, 7)
	assert.Equal(t, 7, *p)
	a.Destroy(p)
	assert.Equal(t, 0, *p)
	a.Deallocate(p, 1)

	p, err = a.Allocate(4, nil)
	require.NoError(t, err)
	s := unsafe.Slice(p, 4)
	s[3] = 1
	assert.Equal(t, []int{0, 0, 0, 1}, s)
}

func TestSources(t *testing.T) {
	for name, src := range testSources(t) {
		t.Run(name, func(t *testing.T) {
			p, err := New[[3]int64](&Option{BlockSize: 4096, Source: src})
			require.NoError(t, err)
			var ptrs []*[3]int64
			for i := 0; i < 1000; i++ {
				ptr, err := p.NewElement([3]int64{int64(i), int64(i), int64(i)})
				require.NoError(t, err)
				ptrs = append(ptrs, ptr)
			}
			for i, ptr := range ptrs {
				require.Equal(t, [3]int64{int64(i), int64(i), int64(i)}, *ptr)
			}
			for _, ptr := range ptrs {
				p.DeleteElement(ptr)
			}
			p.Release()
		})
	}
}

// helpers

func newTestSource(t *testing.T, src malloc.Source, limit int) *malloc.LimitSource {
	t.Helper()
	s, err := malloc.NewLimitSource(src, limit)
	require.NoError(t, err)
	return s
}

func testSources(t *testing.T) map[string]malloc.Source {
	t.Helper()
	arena, err := malloc.NewArenaSource(make([]byte, 64*4096+8), 4096)
	require.NoError(t, err)
	srcs := map[string]malloc.Source{
		"heap":  malloc.HeapSource{},
		"cache": malloc.CacheSource{},
		"arena": arena,
	}
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
		srcs["mmap"] = malloc.MmapSource{}
	}
	return srcs
}

// benchmarks

func BenchmarkPoolAllocFree(b *testing.B) {
	p, _ := New[int64](nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr, _ := p.Allocate(1, nil)
		p.Deallocate(ptr, 1)
	}
}

func BenchmarkHeapAllocFree(b *testing.B) {
	var a HeapAllocator[int64]
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr, _ := a.Allocate(1, nil)
		a.Deallocate(ptr, 1)
	}
}
