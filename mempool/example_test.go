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

import "fmt"

func Example() {
	type point struct {
		x, y int64
	}
	p, _ := New[point](&Option{BlockSize: 256})
	defer p.Release()

	a, _ := p.NewElement(point{1, 2})
	b, _ := p.NewElement(point{3, 4})
	fmt.Println(*a, *b)

	p.DeleteElement(a)
	c, _ := p.NewElement(point{5, 6})
	fmt.Println(c == a)

	st := p.Stats()
	fmt.Printf("blocks=%d slots/block=%d inuse=%d\n", st.Blocks, st.SlotsPerBlock, st.InUse)

	// Output:
	// {1 2} {3 4}
	// true
	// blocks=1 slots/block=15 inuse=2
}
