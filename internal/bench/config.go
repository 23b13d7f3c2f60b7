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

// Package bench times stack workloads over different allocation strategies.
package bench

import (
	"errors"
	"fmt"

	"github.com/cloudwego/mempool/mempool"
	"github.com/cloudwego/mempool/unsafex"
	"github.com/cloudwego/mempool/unsafex/malloc"
)

// Strategies
const (
	StrategyHeap  = "heap"  // linked stack, nodes from the Go heap
	StrategyPool  = "pool"  // linked stack, nodes from a mempool.Pool
	StrategySlice = "slice" // dynamic array
)

// Sources
const (
	SourceHeap  = "heap"
	SourceCache = "cache"
	SourceMmap  = "mmap"
	SourceArena = "arena"
)

// Config ...
type Config struct {
	// Elems is the number of elements pushed then popped in each repetition.
	// It's rounded down to a multiple of 4.
	Elems int

	// Reps is the number of repetitions per strategy.
	Reps int

	// Strategies to run, in order.
	Strategies []string

	// BlockSize is the pool block size in bytes.
	BlockSize int

	// Source is where pool blocks come from.
	Source string

	// ArenaSize is the arena size in bytes when Source is "arena".
	ArenaSize int

	// Parallel runs strategies concurrently, each with its own pool.
	Parallel bool
}

// DefaultConfig returns the default values of Config.
func DefaultConfig() *Config {
	return &Config{
		Elems:      1000000,
		Reps:       50,
		Strategies: []string{StrategyHeap, StrategyPool, StrategySlice},
		BlockSize:  mempool.DefaultBlockSize,
		Source:     SourceHeap,
		ArenaSize:  256 << 20,
	}
}

// Validate ...
func (c *Config) Validate() error {
	if c.Elems < 4 {
		return fmt.Errorf("elems must be >= 4, got %d", c.Elems)
	}
	if c.Reps <= 0 {
		return fmt.Errorf("reps must be > 0, got %d", c.Reps)
	}
	if len(c.Strategies) == 0 {
		return errors.New("no strategy to run")
	}
	for _, s := range c.Strategies {
		switch s {
		case StrategyHeap, StrategyPool, StrategySlice:
		default:
			return fmt.Errorf("unknown strategy %q", s)
		}
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be > 0, got %d", c.BlockSize)
	}
	switch c.Source {
	case SourceHeap, SourceCache, SourceMmap:
	case SourceArena:
		if c.BlockSize%int(unsafex.PtrSize) != 0 {
			return fmt.Errorf("block size (%d) must be a multiple of %d with the arena source", c.BlockSize, unsafex.PtrSize)
		}
		if c.ArenaSize < c.BlockSize {
			return fmt.Errorf("arena size (%d) must be >= block size (%d)", c.ArenaSize, c.BlockSize)
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	return nil
}

// newSource creates the block source named by c.Source.
func (c *Config) newSource() (malloc.Source, error) {
	switch c.Source {
	case SourceHeap:
		return malloc.HeapSource{}, nil
	case SourceCache:
		return malloc.CacheSource{}, nil
	case SourceMmap:
		return malloc.MmapSource{}, nil
	case SourceArena:
		return malloc.NewArenaSource(make([]byte, c.ArenaSize), c.BlockSize)
	}
	return nil, fmt.Errorf("unknown source %q", c.Source)
}
