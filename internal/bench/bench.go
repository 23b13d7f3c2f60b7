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

package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/log"
	"github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/mempool/container/stack"
	"github.com/cloudwego/mempool/internal/poolmetrics"
	"github.com/cloudwego/mempool/mempool"
	"github.com/cloudwego/mempool/unsafex/malloc"
)

// Result is the outcome of running one strategy.
type Result struct {
	Strategy string
	Elapsed  time.Duration
	Ops      int // pushes plus pops

	// set for StrategyPool only
	Pool         *mempool.Stats
	SourceAllocs int
}

// NsPerOp ...
func (r Result) NsPerOp() float64 {
	if r.Ops == 0 {
		return 0
	}
	return float64(r.Elapsed.Nanoseconds()) / float64(r.Ops)
}

type intStack interface {
	Push(v int) error
	Pop() (int, bool)
	Empty() bool
}

// sliceStack is the dynamic array baseline.
type sliceStack struct {
	items []int
}

func (s *sliceStack) Push(v int) error {
	s.items = append(s.items, v)
	return nil
}

func (s *sliceStack) Pop() (int, bool) {
	n := len(s.items)
	if n == 0 {
		return 0, false
	}
	v := s.items[n-1]
	s.items = s.items[:n-1]
	return v, true
}

func (s *sliceStack) Empty() bool { return len(s.items) == 0 }

// Runner runs the configured strategies.
type Runner struct {
	cfg *Config

	// reg receives a collector for every pool while it's in use. May be nil.
	reg prometheus.Registerer
}

// NewRunner ...
func NewRunner(cfg *Config, reg prometheus.Registerer) (*Runner, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, reg: reg}, nil
}

// Run runs every strategy and returns results in configuration order.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	log.G(ctx).WithFields(log.Fields{
		"elems":      r.cfg.Elems,
		"reps":       r.cfg.Reps,
		"block_size": units.BytesSize(float64(r.cfg.BlockSize)),
		"source":     r.cfg.Source,
		"parallel":   r.cfg.Parallel,
	}).Info("starting benchmark")

	results := make([]Result, len(r.cfg.Strategies))
	if !r.cfg.Parallel {
		for i, s := range r.cfg.Strategies {
			res, err := r.runStrategy(ctx, s)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
		return results, nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i, s := range r.cfg.Strategies {
		i, s := i, s
		eg.Go(func() error {
			res, err := r.runStrategy(ctx, s)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) runStrategy(ctx context.Context, strategy string) (Result, error) {
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("strategy", strategy))

	var res Result
	var err error
	switch strategy {
	case StrategyHeap:
		res, err = r.runStack(ctx, stack.NewWithHeap[int]())
	case StrategySlice:
		res, err = r.runStack(ctx, &sliceStack{})
	case StrategyPool:
		res, err = r.runPool(ctx)
	default:
		err = fmt.Errorf("unknown strategy %q", strategy)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", strategy, err)
	}
	res.Strategy = strategy

	log.G(ctx).WithFields(log.Fields{
		"elapsed": res.Elapsed,
		"ns_op":   fmt.Sprintf("%.2f", res.NsPerOp()),
	}).Info("strategy finished")
	return res, nil
}

func (r *Runner) runPool(ctx context.Context) (Result, error) {
	base, err := r.cfg.newSource()
	if err != nil {
		return Result{}, err
	}
	src, err := malloc.NewLimitSource(base, 0)
	if err != nil {
		return Result{}, err
	}
	p, err := mempool.New[stack.Node[int]](&mempool.Option{BlockSize: r.cfg.BlockSize, Source: src})
	if err != nil {
		return Result{}, err
	}
	defer p.Release()

	if r.reg != nil {
		c := poolmetrics.NewCollector(StrategyPool, p.Stats)
		if err := r.reg.Register(c); err != nil {
			log.G(ctx).WithError(err).Warn("pool metrics not registered")
		} else {
			defer r.reg.Unregister(c)
		}
	}

	res, err := r.runStack(ctx, stack.New[int](p))
	if err != nil {
		return Result{}, err
	}
	st := p.Stats()
	res.Pool = &st
	res.SourceAllocs = src.Allocs()
	log.G(ctx).WithFields(log.Fields{
		"blocks":          st.Blocks,
		"slots_per_block": st.SlotsPerBlock,
		"carved":          st.Carved,
		"free":            st.Free,
		"memory":          units.BytesSize(float64(src.InUse())),
	}).Debug("pool stats")
	return res, nil
}

// runStack pushes then pops Elems values Reps times, unrolled by 4.
func (r *Runner) runStack(ctx context.Context, s intStack) (Result, error) {
	n := r.cfg.Elems / 4
	start := time.Now()
	for j := 0; j < r.cfg.Reps; j++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if !s.Empty() {
			return Result{}, fmt.Errorf("stack not empty at repetition %d", j)
		}
		for i := 0; i < n; i++ {
			if err := push4(s, i); err != nil {
				return Result{}, fmt.Errorf("push at repetition %d: %w", j, err)
			}
		}
		for i := 0; i < n; i++ {
			s.Pop()
			s.Pop()
			s.Pop()
			s.Pop()
		}
		log.G(ctx).WithField("rep", j).Trace("repetition done")
	}
	return Result{
		Elapsed: time.Since(start),
		Ops:     2 * 4 * n * r.cfg.Reps,
	}, nil
}

func push4(s intStack, v int) error {
	if err := s.Push(v); err != nil {
		return err
	}
	if err := s.Push(v); err != nil {
		return err
	}
	if err := s.Push(v); err != nil {
		return err
	}
	return s.Push(v)
}
