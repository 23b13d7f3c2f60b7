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

// Package poolmetrics exports mempool statistics to prometheus.
package poolmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudwego/mempool/mempool"
)

const namespace = "mempool"

// StatsFunc returns a snapshot of a pool, usually (*mempool.Pool[T]).Stats.
type StatsFunc func() mempool.Stats

// Collector reports the stats of one pool, labeled with its name.
// The pool is read at scrape time, the caller must make sure that's not
// concurrent with pool operations.
type Collector struct {
	stats StatsFunc

	blocks     *prometheus.Desc
	blockBytes *prometheus.Desc
	carved     *prometheus.Desc
	inuse      *prometheus.Desc
	free       *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector ...
func NewCollector(pool string, stats StatsFunc) *Collector {
	labels := prometheus.Labels{"pool": pool}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}
	return &Collector{
		stats:      stats,
		blocks:     desc("blocks", "Blocks acquired from the memory source."),
		blockBytes: desc("block_bytes", "Bytes held in acquired blocks."),
		carved:     desc("slots_carved", "Distinct slots carved from blocks."),
		inuse:      desc("slots_in_use", "Slots currently held by callers."),
		free:       desc("slots_free", "Slots on the free list."),
	}
}

// Describe ...
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blocks
	ch <- c.blockBytes
	ch <- c.carved
	ch <- c.inuse
	ch <- c.free
}

// Collect ...
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(st.Blocks))
	ch <- prometheus.MustNewConstMetric(c.blockBytes, prometheus.GaugeValue, float64(st.Blocks*st.BlockSize))
	ch <- prometheus.MustNewConstMetric(c.carved, prometheus.GaugeValue, float64(st.Carved))
	ch <- prometheus.MustNewConstMetric(c.inuse, prometheus.GaugeValue, float64(st.InUse))
	ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(st.Free))
}
