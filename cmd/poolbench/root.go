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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/containerd/log"
	"github.com/docker/go-units"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cloudwego/mempool/internal/bench"
)

type options struct {
	cfg *bench.Config

	blockSize   string
	arenaSize   string
	metricsAddr string
	logLevel    string
	logFormat   string
}

func newRootCommand() *cobra.Command {
	opts := &options{cfg: bench.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "poolbench [OPTIONS]",
		Short: "Compare a pool allocated stack against the Go heap and a dynamic array",
		Long: `poolbench pushes and pops integers on stacks backed by different allocation
strategies and reports how long each one takes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	installFlags(cmd.Flags(), opts)
	return cmd
}

func installFlags(flags *pflag.FlagSet, opts *options) {
	cfg := opts.cfg
	flags.IntVarP(&cfg.Elems, "elems", "n", cfg.Elems, "Elements pushed and popped per repetition")
	flags.IntVarP(&cfg.Reps, "reps", "r", cfg.Reps, "Repetitions per strategy")
	flags.StringSliceVarP(&cfg.Strategies, "strategy", "s", cfg.Strategies, "Strategies to run (heap, pool, slice)")
	flags.StringVar(&cfg.Source, "source", cfg.Source, "Pool block source (heap, cache, mmap, arena)")
	flags.BoolVar(&cfg.Parallel, "parallel", cfg.Parallel, "Run strategies concurrently, one pool each")
	flags.StringVar(&opts.blockSize, "block-size", units.BytesSize(float64(cfg.BlockSize)), "Pool block size")
	flags.StringVar(&opts.arenaSize, "arena-size", units.BytesSize(float64(cfg.ArenaSize)), "Arena size for the arena source")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve pool metrics on this address while running")
	flags.StringVarP(&opts.logLevel, "log-level", "l", "info", `Set the logging level ("trace"|"debug"|"info"|"warn"|"error"|"fatal"|"panic")`)
	flags.StringVar(&opts.logFormat, "log-format", string(log.TextFormat), `Set the logging format ("text"|"json")`)
}

// setup applies the flags which need parsing.
func (o *options) setup() error {
	if err := log.SetLevel(o.logLevel); err != nil {
		return pkgerrors.Wrap(err, "invalid log level")
	}
	if err := log.SetFormat(log.OutputFormat(o.logFormat)); err != nil {
		return pkgerrors.Wrap(err, "invalid log format")
	}
	blockSize, err := units.RAMInBytes(o.blockSize)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid block size %q", o.blockSize)
	}
	arenaSize, err := units.RAMInBytes(o.arenaSize)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid arena size %q", o.arenaSize)
	}
	o.cfg.BlockSize = int(blockSize)
	o.cfg.ArenaSize = int(arenaSize)
	return pkgerrors.Wrap(o.cfg.Validate(), "invalid configuration")
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	var reg prometheus.Registerer
	if opts.metricsAddr != "" {
		r := prometheus.NewRegistry()
		defer serveMetrics(ctx, opts.metricsAddr, r)()
		reg = r
	}

	runner, err := bench.NewRunner(opts.cfg, reg)
	if err != nil {
		return err
	}
	results, err := runner.Run(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "benchmark failed")
	}
	return printResults(out, results)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) (stop func()) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.G(ctx).WithError(err).WithField("addr", addr).Error("metrics server failed")
		}
	}()
	log.G(ctx).WithField("addr", addr).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printResults(out io.Writer, results []bench.Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tTIME\tNS/OP\tBLOCKS\tSLOTS")
	for _, r := range results {
		blocks, slots := "-", "-"
		if r.Pool != nil {
			blocks = fmt.Sprint(r.Pool.Blocks)
			slots = fmt.Sprint(r.Pool.Carved)
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n", r.Strategy, r.Elapsed.Round(time.Microsecond), r.NsPerOp(), blocks, slots)
	}
	return w.Flush()
}
