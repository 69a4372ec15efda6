// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cockroachdb/cuckoo/bitmap"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var bitmapFlags bitmapConfig

func init() {
	cmd := newBitmapCmd()
	cmd.Flags().IntVar(&bitmapFlags.Bits, "bits", 4097, "Bits per bitmap")
	cmd.Flags().IntVar(&bitmapFlags.Ops, "ops", 10000, "Range operations per worker")
	cmd.Flags().IntVar(&bitmapFlags.Workers, "workers", 4, "Number of workers, each with its own bitmap")
	cmd.Flags().BoolVar(&bitmapFlags.Mapped, "mapped", false, "Back bitmaps with anonymous memory mappings")
	cmd.Flags().Int64Var(&bitmapFlags.Seed, "seed", 42, "Seed for range selection")
	rootCmd.AddCommand(cmd)
}

func newBitmapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bitmap",
		Short: "Stress flat bitmaps",
		Long: `The bitmap command applies random range sets and clears to bitmaps and
cross-checks counts, searches and runs against a bit-by-bit reference.

Example:
  cuckoostress bitmap --bits 65 --ops 100000
  cuckoostress bitmap --bits 1000000 --mapped`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBitmapCmd(cmd.Context())
		},
	}
	return cmd
}

type bitmapConfig struct {
	Bits    int
	Ops     int
	Workers int
	Mapped  bool
	Seed    int64
}

type bitmapResult struct {
	Worker          int           `json:"worker"`
	Set             int           `json:"set"`
	LongestSetRun   int           `json:"longest_set_run"`
	LongestUnsetRun int           `json:"longest_unset_run"`
	Elapsed         time.Duration `json:"elapsed_ns"`
}

func runBitmapCmd(ctx context.Context) error {
	cfg := bitmapFlags
	if cfg.Bits <= 0 || cfg.Bits > bitmap.MaxBits {
		return fmt.Errorf("--bits must be in [1, %d]", bitmap.MaxBits)
	}
	if cfg.Ops < 0 || cfg.Workers <= 0 {
		return fmt.Errorf("--ops must be non-negative and --workers positive")
	}

	results, err := runBitmap(ctx, cfg)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(results)
	}
	for _, r := range results {
		printInfo("worker %d: set=%d longest-set=%d longest-unset=%d (%s)\n",
			r.Worker, r.Set, r.LongestSetRun, r.LongestUnsetRun, r.Elapsed)
	}
	return nil
}

func runBitmap(ctx context.Context, cfg bitmapConfig) ([]bitmapResult, error) {
	results := make([]bitmapResult, cfg.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Workers {
		g.Go(func() error {
			r, err := stressBitmap(ctx, w, cfg)
			results[w] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func stressBitmap(ctx context.Context, worker int, cfg bitmapConfig) (bitmapResult, error) {
	start := time.Now()
	res := bitmapResult{Worker: worker}

	var b bitmap.Bitmap
	if cfg.Mapped {
		m, err := bitmap.NewMapped(cfg.Bits)
		if err != nil {
			return res, fmt.Errorf("worker %d: %w", worker, err)
		}
		defer m.Close()
		b = m.Bitmap
	} else {
		b = bitmap.New(cfg.Bits)
	}

	rng := rand.New(rand.NewSource(cfg.Seed + int64(worker)))
	ref := make([]bool, cfg.Bits)
	for op := 0; op < cfg.Ops; op++ {
		if op%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		// Short ranges dominate so that runs stay interesting.
		begin := rng.Intn(cfg.Bits)
		n := 1 + rng.Intn(min(cfg.Bits-begin, 1+rng.Intn(256)))
		set := rng.Intn(2) == 0
		if set {
			b.SetRange(begin, n)
		} else {
			b.UnsetRange(begin, n)
		}
		for i := begin; i < begin+n; i++ {
			ref[i] = set
		}

		probe := rng.Intn(cfg.Bits)
		if err := verifyBitmap(b, ref, probe); err != nil {
			return res, fmt.Errorf("worker %d op %d: %w", worker, op, err)
		}
	}

	res.Set = b.CountSet(0, cfg.Bits)
	res.LongestSetRun = b.LongestSetRun()
	res.LongestUnsetRun = b.LongestUnsetRun()
	res.Elapsed = time.Since(start)
	return res, nil
}

// verifyBitmap checks the bit at probe, the searches from probe and the
// population count against ref.
func verifyBitmap(b bitmap.Bitmap, ref []bool, probe int) error {
	if got := b.Get(probe); got != ref[probe] {
		return fmt.Errorf("bit %d: %t, expected %t", probe, got, ref[probe])
	}

	nextSet, nextUnset := len(ref), len(ref)
	for i := len(ref) - 1; i >= probe; i-- {
		if ref[i] {
			nextSet = i
		} else {
			nextUnset = i
		}
	}
	if got := b.FirstSetForward(probe); got != nextSet {
		return fmt.Errorf("first set from %d: %d, expected %d", probe, got, nextSet)
	}
	if got := b.FirstUnsetForward(probe); got != nextUnset {
		return fmt.Errorf("first unset from %d: %d, expected %d", probe, got, nextUnset)
	}

	prevSet, prevUnset := -1, -1
	for i := 0; i <= probe; i++ {
		if ref[i] {
			prevSet = i
		} else {
			prevUnset = i
		}
	}
	if got := b.FirstSetBackward(probe); got != prevSet {
		return fmt.Errorf("last set before %d: %d, expected %d", probe, got, prevSet)
	}
	if got := b.FirstUnsetBackward(probe); got != prevUnset {
		return fmt.Errorf("last unset before %d: %d, expected %d", probe, got, prevUnset)
	}

	var set int
	for _, v := range ref {
		if v {
			set++
		}
	}
	if got := b.CountSet(0, len(ref)); got != set {
		return fmt.Errorf("set count %d, expected %d", got, set)
	}
	if got := b.CountUnset(0, len(ref)); got != len(ref)-set {
		return fmt.Errorf("unset count %d, expected %d", got, len(ref)-set)
	}
	return nil
}
