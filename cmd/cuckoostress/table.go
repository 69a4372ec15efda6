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
	"log/slog"
	"math/rand"
	"time"

	"github.com/cockroachdb/cuckoo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var tableFlags tableConfig

func init() {
	cmd := newTableCmd()
	cmd.Flags().IntVar(&tableFlags.Items, "items", 100000, "Keys per worker")
	cmd.Flags().IntVar(&tableFlags.MinItems, "min-items", 16, "Initial table capacity hint")
	cmd.Flags().IntVar(&tableFlags.Workers, "workers", 4, "Number of workers, each with its own table")
	cmd.Flags().IntVar(&tableFlags.Rounds, "rounds", 4, "Insert/remove rounds per worker")
	cmd.Flags().StringVar(&tableFlags.Hash, "hash", "avalanche", fmt.Sprintf("Key hash, one of %v", hasherNames))
	cmd.Flags().Uint64Var(&tableFlags.Seed, "seed", 42, "Seed for key selection and the table PRNG")
	rootCmd.AddCommand(cmd)
}

func newTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Stress cuckoo hash tables",
		Long: `The table command runs independent workers, each owning one table. Every
round inserts all absent keys, verifies every key, then removes a random
subset and verifies again. The final round removes everything.

Example:
  cuckoostress table --items 1000000 --workers 8
  cuckoostress table --hash xxh3 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableCmd(cmd.Context())
		},
	}
	return cmd
}

type tableConfig struct {
	Items    int
	MinItems int
	Workers  int
	Rounds   int
	Hash     string
	Seed     uint64
}

type tableResult struct {
	Worker       int            `json:"worker"`
	Inserted     int            `json:"inserted"`
	Removed      int            `json:"removed"`
	PeakCapacity int            `json:"peak_capacity"`
	Capacity     int            `json:"capacity"`
	Metrics      cuckoo.Metrics `json:"metrics"`
	Elapsed      time.Duration  `json:"elapsed_ns"`
}

func runTableCmd(ctx context.Context) error {
	cfg := tableFlags
	if cfg.Items <= 0 || cfg.Workers <= 0 || cfg.Rounds <= 0 {
		return fmt.Errorf("--items, --workers and --rounds must be positive")
	}
	if _, err := newHasher(cfg.Hash, cfg.Seed); err != nil {
		return err
	}

	results, err := runTable(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(results)
	}

	var total cuckoo.Metrics
	for _, r := range results {
		printInfo("worker %d: inserted=%d removed=%d peak-capacity=%d grows=%d shrinks=%d shrink-fails=%d relocations=%d (%s)\n",
			r.Worker, r.Inserted, r.Removed, r.PeakCapacity, r.Metrics.Grows, r.Metrics.Shrinks,
			r.Metrics.ShrinkFails, r.Metrics.Relocations, r.Elapsed)
		total.Grows += r.Metrics.Grows
		total.Shrinks += r.Metrics.Shrinks
		total.ShrinkFails += r.Metrics.ShrinkFails
		total.Inserts += r.Metrics.Inserts
		total.Relocations += r.Metrics.Relocations
	}
	printInfo("total: inserts=%d grows=%d shrinks=%d shrink-fails=%d relocations=%d\n",
		total.Inserts, total.Grows, total.Shrinks, total.ShrinkFails, total.Relocations)
	return nil
}

// runTable runs cfg.Workers independent table workloads concurrently. The
// first failure cancels the remaining workers.
func runTable(ctx context.Context, cfg tableConfig, logger *slog.Logger) ([]tableResult, error) {
	results := make([]tableResult, cfg.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Workers {
		g.Go(func() error {
			r, err := stressTable(ctx, w, cfg, logger)
			results[w] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func stressTable(ctx context.Context, worker int, cfg tableConfig, logger *slog.Logger) (tableResult, error) {
	start := time.Now()
	res := tableResult{Worker: worker}
	seed := cfg.Seed + uint64(worker)

	h, err := newHasher(cfg.Hash, seed)
	if err != nil {
		return res, err
	}
	m, err := cuckoo.New[string, int](cfg.MinItems, h,
		cuckoo.WithSeed[string, int](seed),
		cuckoo.WithMetrics[string, int](),
		cuckoo.WithLogger[string, int](logger.With("worker", worker)))
	if err != nil {
		return res, fmt.Errorf("worker %d: %w", worker, err)
	}
	defer m.Close()

	rng := rand.New(rand.NewSource(int64(seed)))
	keys := make([]string, cfg.Items)
	vals := make([]int, cfg.Items)
	present := make([]bool, cfg.Items)
	for i := range keys {
		keys[i] = fmt.Sprintf("w%d-%d", worker, i)
		vals[i] = i
	}

	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		for i := range keys {
			if present[i] {
				continue
			}
			if err := m.Insert(&keys[i], &vals[i]); err != nil {
				return res, fmt.Errorf("worker %d: inserting %q: %w", worker, keys[i], err)
			}
			present[i] = true
			res.Inserted++
		}
		res.PeakCapacity = max(res.PeakCapacity, m.Capacity())
		if err := verifyTable(m, keys, vals, present); err != nil {
			return res, fmt.Errorf("worker %d round %d after insert: %w", worker, round, err)
		}

		last := round == cfg.Rounds-1
		for i := range keys {
			if !last && rng.Intn(4) == 0 {
				continue
			}
			if _, _, ok := m.Remove(&keys[i]); !ok {
				return res, fmt.Errorf("worker %d round %d: %q missing", worker, round, keys[i])
			}
			present[i] = false
			res.Removed++
		}
		if err := verifyTable(m, keys, vals, present); err != nil {
			return res, fmt.Errorf("worker %d round %d after remove: %w", worker, round, err)
		}
	}

	res.Capacity = m.Capacity()
	res.Metrics = m.Metrics()
	res.Elapsed = time.Since(start)
	return res, nil
}

// verifyTable checks m against the reference presence set.
func verifyTable(m *cuckoo.Table[string, int], keys []string, vals []int, present []bool) error {
	var n int
	for i := range keys {
		_, v, ok := m.Search(&keys[i])
		if ok != present[i] {
			return fmt.Errorf("key %q: found=%t, expected %t", keys[i], ok, present[i])
		}
		if ok && v != &vals[i] {
			return fmt.Errorf("key %q: data %d, expected %d", keys[i], *v, vals[i])
		}
		if present[i] {
			n++
		}
	}
	if m.Len() != n {
		return fmt.Errorf("len %d, expected %d", m.Len(), n)
	}
	var iterated int
	m.All(func(*string, *int) bool {
		iterated++
		return true
	})
	if iterated != n {
		return fmt.Errorf("iterated %d entries, expected %d", iterated, n)
	}
	return nil
}
