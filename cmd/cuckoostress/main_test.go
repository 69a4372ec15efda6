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
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunTable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, hash := range hasherNames {
		t.Run(hash, func(t *testing.T) {
			cfg := tableConfig{Items: 2000, MinItems: 1, Workers: 3, Rounds: 3, Hash: hash, Seed: 7}
			results, err := runTable(context.Background(), cfg, logger)
			require.NoError(t, err)
			require.Len(t, results, cfg.Workers)
			for w, r := range results {
				require.Equal(t, w, r.Worker)
				require.Equal(t, r.Inserted, r.Removed)
				require.GreaterOrEqual(t, r.Inserted, cfg.Items)
				require.EqualValues(t, r.Inserted, r.Metrics.Inserts)
				require.NotZero(t, r.Metrics.Grows)
				require.Greater(t, r.PeakCapacity, r.Capacity)
			}
		})
	}
}

func TestRunTableCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := tableConfig{Items: 10, MinItems: 1, Workers: 2, Rounds: 1, Hash: "avalanche"}
	_, err := runTable(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewHasher(t *testing.T) {
	for _, name := range hasherNames {
		h, err := newHasher(name, 1)
		require.NoError(t, err)
		a, b := "key", string([]byte("key"))
		h0a, h1a := h.Hash(&a)
		h0b, h1b := h.Hash(&b)
		require.Equal(t, h0a, h0b, name)
		require.Equal(t, h1a, h1b, name)
		require.True(t, h.Equal(&a, &b))
	}
	_, err := newHasher("md5", 1)
	require.Error(t, err)
}

func TestRunBitmap(t *testing.T) {
	for _, mapped := range []bool{false, true} {
		for _, bits := range []int{1, 63, 64, 65, 4097} {
			cfg := bitmapConfig{Bits: bits, Ops: 300, Workers: 2, Mapped: mapped, Seed: 3}
			results, err := runBitmap(context.Background(), cfg)
			require.NoError(t, err)
			require.Len(t, results, cfg.Workers)
			for _, r := range results {
				require.LessOrEqual(t, r.Set, bits)
				require.LessOrEqual(t, r.LongestSetRun, r.Set)
				require.LessOrEqual(t, r.LongestUnsetRun, bits-r.Set)
			}
		}
	}
}
