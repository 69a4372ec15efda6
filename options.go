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

package cuckoo

import (
	"log/slog"

	"github.com/cockroachdb/cuckoo/internal/prng"
)

// option provide an interface to do work on Table while it is being created.
type option[K, V any] interface {
	apply(t *Table[K, V])
}

// Allocator specifies an interface for allocating and releasing the cell
// storage used by a Table. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that storage be
// freed then Table.Close must be called in order to ensure Free is called
// for the final storage.
type Allocator[K, V any] interface {
	// Alloc should return a slice equivalent to make([]Cell[K,V], n). An
	// allocator that cannot satisfy the request returns an error, typically
	// wrapping ErrAllocFailed.
	Alloc(n int) ([]Cell[K, V], error)

	// Free can optionally release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by Alloc. The table
	// never references v again.
	Free(v []Cell[K, V])
}

type defaultAllocator[K, V any] struct{}

func (defaultAllocator[K, V]) Alloc(n int) ([]Cell[K, V], error) {
	return make([]Cell[K, V], n), nil
}

func (defaultAllocator[K, V]) Free(v []Cell[K, V]) {
}

type allocatorOption[K, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(t *Table[K, V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a
// Table[K,V].
func WithAllocator[K, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type seedOption[K, V any] uint64

func (op seedOption[K, V]) apply(t *Table[K, V]) {
	t.prng = prng.State64(op)
}

// WithSeed is an option to seed the random number generator that picks scan
// offsets and eviction victims. Tables with the same seed, hasher and
// operation sequence have identical layouts.
func WithSeed[K, V any](seed uint64) option[K, V] {
	return seedOption[K, V](seed)
}

type metricsOption[K, V any] struct{}

func (metricsOption[K, V]) apply(t *Table[K, V]) {
	t.metrics = &Metrics{}
}

// WithMetrics is an option to enable the counters returned by
// Table.Metrics.
func WithMetrics[K, V any]() option[K, V] {
	return metricsOption[K, V]{}
}

type loggerOption[K, V any] struct {
	logger *slog.Logger
}

func (op loggerOption[K, V]) apply(t *Table[K, V]) {
	t.logger = op.logger
}

// WithLogger is an option to log resize events to logger. Events are logged
// at debug level.
func WithLogger[K, V any](logger *slog.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}
