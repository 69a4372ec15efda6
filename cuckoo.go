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

// Package cuckoo is a Go implementation of (2^n,2) cuckoo hashing: every key
// may live in one of two buckets, and every bucket holds 2^n cells. See:
//
//	Pagh, R., F.F. Rodler (2004) Cuckoo Hashing. Journal of Algorithms
//	51(2):122-144.
//
//	Erlingsson, U., M. Manasse, F. McSherry (2006) A cool and practical
//	alternative to traditional hash tables. WDAS'06.
//
// # Cuckoo Tables
//
// A Table maps keys to data. Both are references owned by the caller: the
// table stores the *K and *V it is given and never copies, retains beyond
// removal, or frees what they point to. A cell with a nil key is empty.
//
// A Hasher reduces a key to two hash values. The low bits of the first select
// the key's primary bucket and the low bits of the second its secondary
// bucket. Lookup scans at most those two buckets, so Search and Remove are
// O(1) in the worst case, not just on average.
//
// Insertion places the key in any empty cell of its primary bucket, then of
// its secondary bucket. Cells are scanned starting at a random offset so that
// patterned key sequences do not pile up near the start of a bucket. If both
// buckets are full, a randomly chosen occupant of the secondary bucket is
// evicted to make room and the evicted entry is moved to its own alternate
// bucket, possibly evicting another entry, and so on. When the chain of
// evictions returns to the bucket the insertion started from, the evictions
// are undone, the table doubles in size and the insertion is retried.
//
// With two hash functions the expected maximum load factor is roughly 0.86
// for 2 cells per bucket and above 0.93 for 4 or more. A table is sized for a
// load factor of 3/4 of its requested minimum capacity, and it halves in size
// once fewer than 1/4 of its cells are in use, never going below that
// minimum.
//
// # Implementation
//
// A bucket is sized to fill one cache line, so that probing a bucket touches
// a single line. Cells are two pointers wide, which gives 4 cells per bucket
// with 64-byte cache lines on 64-bit platforms.
//
// Resizing is a synchronous, whole-table rebuild: entries are reinserted into
// freshly allocated storage which replaces the current storage only once
// every entry has been placed. If the rebuild fails, the new storage is
// released and the table is untouched. Growth retries at ever larger sizes
// until it succeeds or the Allocator fails; shrinking is best-effort and a
// failed shrink leaves the table as is.
//
// A Table is NOT goroutine-safe.
package cuckoo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"strings"
	"unsafe"

	"github.com/cockroachdb/cuckoo/internal/invariants"
	"github.com/cockroachdb/cuckoo/internal/prng"
	"golang.org/x/sys/cpu"
)

const (
	debug = false

	// defaultSeed is the initial PRNG state. Any value works.
	defaultSeed = 42

	cacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
	cellSize      = unsafe.Sizeof(Cell[struct{}, struct{}]{})
)

var (
	// lgBucketCells is log2 of the number of cells per bucket. A bucket
	// holds at least 2 cells.
	lgBucketCells = uint(max(bits.Len(uint(cacheLineSize/cellSize)), 2) - 1)
	bucketCells   = uintptr(1) << lgBucketCells

	discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// ErrAllocFailed is returned, possibly wrapped, when an Allocator cannot
// provide cell storage.
var ErrAllocFailed = errors.New("cuckoo: allocation failed")

// Cell holds a key and data reference. A cell with a nil key is empty.
type Cell[K, V any] struct {
	key  *K
	data *V
}

// Table is a cuckoo hash table mapping key references to data references.
// Keys are compared with the Hasher's Equal, not by address, unless the
// Hasher itself compares addresses (see PointerHasher).
//
// A Table is NOT goroutine-safe.
type Table[K, V any] struct {
	hasher    Hasher[K]
	allocator Allocator[K, V]
	logger    *slog.Logger
	// metrics is nil unless WithMetrics was specified.
	metrics *Metrics
	prng    prng.State64
	// cells is 2^(lgBuckets+lgBucketCells) in length. Bucket b occupies
	// cells[b<<lgBucketCells : (b+1)<<lgBucketCells].
	cells []Cell[K, V]
	// The number of non-empty cells.
	count int
	// lgBuckets is log2 of the current number of buckets.
	lgBuckets uint
	// lgMinBuckets is the floor below which the table never shrinks.
	lgMinBuckets uint
	// path records the cells swapped by the current eviction chain so that
	// a failed chain can be undone. It is reused across inserts.
	path []uintptr
	// iterators is the number of All calls in progress. While non-zero,
	// storage replaced by a resize is parked in retired instead of being
	// freed, since an iteration may still be reading it.
	iterators int
	retired   [][]Cell[K, V]
}

// New constructs a new Table able to hold minItems entries without growing.
// A non-positive minItems is treated as 1. New fails only if the initial
// storage cannot be allocated.
func New[K, V any](minItems int, hasher Hasher[K], options ...option[K, V]) (*Table[K, V], error) {
	if hasher == nil {
		panic("cuckoo: nil hasher")
	}
	t := &Table[K, V]{
		hasher:    hasher,
		allocator: defaultAllocator[K, V]{},
		logger:    discardLogger,
		prng:      defaultSeed,
	}

	for _, op := range options {
		op.apply(t)
	}

	t.lgMinBuckets = lgBucketsFor(max(minItems, 1))
	t.lgBuckets = t.lgMinBuckets
	cells, err := t.alloc(t.lgBuckets + lgBucketCells)
	if err != nil {
		return nil, err
	}
	t.cells = cells

	t.checkInvariants()
	return t, nil
}

// lgBucketsFor returns log2 of the number of buckets needed to hold minItems
// entries at a load factor of 3/4.
func lgBucketsFor(minItems int) uint {
	minCells := ((minItems + (3 - minItems%3)) / 3) << 2
	lgCells := lgBucketCells
	for 1<<lgCells < minCells {
		lgCells++
	}
	return lgCells - lgBucketCells
}

// Close closes the table, releasing its storage back to the configured
// allocator. The caller is responsible for the keys and data still
// referenced by the table. It is unnecessary to close a table using the
// default allocator. It is invalid to use a Table after it has been closed,
// though Close itself is idempotent.
func (t *Table[K, V]) Close() {
	if t.cells == nil {
		return
	}
	if t.metrics != nil {
		t.logger.Debug("cuckoo: closing table", "len", t.count, "metrics", *t.metrics)
	}
	t.allocator.Free(t.cells)
	t.freeRetired()
	t.cells = nil
	t.count = 0
	t.path = nil
}

// Search retrieves the key and data stored for key, returning ok=false if
// the key is not present. The returned key is the reference that was
// inserted, which need not be key itself.
func (t *Table[K, V]) Search(key *K) (foundKey *K, data *V, ok bool) {
	i, ok := t.find(key)
	if !ok {
		return nil, nil, false
	}
	c := &t.cells[i]
	return c.key, c.data, true
}

// Insert inserts key and data into the table. Key must be non-nil and must
// not already be present; inserting a duplicate key leaves the table in an
// unspecified state and panics in invariants builds.
//
// Insert grows the table as needed and returns an error only when the
// allocator cannot provide larger storage. On error the table's contents and
// count are unchanged, though its capacity may have grown by doublings that
// succeeded before the failing allocation.
func (t *Table[K, V]) Insert(key *K, data *V) error {
	if key == nil {
		panic("cuckoo: nil key")
	}
	if invariants.Enabled {
		if _, ok := t.find(key); ok {
			panic(fmt.Sprintf("cuckoo: duplicate key %v", *key))
		}
	}
	if t.metrics != nil {
		t.metrics.Inserts++
	}

	for !t.tryInsert(t.cells, t.lgBuckets, key, data, true) {
		if err := t.grow(); err != nil {
			return err
		}
	}
	t.count++

	t.checkInvariants()
	return nil
}

// Remove removes key from the table, returning the stored key and data, or
// ok=false if the key is not present. Removal may shrink the table.
func (t *Table[K, V]) Remove(key *K) (foundKey *K, data *V, ok bool) {
	i, ok := t.find(key)
	if !ok {
		return nil, nil, false
	}
	c := &t.cells[i]
	foundKey, data = c.key, c.data
	*c = Cell[K, V]{}
	t.count--

	// Halve the table once it is less than 1/4 full.
	if t.count < 1<<(t.lgBuckets+lgBucketCells-2) && t.lgBuckets > t.lgMinBuckets {
		t.shrink()
	}

	t.checkInvariants()
	return foundKey, data, true
}

// Next returns the entry in the first non-empty cell at or after *cursor and
// advances *cursor past it, returning ok=false once the table is exhausted.
// A zero cursor starts at the beginning. Entries are returned in storage
// order. The table must not be modified while iterating.
func (t *Table[K, V]) Next(cursor *int) (key *K, data *V, ok bool) {
	for i := *cursor; i < len(t.cells); i++ {
		if c := &t.cells[i]; c.key != nil {
			*cursor = i + 1
			return c.key, c.data, true
		}
	}
	*cursor = len(t.cells)
	return nil, nil, false
}

// All calls yield sequentially for each key and data present in the table.
// If yield returns false, iteration stops. The iteration order is storage
// order.
//
// Modifying the table during iteration is allowed. Iteration covers the
// storage as it was when All was called, so entries inserted or removed
// during iteration may or may not be visited, and an entry relocated by an
// insert during iteration may be visited twice or not at all. Storage
// replaced by a resize during iteration is returned to the allocator only
// once the outermost All returns.
func (t *Table[K, V]) All(yield func(key *K, data *V) bool) {
	t.iterators++
	defer t.endIteration()

	// Snapshot the storage so that iteration remains valid if the table is
	// resized during iteration.
	cells := t.cells
	for i := range cells {
		if c := &cells[i]; c.key != nil {
			if !yield(c.key, c.data) {
				return
			}
		}
	}
}

// Len returns the number of entries in the table.
func (t *Table[K, V]) Len() int {
	return t.count
}

// Capacity returns the number of cells in the table.
func (t *Table[K, V]) Capacity() int {
	return len(t.cells)
}

// Metrics returns a snapshot of the table's counters. The counters are zero
// unless the table was created with WithMetrics.
func (t *Table[K, V]) Metrics() Metrics {
	if t.metrics == nil {
		return Metrics{}
	}
	return *t.metrics
}

// bucketOf returns the bucket selected by hash value h in a table of
// 2^lgBuckets buckets.
func bucketOf(h uintptr, lgBuckets uint) uintptr {
	return h & (uintptr(1)<<lgBuckets - 1)
}

// find returns the index of the cell holding key. The primary bucket is
// searched before the secondary bucket.
func (t *Table[K, V]) find(key *K) (uintptr, bool) {
	h0, h1 := t.hasher.Hash(key)
	if i, ok := t.bucketSearch(bucketOf(h0, t.lgBuckets), key); ok {
		return i, true
	}
	return t.bucketSearch(bucketOf(h1, t.lgBuckets), key)
}

func (t *Table[K, V]) bucketSearch(bucket uintptr, key *K) (uintptr, bool) {
	start := bucket << lgBucketCells
	for i := start; i < start+bucketCells; i++ {
		c := &t.cells[i]
		if c.key != nil && t.hasher.Equal(key, c.key) {
			return i, true
		}
	}
	return 0, false
}

// tryBucketInsert stores key and data in an empty cell of bucket, if there is
// one. Cells are scanned starting at a random offset.
func (t *Table[K, V]) tryBucketInsert(cells []Cell[K, V], bucket uintptr, key *K, data *V) bool {
	start := bucket << lgBucketCells
	offset := uintptr(t.prng.LgRange(lgBucketCells))
	for i := uintptr(0); i < bucketCells; i++ {
		c := &cells[start+(i+offset)&(bucketCells-1)]
		if c.key == nil {
			if debug {
				fmt.Printf("insert(placed): bucket=%d cell=%d key=%v\n", bucket, (i+offset)&(bucketCells-1), *key)
			}
			c.key = key
			c.data = data
			return true
		}
	}
	return false
}

// tryInsert places key and data in cells, a table of 2^lgBuckets buckets,
// evicting and relocating other entries as needed. It returns false if the
// eviction chain cycles. When journal is true, a failed insertion leaves
// cells exactly as they were; otherwise cells are left in an unspecified
// state and must be discarded.
func (t *Table[K, V]) tryInsert(cells []Cell[K, V], lgBuckets uint, key *K, data *V, journal bool) bool {
	h0, h1 := t.hasher.Hash(key)

	// Try to insert in the primary bucket.
	if t.tryBucketInsert(cells, bucketOf(h0, lgBuckets), key, data) {
		return true
	}

	// Try to insert in the secondary bucket.
	bucket := bucketOf(h1, lgBuckets)
	if t.tryBucketInsert(cells, bucket, key, data) {
		return true
	}

	return t.evictInsert(cells, lgBuckets, bucket, key, data, journal)
}

// evictInsert makes room for key and data in the full bucket argBucket by
// repeatedly evicting a random occupant and moving it to its alternate
// bucket, until an evicted entry finds an empty cell or the chain leads back
// to argBucket.
func (t *Table[K, V]) evictInsert(
	cells []Cell[K, V], lgBuckets uint, argBucket uintptr, key *K, data *V, journal bool,
) bool {
	if journal {
		t.path = t.path[:0]
	}
	bucket := argBucket
	for {
		if t.metrics != nil {
			t.metrics.Relocations++
		}
		i := bucket<<lgBucketCells + uintptr(t.prng.LgRange(lgBucketCells))
		c := &cells[i]
		if invariants.Enabled && c.key == nil {
			panic(fmt.Sprintf("cuckoo: evicting from empty cell %d", i))
		}
		key, c.key = c.key, key
		data, c.data = c.data, data
		if journal {
			t.path = append(t.path, i)
		}

		// Find the alternate bucket for the evicted entry.
		h0, h1 := t.hasher.Hash(key)
		alt := bucketOf(h1, lgBuckets)
		if alt == bucket {
			alt = bucketOf(h0, lgBuckets)
		}
		if debug {
			fmt.Printf("insert(evicted): cell=%d key=%v bucket=%d alt=%d\n", i, *key, bucket, alt)
		}
		if alt == argBucket {
			if debug {
				fmt.Printf("insert(cycle): bucket=%d path=%d\n", argBucket, len(t.path))
			}
			if journal {
				t.undo(cells, key, data)
			}
			return false
		}

		bucket = alt
		if t.tryBucketInsert(cells, bucket, key, data) {
			return true
		}
	}
}

// undo reverses the swaps recorded in t.path. key and data are the entry
// left homeless by the last swap. Once undone, the homeless entry is the one
// that started the chain, which is dropped.
func (t *Table[K, V]) undo(cells []Cell[K, V], key *K, data *V) {
	for j := len(t.path) - 1; j >= 0; j-- {
		c := &cells[t.path[j]]
		key, c.key = c.key, key
		data, c.data = c.data, data
	}
	t.path = t.path[:0]
}

// rebuild inserts every entry of the current storage into cells, a table of
// 2^lgBuckets buckets. It returns false if any insertion cycles.
func (t *Table[K, V]) rebuild(cells []Cell[K, V], lgBuckets uint) bool {
	for i, n := 0, 0; n < t.count; i++ {
		c := &t.cells[i]
		if c.key == nil {
			continue
		}
		if !t.tryInsert(cells, lgBuckets, c.key, c.data, false) {
			return false
		}
		n++
	}
	return true
}

// alloc allocates zeroed storage for 2^lgCells cells.
func (t *Table[K, V]) alloc(lgCells uint) ([]Cell[K, V], error) {
	n := 1 << lgCells
	cells, err := t.allocator.Alloc(n)
	if err != nil {
		return nil, fmt.Errorf("cuckoo: allocating %d cells: %w", n, err)
	}
	if len(cells) != n {
		panic(fmt.Sprintf("cuckoo: allocator returned %d cells, expected %d", len(cells), n))
	}
	if invariants.Enabled {
		for i := range cells {
			if cells[i].key != nil {
				panic(fmt.Sprintf("cuckoo: allocator returned non-empty cell %d", i))
			}
		}
	}
	return cells, nil
}

// replace swaps in cells, a table of 2^lgBuckets buckets, as the table's
// storage and frees the previous storage, or parks it while an All is in
// progress.
func (t *Table[K, V]) replace(cells []Cell[K, V], lgBuckets uint) {
	if t.iterators > 0 {
		t.retired = append(t.retired, t.cells)
	} else {
		t.allocator.Free(t.cells)
	}
	t.cells = cells
	t.lgBuckets = lgBuckets
}

func (t *Table[K, V]) endIteration() {
	t.iterators--
	if t.iterators == 0 {
		t.freeRetired()
	}
}

// freeRetired releases storage parked by resizes during iteration.
func (t *Table[K, V]) freeRetired() {
	for _, cells := range t.retired {
		t.allocator.Free(cells)
	}
	t.retired = nil
}

// grow doubles the table, and keeps doubling until all entries fit or the
// allocator fails. On failure the table is unchanged.
func (t *Table[K, V]) grow() error {
	for lgBuckets := t.lgBuckets + 1; ; lgBuckets++ {
		cells, err := t.alloc(lgBuckets + lgBucketCells)
		if err != nil {
			t.logger.Debug("cuckoo: grow failed", "len", t.count, "cells", len(t.cells), "err", err)
			return err
		}
		if t.rebuild(cells, lgBuckets) {
			t.logger.Debug("cuckoo: grew table", "len", t.count, "from", len(t.cells), "to", len(cells))
			t.replace(cells, lgBuckets)
			if t.metrics != nil {
				t.metrics.Grows++
			}
			return nil
		}
		// Rebuilding failed, so back out the partially rebuilt storage.
		t.allocator.Free(cells)
	}
}

// shrink halves the table. On failure the table is unchanged.
func (t *Table[K, V]) shrink() {
	lgBuckets := t.lgBuckets - 1
	cells, err := t.alloc(lgBuckets + lgBucketCells)
	if err != nil {
		t.logger.Debug("cuckoo: shrink failed", "len", t.count, "cells", len(t.cells), "err", err)
		if t.metrics != nil {
			t.metrics.ShrinkFails++
		}
		return
	}
	if !t.rebuild(cells, lgBuckets) {
		t.logger.Debug("cuckoo: shrink failed", "len", t.count, "cells", len(t.cells), "err", "relocation cycle")
		t.allocator.Free(cells)
		if t.metrics != nil {
			t.metrics.ShrinkFails++
		}
		return
	}
	t.logger.Debug("cuckoo: shrank table", "len", t.count, "from", len(t.cells), "to", len(cells))
	t.replace(cells, lgBuckets)
	if t.metrics != nil {
		t.metrics.Shrinks++
	}
}

func (t *Table[K, V]) checkInvariants() {
	if invariants.Enabled {
		if n := 1 << (t.lgBuckets + lgBucketCells); len(t.cells) != n {
			panic(fmt.Sprintf("invariant failed: found %d cells, but expected %d\n%s",
				len(t.cells), n, t.debugString()))
		}
		if t.lgBuckets < t.lgMinBuckets {
			panic(fmt.Sprintf("invariant failed: lgBuckets %d below minimum %d", t.lgBuckets, t.lgMinBuckets))
		}

		// For every non-empty cell, verify the key is in one of its buckets
		// and that Search finds it there.
		var used int
		for i := range t.cells {
			c := &t.cells[i]
			if c.key == nil {
				continue
			}
			used++
			h0, h1 := t.hasher.Hash(c.key)
			bucket := uintptr(i) >> lgBucketCells
			if bucket != bucketOf(h0, t.lgBuckets) && bucket != bucketOf(h1, t.lgBuckets) {
				panic(fmt.Sprintf("invariant failed: cell(%d): %v in neither of its buckets [h0=%x h1=%x]\n%s",
					i, *c.key, h0, h1, t.debugString()))
			}
			if j, ok := t.find(c.key); !ok || j != uintptr(i) {
				panic(fmt.Sprintf("invariant failed: cell(%d): %v not found\n%s", i, *c.key, t.debugString()))
			}
		}

		if used != t.count {
			panic(fmt.Sprintf("invariant failed: found %d used cells, but count is %d\n%s",
				used, t.count, t.debugString()))
		}
	}
}

func (t *Table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "buckets=%d  cells=%d  count=%d\n", 1<<t.lgBuckets, len(t.cells), t.count)
	for i := range t.cells {
		if i%int(bucketCells) == 0 {
			fmt.Fprintf(&buf, "  bucket %d:\n", i>>lgBucketCells)
		}
		if c := &t.cells[i]; c.key == nil {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		} else {
			fmt.Fprintf(&buf, "  %4d: %v\n", i, *c.key)
		}
	}
	return buf.String()
}

// noescape hides a pointer from escape analysis.  noescape is
// the identity function but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
