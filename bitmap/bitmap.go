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

// Package bitmap implements a flat, word-packed bit vector for resource
// bookkeeping (e.g. slab slot or page maps in an allocator).
//
// A Bitmap is a single []uint64. Word 0 is a control word holding the bit
// count in its low ctrlBits bits; words 1..N hold the bits themselves,
// least-significant bit first. Keeping the whole object in one contiguous
// slice lets a Bitmap live in caller provided storage (see Init and Words),
// in an anonymous mapping (see NewMapped) or on the heap (see New) with the
// same operations.
//
// Range operations decompose [start, start+n) into at most three spans: a
// partial first word, zero or more full words and a partial last word. Each
// span is updated or counted with a single masked operation. Searches scan a
// word at a time using count trailing/leading zeros.
//
// The trailing bits of the last word beyond Len are always zero.
//
// A Bitmap is NOT goroutine-safe.
package bitmap

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/cockroachdb/cuckoo/internal/invariants"
)

const (
	wordBits = 64

	// ctrlBits is the number of low bits of the control word holding the
	// bit count.
	ctrlBits = 24
	ctrlMask = 1<<ctrlBits - 1

	// MaxBits is the largest bit count a Bitmap can hold.
	MaxBits = ctrlMask
)

// Bitmap is a fixed-size bit vector. The zero value is not usable; use New,
// Init or NewMapped.
type Bitmap []uint64

// Words returns the number of uint64 words of storage needed for a bitmap of
// nbits bits, including the control word.
func Words(nbits int) int {
	return 1 + dataWords(nbits)
}

func dataWords(nbits int) int {
	return (nbits + wordBits - 1) / wordBits
}

// New returns a heap allocated bitmap of nbits unset bits.
func New(nbits int) Bitmap {
	checkBits(nbits)
	b := make(Bitmap, Words(nbits))
	b[0] = uint64(nbits)
	return b
}

// Init initializes a bitmap of nbits unset bits in the supplied storage,
// which must hold at least Words(nbits) words. The returned Bitmap aliases
// storage.
func Init(storage []uint64, nbits int) Bitmap {
	checkBits(nbits)
	n := Words(nbits)
	if len(storage) < n {
		panic(fmt.Sprintf("bitmap: storage of %d words cannot hold %d bits", len(storage), nbits))
	}
	b := Bitmap(storage[:n:n])
	clear(b)
	b[0] = uint64(nbits)
	return b
}

func checkBits(nbits int) {
	if nbits < 0 || nbits > MaxBits {
		panic(fmt.Sprintf("bitmap: bit count %d out of range [0, %d]", nbits, MaxBits))
	}
}

// Len returns the number of bits in the bitmap.
func (b Bitmap) Len() int {
	return int(b[0] & ctrlMask)
}

func (b Bitmap) data() []uint64 {
	return b[1 : 1+dataWords(b.Len())]
}

func (b Bitmap) checkBit(bit int) {
	if invariants.Enabled && (bit < 0 || bit >= b.Len()) {
		panic(fmt.Sprintf("bitmap: bit %d out of range [0, %d)", bit, b.Len()))
	}
}

// Get returns whether bit is set.
func (b Bitmap) Get(bit int) bool {
	b.checkBit(bit)
	return b[1+bit/wordBits]&(1<<(uint(bit)%wordBits)) != 0
}

// Set sets bit.
func (b Bitmap) Set(bit int) {
	b.checkBit(bit)
	b[1+bit/wordBits] |= 1 << (uint(bit) % wordBits)
}

// Unset clears bit.
func (b Bitmap) Unset(bit int) {
	b.checkBit(bit)
	b[1+bit/wordBits] &^= 1 << (uint(bit) % wordBits)
}

// visit calls fn with each word overlapping [start, start+n) and the mask of
// the bits of that word inside the range. n must be non-zero.
func (b Bitmap) visit(start, n int, fn func(w *uint64, mask uint64)) {
	if invariants.Enabled && (n <= 0 || start < 0 || start+n > b.Len()) {
		panic(fmt.Sprintf("bitmap: range [%d, %d) invalid for %d bits", start, start+n, b.Len()))
	}
	i := 1 + start/wordBits
	shift := uint(start) % wordBits

	// First word.
	first := min(n, wordBits-int(shift))
	fn(&b[i], (^uint64(0)>>(wordBits-uint(first)))<<shift)
	n -= first
	i++

	// Middle words.
	for n > wordBits {
		fn(&b[i], ^uint64(0))
		n -= wordBits
		i++
	}

	// Last word.
	if n != 0 {
		fn(&b[i], ^uint64(0)>>(wordBits-uint(n)))
	}
}

// SetRange sets the n bits starting at start. n must be non-zero.
func (b Bitmap) SetRange(start, n int) {
	b.visit(start, n, func(w *uint64, mask uint64) {
		*w |= mask
	})
}

// UnsetRange clears the n bits starting at start. n must be non-zero.
func (b Bitmap) UnsetRange(start, n int) {
	b.visit(start, n, func(w *uint64, mask uint64) {
		*w &^= mask
	})
}

// CountSet returns the number of set bits among the n bits starting at
// start. n must be non-zero.
func (b Bitmap) CountSet(start, n int) int {
	var count int
	b.visit(start, n, func(w *uint64, mask uint64) {
		count += bits.OnesCount64(*w & mask)
	})
	return count
}

// CountUnset returns the number of unset bits among the n bits starting at
// start. n must be non-zero.
func (b Bitmap) CountUnset(start, n int) int {
	return n - b.CountSet(start, n)
}

// find returns the position of the first bit equal to val at or after
// (forward) or at or before (!forward) start. It returns Len when a forward
// search fails and -1 when a backward search fails.
func (b Bitmap) find(start int, val, forward bool) int {
	nbits := b.Len()
	b.checkBit(start)
	words := b.data()
	i := start / wordBits
	shift := uint(start) % wordBits

	// Searching for unset bits is searching for set bits in the inverse.
	var invert uint64
	if !val {
		invert = ^uint64(0)
	}

	w := words[i] ^ invert
	if forward {
		w &= ^uint64(0) << shift
	} else {
		w &= ^uint64(0) >> (wordBits - 1 - shift)
	}
	for w == 0 {
		if forward {
			i++
			if i == len(words) {
				return nbits
			}
		} else {
			i--
			if i < 0 {
				return -1
			}
		}
		w = words[i] ^ invert
	}

	if !forward {
		return i*wordBits + wordBits - 1 - bits.LeadingZeros64(w)
	}
	// The inverted trailing bits of the last word are ones; a hit there
	// means there is no qualifying bit.
	return min(i*wordBits+bits.TrailingZeros64(w), nbits)
}

// FirstSetForward returns the position of the first set bit at or after
// minBit, or Len if there is none.
func (b Bitmap) FirstSetForward(minBit int) int {
	return b.find(minBit, true, true)
}

// FirstUnsetForward returns the position of the first unset bit at or after
// minBit, or Len if there is none.
func (b Bitmap) FirstUnsetForward(minBit int) int {
	return b.find(minBit, false, true)
}

// FirstSetBackward returns the position of the last set bit at or before
// maxBit, or -1 if there is none.
func (b Bitmap) FirstSetBackward(maxBit int) int {
	return b.find(maxBit, true, false)
}

// FirstUnsetBackward returns the position of the last unset bit at or before
// maxBit, or -1 if there is none.
func (b Bitmap) FirstUnsetBackward(maxBit int) int {
	return b.find(maxBit, false, false)
}

// run locates a run of bits equal to val. Searching forward, the run begins
// at the first qualifying bit at or after start and extends to the end of
// the run. Searching backward, the run ends at the last qualifying bit at or
// before start and extends down to the start of the run. The result is
// always the half-open range [begin, begin+n).
func (b Bitmap) run(start int, val, forward bool) (begin, n int, ok bool) {
	edge := b.find(start, val, forward)
	if (forward && edge == b.Len()) || (!forward && edge == -1) {
		return 0, 0, false
	}
	end := b.find(edge, !val, forward)
	if forward {
		return edge, end - edge, true
	}
	return end + 1, edge - end, true
}

// SetRunForward returns the run of set bits beginning at the first set bit
// at or after start.
func (b Bitmap) SetRunForward(start int) (begin, n int, ok bool) {
	return b.run(start, true, true)
}

// SetRunBackward returns the run of set bits ending at the last set bit at
// or before start. The returned begin is still the lowest bit of the run.
func (b Bitmap) SetRunBackward(start int) (begin, n int, ok bool) {
	return b.run(start, true, false)
}

// UnsetRunForward is like SetRunForward, but for unset bits.
func (b Bitmap) UnsetRunForward(start int) (begin, n int, ok bool) {
	return b.run(start, false, true)
}

// UnsetRunBackward is like SetRunBackward, but for unset bits.
func (b Bitmap) UnsetRunBackward(start int) (begin, n int, ok bool) {
	return b.run(start, false, false)
}

func (b Bitmap) longest(val bool) int {
	nbits := b.Len()
	var longest int
	for start := 0; start < nbits; {
		begin, n, ok := b.run(start, val, true)
		if !ok {
			break
		}
		longest = max(longest, n)
		start = begin + n
	}
	return longest
}

// LongestSetRun returns the length of the longest run of set bits, or 0 if
// no bit is set.
func (b Bitmap) LongestSetRun() int {
	return b.longest(true)
}

// LongestUnsetRun returns the length of the longest run of unset bits, or 0
// if every bit is set.
func (b Bitmap) LongestUnsetRun() int {
	return b.longest(false)
}

func checkSameLen(dst Bitmap, src ...Bitmap) {
	if !invariants.Enabled {
		return
	}
	for _, s := range src {
		if s.Len() != dst.Len() {
			panic(fmt.Sprintf("bitmap: length mismatch %d != %d", s.Len(), dst.Len()))
		}
	}
}

// And sets each bit of dst to the AND of the corresponding bits of a and b.
// All bitmaps must have the same length. dst may alias a or b.
func And(dst, a, b Bitmap) {
	checkSameLen(dst, a, b)
	for i := 1; i < len(dst); i++ {
		dst[i] = a[i] & b[i]
	}
}

// Or sets each bit of dst to the OR of the corresponding bits of a and b.
// All bitmaps must have the same length. dst may alias a or b.
func Or(dst, a, b Bitmap) {
	checkSameLen(dst, a, b)
	for i := 1; i < len(dst); i++ {
		dst[i] = a[i] | b[i]
	}
}

// Not sets each bit of dst to the negation of the corresponding bit of a.
func Not(dst, a Bitmap) {
	checkSameLen(dst, a)
	for i := 1; i < len(dst); i++ {
		dst[i] = ^a[i]
	}
	dst.clearTrailing()
}

// clearTrailing zeroes the bits of the last word beyond Len.
func (b Bitmap) clearTrailing() {
	if rem := uint(b.Len()) % wordBits; rem != 0 {
		b[len(b)-1] &= 1<<rem - 1
	}
}

// Empty returns true if no bit is set.
func (b Bitmap) Empty() bool {
	for _, w := range b.data() {
		if w != 0 {
			return false
		}
	}
	return true
}

// Full returns true if every bit is set.
func (b Bitmap) Full() bool {
	words := b.data()
	if len(words) == 0 {
		return true
	}
	last := len(words) - 1
	for _, w := range words[:last] {
		if w != ^uint64(0) {
			return false
		}
	}
	mask := ^uint64(0)
	if rem := uint(b.Len()) % wordBits; rem != 0 {
		mask = 1<<rem - 1
	}
	return words[last] == mask
}

// String renders the bitmap as a string of '0' and '1', lowest bit first.
func (b Bitmap) String() string {
	var buf strings.Builder
	buf.Grow(b.Len())
	for i := 0; i < b.Len(); i++ {
		if b.Get(i) {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
	}
	return buf.String()
}
