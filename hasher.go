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
	"bytes"
	"unsafe"

	"github.com/cockroachdb/cuckoo/avalanche"
	"github.com/zeebo/xxh3"
)

const (
	stringSeed  = 0x94122f33
	pointerSeed = 0xd983396e
)

// Hasher hashes and compares keys of type K. Hash must return the same pair
// for keys that Equal reports as equal. The two values select the primary
// and secondary bucket of a key and should be independent and uniformly
// distributed: a weak hash lowers the achievable load factor and makes
// eviction cycles, and hence growth, more frequent.
type Hasher[K any] interface {
	Hash(key *K) (uintptr, uintptr)
	Equal(a, b *K) bool
}

// StringHasher hashes string keys by content using the avalanche hash.
type StringHasher struct{}

var _ Hasher[string] = StringHasher{}

// Hash implements Hasher.
func (StringHasher) Hash(key *string) (uintptr, uintptr) {
	return avalanche.Pair(unsafe.Slice(unsafe.StringData(*key), len(*key)), stringSeed)
}

// Equal implements Hasher.
func (StringHasher) Equal(a, b *string) bool {
	return *a == *b
}

// BytesHasher hashes byte slice keys by content using the avalanche hash.
type BytesHasher struct{}

var _ Hasher[[]byte] = BytesHasher{}

// Hash implements Hasher.
func (BytesHasher) Hash(key *[]byte) (uintptr, uintptr) {
	return avalanche.Pair(*key, stringSeed)
}

// Equal implements Hasher.
func (BytesHasher) Equal(a, b *[]byte) bool {
	return bytes.Equal(*a, *b)
}

// PointerHasher hashes keys by address. Two keys are equal only if they are
// the same reference, regardless of what they point to.
type PointerHasher[K any] struct{}

// Hash implements Hasher.
func (PointerHasher[K]) Hash(key *K) (uintptr, uintptr) {
	p := uintptr(unsafe.Pointer(key))
	b := unsafe.Slice((*byte)(noescape(unsafe.Pointer(&p))), unsafe.Sizeof(p))
	return avalanche.Pair(b, pointerSeed)
}

// Equal implements Hasher.
func (PointerHasher[K]) Equal(a, b *K) bool {
	return a == b
}

// XXH3Hasher hashes string keys by content using the 128-bit XXH3 hash,
// taking the two 64-bit halves as the bucket selectors.
type XXH3Hasher struct {
	Seed uint64
}

var _ Hasher[string] = XXH3Hasher{}

// Hash implements Hasher.
func (h XXH3Hasher) Hash(key *string) (uintptr, uintptr) {
	sum := xxh3.HashString128Seed(*key, h.Seed)
	return uintptr(sum.Lo), uintptr(sum.Hi)
}

// Equal implements Hasher.
func (XXH3Hasher) Equal(a, b *string) bool {
	return *a == *b
}
