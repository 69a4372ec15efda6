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
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/cuckoo"
)

// xxhashHasher derives the two bucket selectors from 64-bit xxHash digests
// of the key under two distinct seeds.
type xxhashHasher struct {
	seeds  [2]uint64
	digest [2]*xxhash.Digest
}

func newXXHashHasher(seed uint64) *xxhashHasher {
	h := &xxhashHasher{seeds: [2]uint64{seed, seed + 0x9e3779b97f4a7c15}}
	for i := range h.digest {
		h.digest[i] = xxhash.NewWithSeed(h.seeds[i])
	}
	return h
}

func (h *xxhashHasher) Hash(key *string) (uintptr, uintptr) {
	var sums [2]uint64
	for i, d := range h.digest {
		d.ResetWithSeed(h.seeds[i])
		_, _ = d.WriteString(*key)
		sums[i] = d.Sum64()
	}
	return uintptr(sums[0]), uintptr(sums[1])
}

func (*xxhashHasher) Equal(a, b *string) bool {
	return *a == *b
}

var hasherNames = []string{"avalanche", "xxh3", "xxhash"}

// newHasher returns the string hasher registered under name. The xxhash
// hasher keeps per-call state, so a hasher must not be shared between
// tables owned by different goroutines.
func newHasher(name string, seed uint64) (cuckoo.Hasher[string], error) {
	switch name {
	case "avalanche":
		return cuckoo.StringHasher{}, nil
	case "xxh3":
		return cuckoo.XXH3Hasher{Seed: seed}, nil
	case "xxhash":
		return newXXHashHasher(seed), nil
	default:
		return nil, fmt.Errorf("unknown hash %q, expected one of %v", name, hasherNames)
	}
}
