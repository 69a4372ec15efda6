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

// Package prng implements the linear congruential generators used to pick
// scan offsets and eviction victims in a cuckoo table:
//
//	next(x) = (a*x + c) mod m
//
// where a is odd with (a-1) a multiple of 4, c is odd and m is 2^32 or 2^64.
// These constraints give a maximal period (see Knuth, TAOCP Vol. 2, 3rd Ed.,
// pg. 17). The quality of the bits is proportional to their position: the
// lowest bit has a cycle of 2, the next a cycle of 4, and so on. LgRange
// therefore returns the upper bits of the state.
package prng

import "github.com/cockroachdb/cuckoo/internal/invariants"

const (
	a32 uint32 = 1103515241
	c32 uint32 = 12347

	a64 uint64 = 6364136223846793005
	c64 uint64 = 1442695040888963407
)

// State64 is the state of a 64-bit generator. The zero value is a valid
// seed.
type State64 uint64

// Next advances the state and returns it.
func (s *State64) Next() uint64 {
	*s = State64(uint64(*s)*a64 + c64)
	return uint64(*s)
}

// LgRange returns a uniform value in [0, 2^lg). lg must be in [1, 64].
func (s *State64) LgRange(lg uint) uint64 {
	if invariants.Enabled && (lg == 0 || lg > 64) {
		panic("prng: lg out of range")
	}
	return s.Next() >> (64 - lg)
}

// Range returns a value in [0, n). n must be non-zero.
func (s *State64) Range(n uint64) uint64 {
	if invariants.Enabled && n == 0 {
		panic("prng: empty range")
	}
	return s.Next() % n
}

// State32 is the state of a 32-bit generator.
type State32 uint32

// Next advances the state and returns it.
func (s *State32) Next() uint32 {
	*s = State32(uint32(*s)*a32 + c32)
	return uint32(*s)
}

// LgRange returns a uniform value in [0, 2^lg). lg must be in [1, 32].
func (s *State32) LgRange(lg uint) uint32 {
	if invariants.Enabled && (lg == 0 || lg > 32) {
		panic("prng: lg out of range")
	}
	return s.Next() >> (32 - lg)
}

// Range returns a value in [0, n). n must be non-zero.
func (s *State32) Range(n uint32) uint32 {
	if invariants.Enabled && n == 0 {
		panic("prng: empty range")
	}
	return s.Next() % n
}
