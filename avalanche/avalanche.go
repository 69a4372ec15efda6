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

// Package avalanche implements the MurmurHash3 family of avalanche hashes,
// placed into the public domain by Austin Appleby (see
// https://github.com/aappleby/smhasher). A cuckoo table needs two
// independent, uniformly distributed bucket selectors per key; Pair reduces
// the 128-bit variant matching the native word width into two uintptr
// values.
package avalanche

import (
	"encoding/binary"
	"math/bits"
)

// fmix32 forces all bits of a 32-bit hash block to avalanche.
func fmix32(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// fmix64 forces all bits of a 64-bit hash block to avalanche.
func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

// Sum32 returns the 32-bit x86 variant of the hash of key.
func Sum32(key []byte, seed uint32) uint32 {
	const (
		c1 = 0xcc9e2d51
		c2 = 0x1b873593
	)

	h1 := seed
	nblocks := len(key) / 4
	for i := 0; i < nblocks; i++ {
		k1 := binary.LittleEndian.Uint32(key[i*4:])
		k1 *= c1
		k1 = bits.RotateLeft32(k1, 15)
		k1 *= c2

		h1 ^= k1
		h1 = bits.RotateLeft32(h1, 13)
		h1 = h1*5 + 0xe6546b64
	}

	tail := key[nblocks*4:]
	var k1 uint32
	switch len(tail) {
	case 3:
		k1 ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint32(tail[0])
		k1 *= c1
		k1 = bits.RotateLeft32(k1, 15)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint32(len(key))
	return fmix32(h1)
}

// Per-lane constants of the x86_128 variant. Lane j multiplies its block by
// x86Mul[j] and x86Mul[j+1], rotates the block by x86BlockRot[j] and the
// lane by x86LaneRot[j], and adds x86Add[j].
var (
	x86Mul      = [5]uint32{0x239b961b, 0xab0e9789, 0x38b34ae5, 0xa1e38b93, 0x239b961b}
	x86BlockRot = [4]int{15, 16, 17, 18}
	x86LaneRot  = [4]int{19, 17, 15, 13}
	x86Add      = [4]uint32{0x561ccd1b, 0x0bcaa747, 0x96cd1c35, 0x32ac3b17}
)

func x86Block(k uint32, j int) uint32 {
	k *= x86Mul[j]
	k = bits.RotateLeft32(k, x86BlockRot[j])
	k *= x86Mul[j+1]
	return k
}

// Sum128x86 returns the 128-bit x86 variant of the hash of key as two 64-bit
// halves. This is the variant used for bucket selection on 32-bit platforms.
func Sum128x86(key []byte, seed uint32) (uint64, uint64) {
	h := [4]uint32{seed, seed, seed, seed}

	nblocks := len(key) / 16
	for i := 0; i < nblocks; i++ {
		block := key[i*16:]
		for j := 0; j < 4; j++ {
			h[j] ^= x86Block(binary.LittleEndian.Uint32(block[j*4:]), j)
			h[j] = bits.RotateLeft32(h[j], x86LaneRot[j])
			h[j] += h[(j+1)&3]
			h[j] = h[j]*5 + x86Add[j]
		}
	}

	// Lane j consumes tail bytes [4j, 4j+4).
	tail := key[nblocks*16:]
	for j := 3; j >= 0; j-- {
		lo := j * 4
		if len(tail) <= lo {
			continue
		}
		var k uint32
		for b := min(len(tail), lo+4) - 1; b >= lo; b-- {
			k ^= uint32(tail[b]) << (8 * (b - lo))
		}
		h[j] ^= x86Block(k, j)
	}

	n := uint32(len(key))
	for j := range h {
		h[j] ^= n
	}
	mixLanes(&h)
	for j := range h {
		h[j] = fmix32(h[j])
	}
	mixLanes(&h)

	return uint64(h[1])<<32 | uint64(h[0]), uint64(h[3])<<32 | uint64(h[2])
}

func mixLanes(h *[4]uint32) {
	h[0] += h[1] + h[2] + h[3]
	h[1] += h[0]
	h[2] += h[0]
	h[3] += h[0]
}

// Sum128 returns the 128-bit x64 variant of the hash of key.
func Sum128(key []byte, seed uint32) (uint64, uint64) {
	const (
		c1 = 0x87c37b91114253d5
		c2 = 0x4cf5ad432745937f
	)

	h1 := uint64(seed)
	h2 := uint64(seed)

	nblocks := len(key) / 16
	for i := 0; i < nblocks; i++ {
		k1 := binary.LittleEndian.Uint64(key[i*16:])
		k2 := binary.LittleEndian.Uint64(key[i*16+8:])

		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1

		h1 = bits.RotateLeft64(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2

		h2 = bits.RotateLeft64(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	tail := key[nblocks*16:]
	if len(tail) > 8 {
		k2 := littleEndian(tail[8:])
		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2
	}
	if len(tail) > 0 {
		k1 := littleEndian(tail[:min(len(tail), 8)])
		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint64(len(key))
	h2 ^= uint64(len(key))

	h1 += h2
	h2 += h1

	h1 = fmix64(h1)
	h2 = fmix64(h2)

	h1 += h2
	h2 += h1

	return h1, h2
}

// littleEndian assembles up to 8 bytes into a little-endian word.
func littleEndian(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Pair hashes key into two bucket selectors using the 128-bit variant that
// matches the platform word size.
func Pair(key []byte, seed uint32) (uintptr, uintptr) {
	var h0, h1 uint64
	if bits.UintSize == 64 {
		h0, h1 = Sum128(key, seed)
	} else {
		h0, h1 = Sum128x86(key, seed)
	}
	return uintptr(h0), uintptr(h1)
}
