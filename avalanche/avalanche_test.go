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

package avalanche

import (
	"fmt"
	"math/bits"
	"math/rand"
	"testing"

	"github.com/spaolacci/murmur3"
	"github.com/stretchr/testify/require"
)

func randomKeys(rng *rand.Rand) [][]byte {
	var keys [][]byte
	// Every tail length for a few block counts.
	for n := 0; n <= 67; n++ {
		key := make([]byte, n)
		rng.Read(key)
		keys = append(keys, key)
	}
	for i := 0; i < 32; i++ {
		key := make([]byte, rng.Intn(4096))
		rng.Read(key)
		keys = append(keys, key)
	}
	return keys
}

func TestSum128MatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, seed := range []uint32{0, 1, 0x94122f33, 0xd983396e, rng.Uint32()} {
		for _, key := range randomKeys(rng) {
			e1, e2 := murmur3.Sum128WithSeed(key, seed)
			h1, h2 := Sum128(key, seed)
			require.Equal(t, e1, h1, "len=%d seed=%08x", len(key), seed)
			require.Equal(t, e2, h2, "len=%d seed=%08x", len(key), seed)
		}
	}
}

func TestSum32MatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, seed := range []uint32{0, 1, 0x94122f33, rng.Uint32()} {
		for _, key := range randomKeys(rng) {
			require.Equal(t, murmur3.Sum32WithSeed(key, seed), Sum32(key, seed),
				"len=%d seed=%08x", len(key), seed)
		}
	}
}

func TestSum32Vectors(t *testing.T) {
	testCases := []struct {
		key      string
		seed     uint32
		expected uint32
	}{
		{"", 0, 0},
		{"", 1, 0x514e28b7},
		{"The quick brown fox jumps over the lazy dog", 0, 0x2e4ff723},
	}
	for _, c := range testCases {
		require.Equal(t, c.expected, Sum32([]byte(c.key), c.seed), "%q", c.key)
	}
}

func TestSum128x86Vectors(t *testing.T) {
	seq := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i)
		}
		return string(b)
	}
	testCases := []struct {
		key    string
		seed   uint32
		h1, h2 uint64
	}{
		{"", 0, 0, 0},
		{"", 1, 0x54d201b988c4adec, 0x54d201b954d201b9},
		{"a", 0, 0x5556b01ba794933c, 0x5556b01b5556b01b},
		{"abc", 0x94122f33, 0x2d4332f7463f710b, 0x2d4332f72d4332f7},
		{"a string", 0x94122f33, 0xdc0d089711749b5d, 0x0f987fbd0f987fbd},
		{"The quick brown fox jumps over the lazy dog", 0, 0xecee2c672f1583c3, 0xe5e91d2c5d7bf66c},
		{seq(16), 42, 0x72e3926e5fadebc1, 0xd6c0419b25fe063c},
		{seq(31), 0xd983396e, 0xb76cc5fddc11a8f6, 0x40cfc6c61a1e19b2},
	}
	for _, c := range testCases {
		t.Run(fmt.Sprintf("len=%d", len(c.key)), func(t *testing.T) {
			h1, h2 := Sum128x86([]byte(c.key), c.seed)
			require.Equal(t, c.h1, h1)
			require.Equal(t, c.h2, h2)
		})
	}
}

func TestSum128x86TailSensitivity(t *testing.T) {
	// Flipping any single byte, including each tail byte, must change the
	// hash.
	for n := 1; n <= 48; n++ {
		key := make([]byte, n)
		b1, b2 := Sum128x86(key, 7)
		for i := 0; i < n; i++ {
			key[i] ^= 0x01
			h1, h2 := Sum128x86(key, 7)
			require.False(t, h1 == b1 && h2 == b2, "len=%d byte=%d", n, i)
			key[i] ^= 0x01
		}
	}
}

func TestAvalanche(t *testing.T) {
	// Flipping one input bit should flip roughly half of the output bits.
	rng := rand.New(rand.NewSource(3))
	hashers := map[string]func([]byte) (uint64, uint64){
		"x64": func(b []byte) (uint64, uint64) { return Sum128(b, 0) },
		"x86": func(b []byte) (uint64, uint64) { return Sum128x86(b, 0) },
	}
	for name, hash := range hashers {
		t.Run(name, func(t *testing.T) {
			var flipped, total int
			key := make([]byte, 24)
			for i := 0; i < 200; i++ {
				rng.Read(key)
				a1, a2 := hash(key)
				bit := rng.Intn(len(key) * 8)
				key[bit/8] ^= 1 << (bit % 8)
				b1, b2 := hash(key)
				flipped += bits.OnesCount64(a1^b1) + bits.OnesCount64(a2^b2)
				total += 128
			}
			ratio := float64(flipped) / float64(total)
			require.InDelta(t, 0.5, ratio, 0.05)
		})
	}
}

func TestPair(t *testing.T) {
	key := []byte("a string")
	h0, h1 := Pair(key, 0x94122f33)
	var e0, e1 uint64
	if bits.UintSize == 64 {
		e0, e1 = Sum128(key, 0x94122f33)
	} else {
		e0, e1 = Sum128x86(key, 0x94122f33)
	}
	require.EqualValues(t, uintptr(e0), h0)
	require.EqualValues(t, uintptr(e1), h1)
	require.NotEqual(t, h0, h1)
}

func BenchmarkSum128(b *testing.B) {
	for _, n := range []int{8, 16, 64, 1024} {
		key := make([]byte, n)
		b.Run(fmt.Sprintf("x64/len=%d", n), func(b *testing.B) {
			b.SetBytes(int64(n))
			for i := 0; i < b.N; i++ {
				Sum128(key, 0)
			}
		})
		b.Run(fmt.Sprintf("x86/len=%d", n), func(b *testing.B) {
			b.SetBytes(int64(n))
			for i := 0; i < b.N; i++ {
				Sum128x86(key, 0)
			}
		})
	}
}
