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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringHasher(t *testing.T) {
	var h StringHasher
	a, b := "a string", string([]byte("a string"))
	h0a, h1a := h.Hash(&a)
	h0b, h1b := h.Hash(&b)
	require.Equal(t, h0a, h0b)
	require.Equal(t, h1a, h1b)
	require.NotEqual(t, h0a, h1a)
	require.True(t, h.Equal(&a, &b))

	c := "A string"
	h0c, _ := h.Hash(&c)
	require.NotEqual(t, h0a, h0c)
	require.False(t, h.Equal(&a, &c))

	empty := ""
	h.Hash(&empty)
}

func TestBytesHasher(t *testing.T) {
	var h BytesHasher
	var sh StringHasher
	a, b := []byte("a string"), []byte("a string")
	s := "a string"
	h0a, h1a := h.Hash(&a)
	h0b, h1b := h.Hash(&b)
	h0s, h1s := sh.Hash(&s)
	require.Equal(t, h0a, h0b)
	require.Equal(t, h1a, h1b)
	// Bytes and strings with the same content hash alike.
	require.Equal(t, h0a, h0s)
	require.Equal(t, h1a, h1s)
	require.True(t, h.Equal(&a, &b))

	var nilBytes []byte
	empty := []byte{}
	h0n, h1n := h.Hash(&nilBytes)
	h0e, h1e := h.Hash(&empty)
	require.Equal(t, h0n, h0e)
	require.Equal(t, h1n, h1e)
}

func TestPointerHasher(t *testing.T) {
	var h PointerHasher[int]
	vals := make([]int, 2)
	a, b := &vals[0], &vals[1]
	h0a, h1a := h.Hash(a)
	h0b, _ := h.Hash(b)
	h0a2, h1a2 := h.Hash(a)
	require.Equal(t, h0a, h0a2)
	require.Equal(t, h1a, h1a2)
	require.NotEqual(t, h0a, h0b)
	require.True(t, h.Equal(a, a))
	// Equal contents are not enough.
	require.False(t, h.Equal(a, b))
}

func TestXXH3Hasher(t *testing.T) {
	a, b := "a string", "a string"
	h0a, h1a := XXH3Hasher{}.Hash(&a)
	h0b, h1b := XXH3Hasher{}.Hash(&b)
	require.Equal(t, h0a, h0b)
	require.Equal(t, h1a, h1b)

	h0s, _ := XXH3Hasher{Seed: 1}.Hash(&a)
	require.NotEqual(t, h0a, h0s)
}

// TestHasherLoad checks that the ready-made hashers spread keys well enough
// to reach a healthy load factor before growing.
func TestHasherLoad(t *testing.T) {
	const count = 1 << 12
	keys := make([]string, count)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}

	test := func(t *testing.T, h Hasher[string]) {
		m, err := New[string, string](count, h, WithMetrics[string, string]())
		require.NoError(t, err)
		for i := range keys {
			require.NoError(t, m.Insert(&keys[i], &keys[i]))
		}
		// Sized for a load factor of 3/4, so no growth is expected.
		require.Zero(t, m.Metrics().Grows)
		require.Equal(t, count, m.Len())
	}

	t.Run("avalanche", func(t *testing.T) {
		test(t, StringHasher{})
	})
	t.Run("xxh3", func(t *testing.T) {
		test(t, XXH3Hasher{Seed: 3})
	})
}
