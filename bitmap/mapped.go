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

package bitmap

import (
	"fmt"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// Mapped is a Bitmap whose storage is an anonymous memory mapping outside of
// the Go heap. Close must be called to release the mapping; the Bitmap must
// not be used afterwards.
type Mapped struct {
	Bitmap
	region mmap.MMap
}

// NewMapped returns a bitmap of nbits unset bits backed by an anonymous
// mapping.
func NewMapped(nbits int) (*Mapped, error) {
	checkBits(nbits)
	n := Words(nbits)
	region, err := mmap.MapRegion(nil, n*8, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("bitmap: mapping %d words: %w", n, err)
	}
	// Mappings are page aligned, which satisfies uint64 alignment.
	storage := unsafe.Slice((*uint64)(unsafe.Pointer(unsafe.SliceData([]byte(region)))), n)
	return &Mapped{
		Bitmap: Init(storage, nbits),
		region: region,
	}, nil
}

// Close unmaps the bitmap storage. Close is idempotent.
func (m *Mapped) Close() error {
	if m.region == nil {
		return nil
	}
	err := m.region.Unmap()
	m.region = nil
	m.Bitmap = nil
	return err
}
