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

import "log/slog"

// Metrics holds the counters maintained by a table created with
// WithMetrics.
type Metrics struct {
	// Grows is the number of times the table doubled in size. A single
	// insertion may grow the table more than once.
	Grows uint64
	// Shrinks is the number of times the table halved in size.
	Shrinks uint64
	// ShrinkFails is the number of shrinks abandoned because the smaller
	// table could not be allocated or rebuilt.
	ShrinkFails uint64
	// Inserts is the number of calls to Insert.
	Inserts uint64
	// Relocations is the number of entries evicted from their cell to make
	// room for another, including evictions that were later undone.
	Relocations uint64
}

// LogValue implements slog.LogValuer.
func (m Metrics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("grows", m.Grows),
		slog.Uint64("shrinks", m.Shrinks),
		slog.Uint64("shrink-fails", m.ShrinkFails),
		slog.Uint64("inserts", m.Inserts),
		slog.Uint64("relocations", m.Relocations),
	)
}
