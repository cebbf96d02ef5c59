// Copyright 2024 The tskv Authors
// This file is part of tskv.
//
// tskv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// tskv is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with tskv. If not, see <http://www.gnu.org/licenses/>.

// Package memcache is the in-memory staging tier: per ts-family active and
// delta caches of FieldId -> MemEntry, sealed to immutable caches on a
// size/age trigger and handed off to the flush worker.
package memcache

import (
	"sort"
	"sync"

	"github.com/cnosdb/tskv/common"
)

// Cell is one (timestamp, value) point. Value holds whatever Go type
// corresponds to the field's ValueType (float64, int64, uint64, bool,
// string, or a string holding a geometry's wire text).
type Cell struct {
	Ts    int64
	Value any
}

// MemEntry holds one FieldId's cells, kept sorted ascending by Ts. Its own
// mutex lets writers mutate one entry while the owning cache only holds a
// read lock (the "read lock + interior mutation" path of the concurrency
// model).
type MemEntry struct {
	mu    sync.Mutex
	cells []Cell
	bytes int64
}

const approxCellOverhead = 24

// Put inserts (ts, val), keeping cells sorted; a duplicate Ts overwrites
// the existing cell with the newer value (the caller is expected to only
// advance WAL sequence forward, so "newer" means "called later").
func (e *MemEntry) Put(ts int64, val any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := sort.Search(len(e.cells), func(i int) bool { return e.cells[i].Ts >= ts })
	if i < len(e.cells) && e.cells[i].Ts == ts {
		e.cells[i].Value = val
		return
	}
	e.cells = append(e.cells, Cell{})
	copy(e.cells[i+1:], e.cells[i:])
	e.cells[i] = Cell{Ts: ts, Value: val}
	e.bytes += approxCellOverhead
}

// ReadCell returns every cell whose Ts falls within tr, in ascending order.
func (e *MemEntry) ReadCell(tr common.TimeRange) []Cell {
	e.mu.Lock()
	defer e.mu.Unlock()

	lo := sort.Search(len(e.cells), func(i int) bool { return e.cells[i].Ts >= tr.Min })
	hi := sort.Search(len(e.cells), func(i int) bool { return e.cells[i].Ts > tr.Max })
	if lo >= hi {
		return nil
	}
	out := make([]Cell, hi-lo)
	copy(out, e.cells[lo:hi])
	return out
}

// DeleteRange removes every cell whose Ts falls within tr.
func (e *MemEntry) DeleteRange(tr common.TimeRange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lo := sort.Search(len(e.cells), func(i int) bool { return e.cells[i].Ts >= tr.Min })
	hi := sort.Search(len(e.cells), func(i int) bool { return e.cells[i].Ts > tr.Max })
	if lo >= hi {
		return
	}
	e.bytes -= int64(hi-lo) * approxCellOverhead
	e.cells = append(e.cells[:lo], e.cells[hi:]...)
}

// Len reports the cell count, used for size accounting.
func (e *MemEntry) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cells)
}

func (e *MemEntry) sizeBytes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bytes
}
