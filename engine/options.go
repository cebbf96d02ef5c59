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

package engine

import (
	"time"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/compaction"
	"github.com/cnosdb/tskv/memcache"
	"github.com/cnosdb/tskv/wal"
)

// Options is the engine's single read-only configuration tree, loaded
// once at Open and never mutated afterward.
type Options struct {
	// Path is the database's root directory: wal/, summary.log, data/
	// and index/ all live under it.
	Path string

	NumLevels      int
	BlockCacheSize int

	Wal        wal.Options
	Cache      memcache.Options
	Compaction compaction.Options

	// ActiveWindow fixes every ts-family's mut/delta_mut split window.
	// Nil means compute a wall-clock window of +/-ActiveWindowSize
	// around time.Now() the first time a ts-family is created; tests
	// that need a deterministic window set this directly.
	ActiveWindow     *common.TimeRange
	ActiveWindowSize time.Duration

	// SummaryQueueLen and FlushQueueLen bound the buffered channels the
	// summary writer and flush worker consume from. Producers must not
	// stall on a slow consumer (backpressure comes from memtable
	// thresholds, never channel capacity), so the buffers are sized far
	// above any realistic in-flight count.
	SummaryQueueLen int
	FlushQueueLen   int
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = "."
	}
	if o.NumLevels == 0 {
		o.NumLevels = 4
	}
	if o.BlockCacheSize == 0 {
		o.BlockCacheSize = 256
	}
	if o.ActiveWindowSize == 0 {
		o.ActiveWindowSize = 24 * time.Hour
	}
	if o.SummaryQueueLen == 0 {
		o.SummaryQueueLen = 4096
	}
	if o.FlushQueueLen == 0 {
		o.FlushQueueLen = 4096
	}
	return o
}

func (o Options) defaultWindow() common.TimeRange {
	if o.ActiveWindow != nil {
		return *o.ActiveWindow
	}
	now := time.Now().UnixNano()
	half := o.ActiveWindowSize.Nanoseconds()
	return common.TimeRange{Min: now - half, Max: now + half}
}
