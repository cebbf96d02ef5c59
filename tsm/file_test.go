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

package tsm

import (
	"path/filepath"
	"testing"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/memcache"
	"github.com/cnosdb/tskv/models"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadColumnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.tsm")
	w, err := OpenForWrite(path)
	require.NoError(t, err)

	block := DataBlock{
		FieldID:  7,
		MinTs:    1,
		MaxTs:    3,
		Encoding: models.EncodingDefault,
		Cells: []memcache.Cell{
			{Ts: 1, Value: 1.0},
			{Ts: 2, Value: 2.0},
			{Ts: 3, Value: 3.0},
		},
	}
	require.NoError(t, w.AddRange(block))
	require.NoError(t, w.Flush())

	r, err := OpenReader(path, 1, 0)
	require.NoError(t, err)
	defer r.Close()

	blocks, err := r.ReadColumnFile(7, common.TimeRange{Min: 0, Max: 10})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, 3, len(blocks[0].Cells))
	require.Equal(t, int64(1), blocks[0].MinTs)

	none, err := r.ReadColumnFile(99, common.TimeRange{Min: 0, Max: 10})
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestWriteReadRoundTripsSnappyEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2.tsm")
	w, err := OpenForWrite(path)
	require.NoError(t, err)

	block := DataBlock{
		FieldID:  1,
		MinTs:    10,
		MaxTs:    10,
		Encoding: models.EncodingSnappy,
		Cells:    []memcache.Cell{{Ts: 10, Value: "host-a"}},
	}
	require.NoError(t, w.AddRange(block))
	require.NoError(t, w.Flush())

	r, err := OpenReader(path, 2, 4)
	require.NoError(t, err)
	defer r.Close()

	blocks, err := r.ReadColumnFile(1, common.TimeRange{Min: 0, Max: 100})
	require.NoError(t, err)
	require.Equal(t, "host-a", blocks[0].Cells[0].Value)
}

func TestMergeBlocksDedupesByHighestFileID(t *testing.T) {
	sources := map[uint64][]DataBlock{
		1: {{FieldID: 5, MinTs: 1, MaxTs: 2, Cells: []memcache.Cell{{Ts: 1, Value: "old"}, {Ts: 2, Value: "keep"}}}},
		2: {{FieldID: 5, MinTs: 1, MaxTs: 1, Cells: []memcache.Cell{{Ts: 1, Value: "new"}}}},
	}
	merged := MergeBlocks(5, models.EncodingDefault, sources)
	require.Len(t, merged, 1)
	require.Len(t, merged[0].Cells, 2)
	require.Equal(t, "new", merged[0].Cells[0].Value)
	require.Equal(t, "keep", merged[0].Cells[1].Value)
}

func TestMergeBlocksSplitsOversizedRuns(t *testing.T) {
	sources := map[uint64][]DataBlock{
		1: {{FieldID: 1}},
	}
	var cells []memcache.Cell
	for i := 0; i < MaxBlockValues+10; i++ {
		cells = append(cells, memcache.Cell{Ts: int64(i), Value: i})
	}
	sources[1][0].Cells = cells

	merged := MergeBlocks(1, models.EncodingDefault, sources)
	require.Len(t, merged, 2)
	require.Len(t, merged[0].Cells, MaxBlockValues)
	require.Len(t, merged[1].Cells, 10)
}

func TestApplyTombstonesRemovesOverlappingCells(t *testing.T) {
	blocks := []DataBlock{{
		FieldID: 1,
		MinTs:   1,
		MaxTs:   5,
		Cells: []memcache.Cell{
			{Ts: 1, Value: 1}, {Ts: 2, Value: 2}, {Ts: 3, Value: 3}, {Ts: 4, Value: 4}, {Ts: 5, Value: 5},
		},
	}}
	out := ApplyTombstones(blocks, []Tombstone{{FieldID: 1, MinTs: 2, MaxTs: 4}})
	require.Len(t, out, 1)
	require.Len(t, out[0].Cells, 2)
	require.Equal(t, int64(1), out[0].Cells[0].Ts)
	require.Equal(t, int64(5), out[0].Cells[1].Ts)
}

func TestTombstoneFilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.tombstone")
	tf, err := OpenTombstoneFile(path)
	require.NoError(t, err)
	tf.Add(1, 10, 20)
	require.NoError(t, tf.Flush())

	reopened, err := OpenTombstoneFile(path)
	require.NoError(t, err)
	got := reopened.Overlapping(1, common.TimeRange{Min: 0, Max: 100})
	require.Len(t, got, 1)
	require.Equal(t, int64(10), got[0].MinTs)
}
