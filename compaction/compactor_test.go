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

package compaction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/memcache"
	"github.com/cnosdb/tskv/models"
	"github.com/cnosdb/tskv/tsm"
	"github.com/cnosdb/tskv/version"
	"github.com/stretchr/testify/require"
)

func writeLevel0File(t *testing.T, layout Layout, fileID uint64, fieldID common.FieldId, cells []memcache.Cell) {
	t.Helper()
	dir := layout.levelDir(0)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	w, err := tsm.OpenForWrite(layout.tsmPath(0, fileID))
	require.NoError(t, err)
	require.NoError(t, w.AddRange(tsm.DataBlock{
		FieldID:  fieldID,
		MinTs:    cells[0].Ts,
		MaxTs:    cells[len(cells)-1].Ts,
		Encoding: models.EncodingDefault,
		Cells:    cells,
	}))
	require.NoError(t, w.Flush())
}

func TestRunMergesInputsIntoOneOutputFileAndRemovesInputs(t *testing.T) {
	layout := Layout{BaseDir: filepath.Join(t.TempDir(), "1")}
	writeLevel0File(t, layout, 1, 7, []memcache.Cell{{Ts: 1, Value: 1.0}, {Ts: 2, Value: 2.0}})
	writeLevel0File(t, layout, 2, 7, []memcache.Cell{{Ts: 3, Value: 3.0}})

	req := Req{
		TsFamilyID:  1,
		OutputLevel: 1,
		Inputs: []version.FileMeta{
			{FileID: 1, MinTs: 1, MaxTs: 2},
			{FileID: 2, MinTs: 3, MaxTs: 3},
		},
	}
	levels := []inputLevel{{FileID: 1, Level: 0}, {FileID: 2, Level: 0}}

	nextID := uint64(100)
	edit, err := Run(layout, req, levels, func() uint64 { return nextID }, 16)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{1, 2}, edit.RemovedFileIDs)
	require.Len(t, edit.AddedFiles, 1)
	require.Equal(t, 1, edit.AddedFiles[0].Level)
	require.Equal(t, uint64(100), edit.AddedFiles[0].File.FileID)
	require.Equal(t, int64(1), edit.AddedFiles[0].File.MinTs)
	require.Equal(t, int64(3), edit.AddedFiles[0].File.MaxTs)

	r, err := tsm.OpenReader(layout.tsmPath(1, 100), 100, 16)
	require.NoError(t, err)
	defer r.Close()
	blocks, err := r.ReadColumnFile(7, common.TimeRange{Min: 0, Max: 10})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].Cells, 3)
}

func TestRunAppliesTombstonesFromInputFiles(t *testing.T) {
	layout := Layout{BaseDir: filepath.Join(t.TempDir(), "1")}
	writeLevel0File(t, layout, 1, 7, []memcache.Cell{{Ts: 1, Value: 1.0}, {Ts: 2, Value: 2.0}, {Ts: 3, Value: 3.0}})

	tf, err := tsm.OpenTombstoneFile(layout.tombstonePath(0, 1))
	require.NoError(t, err)
	tf.Add(7, 2, 2)
	require.NoError(t, tf.Flush())

	req := Req{
		TsFamilyID:  1,
		OutputLevel: 1,
		Inputs:      []version.FileMeta{{FileID: 1, MinTs: 1, MaxTs: 3}},
	}
	levels := []inputLevel{{FileID: 1, Level: 0}}

	edit, err := Run(layout, req, levels, func() uint64 { return 50 }, 16)
	require.NoError(t, err)
	require.Len(t, edit.AddedFiles, 1)

	r, err := tsm.OpenReader(layout.tsmPath(1, 50), 50, 16)
	require.NoError(t, err)
	defer r.Close()
	blocks, err := r.ReadColumnFile(7, common.TimeRange{Min: 0, Max: 10})
	require.NoError(t, err)
	var total int
	for _, b := range blocks {
		total += len(b.Cells)
	}
	require.Equal(t, 2, total)
}
