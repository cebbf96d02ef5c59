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
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/models"
	"github.com/cnosdb/tskv/tsm"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/cnosdb/tskv/version"
)

// Layout locates the on-disk files a ts-family's data occupies, so the
// compactor can be tested against a temp directory without depending on
// the engine's own path conventions.
type Layout struct {
	BaseDir string // data/<ts-family-id>
}

func (l Layout) levelDir(level int) string {
	return filepath.Join(l.BaseDir, strconv.Itoa(level))
}

func (l Layout) tsmPath(level int, fileID uint64) string {
	return filepath.Join(l.levelDir(level), fmt.Sprintf("%d.tsm", fileID))
}

func (l Layout) tombstonePath(level int, fileID uint64) string {
	return filepath.Join(l.levelDir(level), fmt.Sprintf("%d.tombstone", fileID))
}

// inputLevel reports which level file carries fileID, scanning the
// version's levels the req was picked from. Compactor doesn't get this
// for free from Req, so callers pass the level alongside each input via
// levelsOf.
type inputLevel struct {
	FileID uint64
	Level  int
}

// Run executes req: every input file is opened, its blocks merged per
// field (later file ids win on timestamp ties, matching the "newest file
// wins" rule compaction and flush both rely on), tombstones are applied,
// and the merged result is written to one new file at outputLevel,
// allocated via newFileID. Inputs are never modified; the caller is
// responsible for publishing the returned edit and then reclaiming the
// input files once no reader still references them.
func Run(layout Layout, req Req, levels []inputLevel, newFileID func() uint64, blockCacheSize int) (version.VersionEdit, error) {
	if len(req.Inputs) == 0 {
		return version.VersionEdit{}, tskverr.New(tskverr.KindIoError, "compaction.Run")
	}
	levelByFileID := make(map[uint64]int, len(levels))
	for _, l := range levels {
		levelByFileID[l.FileID] = l.Level
	}

	readers := make(map[uint64]*tsm.Reader, len(req.Inputs))
	tombstones := make(map[uint64][]tsm.Tombstone, len(req.Inputs))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	fieldSet := make(map[common.FieldId]struct{})
	for _, f := range req.Inputs {
		level := levelByFileID[f.FileID]
		r, err := tsm.OpenReader(layout.tsmPath(level, f.FileID), f.FileID, blockCacheSize)
		if err != nil {
			return version.VersionEdit{}, err
		}
		readers[f.FileID] = r
		for _, id := range r.FieldIDs() {
			fieldSet[id] = struct{}{}
		}

		tf, err := tsm.OpenTombstoneFile(layout.tombstonePath(level, f.FileID))
		if err != nil {
			return version.VersionEdit{}, err
		}
		tombstones[f.FileID] = tf.All()
	}

	var allTombstones []tsm.Tombstone
	for _, ts := range tombstones {
		allTombstones = append(allTombstones, ts...)
	}

	outFileID := newFileID()
	outDir := layout.levelDir(req.OutputLevel)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return version.VersionEdit{}, tskverr.Wrap(tskverr.KindIoError, "compaction.Run", err)
	}
	w, err := tsm.OpenForWrite(layout.tsmPath(req.OutputLevel, outFileID))
	if err != nil {
		return version.VersionEdit{}, err
	}

	var minTs, maxTs int64
	first := true
	var totalBlocks int
	for fieldID := range fieldSet {
		sources := make(map[uint64][]tsm.DataBlock, len(readers))
		for fileID, r := range readers {
			blocks, err := r.ReadColumnFile(fieldID, common.TimeRange{Min: minInt64, Max: maxInt64})
			if err != nil {
				return version.VersionEdit{}, err
			}
			sources[fileID] = blocks
		}
		// Compacted data is cold by definition: it survived at least one
		// flush without being overwritten. Re-encode with zstd regardless
		// of the source blocks' encoding, trading the cheaper snappy
		// flush-time encoding for zstd's better ratio on data that won't
		// be touched again soon.
		merged := tsm.MergeBlocks(fieldID, models.EncodingZstd, sources)
		merged = tsm.ApplyTombstones(merged, allTombstones)
		for _, b := range merged {
			if err := w.AddRange(b); err != nil {
				return version.VersionEdit{}, err
			}
			totalBlocks++
			if first {
				minTs, maxTs = b.MinTs, b.MaxTs
				first = false
			} else {
				if b.MinTs < minTs {
					minTs = b.MinTs
				}
				if b.MaxTs > maxTs {
					maxTs = b.MaxTs
				}
			}
		}
	}
	if err := w.Flush(); err != nil {
		return version.VersionEdit{}, err
	}

	removed := make([]uint64, len(req.Inputs))
	for i, f := range req.Inputs {
		removed[i] = f.FileID
	}

	edit := version.VersionEdit{
		TsFamilyID:     req.TsFamilyID,
		RemovedFileIDs: removed,
	}
	if totalBlocks > 0 {
		edit.AddedFiles = []version.AddedFile{{
			Level: req.OutputLevel,
			File:  version.FileMeta{FileID: outFileID, MinTs: minTs, MaxTs: maxTs},
		}}
	} else {
		// Every input cell was tombstoned: nothing survives into the
		// output level, so the file just written is never referenced by
		// any Version and can be removed immediately.
		os.Remove(layout.tsmPath(req.OutputLevel, outFileID))
	}
	return edit, nil
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)
