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

package version

import "github.com/cnosdb/tskv/common"

// AddedFile names the level a new file belongs to alongside its metadata.
type AddedFile struct {
	Level int      `json:"level"`
	File  FileMeta `json:"file"`
}

// VersionEdit records one atomic change to a ts-family's file set: files
// added (with their target level), files removed by id, and the write
// sequence watermark the edit advances to.
type VersionEdit struct {
	TsFamilyID     common.TseriesFamilyId `json:"tsf"`
	SeqNo          uint64                 `json:"seq"`
	AddedFiles     []AddedFile            `json:"added"`
	RemovedFileIDs []uint64               `json:"removed"`
}

// Apply produces a new Version reflecting edit, leaving base untouched.
// The sequence watermark only ever moves forward: an edit carrying an
// older (or unset) SeqNo keeps the base's.
func Apply(base *Version, edit VersionEdit) *Version {
	next := base.clone()
	if edit.SeqNo > next.SeqNo {
		next.SeqNo = edit.SeqNo
	}

	removed := make(map[uint64]bool, len(edit.RemovedFileIDs))
	for _, id := range edit.RemovedFileIDs {
		removed[id] = true
	}
	for i := range next.Levels {
		kept := next.Levels[i].Files[:0:0]
		for _, f := range next.Levels[i].Files {
			if !removed[f.FileID] {
				kept = append(kept, f)
			}
		}
		next.Levels[i].Files = kept
	}

	for _, added := range edit.AddedFiles {
		for len(next.Levels) <= added.Level {
			next.Levels = append(next.Levels, Level{})
		}
		lvl := &next.Levels[added.Level]
		fileRange := common.TimeRange{Min: added.File.MinTs, Max: added.File.MaxTs}
		if len(lvl.Files) == 0 {
			lvl.TimeRange = fileRange
		} else {
			lvl.TimeRange = lvl.TimeRange.Merge(fileRange)
		}
		lvl.Files = append(lvl.Files, added.File)
	}
	return next
}
