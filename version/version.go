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

// Package version owns the versioned file set per ts-family: immutable
// Version snapshots, the SuperVersion readers pin, VersionEdit records,
// and the durable summary log those edits are replayed from.
package version

import (
	"github.com/cnosdb/tskv/common"
)

// FileMeta describes one on-disk TSM file.
type FileMeta struct {
	FileID    uint64
	MinTs     int64
	MaxTs     int64
	Size      int64
	Tombstone bool
}

// Level holds the files at one compaction level. Level 0 is the delta
// level: unsorted and files there may overlap in time range. Levels >= 1
// are sorted and non-overlapping within the level.
type Level struct {
	Files     []FileMeta
	TimeRange common.TimeRange
}

// Version is an immutable snapshot of the file set for one ts-family. It
// is never mutated in place: every edit produces a new Version built by
// copying the levels it touches.
type Version struct {
	TsFamilyID common.TseriesFamilyId
	Levels     []Level
	SeqNo      uint64

	refs *refCount
}

// refCount lets VersionSet reclaim a Version's files only once no reader
// still holds it, mirroring the "arena-backed file records with
// reference-counted handles" design for cyclic cache/version references.
type refCount struct {
	n      int32
	onZero func()
}

func newRefCount(onZero func()) *refCount { return &refCount{n: 1, onZero: onZero} }

func (r *refCount) acquire() { r.n++ }

func (r *refCount) release() {
	r.n--
	if r.n == 0 && r.onZero != nil {
		r.onZero()
	}
}

// Acquire bumps the version's reference count; call Release when done.
func (v *Version) Acquire() { v.refs.acquire() }

// Release drops the reference count, invoking the version's reclaim
// callback once it reaches zero.
func (v *Version) Release() { v.refs.release() }

// LevelZero returns level 0's files, the delta/overlapping level.
func (v *Version) LevelZero() []FileMeta {
	if len(v.Levels) == 0 {
		return nil
	}
	return v.Levels[0].Files
}

// clone deep-copies levels so an edit can mutate the copy without
// disturbing any Version still pinned by a reader.
func (v *Version) clone() *Version {
	levels := make([]Level, len(v.Levels))
	for i, lvl := range v.Levels {
		files := make([]FileMeta, len(lvl.Files))
		copy(files, lvl.Files)
		levels[i] = Level{Files: files, TimeRange: lvl.TimeRange}
	}
	return &Version{TsFamilyID: v.TsFamilyID, Levels: levels, SeqNo: v.SeqNo}
}

// NewEmptyVersion builds a zero-file Version for a fresh ts-family, with
// its own independent reference count ready for Acquire/Release.
func NewEmptyVersion(tsFamilyID common.TseriesFamilyId, numLevels int) *Version {
	return &Version{TsFamilyID: tsFamilyID, Levels: make([]Level, numLevels), refs: newRefCount(nil)}
}
