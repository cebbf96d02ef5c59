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
	"hash/fnv"
	"path/filepath"
	"strconv"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/compaction"
)

// tsFamilyIDFor derives a ts-family id from (tenant, db) by FNV-1a hashing
// the pair: every database gets exactly one ts-family on this node (see
// DESIGN.md for the sharding decision).
func tsFamilyIDFor(tenant, db string) common.TseriesFamilyId {
	h := fnv.New32a()
	h.Write([]byte(tenant))
	h.Write([]byte{0})
	h.Write([]byte(db))
	return h.Sum32()
}

// walDir is the single shared write-ahead log directory: every ts-family's
// writes interleave in WAL sequence order, matching the "one engine, one
// WAL" layout the original wires through a single unbounded channel.
func (e *TsKv) walDir() string { return filepath.Join(e.opts.Path, "wal") }

func (e *TsKv) indexDir() string { return filepath.Join(e.opts.Path, "index") }

// lockPath and tombstoneStorePath are free functions: Open needs both
// before the TsKv value exists.
func lockPath(root string) string { return filepath.Join(root, "LOCK") }

func tombstoneStorePath(root string) string { return filepath.Join(root, "tombstones.json") }

func (e *TsKv) dataDir(tsFamilyID common.TseriesFamilyId) string {
	return filepath.Join(e.opts.Path, "data", strconv.FormatUint(uint64(tsFamilyID), 10))
}

// Layout implements compaction.LayoutSource.
func (e *TsKv) Layout(tsFamilyID common.TseriesFamilyId) compaction.Layout {
	return compaction.Layout{BaseDir: e.dataDir(tsFamilyID)}
}

func (e *TsKv) tsmPath(tsFamilyID common.TseriesFamilyId, level int, fileID uint64) string {
	return filepath.Join(e.dataDir(tsFamilyID), strconv.Itoa(level), strconv.FormatUint(fileID, 10)+".tsm")
}

func (e *TsKv) tombstonePath(tsFamilyID common.TseriesFamilyId, level int, fileID uint64) string {
	return filepath.Join(e.dataDir(tsFamilyID), strconv.Itoa(level), strconv.FormatUint(fileID, 10)+".tombstone")
}
