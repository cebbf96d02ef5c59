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

// Package tsm is the immutable sorted data-block file layer: blocks sorted
// by FieldId then timestamp, tombstones recording deletion ranges, and
// merge-read across files with last-writer-wins dedup.
package tsm

import (
	"sort"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/memcache"
	"github.com/cnosdb/tskv/models"
)

// MaxBlockValues bounds how many cells one DataBlock may carry; a merge
// that would exceed it splits into multiple blocks instead.
const MaxBlockValues = 1000

// DataBlock is one sorted, contiguous run of cells for a single field.
type DataBlock struct {
	FieldID  common.FieldId
	MinTs    int64
	MaxTs    int64
	Encoding models.Encoding
	Cells    []memcache.Cell
}

// taggedCell carries the id of the file it came from, so dedup can apply
// last-writer-wins by file id when two files disagree on a timestamp.
type taggedCell struct {
	memcache.Cell
	fileID uint64
}

// MergeBlocks merges blocks from possibly-overlapping sources (each
// source's blocks already sorted by Ts), deduplicating on (field, Ts) with
// the highest fileID winning, and splits the result into blocks no larger
// than MaxBlockValues.
func MergeBlocks(fieldID common.FieldId, enc models.Encoding, sources map[uint64][]DataBlock) []DataBlock {
	var tagged []taggedCell
	for fileID, blocks := range sources {
		for _, b := range blocks {
			for _, c := range b.Cells {
				tagged = append(tagged, taggedCell{Cell: c, fileID: fileID})
			}
		}
	}
	if len(tagged) == 0 {
		return nil
	}

	sort.SliceStable(tagged, func(i, j int) bool {
		if tagged[i].Ts != tagged[j].Ts {
			return tagged[i].Ts < tagged[j].Ts
		}
		return tagged[i].fileID < tagged[j].fileID
	})

	byTs := make(map[int64]taggedCell, len(tagged))
	order := make([]int64, 0, len(tagged))
	for _, tc := range tagged {
		if _, ok := byTs[tc.Ts]; !ok {
			order = append(order, tc.Ts)
		}
		byTs[tc.Ts] = tc // later (higher fileID, same Ts) overwrites
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	cells := make([]memcache.Cell, len(order))
	for i, ts := range order {
		cells[i] = byTs[ts].Cell
	}

	return splitBlocks(fieldID, enc, cells)
}

// BuildBlocks splits cells (already sorted ascending by Ts) into one or
// more DataBlocks no larger than MaxBlockValues, the same split a merge
// performs. Used by the flush worker, which has a single source rather
// than several to merge.
func BuildBlocks(fieldID common.FieldId, enc models.Encoding, cells []memcache.Cell) []DataBlock {
	return splitBlocks(fieldID, enc, cells)
}

func splitBlocks(fieldID common.FieldId, enc models.Encoding, cells []memcache.Cell) []DataBlock {
	var out []DataBlock
	for start := 0; start < len(cells); start += MaxBlockValues {
		end := start + MaxBlockValues
		if end > len(cells) {
			end = len(cells)
		}
		chunk := cells[start:end]
		out = append(out, DataBlock{
			FieldID:  fieldID,
			MinTs:    chunk[0].Ts,
			MaxTs:    chunk[len(chunk)-1].Ts,
			Encoding: enc,
			Cells:    chunk,
		})
	}
	return out
}

// ApplyTombstones removes every cell covered by an overlapping tombstone
// range for the block's field.
func ApplyTombstones(blocks []DataBlock, tombstones []Tombstone) []DataBlock {
	if len(tombstones) == 0 {
		return blocks
	}
	out := make([]DataBlock, 0, len(blocks))
	for _, b := range blocks {
		kept := b.Cells[:0:0]
		for _, c := range b.Cells {
			deleted := false
			for _, ts := range tombstones {
				if ts.FieldID != b.FieldID {
					continue
				}
				if c.Ts >= ts.MinTs && c.Ts <= ts.MaxTs {
					deleted = true
					break
				}
			}
			if !deleted {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, DataBlock{
			FieldID:  b.FieldID,
			MinTs:    kept[0].Ts,
			MaxTs:    kept[len(kept)-1].Ts,
			Encoding: b.Encoding,
			Cells:    kept,
		})
	}
	return out
}
