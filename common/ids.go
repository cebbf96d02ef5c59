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

// Package common holds the identifier and time-range types shared by every
// layer of the storage engine: schema, index, WAL, memcache, TSM and
// version/compaction all import this package and nothing above it.
package common

// Oid identifies a tenant.
type Oid = uint64

// SchemaId is a monotonic per-table schema revision number.
type SchemaId = uint32

// ColumnId is a monotonic per-table column id. Never reused once assigned.
type ColumnId = uint32

// SeriesId is a monotonic per-database series id.
type SeriesId = uint64

// FieldId bijectively pairs a ColumnId and a SeriesId.
type FieldId = uint64

// TseriesFamilyId identifies a ts-family (a database shard on one node).
type TseriesFamilyId = uint32

// NodeId identifies a storage node.
type NodeId = uint64

// PairIds combines a column id and a series id into a single FieldId.
//
// The column id occupies the low 32 bits and the series id the high 32
// bits, so pairing is a plain concatenation of the two halves with no
// loss: UnpairIds is its
// exact inverse for every (columnID, seriesID) representable in 32 bits
// each.
func PairIds(columnID ColumnId, seriesID SeriesId) FieldId {
	return FieldId(seriesID)<<32 | FieldId(columnID)
}

// UnpairIds recovers the (columnID, seriesID) pair from a FieldId produced
// by PairIds.
func UnpairIds(fieldID FieldId) (columnID ColumnId, seriesID SeriesId) {
	return ColumnId(fieldID & 0xffffffff), SeriesId(fieldID >> 32)
}
