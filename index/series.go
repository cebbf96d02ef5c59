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

// Package index is the per-database series index: the tag-set -> SeriesId
// mapping, its reverse lookup, and crash-consistent on-disk persistence.
package index

import (
	"sort"
	"strings"

	"github.com/cnosdb/tskv/common"
)

// Tag is one indexed key/value pair of a series.
type Tag struct {
	Key   string
	Value string
}

// SeriesKey is the unique (table, sorted tag set) identity of a series.
type SeriesKey struct {
	Table string
	Tags  []Tag
}

// NewSeriesKey sorts tags by key so that two callers presenting the same
// tag set in different orders land on the same SeriesKey.
func NewSeriesKey(table string, tags []Tag) SeriesKey {
	sorted := make([]Tag, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return SeriesKey{Table: table, Tags: sorted}
}

// String renders a canonical, hashable form: table,k1=v1,k2=v2.
func (k SeriesKey) String() string {
	var b strings.Builder
	b.WriteString(k.Table)
	for _, t := range k.Tags {
		b.WriteByte(',')
		b.WriteString(t.Key)
		b.WriteByte('=')
		b.WriteString(t.Value)
	}
	return b.String()
}

// FieldInfo names one field column of a series for schema passthrough.
type FieldInfo struct {
	FieldID  common.FieldId
	Name     string
	ColumnID common.ColumnId
}

// SeriesInfo is a resolved series: its id, key and field set.
type SeriesInfo struct {
	SeriesID common.SeriesId
	Key      SeriesKey
	Fields   []FieldInfo
}
