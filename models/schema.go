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

package models

import (
	"sort"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/tskverr"
)

// TskvTableSchemaRef is the shared, read-mostly handle callers pass around;
// mutation always goes through a fresh copy (see Clone), matching the
// "never mutate in place while a reader may be looking" rule for anything
// reachable from a SuperVersion.
type TskvTableSchemaRef = *TskvTableSchema

// TskvTableSchema is one table's column set and its revision history.
type TskvTableSchema struct {
	Tenant   string
	Db       string
	Name     string
	SchemaId common.SchemaId

	nextColumnID common.ColumnId
	columns      []TableColumn
	columnsIndex map[string]int
}

// NewTskvTableSchema builds a schema from an initial column set. SchemaId
// starts at 0; the first structural change (AddColumn et al.) bumps it to 1.
func NewTskvTableSchema(tenant, db, name string, columns []TableColumn) *TskvTableSchema {
	idx := make(map[string]int, len(columns))
	var maxID common.ColumnId
	for i, c := range columns {
		idx[c.Name] = i
		if c.ID+1 > maxID {
			maxID = c.ID + 1
		}
	}
	return &TskvTableSchema{
		Tenant:       tenant,
		Db:           db,
		Name:         name,
		SchemaId:     0,
		nextColumnID: maxID,
		columns:      columns,
		columnsIndex: idx,
	}
}

// Clone returns a deep-enough copy safe to mutate independently: a writer
// building the next schema_id does not disturb a SuperVersion that still
// points at the old one.
func (s *TskvTableSchema) Clone() *TskvTableSchema {
	cols := make([]TableColumn, len(s.columns))
	copy(cols, s.columns)
	idx := make(map[string]int, len(s.columnsIndex))
	for k, v := range s.columnsIndex {
		idx[k] = v
	}
	return &TskvTableSchema{
		Tenant:       s.Tenant,
		Db:           s.Db,
		Name:         s.Name,
		SchemaId:     s.SchemaId,
		nextColumnID: s.nextColumnID,
		columns:      cols,
		columnsIndex: idx,
	}
}

// Less orders schemas by SchemaId.
func (s *TskvTableSchema) Less(other *TskvTableSchema) bool {
	return s.SchemaId < other.SchemaId
}

// AddColumn appends col if its name isn't already present and bumps
// SchemaId. Calling it twice with the same name is a no-op on the second
// call, and a no-op never advances next_column_id: only a real insert
// consumes an id.
func (s *TskvTableSchema) AddColumn(col TableColumn) {
	if _, exists := s.columnsIndex[col.Name]; exists {
		return
	}
	col.ID = s.nextColumnID
	s.columnsIndex[col.Name] = len(s.columns)
	s.columns = append(s.columns, col)
	s.nextColumnID++
	s.SchemaId++
}

// DropColumn removes the named column. A no-op if the name is absent or
// names the mandatory time column, which can never be dropped.
func (s *TskvTableSchema) DropColumn(name string) {
	idx, ok := s.columnsIndex[name]
	if !ok {
		return
	}
	if s.columns[idx].ColumnType.IsTime() {
		return
	}
	s.columns = append(s.columns[:idx], s.columns[idx+1:]...)
	s.rebuildIndex()
	s.SchemaId++
}

// ChangeColumn replaces the named column in place (same slot index),
// updating the name map if the name changed.
func (s *TskvTableSchema) ChangeColumn(name string, newColumn TableColumn) {
	idx, ok := s.columnsIndex[name]
	if !ok {
		return
	}
	newColumn.ID = s.columns[idx].ID
	if newColumn.Name != name {
		delete(s.columnsIndex, name)
		s.columnsIndex[newColumn.Name] = idx
	}
	s.columns[idx] = newColumn
	s.SchemaId++
}

func (s *TskvTableSchema) rebuildIndex() {
	idx := make(map[string]int, len(s.columns))
	for i, c := range s.columns {
		idx[c.Name] = i
	}
	s.columnsIndex = idx
}

func (s *TskvTableSchema) Column(name string) (TableColumn, bool) {
	idx, ok := s.columnsIndex[name]
	if !ok {
		return TableColumn{}, false
	}
	return s.columns[idx], true
}

func (s *TskvTableSchema) ColumnByIndex(i int) (TableColumn, bool) {
	if i < 0 || i >= len(s.columns) {
		return TableColumn{}, false
	}
	return s.columns[i], true
}

func (s *TskvTableSchema) ColumnIndex(name string) (int, bool) {
	idx, ok := s.columnsIndex[name]
	return idx, ok
}

func (s *TskvTableSchema) ColumnName(id common.ColumnId) (string, bool) {
	for _, c := range s.columns {
		if c.ID == id {
			return c.Name, true
		}
	}
	return "", false
}

func (s *TskvTableSchema) Columns() []TableColumn {
	return s.columns
}

func (s *TskvTableSchema) ColumnIds() []common.ColumnId {
	ids := make([]common.ColumnId, len(s.columns))
	for i, c := range s.columns {
		ids[i] = c.ID
	}
	return ids
}

func (s *TskvTableSchema) Fields() []TableColumn {
	var out []TableColumn
	for _, c := range s.columns {
		if c.ColumnType.IsField() {
			out = append(out, c)
		}
	}
	return out
}

// FieldsID returns the zero-based enumeration index of every Field column
// ordered by ColumnId, mirroring the original's fields_id(): it's how the
// read/compaction paths assemble per-series field responses in a
// deterministic column order independent of physical column slot order.
func (s *TskvTableSchema) FieldsID() map[common.ColumnId]int {
	var ids []common.ColumnId
	for _, c := range s.columns {
		if c.ColumnType.IsField() {
			ids = append(ids, c.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make(map[common.ColumnId]int, len(ids))
	for i, id := range ids {
		out[id] = i
	}
	return out
}

func (s *TskvTableSchema) TagIndices() []int {
	var out []int
	for i, c := range s.columns {
		if c.ColumnType.IsTag() {
			out = append(out, i)
		}
	}
	return out
}

// TimeColumn returns the table's single mandatory time column.
func (s *TskvTableSchema) TimeColumn() (TableColumn, bool) {
	for _, c := range s.columns {
		if c.ColumnType.IsTime() {
			return c, true
		}
	}
	return TableColumn{}, false
}

// TimeColumnPrecision returns the precision of the table's time column,
// defaulting to NS if (invariantly, should never happen) none is found.
func (s *TskvTableSchema) TimeColumnPrecision() common.Precision {
	if tc, ok := s.TimeColumn(); ok {
		if p, ok := tc.ColumnType.Precision(); ok {
			return p
		}
	}
	return common.DefaultPrecision
}

func (s *TskvTableSchema) FieldNum() int {
	n := 0
	for _, c := range s.columns {
		if c.ColumnType.IsField() {
			n++
		}
	}
	return n
}

func (s *TskvTableSchema) TagNum() int {
	n := 0
	for _, c := range s.columns {
		if c.ColumnType.IsTag() {
			n++
		}
	}
	return n
}

func (s *TskvTableSchema) ContainsColumn(name string) bool {
	_, ok := s.columnsIndex[name]
	return ok
}

func (s *TskvTableSchema) NextColumnID() common.ColumnId { return s.nextColumnID }

// Size estimates the schema's in-memory footprint for flush-trigger budget
// accounting.
func (s *TskvTableSchema) Size() int {
	const approxColumnSize = 64 // id + type tag + encoding + name header, rounded
	size := 0
	for _, c := range s.columns {
		size += approxColumnSize + len(c.Name)
	}
	return size
}

// Validate checks the schema's structural invariants: exactly one time
// column, unique column ids, next_column_id tracking the max id, a name
// map consistent with columns, and encodings legal for their column type.
func (s *TskvTableSchema) Validate() error {
	timeCols := 0
	seen := make(map[common.ColumnId]bool, len(s.columns))
	var maxID common.ColumnId
	for _, c := range s.columns {
		if c.ColumnType.IsTime() {
			timeCols++
		}
		if seen[c.ID] {
			return tskverr.New(tskverr.KindSchemaConflict, "schema.Validate")
		}
		seen[c.ID] = true
		if c.ID+1 > maxID {
			maxID = c.ID + 1
		}
		if !c.EncodingValid() {
			return tskverr.New(tskverr.KindSchemaConflict, "schema.Validate")
		}
	}
	if timeCols != 1 {
		return tskverr.New(tskverr.KindSchemaConflict, "schema.Validate")
	}
	if s.nextColumnID < maxID {
		return tskverr.New(tskverr.KindSchemaConflict, "schema.Validate")
	}
	if len(s.columnsIndex) != len(s.columns) {
		return tskverr.New(tskverr.KindSchemaConflict, "schema.Validate")
	}
	for name, idx := range s.columnsIndex {
		if idx < 0 || idx >= len(s.columns) || s.columns[idx].Name != name {
			return tskverr.New(tskverr.KindSchemaConflict, "schema.Validate")
		}
	}
	return nil
}
