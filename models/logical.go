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

import "github.com/cnosdb/tskv/common"

// LogicalField is one column of a table's planner-facing view: the
// qualified name, the SQL type string, and the column id the storage
// layer resolves reads by.
type LogicalField struct {
	Qualifier string // "{tenant}.{db}.{table}"
	Name      string
	SQLType   string
	ColumnID  common.ColumnId
	Nullable  bool
}

// QualifiedName renders the fully qualified column reference.
func (f LogicalField) QualifiedName() string {
	return f.Qualifier + "." + f.Name
}

// LogicalSchema is the qualified logical view of a TskvTableSchema, the
// second external projection alongside ToArrowSchema: the planner binds
// column references against it, while the Arrow view describes the
// physical record batches.
type LogicalSchema struct {
	Tenant string
	Db     string
	Table  string
	Fields []LogicalField
}

// ToLogicalSchema projects s into its qualified logical view, fields in
// column insertion order.
func (s *TskvTableSchema) ToLogicalSchema() LogicalSchema {
	qualifier := s.Tenant + "." + s.Db + "." + s.Name
	fields := make([]LogicalField, 0, len(s.columns))
	for _, c := range s.columns {
		fields = append(fields, LogicalField{
			Qualifier: qualifier,
			Name:      c.Name,
			SQLType:   c.ColumnType.ToSQLTypeStr(),
			ColumnID:  c.ID,
			Nullable:  c.Nullable(),
		})
	}
	return LogicalSchema{Tenant: s.Tenant, Db: s.Db, Table: s.Name, Fields: fields}
}
