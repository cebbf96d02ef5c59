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
	"testing"

	"github.com/cnosdb/tskv/common"
	"github.com/stretchr/testify/require"
)

func newTestSchema() *TskvTableSchema {
	return NewTskvTableSchema("cnosdb", "public", "t", []TableColumn{
		NewTimeColumn(0, common.PrecisionNS),
		NewTagColumn(1, "host"),
		NewFieldColumn(2, "value", ValueFloat),
	})
}

func TestAddColumnIdempotent(t *testing.T) {
	s := newTestSchema()
	require.NoError(t, s.Validate())

	s.AddColumn(NewFieldColumn(0, "value2", ValueInteger))
	require.Equal(t, common.SchemaId(1), s.SchemaId)
	require.Equal(t, common.ColumnId(4), s.NextColumnID())
	col, ok := s.Column("value2")
	require.True(t, ok)
	require.Equal(t, common.ColumnId(3), col.ID)

	// Second add of the same name is a no-op: no id churn, no further
	// schema_id bump, next_column_id unchanged.
	s.AddColumn(NewFieldColumn(0, "value2", ValueInteger))
	require.Equal(t, common.SchemaId(1), s.SchemaId)
	require.Equal(t, common.ColumnId(4), s.NextColumnID())
}

func TestDropColumnCannotDropTime(t *testing.T) {
	s := newTestSchema()
	s.DropColumn("time")
	_, ok := s.Column("time")
	require.True(t, ok, "time column must never be dropped")
	require.Equal(t, common.SchemaId(0), s.SchemaId)

	s.DropColumn("nonexistent")
	require.Equal(t, common.SchemaId(0), s.SchemaId)

	s.DropColumn("host")
	_, ok = s.Column("host")
	require.False(t, ok)
	require.Equal(t, common.SchemaId(1), s.SchemaId)
}

func TestSchemaIdMonotonicAcrossMutations(t *testing.T) {
	s := newTestSchema()
	s.AddColumn(NewFieldColumn(0, "a", ValueInteger))
	s.AddColumn(NewFieldColumn(0, "b", ValueInteger))
	s.DropColumn("a")
	s.ChangeColumn("b", NewFieldColumn(0, "b2", ValueUnsigned))

	require.Equal(t, common.SchemaId(4), s.SchemaId)

	// The dropped column's id must never reappear.
	idsSeen := map[common.ColumnId]bool{}
	for _, c := range s.Columns() {
		idsSeen[c.ID] = true
	}
	require.False(t, idsSeen[3])
	col, ok := s.Column("b2")
	require.True(t, ok)
	require.NotEqual(t, common.ColumnId(3), col.ID, "dropped id 'a'=3 must not be reused")
}

func TestGeometryMatchesString(t *testing.T) {
	geo := GeometryColumnType(Geometry{Srid: 4326, SubType: GeometryPoint})
	str := FieldColumnType(ValueString)
	require.True(t, geo.MatchesType(str))
	require.False(t, str.MatchesType(geo), "relaxation is one-directional only")
}

func TestArrowSchemaMetadata(t *testing.T) {
	s := NewTskvTableSchema("cnosdb", "public", "t", []TableColumn{
		NewTimeColumn(0, common.PrecisionNS),
		{ID: 1, Name: "loc", ColumnType: GeometryColumnType(Geometry{Srid: 4326, SubType: GeometryPoint})},
	})
	arrow := s.ToArrowSchema()
	require.Len(t, arrow.Fields, 2)
	require.False(t, arrow.Fields[0].Nullable, "time column is never nullable")
	require.True(t, arrow.Fields[1].Nullable)
	require.Equal(t, "4326", arrow.Fields[1].Metadata["gis.srid"])
	require.Equal(t, "Point", arrow.Fields[1].Metadata["gis.sub_type"])
	require.Equal(t, ArrowTimestampNanosecond, arrow.Fields[0].DataType)
	require.Equal(t, ArrowUtf8, arrow.Fields[1].DataType)
}

func TestArrowSchemaRoundTrip(t *testing.T) {
	columns := []TableColumn{
		NewTimeColumn(0, common.PrecisionUS),
		NewTagColumn(1, "host"),
		NewFieldColumn(2, "usage", ValueFloat),
		NewFieldColumn(3, "count", ValueInteger),
		NewFieldColumn(4, "total", ValueUnsigned),
		NewFieldColumn(5, "up", ValueBoolean),
		NewFieldColumn(6, "note", ValueString),
		{ID: 7, Name: "loc", ColumnType: GeometryColumnType(Geometry{Srid: 4326, SubType: GeometryPolygon})},
	}
	s := NewTskvTableSchema("cnosdb", "public", "t", columns)

	got, err := FromArrowSchema(s.ToArrowSchema())
	require.NoError(t, err)
	require.Len(t, got, len(columns))
	for i, want := range columns {
		require.Equal(t, want.ID, got[i].ID)
		require.Equal(t, want.Name, got[i].Name)
		require.Equal(t, want.ColumnType, got[i].ColumnType)
		require.Equal(t, want.Nullable(), got[i].Nullable())
	}
}

func TestFromArrowSchemaRejectsMissingMetadata(t *testing.T) {
	_, err := FromArrowSchema(ArrowSchema{Fields: []ArrowField{{Name: "x", DataType: ArrowUtf8}}})
	require.Error(t, err)
}

func TestLogicalSchemaQualifiesEveryColumn(t *testing.T) {
	s := NewTskvTableSchema("cnosdb", "public", "t", []TableColumn{
		NewTimeColumn(0, common.PrecisionNS),
		NewTagColumn(1, "host"),
		NewFieldColumn(2, "usage", ValueFloat),
	})
	logical := s.ToLogicalSchema()
	require.Equal(t, "t", logical.Table)
	require.Len(t, logical.Fields, 3)
	require.Equal(t, "cnosdb.public.t.usage", logical.Fields[2].QualifiedName())
	require.Equal(t, "DOUBLE", logical.Fields[2].SQLType)
	require.Equal(t, common.ColumnId(2), logical.Fields[2].ColumnID)
	require.False(t, logical.Fields[0].Nullable)
	require.Equal(t, "TIMESTAMP(NANOSECOND)", logical.Fields[0].SQLType)
}
