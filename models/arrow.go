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
	"strconv"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/tskverr"
)

// ArrowDataType is the Arrow-style name of a field's physical type.
type ArrowDataType string

const (
	ArrowUtf8                 ArrowDataType = "Utf8"
	ArrowTimestampMillisecond ArrowDataType = "Timestamp(Millisecond)"
	ArrowTimestampMicrosecond ArrowDataType = "Timestamp(Microsecond)"
	ArrowTimestampNanosecond  ArrowDataType = "Timestamp(Nanosecond)"
	ArrowFloat64              ArrowDataType = "Float64"
	ArrowInt64                ArrowDataType = "Int64"
	ArrowUInt64               ArrowDataType = "UInt64"
	ArrowBoolean              ArrowDataType = "Boolean"
	ArrowNull                 ArrowDataType = "Null"
)

// ArrowDataType maps a column's logical type to its Arrow physical type.
// Tags, strings and geometry all travel as Utf8; what they are logically
// is carried in the field metadata (see ToArrowSchema).
func (t ColumnType) ArrowDataType() ArrowDataType {
	switch t.Kind {
	case ColumnTag:
		return ArrowUtf8
	case ColumnTime:
		switch t.TimeUnit {
		case common.PrecisionMS:
			return ArrowTimestampMillisecond
		case common.PrecisionUS:
			return ArrowTimestampMicrosecond
		default:
			return ArrowTimestampNanosecond
		}
	case ColumnField:
		switch t.Value {
		case ValueFloat:
			return ArrowFloat64
		case ValueInteger:
			return ArrowInt64
		case ValueUnsigned:
			return ArrowUInt64
		case ValueBoolean:
			return ArrowBoolean
		case ValueString, ValueGeometry:
			return ArrowUtf8
		}
	}
	return ArrowNull
}

// ArrowField is one column of an ArrowSchema: name, physical type,
// nullability and metadata, without depending on a real Arrow binding
// (see DESIGN.md for why no such dependency is wired).
type ArrowField struct {
	Name     string
	DataType ArrowDataType
	Nullable bool
	Metadata map[string]string
}

// ArrowSchema is the Arrow-compatible view of a TskvTableSchema: fields in
// column insertion order with per-field metadata carrying column_id, the
// logical column type, and, for geometry fields, gis.srid/gis.sub_type.
type ArrowSchema struct {
	Fields []ArrowField
}

const (
	columnIDMetaKey   = "column_id"
	columnTypeMetaKey = "column_type"
	gisSridMetaKey    = "gis.srid"
	gisSubTypeMetaKey = "gis.sub_type"
)

// ToArrowSchema projects s into its Arrow-compatible view. The metadata
// carries everything FromArrowSchema needs to reconstruct the columns:
// the physical Utf8 type alone can't distinguish a tag from a string or
// geometry field, so the logical column type rides along explicitly.
func (s *TskvTableSchema) ToArrowSchema() ArrowSchema {
	fields := make([]ArrowField, 0, len(s.columns))
	for _, c := range s.columns {
		meta := map[string]string{
			columnIDMetaKey:   strconv.FormatUint(uint64(c.ID), 10),
			columnTypeMetaKey: c.ColumnType.AsStr(),
		}
		if c.ColumnType.Kind == ColumnField && c.ColumnType.Value == ValueGeometry {
			meta[gisSridMetaKey] = strconv.FormatInt(int64(c.ColumnType.Geo.Srid), 10)
			meta[gisSubTypeMetaKey] = c.ColumnType.Geo.SubType.String()
		}
		fields = append(fields, ArrowField{
			Name:     c.Name,
			DataType: c.ColumnType.ArrowDataType(),
			Nullable: c.Nullable(),
			Metadata: meta,
		})
	}
	return ArrowSchema{Fields: fields}
}

// FromArrowSchema is the inverse of ToArrowSchema: it reconstructs the
// column set (ids, logical types, nullability, geometry metadata) from an
// emitted schema. Encodings are not part of the Arrow view and come back
// as EncodingDefault.
func FromArrowSchema(schema ArrowSchema) ([]TableColumn, error) {
	const op = "models.FromArrowSchema"
	cols := make([]TableColumn, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		id, err := strconv.ParseUint(f.Metadata[columnIDMetaKey], 10, 32)
		if err != nil {
			return nil, tskverr.Wrap(tskverr.KindInvalidSerdeMessage, op, err)
		}
		ct, ok := ParseColumnTypeStr(f.Metadata[columnTypeMetaKey])
		if !ok {
			return nil, tskverr.New(tskverr.KindInvalidSerdeMessage, op)
		}
		if ct.Kind == ColumnField && ct.Value == ValueGeometry {
			srid, err := strconv.ParseInt(f.Metadata[gisSridMetaKey], 10, 32)
			if err != nil {
				return nil, tskverr.Wrap(tskverr.KindInvalidSerdeMessage, op, err)
			}
			sub, ok := ParseGeometrySubType(f.Metadata[gisSubTypeMetaKey])
			if !ok {
				return nil, tskverr.New(tskverr.KindInvalidSerdeMessage, op)
			}
			ct.Geo = Geometry{Srid: int32(srid), SubType: sub}
		}
		cols = append(cols, TableColumn{ID: common.ColumnId(id), Name: f.Name, ColumnType: ct})
	}
	return cols, nil
}
