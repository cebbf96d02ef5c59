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

// Package models is the schema registry: column and table schema types,
// their Arrow-compatible projection, and the resource operator log used
// to replay structural changes to the meta service.
package models

import (
	"fmt"

	"github.com/cnosdb/tskv/common"
)

// ValueType is the payload type of a Field column.
type ValueType uint8

const (
	ValueFloat ValueType = iota
	ValueInteger
	ValueUnsigned
	ValueBoolean
	ValueString
	ValueGeometry
	ValueUnknown
)

// GeometrySubType is the sub-variant of a Geometry field (point, line,
// polygon, ...); kept opaque here since the geometry type system itself is
// an external collaborator.
type GeometrySubType uint8

const (
	GeometryPoint GeometrySubType = iota
	GeometryLineString
	GeometryPolygon
	GeometryMultiPoint
	GeometryMultiLineString
	GeometryMultiPolygon
	GeometryCollection
)

func (t GeometrySubType) String() string {
	switch t {
	case GeometryPoint:
		return "Point"
	case GeometryLineString:
		return "LineString"
	case GeometryPolygon:
		return "Polygon"
	case GeometryMultiPoint:
		return "MultiPoint"
	case GeometryMultiLineString:
		return "MultiLineString"
	case GeometryMultiPolygon:
		return "MultiPolygon"
	default:
		return "GeometryCollection"
	}
}

// ParseGeometrySubType is the inverse of GeometrySubType.String.
func ParseGeometrySubType(text string) (GeometrySubType, bool) {
	switch text {
	case "Point":
		return GeometryPoint, true
	case "LineString":
		return GeometryLineString, true
	case "Polygon":
		return GeometryPolygon, true
	case "MultiPoint":
		return GeometryMultiPoint, true
	case "MultiLineString":
		return GeometryMultiLineString, true
	case "MultiPolygon":
		return GeometryMultiPolygon, true
	case "GeometryCollection":
		return GeometryCollection, true
	default:
		return 0, false
	}
}

// Geometry carries the extra metadata a Geometry field needs beyond its
// textual wire encoding.
type Geometry struct {
	Srid    int32
	SubType GeometrySubType
}

func (g Geometry) String() string {
	return fmt.Sprintf("GEOMETRY(%s, %d)", g.SubType, g.Srid)
}

// ColumnType is the closed tagged union {Tag, Time(unit), Field(value)}.
// Dispatch is always on Kind.
type ColumnType struct {
	Kind      ColumnKind
	TimeUnit  common.Precision // valid when Kind == ColumnTime
	Value     ValueType        // valid when Kind == ColumnField
	Geo       Geometry         // valid when Kind == ColumnField && Value == ValueGeometry
}

type ColumnKind uint8

const (
	ColumnTag ColumnKind = iota
	ColumnTime
	ColumnField
)

func TagColumnType() ColumnType { return ColumnType{Kind: ColumnTag} }

func TimeColumnType(unit common.Precision) ColumnType {
	return ColumnType{Kind: ColumnTime, TimeUnit: unit}
}

func FieldColumnType(v ValueType) ColumnType {
	return ColumnType{Kind: ColumnField, Value: v}
}

func GeometryColumnType(geo Geometry) ColumnType {
	return ColumnType{Kind: ColumnField, Value: ValueGeometry, Geo: geo}
}

func (t ColumnType) IsTag() bool   { return t.Kind == ColumnTag }
func (t ColumnType) IsTime() bool  { return t.Kind == ColumnTime }
func (t ColumnType) IsField() bool { return t.Kind == ColumnField }

// Precision returns the time unit for a Time column, or false otherwise.
func (t ColumnType) Precision() (common.Precision, bool) {
	if t.Kind != ColumnTime {
		return 0, false
	}
	return t.TimeUnit, true
}

// MatchesType reports schema compatibility between t and other, relaxed in
// one direction only: a GEOMETRY field is accepted wherever a String field
// is expected during reads, never the reverse.
func (t ColumnType) MatchesType(other ColumnType) bool {
	if t == other {
		return true
	}
	if t.Kind == ColumnField && other.Kind == ColumnField {
		if other.Value == ValueString && t.Value == ValueGeometry {
			return true
		}
	}
	return false
}

// AsStr mirrors the original's ColumnType::as_str wire/debug string.
func (t ColumnType) AsStr() string {
	switch t.Kind {
	case ColumnTag:
		return "TAG"
	case ColumnTime:
		switch t.TimeUnit {
		case common.PrecisionMS:
			return "TimestampMillisecond"
		case common.PrecisionUS:
			return "TimestampMicrosecond"
		default:
			return "TimestampNanosecond"
		}
	case ColumnField:
		switch t.Value {
		case ValueInteger:
			return "I64"
		case ValueUnsigned:
			return "U64"
		case ValueFloat:
			return "F64"
		case ValueBoolean:
			return "BOOL"
		case ValueString:
			return "STRING"
		case ValueGeometry:
			return "GEOMETRY"
		default:
			return "UNKNOWN"
		}
	default:
		return "UNKNOWN"
	}
}

// ParseColumnTypeStr is the inverse of AsStr. A parsed GEOMETRY comes
// back without its (srid, sub_type) payload, which AsStr doesn't carry;
// callers holding that metadata separately fill it in.
func ParseColumnTypeStr(text string) (ColumnType, bool) {
	switch text {
	case "TAG":
		return TagColumnType(), true
	case "TimestampMillisecond":
		return TimeColumnType(common.PrecisionMS), true
	case "TimestampMicrosecond":
		return TimeColumnType(common.PrecisionUS), true
	case "TimestampNanosecond":
		return TimeColumnType(common.PrecisionNS), true
	case "F64":
		return FieldColumnType(ValueFloat), true
	case "I64":
		return FieldColumnType(ValueInteger), true
	case "U64":
		return FieldColumnType(ValueUnsigned), true
	case "BOOL":
		return FieldColumnType(ValueBoolean), true
	case "STRING":
		return FieldColumnType(ValueString), true
	case "GEOMETRY":
		return FieldColumnType(ValueGeometry), true
	case "UNKNOWN":
		return FieldColumnType(ValueUnknown), true
	default:
		return ColumnType{}, false
	}
}

// ToSQLTypeStr renders the SQL type string for a column's type
// (STRING/BIGINT/BIGINT UNSIGNED/DOUBLE/BOOLEAN/TIMESTAMP(unit)/geometry).
func (t ColumnType) ToSQLTypeStr() string {
	switch t.Kind {
	case ColumnTag:
		return "STRING"
	case ColumnTime:
		switch t.TimeUnit {
		case common.PrecisionMS:
			return "TIMESTAMP(MILLISECOND)"
		case common.PrecisionUS:
			return "TIMESTAMP(MICROSECOND)"
		default:
			return "TIMESTAMP(NANOSECOND)"
		}
	case ColumnField:
		switch t.Value {
		case ValueString:
			return "STRING"
		case ValueInteger:
			return "BIGINT"
		case ValueUnsigned:
			return "BIGINT UNSIGNED"
		case ValueFloat:
			return "DOUBLE"
		case ValueBoolean:
			return "BOOLEAN"
		case ValueGeometry:
			return t.Geo.String()
		default:
			return "UNKNOWN"
		}
	default:
		return "UNKNOWN"
	}
}

// Encoding is a column's value encoding, valid per column type: string
// encodings only on string/tag/geometry, float encodings only on float,
// timestamp encodings only on time.
type Encoding uint8

const (
	EncodingDefault Encoding = iota
	EncodingNull
	// timestamp encodings
	EncodingDeltaTs
	// float encodings
	EncodingGorilla
	EncodingQuantile
	// bigint/unsigned encodings
	EncodingDeltaBigint
	EncodingDeltaUnsigned
	// bool encoding
	EncodingBitpackBool
	// string encodings
	EncodingSnappy
	EncodingZstd
)

func (e Encoding) IsTimestampEncoding() bool {
	return e == EncodingDefault || e == EncodingNull || e == EncodingDeltaTs
}

func (e Encoding) IsDoubleEncoding() bool {
	return e == EncodingDefault || e == EncodingNull || e == EncodingGorilla || e == EncodingQuantile
}

func (e Encoding) IsBigintEncoding() bool {
	return e == EncodingDefault || e == EncodingNull || e == EncodingDeltaBigint
}

func (e Encoding) IsUnsignedEncoding() bool {
	return e == EncodingDefault || e == EncodingNull || e == EncodingDeltaUnsigned
}

func (e Encoding) IsBoolEncoding() bool {
	return e == EncodingDefault || e == EncodingNull || e == EncodingBitpackBool
}

func (e Encoding) IsStringEncoding() bool {
	return e == EncodingDefault || e == EncodingNull || e == EncodingSnappy || e == EncodingZstd
}

// TableColumn is one column of a TskvTableSchema.
type TableColumn struct {
	ID         common.ColumnId
	Name       string
	ColumnType ColumnType
	Encoding   Encoding
}

func NewTimeColumn(id common.ColumnId, unit common.Precision) TableColumn {
	return TableColumn{ID: id, Name: TimeFieldName, ColumnType: TimeColumnType(unit)}
}

func NewTagColumn(id common.ColumnId, name string) TableColumn {
	return TableColumn{ID: id, Name: name, ColumnType: TagColumnType()}
}

func NewFieldColumn(id common.ColumnId, name string, v ValueType) TableColumn {
	return TableColumn{ID: id, Name: name, ColumnType: FieldColumnType(v)}
}

// Nullable reports whether the column may hold a null cell: every column
// is nullable except the mandatory Time column.
func (c TableColumn) Nullable() bool { return !c.ColumnType.IsTime() }

// EncodingValid reports whether c.Encoding is legal for c.ColumnType.
func (c TableColumn) EncodingValid() bool {
	switch {
	case c.ColumnType.IsTime():
		return c.Encoding.IsTimestampEncoding()
	case c.ColumnType.IsTag():
		return c.Encoding.IsStringEncoding()
	case c.ColumnType.Kind == ColumnField:
		switch c.ColumnType.Value {
		case ValueFloat:
			return c.Encoding.IsDoubleEncoding()
		case ValueInteger:
			return c.Encoding.IsBigintEncoding()
		case ValueUnsigned:
			return c.Encoding.IsUnsignedEncoding()
		case ValueBoolean:
			return c.Encoding.IsBoolEncoding()
		case ValueString, ValueGeometry:
			return c.Encoding.IsStringEncoding()
		}
	}
	return true
}

const TimeFieldName = "time"
