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
	"unicode/utf8"

	"github.com/cnosdb/tskv/models"
	"github.com/cnosdb/tskv/tskverr"
)

// WireTag is one indexed dimension of a Point, on the wire.
type WireTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FieldValue is one measurement value of a Point, a tagged union on the
// wire: exactly one of the pointer fields is populated.
type FieldValue struct {
	Name     string   `json:"name"`
	Float    *float64 `json:"f,omitempty"`
	Int      *int64   `json:"i,omitempty"`
	Uint     *uint64  `json:"u,omitempty"`
	Bool     *bool    `json:"b,omitempty"`
	Str      *string  `json:"s,omitempty"`
	Geometry *string  `json:"g,omitempty"`
}

// Typed reports the field's ValueType and its decoded Go value.
func (f FieldValue) Typed() (models.ValueType, any, bool) {
	switch {
	case f.Float != nil:
		return models.ValueFloat, *f.Float, true
	case f.Int != nil:
		return models.ValueInteger, *f.Int, true
	case f.Uint != nil:
		return models.ValueUnsigned, *f.Uint, true
	case f.Bool != nil:
		return models.ValueBoolean, *f.Bool, true
	case f.Str != nil:
		return models.ValueString, *f.Str, true
	case f.Geometry != nil:
		return models.ValueGeometry, *f.Geometry, true
	default:
		return models.ValueUnknown, nil, false
	}
}

// Point is one measurement: a table name, its tag set, its field values,
// and a single timestamp.
type Point struct {
	Table     string       `json:"table"`
	Tags      []WireTag    `json:"tags"`
	Fields    []FieldValue `json:"fields"`
	Timestamp int64        `json:"timestamp"`
}

// WritePointsRequest is the decoded form of WritePointsRpcRequest.Points.
type WritePointsRequest struct {
	Database string  `json:"database"`
	Points   []Point `json:"points"`
}

// Validate fails fast on a request the write path must never commit: a
// non-UTF-8 database name (CharacterSet), or a shape that decoded but
// doesn't describe any point (InvalidModel). Runs before the WAL append so
// a rejected request leaves no trace.
func (r WritePointsRequest) Validate() error {
	if !utf8.ValidString(r.Database) {
		return tskverr.New(tskverr.KindCharacterSet, "engine.WritePointsRequest.Validate")
	}
	if r.Database == "" || len(r.Points) == 0 {
		return tskverr.New(tskverr.KindInvalidModel, "engine.WritePointsRequest.Validate")
	}
	for _, pt := range r.Points {
		if pt.Table == "" || len(pt.Fields) == 0 {
			return tskverr.New(tskverr.KindInvalidModel, "engine.WritePointsRequest.Validate")
		}
	}
	return nil
}

// WritePointsResponse mirrors WritePointsRpcResponse: a protocol version
// plus the accepted payload echoed back.
type WritePointsResponse struct {
	Version uint32 `json:"version"`
	Points  []byte `json:"points"`
}
