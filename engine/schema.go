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
	"sync"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/index"
	"github.com/cnosdb/tskv/models"
	"github.com/cnosdb/tskv/tskverr"
)

// schemaRegistry owns every table's TskvTableSchema, the engine's instance
// of C1. A write that names a new table or a new tag/field column evolves
// a copy of the schema and swaps it in; an incompatible field type is rejected rather than
// silently coerced.
type schemaRegistry struct {
	mu     sync.Mutex
	tables map[string]*models.TskvTableSchema
}

func newSchemaRegistry() *schemaRegistry {
	return &schemaRegistry{tables: make(map[string]*models.TskvTableSchema)}
}

func schemaKey(tenant, db, table string) string {
	return tenant + "\x00" + db + "\x00" + table
}

// EnsureForWrite returns the schema for (tenant, db, table), creating it
// on first write and evolving it (new tag columns, new field columns) to
// cover point. A field already present with an incompatible type fails
// with SchemaConflict rather than silently widening.
func (r *schemaRegistry) EnsureForWrite(tenant, db, table string, tags []WireTag, fields []FieldValue) (*models.TskvTableSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := schemaKey(tenant, db, table)
	current, ok := r.tables[key]
	if !ok {
		current = models.NewTskvTableSchema(tenant, db, table, []models.TableColumn{
			models.NewTimeColumn(0, common.DefaultPrecision),
		})
		r.tables[key] = current
	}

	// Callers read a returned schema without the lock, so current is never
	// mutated: new columns go into a clone that replaces it on success.
	schema := current
	mutable := func() {
		if schema == current {
			schema = current.Clone()
		}
	}

	for _, t := range tags {
		if !schema.ContainsColumn(t.Key) {
			mutable()
			schema.AddColumn(models.NewTagColumn(schema.NextColumnID(), t.Key))
			continue
		}
		if col, _ := schema.Column(t.Key); !col.ColumnType.IsTag() {
			return nil, tskverr.New(tskverr.KindSchemaConflict, "engine.schemaRegistry.EnsureForWrite")
		}
	}

	for _, f := range fields {
		vt, _, ok := f.Typed()
		if !ok {
			continue
		}
		want := models.FieldColumnType(vt)
		if existing, ok := schema.Column(f.Name); ok {
			if !existing.ColumnType.IsField() {
				return nil, tskverr.New(tskverr.KindSchemaConflict, "engine.schemaRegistry.EnsureForWrite")
			}
			if existing.ColumnType != want && !want.MatchesType(existing.ColumnType) {
				return nil, tskverr.New(tskverr.KindSchemaConflict, "engine.schemaRegistry.EnsureForWrite")
			}
			continue
		}
		mutable()
		schema.AddColumn(models.NewFieldColumn(schema.NextColumnID(), f.Name, vt))
	}

	r.tables[key] = schema
	return schema, nil
}

// fieldInfos projects schema's Field columns into index.FieldInfo for
// DbIndex.RegisterFieldInfo. FieldID is left zero here: GetSeriesInfoList
// recomputes it per series, since a FieldId pairs a ColumnId with a
// SeriesId and this projection is series-independent.
func fieldInfos(schema *models.TskvTableSchema) []index.FieldInfo {
	cols := schema.Fields()
	out := make([]index.FieldInfo, len(cols))
	for i, c := range cols {
		out[i] = index.FieldInfo{Name: c.Name, ColumnID: c.ID}
	}
	return out
}
