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
	"context"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/compaction"
	"github.com/cnosdb/tskv/index"
	"github.com/cnosdb/tskv/memcache"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptions(dir string) Options {
	window := common.TimeRange{Min: 0, Max: 1 << 62}
	return Options{Path: dir, ActiveWindow: &window}
}

func floatField(name string, v float64) FieldValue {
	return FieldValue{Name: name, Float: &v}
}

func mustMarshal(t *testing.T, req WritePointsRequest) []byte {
	t.Helper()
	buf, err := json.Marshal(req)
	require.NoError(t, err)
	return buf
}

func openTestEngine(t *testing.T) *TsKv {
	t.Helper()
	e, err := Open(testOptions(t.TempDir()), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	req := WritePointsRequest{
		Database: "db0",
		Points: []Point{{
			Table:     "cpu",
			Tags:      []WireTag{{Key: "host", Value: "a"}},
			Fields:    []FieldValue{floatField("usage", 42.5)},
			Timestamp: 1000,
		}},
	}

	_, err := e.Write(ctx, "acme", mustMarshal(t, req))
	require.NoError(t, err)

	ids, err := e.GetSeriesIdList("acme", "db0", "cpu", []index.Tag{{Key: "host", Value: "a"}})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	schema, ok := e.GetTableSchema("acme", "db0", "cpu")
	require.True(t, ok)
	col, ok := schema.Column("usage")
	require.True(t, ok)

	out, err := e.Read(ctx, "acme", "db0", ids, common.TimeRange{Min: 0, Max: 2000}, []common.ColumnId{col.ID})
	require.NoError(t, err)
	blocks := out[ids[0]][col.ID]
	require.NotEmpty(t, blocks)
	require.Equal(t, int64(1000), blocks[0].Cells[0].Ts)
	require.InDelta(t, 42.5, blocks[0].Cells[0].Value.(float64), 1e-9)
}

func TestAddColumnThenWriteExtendsSchema(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	base := WritePointsRequest{
		Database: "db0",
		Points: []Point{{
			Table:     "cpu",
			Tags:      []WireTag{{Key: "host", Value: "a"}},
			Fields:    []FieldValue{floatField("usage", 1.0)},
			Timestamp: 1,
		}},
	}
	_, err := e.Write(ctx, "acme", mustMarshal(t, base))
	require.NoError(t, err)

	schema, ok := e.GetTableSchema("acme", "db0", "cpu")
	require.True(t, ok)
	firstNextID := schema.NextColumnID()

	extended := WritePointsRequest{
		Database: "db0",
		Points: []Point{{
			Table:     "cpu",
			Tags:      []WireTag{{Key: "host", Value: "a"}},
			Fields:    []FieldValue{floatField("usage", 2.0), floatField("temp", 99.0)},
			Timestamp: 2,
		}},
	}
	_, err = e.Write(ctx, "acme", mustMarshal(t, extended))
	require.NoError(t, err)

	schema, ok = e.GetTableSchema("acme", "db0", "cpu")
	require.True(t, ok)
	_, ok = schema.Column("temp")
	require.True(t, ok)
	require.Greater(t, schema.NextColumnID(), firstNextID)
}

func TestSchemaConflictRejectsTypeChange(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	first := WritePointsRequest{
		Database: "db0",
		Points: []Point{{
			Table:     "cpu",
			Fields:    []FieldValue{floatField("usage", 1.0)},
			Timestamp: 1,
		}},
	}
	_, err := e.Write(ctx, "acme", mustMarshal(t, first))
	require.NoError(t, err)

	conflict := "not-a-float"
	second := WritePointsRequest{
		Database: "db0",
		Points: []Point{{
			Table:     "cpu",
			Fields:    []FieldValue{{Name: "usage", Str: &conflict}},
			Timestamp: 2,
		}},
	}
	_, err = e.Write(ctx, "acme", mustMarshal(t, second))
	require.Error(t, err)
}

func TestWriteRejectsMalformedRequests(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	_, err := e.Write(ctx, "acme", []byte("{not json"))
	require.ErrorIs(t, err, tskverr.ErrInvalidFlatbuffer)

	// A non-UTF-8 name can't survive the JSON codec (it decodes to
	// replacement runes), so the CharacterSet check is exercised on the
	// decoded form directly.
	bad := WritePointsRequest{Database: string([]byte{'d', 'b', 0xff, 0xfe})}
	require.ErrorIs(t, bad.Validate(), tskverr.ErrCharacterSet)

	_, err = e.Write(ctx, "acme", mustMarshal(t, WritePointsRequest{Database: "db0"}))
	require.ErrorIs(t, err, tskverr.ErrInvalidModel)

	noTable := WritePointsRequest{
		Database: "db0",
		Points:   []Point{{Fields: []FieldValue{floatField("v", 1)}, Timestamp: 1}},
	}
	_, err = e.Write(ctx, "acme", mustMarshal(t, noTable))
	require.ErrorIs(t, err, tskverr.ErrInvalidModel)
}

func TestCrashRecoveryReplaysWal(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)

	e, err := Open(opts, zap.NewNop())
	require.NoError(t, err)

	req := WritePointsRequest{
		Database: "db0",
		Points: []Point{{
			Table:     "cpu",
			Tags:      []WireTag{{Key: "host", Value: "a"}},
			Fields:    []FieldValue{floatField("usage", 7.0)},
			Timestamp: 10,
		}},
	}
	_, err = e.Write(context.Background(), "acme", mustMarshal(t, req))
	require.NoError(t, err)

	// No Close: the WAL segment and index journal are fsynced on every
	// write, so a fresh Open over the same directory must recover the
	// point without ever seeing a graceful shutdown. A crashed process's
	// LOCK is released by the OS; this process still holds it, so it is
	// released by hand here.
	require.NoError(t, e.lock.Unlock())
	e2, err := Open(opts, zap.NewNop())
	require.NoError(t, err)
	defer e2.Close()

	ids, err := e2.GetSeriesIdList("acme", "db0", "cpu", []index.Tag{{Key: "host", Value: "a"}})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	schema, ok := e2.GetTableSchema("acme", "db0", "cpu")
	require.True(t, ok)
	col, ok := schema.Column("usage")
	require.True(t, ok)

	out, err := e2.Read(context.Background(), "acme", "db0", ids, common.TimeRange{Min: 0, Max: 100}, []common.ColumnId{col.ID})
	require.NoError(t, err)
	require.NotEmpty(t, out[ids[0]][col.ID])
}

func TestDeleteSeriesRemovesPendingData(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	req := WritePointsRequest{
		Database: "db0",
		Points: []Point{{
			Table:     "cpu",
			Tags:      []WireTag{{Key: "host", Value: "a"}},
			Fields:    []FieldValue{floatField("usage", 3.0)},
			Timestamp: 5,
		}},
	}
	_, err := e.Write(ctx, "acme", mustMarshal(t, req))
	require.NoError(t, err)

	ids, err := e.GetSeriesIdList("acme", "db0", "cpu", []index.Tag{{Key: "host", Value: "a"}})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	err = e.DeleteSeries(ctx, "acme", "db0", ids, 0, 1000)
	require.NoError(t, err)

	schema, ok := e.GetTableSchema("acme", "db0", "cpu")
	require.True(t, ok)
	col, ok := schema.Column("usage")
	require.True(t, ok)

	out, err := e.Read(ctx, "acme", "db0", ids, common.TimeRange{Min: 0, Max: 1000}, []common.ColumnId{col.ID})
	require.NoError(t, err)
	require.Empty(t, out[ids[0]][col.ID])
}

func TestFlushedGenerationStaysReadableAfterCompaction(t *testing.T) {
	dir := t.TempDir()
	window := common.TimeRange{Min: 0, Max: 1 << 62}
	opts := Options{
		Path:         dir,
		ActiveWindow: &window,
		Cache:        memcache.Options{MaxSize: 1 * datasize.B, MaxAge: time.Hour},
		Compaction:   compaction.Options{Level0FileCountTrigger: 2},
	}
	e, err := Open(opts, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		req := WritePointsRequest{
			Database: "db0",
			Points: []Point{{
				Table:     "cpu",
				Tags:      []WireTag{{Key: "host", Value: "a"}},
				Fields:    []FieldValue{floatField("usage", float64(i))},
				Timestamp: int64(i + 1),
			}},
		}
		_, err := e.Write(ctx, "acme", mustMarshal(t, req))
		require.NoError(t, err)
	}

	// Every write's MaxSize:1B cache seals immediately, so the flush and
	// compaction workers both run in the background; poll with a bounded
	// deadline rather than asserting on a fixed sleep.
	deadline := time.Now().Add(2 * time.Second)
	var ids []common.SeriesId
	for time.Now().Before(deadline) {
		var err error
		ids, err = e.GetSeriesIdList("acme", "db0", "cpu", []index.Tag{{Key: "host", Value: "a"}})
		require.NoError(t, err)
		if len(ids) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, ids, 1)

	schema, ok := e.GetTableSchema("acme", "db0", "cpu")
	require.True(t, ok)
	col, ok := schema.Column("usage")
	require.True(t, ok)

	var blocks int
	for time.Now().Before(deadline) {
		out, err := e.Read(ctx, "acme", "db0", ids, common.TimeRange{Min: 0, Max: 100}, []common.ColumnId{col.ID})
		require.NoError(t, err)
		blocks = len(out[ids[0]][col.ID])
		if blocks > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Greater(t, blocks, 0)
}
