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

package memcache

import (
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cnosdb/tskv/common"
	"github.com/stretchr/testify/require"
)

func TestPutRoutesByActiveWindow(t *testing.T) {
	c := New(1, common.TimeRange{Min: 1000, Max: 2000}, Options{})
	c.Put(42, 1500, 1.0)
	c.Put(42, 500, 2.0)

	cells := c.ReadMerged(42, common.TimeRange{Min: 0, Max: 3000})
	require.Len(t, cells, 2)
	require.Equal(t, int64(500), cells[0].Ts)
	require.Equal(t, int64(1500), cells[1].Ts)
}

func TestMaybeSealOnSizeThreshold(t *testing.T) {
	c := New(1, common.TimeRange{Min: 0, Max: 1000}, Options{MaxSize: 1 * datasize.B, MaxAge: time.Hour})
	c.Put(1, 10, 1.0)

	req, ok := c.MaybeSeal()
	require.True(t, ok)
	require.Equal(t, common.TseriesFamilyId(1), req.TsFamilyID)
	require.Len(t, req.FrozenIDs, 1)

	// Data must still be readable from the sealed generation.
	cells := c.ReadMerged(1, common.TimeRange{Min: 0, Max: 100})
	require.Len(t, cells, 1)
}

func TestMarkFlushedThenDropRemovesGeneration(t *testing.T) {
	c := New(1, common.TimeRange{Min: 0, Max: 1000}, Options{MaxSize: 1 * datasize.B, MaxAge: time.Hour})
	c.Put(1, 10, 1.0)
	req, ok := c.MaybeSeal()
	require.True(t, ok)

	c.MarkFlushed(req.FrozenIDs[0])
	// Still present (and skipped) until explicitly dropped.
	require.Empty(t, c.ReadMerged(1, common.TimeRange{Min: 0, Max: 100}))

	c.DropFlushed()
	require.Len(t, c.immut, 0)
}

func TestReadMergedDedupesLastWriterWins(t *testing.T) {
	c := New(1, common.TimeRange{Min: 0, Max: 1000}, Options{})
	c.Put(1, 10, "first")
	c.Put(1, 10, "second")

	cells := c.ReadMerged(1, common.TimeRange{Min: 0, Max: 100})
	require.Len(t, cells, 1)
	require.Equal(t, "second", cells[0].Value)
}

func TestReadMergedLiveCacheWinsOverSealedGeneration(t *testing.T) {
	c := New(1, common.TimeRange{Min: 0, Max: 1000}, Options{MaxSize: 1 * datasize.B, MaxAge: time.Hour})
	c.Put(1, 10, "sealed")
	_, ok := c.MaybeSeal()
	require.True(t, ok)

	// Rewrite the same timestamp after the generation sealed: the live
	// mut cache is strictly newer and must win the collision.
	c.Put(1, 10, "live")

	cells := c.ReadMerged(1, common.TimeRange{Min: 0, Max: 100})
	require.Len(t, cells, 1)
	require.Equal(t, "live", cells[0].Value)
}

func TestReadMergedNewerSealedGenerationWinsOverOlder(t *testing.T) {
	c := New(1, common.TimeRange{Min: 0, Max: 1000}, Options{MaxSize: 1 * datasize.B, MaxAge: time.Hour})
	c.Put(1, 10, "gen0")
	_, ok := c.MaybeSeal()
	require.True(t, ok)
	c.Put(1, 10, "gen1")
	_, ok = c.MaybeSeal()
	require.True(t, ok)

	cells := c.ReadMerged(1, common.TimeRange{Min: 0, Max: 100})
	require.Len(t, cells, 1)
	require.Equal(t, "gen1", cells[0].Value)
}
