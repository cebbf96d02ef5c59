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

package version

import (
	"testing"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/memcache"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndCurrentRoundTrips(t *testing.T) {
	s := NewSet()
	cache := memcache.New(1, common.TimeRange{Min: 0, Max: 1000}, memcache.Options{})
	s.RegisterTsFamily(1, 3, cache)

	v, ok := s.Current(1)
	require.True(t, ok)
	defer v.Release()
	require.Equal(t, common.TseriesFamilyId(1), v.TsFamilyID)
	require.Len(t, v.Levels, 3)

	got, ok := s.Cache(1)
	require.True(t, ok)
	require.Same(t, cache, got)
}

func TestApplyNeverLowersSeqNo(t *testing.T) {
	base := NewEmptyVersion(1, 1)
	v1 := Apply(base, VersionEdit{TsFamilyID: 1, SeqNo: 9})
	// A compaction-style edit carries no new watermark; the base's must
	// survive.
	v2 := Apply(v1, VersionEdit{TsFamilyID: 1})
	require.Equal(t, uint64(9), v2.SeqNo)
}

func TestMinSeqNoIsLowestWatermarkAcrossFamilies(t *testing.T) {
	s := NewSet()
	_, ok := s.MinSeqNo()
	require.False(t, ok)

	s.RegisterTsFamily(1, 1, memcache.New(1, common.TimeRange{Min: 0, Max: 1000}, memcache.Options{}))
	s.RegisterTsFamily(2, 1, memcache.New(2, common.TimeRange{Min: 0, Max: 1000}, memcache.Options{}))

	s.Apply(VersionEdit{TsFamilyID: 1, SeqNo: 10})
	s.Apply(VersionEdit{TsFamilyID: 2, SeqNo: 3})

	min, ok := s.MinSeqNo()
	require.True(t, ok)
	require.Equal(t, uint64(3), min)
}

func TestCurrentUnknownTsFamilyIsMissing(t *testing.T) {
	s := NewSet()
	_, ok := s.Current(99)
	require.False(t, ok)
}

func TestApplySwapsVersionAndKeepsOldAliveUntilReleased(t *testing.T) {
	s := NewSet()
	s.RegisterTsFamily(1, 1, memcache.New(1, common.TimeRange{Min: 0, Max: 1000}, memcache.Options{}))

	held, ok := s.Current(1)
	require.True(t, ok)

	edit := VersionEdit{
		TsFamilyID: 1,
		SeqNo:      5,
		AddedFiles: []AddedFile{{Level: 0, File: FileMeta{FileID: 10, MinTs: 1, MaxTs: 2}}},
	}
	next := s.Apply(edit)
	require.Equal(t, uint64(5), next.SeqNo)
	require.Len(t, next.LevelZero(), 1)

	// The reader that grabbed the version before the edit still sees the
	// pre-edit state; it is untouched by the swap.
	require.Empty(t, held.LevelZero())
	held.Release()

	current, ok := s.Current(1)
	require.True(t, ok)
	defer current.Release()
	require.Same(t, next, current)
}

func TestPinReturnsSuperVersionWithMatchingCache(t *testing.T) {
	s := NewSet()
	cache := memcache.New(1, common.TimeRange{Min: 0, Max: 1000}, memcache.Options{})
	s.RegisterTsFamily(2, 1, cache)

	sv, ok := s.Pin(2)
	require.True(t, ok)
	require.Same(t, cache, sv.Cache)
	require.Equal(t, common.TseriesFamilyId(2), sv.TsFamilyID)
	sv.Release()
}
