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

package index

import (
	"os"
	"testing"

	"github.com/cnosdb/tskv/common"
	"github.com/stretchr/testify/require"
)

func TestAddSeriesIfNotExistsIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenDbIndex(dir, "db0")
	require.NoError(t, err)
	defer idx.Close()

	tags := []Tag{{Key: "host", Value: "a"}}
	id1, err := idx.AddSeriesIfNotExists("t", tags)
	require.NoError(t, err)

	id2, err := idx.AddSeriesIfNotExists("t", tags)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	id3, err := idx.AddSeriesIfNotExists("t", []Tag{{Key: "host", Value: "b"}})
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)
}

func TestGetSeriesIdListIntersectsTags(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenDbIndex(dir, "db0")
	require.NoError(t, err)
	defer idx.Close()

	a, _ := idx.AddSeriesIfNotExists("t", []Tag{{Key: "host", Value: "a"}, {Key: "region", Value: "us"}})
	_, _ = idx.AddSeriesIfNotExists("t", []Tag{{Key: "host", Value: "b"}, {Key: "region", Value: "us"}})

	got := idx.GetSeriesIdList("t", []Tag{{Key: "host", Value: "a"}})
	require.ElementsMatch(t, []common.SeriesId{a}, got)

	none := idx.GetSeriesIdList("t", []Tag{{Key: "host", Value: "zzz"}})
	require.Empty(t, none)
}

func TestDbIndexRecoversFromJournal(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenDbIndex(dir, "db0")
	require.NoError(t, err)

	tags := []Tag{{Key: "host", Value: "a"}}
	id, err := idx.AddSeriesIfNotExists("t", tags)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := OpenDbIndex(dir, "db0")
	require.NoError(t, err)
	defer reopened.Close()

	key, ok := reopened.GetSeriesKey(id)
	require.True(t, ok)
	require.Equal(t, "t,host=a", key.String())

	again, err := reopened.AddSeriesIfNotExists("t", tags)
	require.NoError(t, err)
	require.Equal(t, id, again, "recovered forward map must prevent a duplicate allocation")
}

func TestPostingsSnapshotSurvivesJournalLoss(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenDbIndex(dir, "db0")
	require.NoError(t, err)

	id, err := idx.AddSeriesIfNotExists("t", []Tag{{Key: "host", Value: "a"}})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Close wrote a postings snapshot; even with the journal gone, the
	// tag-to-series postings must come back from it.
	require.NoError(t, os.Remove(idx.journalPath()))

	reopened, err := OpenDbIndex(dir, "db0")
	require.NoError(t, err)
	defer reopened.Close()

	got := reopened.GetSeriesIdList("t", []Tag{{Key: "host", Value: "a"}})
	require.ElementsMatch(t, []common.SeriesId{id}, got)
}

func TestGetSeriesInfoListSkipsUnknownIds(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenDbIndex(dir, "db0")
	require.NoError(t, err)
	defer idx.Close()

	id, _ := idx.AddSeriesIfNotExists("t", []Tag{{Key: "host", Value: "a"}})
	infos := idx.GetSeriesInfoList([]common.SeriesId{id, 999})
	require.Len(t, infos, 1)
	require.Equal(t, id, infos[0].SeriesID)
}

func TestRegisterAndGetTableSchema(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenDbIndex(dir, "db0")
	require.NoError(t, err)
	defer idx.Close()

	_, ok := idx.GetTableSchema("t")
	require.False(t, ok)

	fields := []FieldInfo{{FieldID: 1, Name: "value", ColumnID: 2}}
	idx.RegisterFieldInfo("t", fields)

	got, ok := idx.GetTableSchema("t")
	require.True(t, ok)
	require.Equal(t, fields, got)
}
