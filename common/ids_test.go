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

package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairIdsRoundTrips(t *testing.T) {
	cases := []struct {
		column ColumnId
		series SeriesId
	}{
		{0, 0},
		{1, 0},
		{0, 1},
		{42, 7},
		{^ColumnId(0), 0},
		{0, SeriesId(^uint32(0))},
		{^ColumnId(0), SeriesId(^uint32(0))},
	}
	for _, c := range cases {
		fieldID := PairIds(c.column, c.series)
		gotColumn, gotSeries := UnpairIds(fieldID)
		require.Equal(t, c.column, gotColumn)
		require.Equal(t, c.series, gotSeries)
	}
}

func TestPairIdsDistinctInputsDistinctOutputs(t *testing.T) {
	seen := make(map[FieldId]bool)
	for col := ColumnId(0); col < 10; col++ {
		for sid := SeriesId(0); sid < 10; sid++ {
			id := PairIds(col, sid)
			require.False(t, seen[id])
			seen[id] = true
		}
	}
}
