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

func TestInfDurationSaturatesEveryPrecision(t *testing.T) {
	inf := InfDuration()
	require.Equal(t, MaxInt64, inf.ToNanos())
	for _, p := range []Precision{PrecisionMS, PrecisionUS, PrecisionNS} {
		require.Equal(t, MaxInt64, inf.ToPrecision(p))
	}
}

func TestDurationToPrecision(t *testing.T) {
	d := NewDayDuration(1)
	require.Equal(t, int64(24*60*60*1000), d.ToPrecision(PrecisionMS))
	require.Equal(t, int64(24*60*60)*1_000_000, d.ToPrecision(PrecisionUS))
	require.Equal(t, int64(24*60*60)*1_000_000_000, d.ToPrecision(PrecisionNS))
}

func TestDurationToNanosSaturatesOnOverflow(t *testing.T) {
	huge := Duration{TimeNum: ^uint64(0) >> 1, Unit: DurationDay}
	require.Equal(t, MaxInt64, huge.ToNanos())
}

func TestParseDuration(t *testing.T) {
	d, ok := ParseDuration("30")
	require.True(t, ok)
	require.Equal(t, Duration{TimeNum: 30, Unit: DurationDay}, d)

	d, ok = ParseDuration("12h")
	require.True(t, ok)
	require.Equal(t, Duration{TimeNum: 12, Unit: DurationHour}, d)

	d, ok = ParseDuration("5M")
	require.True(t, ok)
	require.Equal(t, Duration{TimeNum: 5, Unit: DurationMinutes}, d)

	_, ok = ParseDuration("")
	require.False(t, ok)
	_, ok = ParseDuration("10x")
	require.False(t, ok)
}
