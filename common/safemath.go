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

import "math/bits"

// SafeMulUint64 returns x*y and reports whether the multiplication
// overflowed a uint64.
func SafeMulUint64(x, y uint64) (uint64, bool) {
	hi, lo := bits.Mul64(x, y)
	return lo, hi != 0
}

// SaturatingMulInt64 returns x*y clamped to [math.MinInt64, math.MaxInt64]
// on overflow instead of wrapping. Used by Duration's precision conversion;
// timestamp conversion between precisions uses SafeMulUint64 instead and
// reports the overflow.
func SaturatingMulInt64(x, y int64) int64 {
	if x == 0 || y == 0 {
		return 0
	}
	neg := (x < 0) != (y < 0)
	ux, uy := abs64(x), abs64(y)
	hi, lo := bits.Mul64(ux, uy)
	if hi != 0 || lo > MaxInt64AsUint64 {
		if neg {
			return MinInt64
		}
		return MaxInt64
	}
	v := int64(lo)
	if neg {
		return -v
	}
	return v
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

const (
	MaxInt64           = int64(1<<63 - 1)
	MinInt64           = int64(-1 << 63)
	MaxInt64AsUint64   = uint64(1<<63 - 1)
)

// CeilDiv returns ceil(x/y), or 0 when y is 0.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}
