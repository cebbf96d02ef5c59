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

import "strings"

// Precision is the timestamp unit of a table's time column, encoded on the
// wire as a single byte (0=MS, 1=US, 2=NS).
type Precision uint8

const (
	PrecisionMS Precision = iota
	PrecisionUS
	PrecisionNS
)

// DefaultPrecision is used whenever a database's options don't specify one.
const DefaultPrecision = PrecisionNS

func (p Precision) String() string {
	switch p {
	case PrecisionMS:
		return "MS"
	case PrecisionUS:
		return "US"
	case PrecisionNS:
		return "NS"
	default:
		return "NS"
	}
}

// ParsePrecision parses the case-insensitive textual form ("MS"/"US"/"NS").
func ParsePrecision(text string) (Precision, bool) {
	switch strings.ToUpper(text) {
	case "MS":
		return PrecisionMS, true
	case "US":
		return PrecisionUS, true
	case "NS":
		return PrecisionNS, true
	default:
		return 0, false
	}
}

// PrecisionFromByte decodes the wire u8 form, defaulting unknown values to
// NS.
func PrecisionFromByte(b uint8) Precision {
	switch b {
	case 0:
		return PrecisionMS
	case 1:
		return PrecisionUS
	default:
		return PrecisionNS
	}
}

// ConvertTimestamp converts ts from one precision to another. Down-scaling
// (finer to coarser, e.g. NS->MS) truncates silently. Up-scaling multiplies
// and returns ok=false on overflow instead of wrapping.
func ConvertTimestamp(from, to Precision, ts int64) (int64, bool) {
	if from == to {
		return ts, true
	}
	switch {
	case from == PrecisionNS && to == PrecisionUS, from == PrecisionUS && to == PrecisionMS:
		return ts / 1_000, true
	case from == PrecisionNS && to == PrecisionMS:
		return ts / 1_000_000, true
	case from == PrecisionMS && to == PrecisionUS, from == PrecisionUS && to == PrecisionNS:
		return safeMul1000(ts)
	case from == PrecisionMS && to == PrecisionNS:
		return safeMul1000000(ts)
	default:
		return ts, true
	}
}

func safeMul1000(ts int64) (int64, bool) {
	v, overflow := SafeMulUint64(abs64(ts), 1000)
	if overflow || v > MaxInt64AsUint64 {
		return 0, false
	}
	if ts < 0 {
		return -int64(v), true
	}
	return int64(v), true
}

func safeMul1000000(ts int64) (int64, bool) {
	v, overflow := SafeMulUint64(abs64(ts), 1_000_000)
	if overflow || v > MaxInt64AsUint64 {
		return 0, false
	}
	if ts < 0 {
		return -int64(v), true
	}
	return int64(v), true
}

// TimeRange is an inclusive [Min, Max] timestamp range.
type TimeRange struct {
	Min int64
	Max int64
}

// Overlaps reports whether r and o share at least one timestamp.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Min <= o.Max && o.Min <= r.Max
}

// Contains reports whether ts falls within r.
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.Min && ts <= r.Max
}

// Merge returns the smallest TimeRange covering both r and o.
func (r TimeRange) Merge(o TimeRange) TimeRange {
	out := r
	if o.Min < out.Min {
		out.Min = o.Min
	}
	if o.Max > out.Max {
		out.Max = o.Max
	}
	return out
}
