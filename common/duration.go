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
	"fmt"
	"strconv"
	"strings"
)

// DurationUnit is the unit a Duration's count is expressed in.
type DurationUnit uint8

const (
	DurationMinutes DurationUnit = iota
	DurationHour
	DurationDay
	DurationInf
)

const (
	minuteNanos = int64(60) * 1_000_000_000
	hourNanos   = int64(60) * minuteNanos
	dayNanos    = int64(24) * hourNanos
)

// Duration is a {count, unit} TTL/shard-duration value. Unlike a
// time.Duration it is serialized as (time_num uint64, unit uint8) on the
// wire and saturates instead of wrapping on conversion.
type Duration struct {
	TimeNum uint64
	Unit    DurationUnit
}

// NewDayDuration builds a Duration of whole days.
func NewDayDuration(days uint64) Duration {
	return Duration{TimeNum: days, Unit: DurationDay}
}

// InfDuration represents an unbounded TTL. TimeNum carries a historical
// 100000-day placeholder rather than a true infinity; every conversion
// below special-cases DurationInf to the max representable value
// regardless of TimeNum, so that placeholder never leaks into arithmetic.
func InfDuration() Duration {
	return Duration{TimeNum: 100000, Unit: DurationInf}
}

// ParseDuration parses a bare integer (implicitly days) or a
// <number><unit> form where unit is one of d/h/m (case-insensitive).
func ParseDuration(text string) (Duration, bool) {
	if text == "" {
		return Duration{}, false
	}
	if v, err := strconv.ParseUint(text, 10, 64); err == nil {
		return Duration{TimeNum: v, Unit: DurationDay}, true
	}
	n := len(text)
	numPart, unitPart := text[:n-1], text[n-1:]
	v, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return Duration{}, false
	}
	var unit DurationUnit
	switch strings.ToUpper(unitPart) {
	case "D":
		unit = DurationDay
	case "H":
		unit = DurationHour
	case "M":
		unit = DurationMinutes
	default:
		return Duration{}, false
	}
	return Duration{TimeNum: v, Unit: unit}, true
}

func (d Duration) String() string {
	switch d.Unit {
	case DurationMinutes:
		return fmt.Sprintf("%d Minutes", d.TimeNum)
	case DurationHour:
		return fmt.Sprintf("%d Hours", d.TimeNum)
	case DurationDay:
		return fmt.Sprintf("%d Days", d.TimeNum)
	default:
		return "INF"
	}
}

// ToNanos converts d to its nanosecond count, saturating at MaxInt64.
func (d Duration) ToNanos() int64 {
	if d.Unit == DurationInf {
		return MaxInt64
	}
	return SaturatingMulInt64(int64(d.TimeNum), d.unitNanos())
}

// ToPrecision converts d to the given precision's unit count.
func (d Duration) ToPrecision(p Precision) int64 {
	if d.Unit == DurationInf {
		return MaxInt64
	}
	nanos := d.ToNanos()
	switch p {
	case PrecisionMS:
		return nanos / 1_000_000
	case PrecisionUS:
		return nanos / 1_000
	default:
		return nanos
	}
}

func (d Duration) unitNanos() int64 {
	switch d.Unit {
	case DurationMinutes:
		return minuteNanos
	case DurationHour:
		return hourNanos
	case DurationDay:
		return dayNanos
	default:
		return 0
	}
}
