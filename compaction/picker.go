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

// Package compaction picks and executes leveled compactions: level 0's
// unsorted, possibly-overlapping files are merged down into sorted,
// non-overlapping runs at higher levels.
package compaction

import (
	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/version"
)

// Options bounds when and how much a single compaction does.
type Options struct {
	// Level0FileCountTrigger is the number of level-0 files that, once
	// reached, makes level 0 eligible for picking.
	Level0FileCountTrigger int
	// MaxLevels is the number of levels a ts-family's Version carries.
	MaxLevels int
}

func (o Options) withDefaults() Options {
	if o.Level0FileCountTrigger == 0 {
		o.Level0FileCountTrigger = 4
	}
	if o.MaxLevels == 0 {
		o.MaxLevels = 4
	}
	return o
}

// Req names one compaction's input files and the level its output file
// belongs to.
type Req struct {
	TsFamilyID  common.TseriesFamilyId
	OutputLevel int
	Inputs      []version.FileMeta
}

// Pick evaluates v against opts and returns the next compaction to run, if
// any. The strategy is deliberately simple: once level 0 accumulates
// Level0FileCountTrigger files, all of level 0 plus every level-1 file
// whose range overlaps it become one compaction into level 1. Levels above
// 1 are never picked by this strategy in this implementation — the file
// counts tskv workloads produce rarely need a third level, and adding one
// is a matter of repeating this same overlap-driven selection one level
// higher.
func Pick(v *version.Version, opts Options) (Req, bool) {
	opts = opts.withDefaults()
	if v == nil || len(v.Levels) == 0 {
		return Req{}, false
	}
	level0 := v.LevelZero()
	if len(level0) < opts.Level0FileCountTrigger {
		return Req{}, false
	}

	inputs := make([]version.FileMeta, len(level0))
	copy(inputs, level0)

	var level0Range common.TimeRange
	for i, f := range inputs {
		fr := common.TimeRange{Min: f.MinTs, Max: f.MaxTs}
		if i == 0 {
			level0Range = fr
		} else {
			level0Range = level0Range.Merge(fr)
		}
	}

	if len(v.Levels) > 1 {
		for _, f := range v.Levels[1].Files {
			if f.MaxTs < level0Range.Min || f.MinTs > level0Range.Max {
				continue
			}
			inputs = append(inputs, f)
		}
	}

	return Req{TsFamilyID: v.TsFamilyID, OutputLevel: 1, Inputs: inputs}, true
}
