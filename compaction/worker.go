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

package compaction

import (
	"sync"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/version"
	"go.uber.org/zap"
)

// VersionSource is the read side of a version.Set a Worker needs: the
// current Version for a ts-family, pinned with its reference bumped.
type VersionSource interface {
	Current(tsFamilyID common.TseriesFamilyId) (*version.Version, bool)
}

// LayoutSource resolves the on-disk Layout for a ts-family.
type LayoutSource interface {
	Layout(tsFamilyID common.TseriesFamilyId) Layout
}

// Worker is the single consumer of compaction triggers for every
// ts-family: a new version edit published for a ts-family makes it
// eligible for picking, and this is the one goroutine that runs Pick and
// Run against it. Failures are logged, never retried in-process; the next
// trigger re-evaluates.
type Worker struct {
	opts      Options
	source    VersionSource
	layouts   LayoutSource
	newFileID func() uint64
	log       *zap.Logger

	edits chan<- version.VersionEdit
	reqs  chan common.TseriesFamilyId
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewWorker builds a Worker; edits is the summary writer's input channel,
// a single-consumer channel shared with flush.
func NewWorker(opts Options, source VersionSource, layouts LayoutSource, newFileID func() uint64, edits chan<- version.VersionEdit, log *zap.Logger) *Worker {
	return &Worker{
		opts:      opts,
		source:    source,
		layouts:   layouts,
		newFileID: newFileID,
		edits:     edits,
		log:       log,
		reqs:      make(chan common.TseriesFamilyId, 256),
		done:      make(chan struct{}),
	}
}

// Start runs the worker's consume loop in its own goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Trigger marks tsFamilyID eligible for re-evaluation; called whenever a
// version edit is published for it (a flush or a prior compaction). Never
// blocks: the channel is buffered and a full buffer just coalesces with
// an already-pending trigger for the same ts-family on the next drain.
func (w *Worker) Trigger(tsFamilyID common.TseriesFamilyId) {
	select {
	case w.reqs <- tsFamilyID:
	default:
	}
}

// Stop signals the consume goroutine to exit and waits for it. Triggers
// still queued when Stop is called are not evaluated.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case tsFamilyID := <-w.reqs:
			w.evaluate(tsFamilyID)
		case <-w.done:
			return
		}
	}
}

func (w *Worker) evaluate(tsFamilyID common.TseriesFamilyId) {
	v, ok := w.source.Current(tsFamilyID)
	if !ok {
		return
	}
	defer v.Release()

	req, ok := Pick(v, w.opts)
	if !ok {
		return
	}

	levels := levelsOf(v, req.Inputs)
	layout := w.layouts.Layout(tsFamilyID)
	edit, err := Run(layout, req, levels, w.newFileID, 256)
	if err != nil {
		if w.log != nil {
			w.log.Warn("compaction failed", zap.Uint32("ts_family_id", tsFamilyID), zap.Error(err))
		}
		return
	}
	edit.TsFamilyID = tsFamilyID
	// Compaction only rearranges files already covered by the current
	// watermark; it never advances the write frontier. Carrying SeqNo
	// forward keeps the WAL retention frontier from regressing.
	edit.SeqNo = v.SeqNo

	select {
	case w.edits <- edit:
	case <-w.done:
	}
}

func levelsOf(v *version.Version, inputs []version.FileMeta) []inputLevel {
	want := make(map[uint64]bool, len(inputs))
	for _, f := range inputs {
		want[f.FileID] = true
	}
	var out []inputLevel
	for level, lvl := range v.Levels {
		for _, f := range lvl.Files {
			if want[f.FileID] {
				out = append(out, inputLevel{FileID: f.FileID, Level: level})
			}
		}
	}
	return out
}
