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

package engine

import (
	"context"
	"sync"

	"github.com/cnosdb/tskv/compaction"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/cnosdb/tskv/version"
	"go.uber.org/zap"
)

// summaryReq is one VersionEdit awaiting durability: done is signalled only
// after Summary.Append has fsynced and Set.Apply has swapped in the new
// Version, so a caller blocked on Submit never observes a cache drop ahead
// of the edit that justifies it.
type summaryReq struct {
	edit version.VersionEdit
	done chan error
}

// summaryWriter is the single consumer of VersionEdits for the whole
// engine: flush and compaction both publish edits through it rather than
// calling Summary.Append directly, so the durable log is only ever written
// by one goroutine (the same single-writer discipline the WAL itself
// uses).
type summaryWriter struct {
	summary   *version.Summary
	set       *version.Set
	compactor *compaction.Worker
	log       *zap.Logger

	reqs chan summaryReq
	done chan struct{}
	wg   sync.WaitGroup
}

func newSummaryWriter(summary *version.Summary, set *version.Set, compactor *compaction.Worker, queueLen int, log *zap.Logger) *summaryWriter {
	if queueLen <= 0 {
		queueLen = 1024
	}
	return &summaryWriter{
		summary:   summary,
		set:       set,
		compactor: compactor,
		log:       log,
		reqs:      make(chan summaryReq, queueLen),
		done:      make(chan struct{}),
	}
}

func (w *summaryWriter) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *summaryWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.reqs:
			w.apply(req)
		case <-w.done:
			return
		}
	}
}

func (w *summaryWriter) apply(req summaryReq) {
	err := w.summary.Append(req.edit)
	if err == nil {
		w.set.Apply(req.edit)
		if w.compactor != nil {
			w.compactor.Trigger(req.edit.TsFamilyID)
		}
	}
	if req.done != nil {
		req.done <- err
	} else if err != nil && w.log != nil {
		w.log.Warn("version edit failed", zap.Uint32("ts_family_id", req.edit.TsFamilyID), zap.Error(err))
	}
}

// Submit blocks until edit is durable (or ctx is done), the request/reply
// pattern the flush worker relies on to order "durable before cache-drop".
func (w *summaryWriter) Submit(ctx context.Context, edit version.VersionEdit) error {
	done := make(chan error, 1)
	req := summaryReq{edit: edit, done: done}
	select {
	case w.reqs <- req:
	case <-ctx.Done():
		return tskverr.Wrap(tskverr.KindSend, "engine.summaryWriter.Submit", ctx.Err())
	case <-w.done:
		return tskverr.New(tskverr.KindSend, "engine.summaryWriter.Submit")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return tskverr.Wrap(tskverr.KindReceive, "engine.summaryWriter.Submit", ctx.Err())
	}
}

// forward bridges compaction.Worker's plain edits channel into reqs,
// fire-and-forget: compaction already logs its own failures and never
// blocks a reader on a version edit becoming durable.
func (w *summaryWriter) forward(edits <-chan version.VersionEdit) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case edit := <-edits:
				w.apply(summaryReq{edit: edit})
			case <-w.done:
				return
			}
		}
	}()
}

func (w *summaryWriter) Stop() {
	close(w.done)
	w.wg.Wait()
}
