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
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/memcache"
	"github.com/cnosdb/tskv/models"
	"github.com/cnosdb/tskv/tsm"
	"github.com/cnosdb/tskv/version"
	"go.uber.org/zap"
)

// flushWorker is the single consumer of sealed-cache generations: it drains
// exactly one FlushReq at a time, writes every frozen field's cells to one
// new level-0 TSM file, and only drops the memtable generation once the
// corresponding VersionEdit is durable in the summary log.
type flushWorker struct {
	e *TsKv

	reqs chan memcache.FlushReq
	done chan struct{}
	wg   sync.WaitGroup
}

func newFlushWorker(e *TsKv, queueLen int) *flushWorker {
	if queueLen <= 0 {
		queueLen = 1024
	}
	return &flushWorker{e: e, reqs: make(chan memcache.FlushReq, queueLen), done: make(chan struct{})}
}

func (w *flushWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Submit enqueues req, coalescing silently with a full buffer: MaybeSeal is
// re-evaluated on the next write to the same ts-family, so a dropped
// trigger here just delays that generation's flush rather than losing it.
func (w *flushWorker) Submit(req memcache.FlushReq) {
	select {
	case w.reqs <- req:
	default:
	}
}

func (w *flushWorker) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *flushWorker) run() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.reqs:
			w.process(req)
		case <-w.done:
			return
		}
	}
}

func (w *flushWorker) process(req memcache.FlushReq) {
	cache, ok := w.e.set.Cache(req.TsFamilyID)
	if !ok {
		return
	}
	for _, flushID := range req.FrozenIDs {
		if err := w.flushOne(req.TsFamilyID, cache, flushID); err != nil {
			if w.e.log != nil {
				w.e.log.Warn("flush failed", zap.Uint32("ts_family_id", req.TsFamilyID), zap.Uint64("flush_id", flushID), zap.Error(err))
			}
		}
	}
}

func encodingFor(vt models.ValueType) models.Encoding {
	switch vt {
	case models.ValueFloat:
		return models.EncodingGorilla
	case models.ValueInteger:
		return models.EncodingDeltaBigint
	case models.ValueUnsigned:
		return models.EncodingDeltaUnsigned
	case models.ValueBoolean:
		return models.EncodingBitpackBool
	case models.ValueString, models.ValueGeometry:
		return models.EncodingSnappy
	default:
		return models.EncodingDefault
	}
}

func (w *flushWorker) flushOne(tsFamilyID common.TseriesFamilyId, cache *memcache.Cache, flushID uint64) error {
	sealed, ok := cache.Sealed(flushID)
	if !ok || sealed.Flushed {
		return nil
	}

	fieldIDs := make([]common.FieldId, 0, len(sealed.Cache))
	for id := range sealed.Cache {
		fieldIDs = append(fieldIDs, id)
	}
	sort.Slice(fieldIDs, func(i, j int) bool { return fieldIDs[i] < fieldIDs[j] })

	unbounded := common.TimeRange{Min: minInt64, Max: maxInt64}

	fileID := w.e.allocFileID()
	path := w.e.tsmPath(tsFamilyID, 0, fileID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	writer, err := tsm.OpenForWrite(path)
	if err != nil {
		return err
	}

	var minTs, maxTs int64
	first := true
	var totalBlocks int
	for _, fieldID := range fieldIDs {
		entry := sealed.Cache[fieldID]
		cells := entry.ReadCell(unbounded)
		if len(cells) == 0 {
			continue
		}
		vt, _ := w.e.fieldTypes.Load(fieldID)
		valueType, _ := vt.(models.ValueType)
		enc := encodingFor(valueType)
		blocks := tsm.BuildBlocks(fieldID, enc, cells)
		for _, b := range blocks {
			if err := writer.AddRange(b); err != nil {
				return err
			}
			totalBlocks++
			if first {
				minTs, maxTs = b.MinTs, b.MaxTs
				first = false
			} else {
				if b.MinTs < minTs {
					minTs = b.MinTs
				}
				if b.MaxTs > maxTs {
					maxTs = b.MaxTs
				}
			}
		}
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	if totalBlocks == 0 {
		os.Remove(path)
		cache.MarkFlushed(flushID)
		cache.DropFlushed()
		return nil
	}

	edit := version.VersionEdit{
		TsFamilyID: tsFamilyID,
		SeqNo:      atomic.LoadUint64(&w.e.walSeq),
		AddedFiles: []version.AddedFile{{
			Level: 0,
			File:  version.FileMeta{FileID: fileID, MinTs: minTs, MaxTs: maxTs},
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.e.summaryWriter.Submit(ctx, edit); err != nil {
		return err
	}

	cache.MarkFlushed(flushID)
	cache.DropFlushed()

	// The WAL is shared across ts-families, so the reclaim frontier is
	// the lowest persisted watermark over all of them, not this edit's.
	// The manager is nil during WAL replay, when nothing is reclaimable
	// anyway.
	if m := w.e.walManager(); m != nil {
		if frontier, ok := w.e.set.MinSeqNo(); ok {
			// Conservative by one: the frontier sequence itself stays
			// retained, so a family whose watermark is still the zero
			// value never has its first record reclaimed from under it.
			m.SetMinRetainedSeq(frontier)
			if err := m.ReclaimSegments(); err != nil && w.e.log != nil {
				w.e.log.Warn("wal segment reclaim failed", zap.Error(err))
			}
		}
	}
	return nil
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)
