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

// Package engine is the tskv facade: it wires the schema registry, series
// index, write-ahead log, memcache tier, TSM file layer, and version/summary
// and compaction machinery into the single TsKv entry point a caller opens,
// writes to, reads from, and closes.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/compaction"
	"github.com/cnosdb/tskv/index"
	"github.com/cnosdb/tskv/memcache"
	"github.com/cnosdb/tskv/models"
	"github.com/cnosdb/tskv/tsm"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/cnosdb/tskv/version"
	"github.com/cnosdb/tskv/wal"
	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// TsKv is the open handle to one database directory: every tenant/database
// pair it serves shares this process's WAL, summary log, and background
// workers, each ts-family (see tsFamilyIDFor) getting its own cache and file
// set within that shared infrastructure.
type TsKv struct {
	opts Options
	log  *zap.Logger

	lock *flock.Flock

	walMu         sync.Mutex
	wal           *wal.Manager
	set           *version.Set
	summary       *version.Summary
	summaryWriter *summaryWriter
	compactor     *compaction.Worker
	flush         *flushWorker
	tombstones    *tombstoneStore
	schemas       *schemaRegistry

	compactionEdits chan version.VersionEdit

	indicesMu sync.Mutex
	indices   map[string]*index.DbIndex

	tsFamilyMu sync.Mutex

	readersMu sync.Mutex
	readers   map[string]*tsm.Reader

	fieldTypes sync.Map // common.FieldId -> models.ValueType

	nextFileID uint64 // atomic
	walSeq     uint64 // atomic, latest applied WAL sequence

	closeOnce sync.Once
}

// Open acquires the database's LOCK file, recovers the summary log and
// write-ahead log, and starts the background summary writer, flush, and
// compaction goroutines, in that order: Go's bounded channels force the
// summary writer (the consumer) to start first, but flush and compaction are only
// triggered once WAL replay runs, so the effective dependency order the
// original's unbounded-channel wiring describes is preserved.
func Open(opts Options, log *zap.Logger) (*TsKv, error) {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "engine.Open", err)
	}

	lock := flock.New(lockPath(opts.Path))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "engine.Open", err)
	}
	if !locked {
		return nil, tskverr.New(tskverr.KindIoError, "engine.Open")
	}

	summaryDir := opts.Path
	recovered, err := version.Recover(summaryDir, opts.NumLevels)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	set := version.NewSet()
	set.Bootstrap(recovered)

	summary, err := version.OpenSummary(summaryDir)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	tombstones := newTombstoneStore(tombstoneStorePath(opts.Path))
	if err := tombstones.load(); err != nil {
		lock.Unlock()
		return nil, err
	}

	e := &TsKv{
		opts:            opts,
		log:             log,
		lock:            lock,
		set:             set,
		summary:         summary,
		tombstones:      tombstones,
		schemas:         newSchemaRegistry(),
		indices:         make(map[string]*index.DbIndex),
		readers:         make(map[string]*tsm.Reader),
		compactionEdits: make(chan version.VersionEdit, 256),
	}
	e.nextFileID = maxFileID(recovered) + 1

	e.compactor = compaction.NewWorker(opts.Compaction, e.set, e, e.allocFileID, e.compactionEdits, log)
	e.summaryWriter = newSummaryWriter(summary, set, e.compactor, opts.SummaryQueueLen, log)
	e.flush = newFlushWorker(e, opts.FlushQueueLen)

	e.summaryWriter.Start()
	e.summaryWriter.forward(e.compactionEdits)
	e.flush.Start()
	e.compactor.Start()

	nextSeq, err := wal.Replay(e.walDir(), e.replayWalEntry)
	if err != nil {
		e.Close()
		return nil, err
	}

	walMgr, err := wal.Open(wal.Options{
		Dir:          e.walDir(),
		SegmentSize:  opts.Wal.SegmentSize,
		TaskQueueLen: opts.Wal.TaskQueueLen,
		NextSeq:      nextSeq,
	}, log)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.walMu.Lock()
	e.wal = walMgr
	e.walMu.Unlock()

	return e, nil
}

// walManager returns the WAL handle under the lock the flush worker needs:
// a flush triggered during WAL replay can run concurrently with Open's
// assignment of the handle, and sees nil until Open completes.
func (e *TsKv) walManager() *wal.Manager {
	e.walMu.Lock()
	defer e.walMu.Unlock()
	return e.wal
}

func maxFileID(versions map[common.TseriesFamilyId]*version.Version) uint64 {
	var max uint64
	for _, v := range versions {
		for _, lvl := range v.Levels {
			for _, f := range lvl.Files {
				if f.FileID > max {
					max = f.FileID
				}
			}
		}
	}
	return max
}

func (e *TsKv) allocFileID() uint64 {
	return atomic.AddUint64(&e.nextFileID, 1) - 1
}

// Close stops every background worker, closes the WAL and summary log, and
// releases the directory lock. Safe to call once; a second call is a no-op.
func (e *TsKv) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.compactor != nil {
			e.compactor.Stop()
		}
		if e.flush != nil {
			e.flush.Stop()
		}
		if e.summaryWriter != nil {
			e.summaryWriter.Stop()
		}
		if m := e.walManager(); m != nil {
			if closeErr := m.Close(); closeErr != nil {
				err = closeErr
			}
		}
		if e.summary != nil {
			if closeErr := e.summary.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		e.readersMu.Lock()
		for _, r := range e.readers {
			r.Close()
		}
		e.readersMu.Unlock()
		e.indicesMu.Lock()
		for _, idx := range e.indices {
			idx.Close()
		}
		e.indicesMu.Unlock()
		if e.lock != nil {
			e.lock.Unlock()
		}
	})
	return err
}

// dbIndexFor returns (opening on first use) the series index for
// (tenant, db).
func (e *TsKv) dbIndexFor(tenant, db string) (*index.DbIndex, error) {
	key := tenant + "\x00" + db
	e.indicesMu.Lock()
	defer e.indicesMu.Unlock()
	if idx, ok := e.indices[key]; ok {
		return idx, nil
	}
	idx, err := index.OpenDbIndex(filepath.Join(e.indexDir(), tenant), db)
	if err != nil {
		return nil, err
	}
	e.indices[key] = idx
	return idx, nil
}

// ensureTsFamily registers a Cache for tsFamilyID on first use, leaving any
// Version recovered from the summary log untouched (Set.RegisterTsFamily
// only creates an empty Version when none exists yet).
func (e *TsKv) ensureTsFamily(tsFamilyID common.TseriesFamilyId) *memcache.Cache {
	if cache, ok := e.set.Cache(tsFamilyID); ok {
		return cache
	}
	e.tsFamilyMu.Lock()
	defer e.tsFamilyMu.Unlock()
	if cache, ok := e.set.Cache(tsFamilyID); ok {
		return cache
	}
	cache := memcache.New(tsFamilyID, e.opts.defaultWindow(), e.opts.Cache)
	e.set.RegisterTsFamily(tsFamilyID, e.opts.NumLevels, cache)
	return cache
}

// Write decodes a WritePointsRequest payload, resolves schemas and series
// ids, appends to the WAL, and inserts into the in-memory cache, in that
// order: decode/schema/index errors fail fast with nothing committed, and
// once the WAL append returns, the write is committed and replayable.
func (e *TsKv) Write(ctx context.Context, tenant string, payload []byte) (WritePointsResponse, error) {
	var req WritePointsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return WritePointsResponse{}, tskverr.Wrap(tskverr.KindInvalidFlatbuffer, "engine.Write", err)
	}
	if err := req.Validate(); err != nil {
		return WritePointsResponse{}, err
	}

	prepared, cache, err := e.preparePoints(tenant, req)
	if err != nil {
		return WritePointsResponse{}, err
	}

	rec := walRecord{Tenant: tenant, Req: req}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return WritePointsResponse{}, tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "engine.Write", err)
	}

	seq, _, err := e.wal.Append(ctx, encoded)
	if err != nil {
		return WritePointsResponse{}, err
	}
	e.advanceWalSeq(seq)

	e.insertPoints(cache, prepared)

	return WritePointsResponse{Version: 1, Points: payload}, nil
}

// advanceWalSeq raises the applied-sequence watermark to seq, never
// lowering it: concurrent writers receive their replies in reply order,
// not sequence order.
func (e *TsKv) advanceWalSeq(seq uint64) {
	for {
		cur := atomic.LoadUint64(&e.walSeq)
		if seq <= cur || atomic.CompareAndSwapUint64(&e.walSeq, cur, seq) {
			return
		}
	}
}

// walRecord is the WAL's on-disk payload: a WritePointsRequest plus the
// tenant that wrote it, since the wire RPC request itself carries tenant out
// of band (gRPC metadata, in the original) but the WAL has no such
// side channel to replay from.
type walRecord struct {
	Tenant string             `json:"tenant"`
	Req    WritePointsRequest `json:"req"`
}

func (e *TsKv) replayWalEntry(seq uint64, payload []byte) error {
	var rec walRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "engine.replayWalEntry", err)
	}
	e.advanceWalSeq(seq)
	prepared, cache, err := e.preparePoints(rec.Tenant, rec.Req)
	if err != nil {
		return err
	}
	e.insertPoints(cache, prepared)
	return nil
}

// preparedPoint is one cell ready for cache insertion, everything about it
// already resolved against the schema registry and series index.
type preparedPoint struct {
	fieldID common.FieldId
	ts      int64
	val     any
	vt      models.ValueType
}

// preparePoints resolves every point's schema and series id. It runs
// before the WAL append so that a request rejected here leaves nothing
// committed; a record that reaches the WAL has already passed it and
// replays deterministically.
func (e *TsKv) preparePoints(tenant string, req WritePointsRequest) ([]preparedPoint, *memcache.Cache, error) {
	idx, err := e.dbIndexFor(tenant, req.Database)
	if err != nil {
		return nil, nil, err
	}
	tsFamilyID := tsFamilyIDFor(tenant, req.Database)
	cache := e.ensureTsFamily(tsFamilyID)

	var prepared []preparedPoint
	for _, pt := range req.Points {
		schema, err := e.schemas.EnsureForWrite(tenant, req.Database, pt.Table, pt.Tags, pt.Fields)
		if err != nil {
			return nil, nil, err
		}

		tags := make([]index.Tag, len(pt.Tags))
		for i, t := range pt.Tags {
			tags[i] = index.Tag{Key: t.Key, Value: t.Value}
		}
		seriesID, err := idx.AddSeriesIfNotExists(pt.Table, tags)
		if err != nil {
			return nil, nil, err
		}
		idx.RegisterFieldInfo(pt.Table, fieldInfos(schema))

		for _, f := range pt.Fields {
			vt, val, ok := f.Typed()
			if !ok {
				continue
			}
			col, ok := schema.Column(f.Name)
			if !ok {
				continue
			}
			prepared = append(prepared, preparedPoint{
				fieldID: common.PairIds(col.ID, seriesID),
				ts:      pt.Timestamp,
				val:     val,
				vt:      vt,
			})
		}
	}
	return prepared, cache, nil
}

func (e *TsKv) insertPoints(cache *memcache.Cache, prepared []preparedPoint) {
	for _, p := range prepared {
		e.fieldTypes.Store(p.fieldID, p.vt)
		cache.Put(p.fieldID, p.ts, p.val)
	}
	if req, ok := cache.MaybeSeal(); ok {
		e.flush.Submit(req)
	}
}

// Read resolves every (seriesID, columnID) pair to a FieldId and merges its
// data across the memcache tier and every on-disk level overlapping tr,
// in merge order: mut, delta_mut, un-flushed
// delta_immut, un-flushed immut, then the TSM levels (file id breaks ties,
// so newer data always wins regardless of which level it currently sits
// in).
func (e *TsKv) Read(ctx context.Context, tenant, db string, seriesIDs []common.SeriesId, tr common.TimeRange, columnIDs []common.ColumnId) (map[common.SeriesId]map[common.ColumnId][]tsm.DataBlock, error) {
	tsFamilyID := tsFamilyIDFor(tenant, db)
	sv, ok := e.set.Pin(tsFamilyID)
	if !ok {
		return map[common.SeriesId]map[common.ColumnId][]tsm.DataBlock{}, nil
	}
	defer sv.Release()

	out := make(map[common.SeriesId]map[common.ColumnId][]tsm.DataBlock, len(seriesIDs))
	for _, sid := range seriesIDs {
		cols := make(map[common.ColumnId][]tsm.DataBlock, len(columnIDs))
		for _, cid := range columnIDs {
			fieldID := common.PairIds(cid, sid)
			blocks, err := e.readField(tsFamilyID, sv, fieldID, tr)
			if err != nil {
				return nil, err
			}
			cols[cid] = blocks
		}
		out[sid] = cols
	}
	return out, nil
}

func (e *TsKv) readField(tsFamilyID common.TseriesFamilyId, sv *version.SuperVersion, fieldID common.FieldId, tr common.TimeRange) ([]tsm.DataBlock, error) {
	sources := make(map[uint64][]tsm.DataBlock)
	var tombstones []tsm.Tombstone

	if sv.Cache != nil {
		if cells := sv.Cache.ReadMerged(fieldID, tr); len(cells) > 0 {
			sources[cacheSourceID] = tsm.BuildBlocks(fieldID, models.EncodingDefault, cells)
		}
	}

	for level, lvl := range sv.Version.Levels {
		for _, fm := range lvl.Files {
			if fm.MaxTs < tr.Min || fm.MinTs > tr.Max {
				continue
			}
			reader, err := e.readerFor(tsFamilyID, level, fm.FileID)
			if err != nil {
				return nil, err
			}
			blocks, err := reader.ReadColumnFile(fieldID, tr)
			if err != nil {
				return nil, err
			}
			if len(blocks) > 0 {
				sources[fm.FileID] = blocks
			}
			tf, err := tsm.OpenTombstoneFile(e.tombstonePath(tsFamilyID, level, fm.FileID))
			if err != nil {
				return nil, err
			}
			tombstones = append(tombstones, tf.Overlapping(fieldID, tr)...)
		}
	}

	for _, rng := range e.tombstones.Overlapping(tsFamilyID, fieldID, tr) {
		tombstones = append(tombstones, tsm.Tombstone{FieldID: fieldID, MinTs: rng.Min, MaxTs: rng.Max})
	}

	if len(sources) == 0 {
		return nil, nil
	}
	merged := tsm.MergeBlocks(fieldID, models.EncodingDefault, sources)
	return tsm.ApplyTombstones(merged, tombstones), nil
}

// cacheSourceID is the synthetic file id cache-resident cells are tagged
// with during MergeBlocks: higher than any real file id, so an in-memory
// cell always wins a timestamp tie against on-disk data. In practice no
// collision occurs since Cache.ReadMerged already excludes flushed
// generations, but the tag keeps the merge correct even if that ever
// changes.
const cacheSourceID = ^uint64(0)

func (e *TsKv) readerFor(tsFamilyID common.TseriesFamilyId, level int, fileID uint64) (*tsm.Reader, error) {
	key := fmt.Sprintf("%d/%d/%d", tsFamilyID, level, fileID)
	e.readersMu.Lock()
	defer e.readersMu.Unlock()
	if r, ok := e.readers[key]; ok {
		return r, nil
	}
	r, err := tsm.OpenReader(e.tsmPath(tsFamilyID, level, fileID), fileID, e.opts.BlockCacheSize)
	if err != nil {
		return nil, err
	}
	e.readers[key] = r
	return r, nil
}

// DeleteSeries removes [minTs, maxTs] for every field of every named series:
// the active cache generations directly, and a pending tombstone plus every
// currently overlapping TSM file's own tombstone for data the active
// generations don't cover (sealed cache entries, on-disk blocks).
func (e *TsKv) DeleteSeries(ctx context.Context, tenant, db string, seriesIDs []common.SeriesId, minTs, maxTs int64) error {
	tsFamilyID := tsFamilyIDFor(tenant, db)
	cache, ok := e.set.Cache(tsFamilyID)
	if !ok {
		return nil
	}
	idx, err := e.dbIndexFor(tenant, db)
	if err != nil {
		return err
	}
	tr := common.TimeRange{Min: minTs, Max: maxTs}

	infos := idx.GetSeriesInfoList(seriesIDs)
	sv, hasVersion := e.set.Current(tsFamilyID)
	if hasVersion {
		defer sv.Release()
	}

	for _, info := range infos {
		for _, field := range info.Fields {
			cache.DeleteRange(field.FieldID, tr)
			if err := e.tombstones.Add(tsFamilyID, field.FieldID, tr); err != nil {
				return err
			}
			if !hasVersion {
				continue
			}
			for level, lvl := range sv.Levels {
				for _, fm := range lvl.Files {
					if fm.MaxTs < tr.Min || fm.MinTs > tr.Max {
						continue
					}
					tf, err := tsm.OpenTombstoneFile(e.tombstonePath(tsFamilyID, level, fm.FileID))
					if err != nil {
						return err
					}
					tf.Add(field.FieldID, minTs, maxTs)
					if err := tf.Flush(); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// GetTableSchema returns table's current column set for (tenant, db).
func (e *TsKv) GetTableSchema(tenant, db, table string) (*models.TskvTableSchema, bool) {
	e.schemas.mu.Lock()
	defer e.schemas.mu.Unlock()
	schema, ok := e.schemas.tables[schemaKey(tenant, db, table)]
	return schema, ok
}

// GetSeriesIdList intersects postings for table against tags.
func (e *TsKv) GetSeriesIdList(tenant, db, table string, tags []index.Tag) ([]common.SeriesId, error) {
	idx, err := e.dbIndexFor(tenant, db)
	if err != nil {
		return nil, err
	}
	ids := idx.GetSeriesIdList(table, tags)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetSeriesKey reverse-looks-up a series id's key within (tenant, db).
func (e *TsKv) GetSeriesKey(tenant, db string, seriesID common.SeriesId) (index.SeriesKey, bool, error) {
	idx, err := e.dbIndexFor(tenant, db)
	if err != nil {
		return index.SeriesKey{}, false, err
	}
	key, ok := idx.GetSeriesKey(seriesID)
	return key, ok, nil
}
