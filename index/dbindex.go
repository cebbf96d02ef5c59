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

package index

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/goccy/go-json"
)

const defaultReverseCacheSize = 4096

// journalRecord is one (series_id, series_key) pair as persisted to the
// write-ahead journal so restart can rebuild postings without rescanning
// TSM data.
type journalRecord struct {
	SeriesID common.SeriesId `json:"s"`
	Table    string          `json:"t"`
	Tags     []Tag           `json:"g"`
}

// DbIndex is the per-database series index. One instance is owned per
// database directory; callers serialize structural updates through
// AddSeriesIfNotExists's internal lock while lookups take only a read
// lock.
type DbIndex struct {
	dir string

	mu       sync.RWMutex
	nextID   common.SeriesId
	forward  map[string]common.SeriesId // SeriesKey.String() -> id
	reverse  *reverseIndex
	postings *postingsStore
	schemas  map[string][]FieldInfo

	journal *os.File
}

// OpenDbIndex opens (creating if absent) the index directory for one
// database and replays its journal to rebuild postings and the forward
// map, so a restart never loses a committed series id.
func OpenDbIndex(baseDir, db string) (*DbIndex, error) {
	dir := filepath.Join(baseDir, db)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "index.OpenDbIndex", err)
	}
	idx := &DbIndex{
		dir:      dir,
		forward:  make(map[string]common.SeriesId),
		reverse:  newReverseIndex(defaultReverseCacheSize),
		postings: newPostingsStore(),
		schemas:  make(map[string][]FieldInfo),
	}
	if err := idx.recover(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(idx.journalPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "index.OpenDbIndex", err)
	}
	idx.journal = f
	return idx, nil
}

func (idx *DbIndex) journalPath() string { return filepath.Join(idx.dir, "series.journal") }

func (idx *DbIndex) postingsPath() string { return filepath.Join(idx.dir, "series.postings") }

func (idx *DbIndex) recover() error {
	// The postings snapshot, if one was written on a clean close, seeds
	// the bitmaps; the journal replay below re-adds whatever the snapshot
	// already holds (bitmap adds are idempotent) plus everything written
	// after it. A corrupt or missing snapshot just means rebuilding from
	// the journal alone.
	if buf, err := os.ReadFile(idx.postingsPath()); err == nil && len(buf) > 0 {
		var data map[string][]byte
		if err := json.Unmarshal(buf, &data); err == nil {
			_ = idx.postings.LoadSnapshot(data)
		}
	}

	f, err := os.Open(idx.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return tskverr.Wrap(tskverr.KindIoError, "index.recover", err)
	}
	defer f.Close()

	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			break // EOF or a truncated trailing write: stop, keep what parsed
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(f, payload); err != nil {
			break
		}
		var rec journalRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			break
		}
		key := NewSeriesKey(rec.Table, rec.Tags)
		idx.forward[key.String()] = rec.SeriesID
		idx.reverse.Put(rec.SeriesID, key)
		idx.postings.Add(key, rec.SeriesID)
		if rec.SeriesID >= idx.nextID {
			idx.nextID = rec.SeriesID + 1
		}
	}
	return nil
}

// AddSeriesIfNotExists atomically assigns (or returns the existing) id for
// the tag set, appending a journal record only for a genuinely new series.
func (idx *DbIndex) AddSeriesIfNotExists(table string, tags []Tag) (common.SeriesId, error) {
	key := NewSeriesKey(table, tags)
	strKey := key.String()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if id, ok := idx.forward[strKey]; ok {
		return id, nil
	}

	id := idx.nextID
	idx.nextID++
	idx.forward[strKey] = id

	rec := journalRecord{SeriesID: id, Table: table, Tags: key.Tags}
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, tskverr.Wrap(tskverr.KindIndexErr, "index.AddSeriesIfNotExists", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := idx.journal.Write(lenBuf[:]); err != nil {
		return 0, tskverr.Wrap(tskverr.KindIoError, "index.AddSeriesIfNotExists", err)
	}
	if _, err := idx.journal.Write(payload); err != nil {
		return 0, tskverr.Wrap(tskverr.KindIoError, "index.AddSeriesIfNotExists", err)
	}
	if err := idx.journal.Sync(); err != nil {
		return 0, tskverr.Wrap(tskverr.KindIoError, "index.AddSeriesIfNotExists", err)
	}

	idx.reverse.Put(id, key)
	idx.postings.Add(key, id)
	return id, nil
}

// GetSeriesIdList intersects postings for every tag in tags, scoped to table.
func (idx *DbIndex) GetSeriesIdList(table string, tags []Tag) []common.SeriesId {
	return idx.postings.Query(table, tags)
}

// GetSeriesKey reverse-looks-up a SeriesId.
func (idx *DbIndex) GetSeriesKey(sid common.SeriesId) (SeriesKey, bool) {
	return idx.reverse.Get(sid)
}

// GetSeriesInfoList resolves a batch of ids to SeriesInfo, skipping unknown
// ids: they contribute no entry rather than an error. Each FieldInfo's
// FieldID is recomputed per series: FieldId pairs a ColumnId with a
// SeriesId, so the table-level cached field list (column id and name
// only) can't carry the right FieldId for more than one series.
func (idx *DbIndex) GetSeriesInfoList(ids []common.SeriesId) []SeriesInfo {
	idx.mu.RLock()
	schemas := idx.schemas
	idx.mu.RUnlock()

	out := make([]SeriesInfo, 0, len(ids))
	for _, id := range ids {
		key, ok := idx.GetSeriesKey(id)
		if !ok {
			continue
		}
		tableFields := schemas[key.Table]
		fields := make([]FieldInfo, len(tableFields))
		for i, f := range tableFields {
			fields[i] = FieldInfo{FieldID: common.PairIds(f.ColumnID, id), Name: f.Name, ColumnID: f.ColumnID}
		}
		out = append(out, SeriesInfo{SeriesID: id, Key: key, Fields: fields})
	}
	return out
}

// GetTableSchema returns the cached field list for table, if any series of
// it has been registered yet.
func (idx *DbIndex) GetTableSchema(table string) ([]FieldInfo, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	f, ok := idx.schemas[table]
	return f, ok
}

// RegisterFieldInfo updates the cached field list for table; called by the
// engine write path whenever it resolves a schema for an incoming write.
func (idx *DbIndex) RegisterFieldInfo(table string, fields []FieldInfo) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.schemas[table] = fields
}

// Close writes a postings snapshot (best effort: a failed snapshot only
// costs the next open a longer journal replay) and closes the journal.
func (idx *DbIndex) Close() error {
	snapErr := idx.Snapshot()
	if idx.journal == nil {
		return snapErr
	}
	if err := idx.journal.Close(); err != nil {
		return err
	}
	return snapErr
}

// Snapshot persists the current postings state to series.postings, read
// back by recover() to seed the bitmaps before journal replay.
func (idx *DbIndex) Snapshot() error {
	data, err := idx.postings.Snapshot()
	if err != nil {
		return tskverr.Wrap(tskverr.KindIndexErr, "index.Snapshot", err)
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return tskverr.Wrap(tskverr.KindIndexErr, "index.Snapshot", err)
	}
	tmp := idx.postingsPath() + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "index.Snapshot", err)
	}
	return os.Rename(tmp, idx.postingsPath())
}
