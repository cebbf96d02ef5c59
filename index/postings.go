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
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cnosdb/tskv/common"
)

// postingsStore holds one roaring bitmap of SeriesId per (table, tag key,
// tag value), plus a per-table bitmap of every series. get_series_id_list
// answers with the intersection of the bitmaps named by the query's tags.
//
// RoaringBitmap/roaring/v2 backs the series postings here the same way it
// backs compressed-integer-set indexing elsewhere: a per-value bitmap of
// member ids, intersected at query time.
type postingsStore struct {
	mu       sync.RWMutex
	byTable  map[string]*roaring.Bitmap
	byTagVal map[string]*roaring.Bitmap // key: table + "\x00" + tagKey + "\x00" + tagValue
}

func newPostingsStore() *postingsStore {
	return &postingsStore{
		byTable:  make(map[string]*roaring.Bitmap),
		byTagVal: make(map[string]*roaring.Bitmap),
	}
}

func tagValKey(table, key, value string) string {
	return table + "\x00" + key + "\x00" + value
}

// Add records that seriesID belongs to key.
func (p *postingsStore) Add(key SeriesKey, seriesID common.SeriesId) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tb, ok := p.byTable[key.Table]
	if !ok {
		tb = roaring.New()
		p.byTable[key.Table] = tb
	}
	tb.Add(uint32(seriesID))

	for _, tag := range key.Tags {
		k := tagValKey(key.Table, tag.Key, tag.Value)
		bm, ok := p.byTagVal[k]
		if !ok {
			bm = roaring.New()
			p.byTagVal[k] = bm
		}
		bm.Add(uint32(seriesID))
	}
}

// Query intersects the per-table bitmap with every named tag's bitmap.
func (p *postingsStore) Query(table string, tags []Tag) []common.SeriesId {
	p.mu.RLock()
	defer p.mu.RUnlock()

	base, ok := p.byTable[table]
	if !ok {
		return nil
	}
	result := base.Clone()
	for _, tag := range tags {
		bm, ok := p.byTagVal[tagValKey(table, tag.Key, tag.Value)]
		if !ok {
			return nil
		}
		result.And(bm)
	}
	ids := make([]common.SeriesId, 0, result.GetCardinality())
	it := result.Iterator()
	for it.HasNext() {
		ids = append(ids, common.SeriesId(it.Next()))
	}
	return ids
}

// Snapshot serializes every bitmap for the postings snapshot file written
// on Close.
func (p *postingsStore) Snapshot() (map[string][]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string][]byte, len(p.byTable)+len(p.byTagVal))
	for k, bm := range p.byTable {
		buf, err := bm.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("postings snapshot table %q: %w", k, err)
		}
		out["t\x00"+k] = buf
	}
	for k, bm := range p.byTagVal {
		buf, err := bm.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("postings snapshot tagval %q: %w", k, err)
		}
		out["v\x00"+k] = buf
	}
	return out, nil
}

// LoadSnapshot restores bitmaps previously produced by Snapshot.
func (p *postingsStore) LoadSnapshot(data map[string][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, buf := range data {
		bm := roaring.New()
		if _, err := bm.FromBuffer(buf); err != nil {
			return fmt.Errorf("postings load %q: %w", k, err)
		}
		switch k[0] {
		case 't':
			p.byTable[k[2:]] = bm
		case 'v':
			p.byTagVal[k[2:]] = bm
		}
	}
	return nil
}
