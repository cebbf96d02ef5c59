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
	"sync"

	"github.com/cnosdb/tskv/common"
	arc "github.com/hashicorp/golang-lru/arc/v2"
	"github.com/google/btree"
)

type reverseEntry struct {
	SeriesID common.SeriesId
	Key      SeriesKey
}

// reverseIndex maps SeriesId -> SeriesKey in an ordered B-tree (no code
// path iterates it in order; lookups are by id) fronted by an ARC cache of
// hot lookups.
type reverseIndex struct {
	mu    sync.RWMutex
	tree  *btree.BTreeG[reverseEntry]
	cache *arc.ARCCache[common.SeriesId, SeriesKey]
}

func newReverseIndex(cacheSize int) *reverseIndex {
	cache, _ := arc.NewARC[common.SeriesId, SeriesKey](cacheSize)
	return &reverseIndex{
		tree: btree.NewG(32, func(a, b reverseEntry) bool {
			return a.SeriesID < b.SeriesID
		}),
		cache: cache,
	}
}

func (r *reverseIndex) Put(id common.SeriesId, key SeriesKey) {
	r.mu.Lock()
	r.tree.ReplaceOrInsert(reverseEntry{SeriesID: id, Key: key})
	r.mu.Unlock()
	r.cache.Add(id, key)
}

func (r *reverseIndex) Get(id common.SeriesId) (SeriesKey, bool) {
	if key, ok := r.cache.Get(id); ok {
		return key, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tree.Get(reverseEntry{SeriesID: id})
	if !ok {
		return SeriesKey{}, false
	}
	return entry.Key, true
}
