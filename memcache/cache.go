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

package memcache

import (
	"sort"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cnosdb/tskv/common"
)

// SealedCache is a frozen snapshot of one generation of an active cache: it
// is never mutated again, so readers can use it without locking beyond the
// Cache's own RWMutex.
type SealedCache struct {
	FlushID uint64
	Cache   map[common.FieldId]*MemEntry
	Flushed bool
}

// FlushReq is handed to the flush worker when a cache crosses its
// size/age threshold.
type FlushReq struct {
	TsFamilyID common.TseriesFamilyId
	FrozenIDs  []uint64
}

// Options bounds when an active cache seals.
type Options struct {
	MaxSize datasize.ByteSize
	MaxAge  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxSize == 0 {
		o.MaxSize = 64 * datasize.MB
	}
	if o.MaxAge == 0 {
		o.MaxAge = 10 * time.Minute
	}
	return o
}

// Cache is the four-tier memtable set for one ts-family: mut/delta_mut are
// the live write targets, immut/delta_immut are sealed generations waiting
// on (or already past) flush.
type Cache struct {
	tsFamilyID common.TseriesFamilyId
	opts       Options

	mu           sync.RWMutex
	mut          map[common.FieldId]*MemEntry
	deltaMut     map[common.FieldId]*MemEntry
	immut        []*SealedCache
	deltaImmut   []*SealedCache
	mutOpenedAt  time.Time
	deltaOpenAt  time.Time
	nextFlushID  uint64
	activeWindow common.TimeRange
}

// New creates an empty Cache for one ts-family with the given active
// write window; points outside the window land in the delta tier.
func New(tsFamilyID common.TseriesFamilyId, activeWindow common.TimeRange, opts Options) *Cache {
	now := time.Now()
	return &Cache{
		tsFamilyID:   tsFamilyID,
		opts:         opts.withDefaults(),
		mut:          make(map[common.FieldId]*MemEntry),
		deltaMut:     make(map[common.FieldId]*MemEntry),
		mutOpenedAt:  now,
		deltaOpenAt:  now,
		activeWindow: activeWindow,
	}
}

// Put appends one cell, routing to the delta tier when ts falls outside
// the ts-family's active window. The cache lock is held across the entry
// mutation: sealing swaps the active map under the write lock, so an
// entry reached under the read lock is guaranteed to still belong to the
// active (never a sealed) generation while it is mutated.
func (c *Cache) Put(fieldID common.FieldId, ts int64, val any) {
	c.mu.RLock()
	entry, ok := c.activeEntry(fieldID, ts)
	if ok {
		entry.Put(ts, val)
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	c.mu.Lock()
	entry, ok = c.activeEntry(fieldID, ts)
	if !ok {
		entry = &MemEntry{}
		if c.activeWindow.Contains(ts) {
			c.mut[fieldID] = entry
		} else {
			c.deltaMut[fieldID] = entry
		}
	}
	entry.Put(ts, val)
	c.mu.Unlock()
}

// activeEntry resolves fieldID's entry in the active generation ts routes
// to. Callers must hold c.mu (either mode).
func (c *Cache) activeEntry(fieldID common.FieldId, ts int64) (*MemEntry, bool) {
	target := c.mut
	if !c.activeWindow.Contains(ts) {
		target = c.deltaMut
	}
	e, ok := target[fieldID]
	return e, ok
}

func (c *Cache) sizeLocked(m map[common.FieldId]*MemEntry) int64 {
	var total int64
	for _, e := range m {
		total += e.sizeBytes()
	}
	return total
}

// MaybeSeal freezes the active cache (mut and/or delta_mut) if it has
// crossed its size or age threshold, returning a FlushReq naming the newly
// frozen generations. Returns ok=false if nothing needed sealing.
func (c *Cache) MaybeSeal() (FlushReq, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var frozen []uint64
	now := time.Now()

	if len(c.mut) > 0 && (c.sizeLocked(c.mut) >= int64(c.opts.MaxSize.Bytes()) || now.Sub(c.mutOpenedAt) >= c.opts.MaxAge) {
		id := c.nextFlushID
		c.nextFlushID++
		c.immut = append(c.immut, &SealedCache{FlushID: id, Cache: c.mut})
		c.mut = make(map[common.FieldId]*MemEntry)
		c.mutOpenedAt = now
		frozen = append(frozen, id)
	}
	if len(c.deltaMut) > 0 && (c.sizeLocked(c.deltaMut) >= int64(c.opts.MaxSize.Bytes()) || now.Sub(c.deltaOpenAt) >= c.opts.MaxAge) {
		id := c.nextFlushID
		c.nextFlushID++
		c.deltaImmut = append(c.deltaImmut, &SealedCache{FlushID: id, Cache: c.deltaMut})
		c.deltaMut = make(map[common.FieldId]*MemEntry)
		c.deltaOpenAt = now
		frozen = append(frozen, id)
	}
	if len(frozen) == 0 {
		return FlushReq{}, false
	}
	return FlushReq{TsFamilyID: c.tsFamilyID, FrozenIDs: frozen}, true
}

// MarkFlushed records that flushID's data is durable in TSM files: its
// generation stays in the immut/delta_immut list (still needed by reads
// until it is dropped by DropFlushed) but is skipped when read order
// reaches "un-flushed immut"/"un-flushed delta_immut".
func (c *Cache) MarkFlushed(flushID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.immut {
		if s.FlushID == flushID {
			s.Flushed = true
		}
	}
	for _, s := range c.deltaImmut {
		if s.FlushID == flushID {
			s.Flushed = true
		}
	}
}

// DropFlushed removes every sealed generation already marked flushed,
// destroying the memtable now that its version edit has been published.
func (c *Cache) DropFlushed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.immut = dropFlushed(c.immut)
	c.deltaImmut = dropFlushed(c.deltaImmut)
}

func dropFlushed(in []*SealedCache) []*SealedCache {
	out := in[:0]
	for _, s := range in {
		if !s.Flushed {
			out = append(out, s)
		}
	}
	return out
}

// ReadMerged assembles cells for fieldID over tr from mut, delta_mut, and
// every un-flushed delta_immut/immut generation (TSM levels are merged on
// top of this by the caller). Sources are visited most-recent-first — the
// live caches, then sealed generations newest to oldest — so the
// first-wins dedup resolves a timestamp collision to the latest write,
// the same newest-wins rule the TSM merge applies via its file-id
// tiebreak.
func (c *Cache) ReadMerged(fieldID common.FieldId, tr common.TimeRange) []Cell {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Cell
	if e, ok := c.mut[fieldID]; ok {
		out = append(out, e.ReadCell(tr)...)
	}
	if e, ok := c.deltaMut[fieldID]; ok {
		out = append(out, e.ReadCell(tr)...)
	}
	for i := len(c.deltaImmut) - 1; i >= 0; i-- {
		s := c.deltaImmut[i]
		if s.Flushed {
			continue
		}
		if e, ok := s.Cache[fieldID]; ok {
			out = append(out, e.ReadCell(tr)...)
		}
	}
	for i := len(c.immut) - 1; i >= 0; i-- {
		s := c.immut[i]
		if s.Flushed {
			continue
		}
		if e, ok := s.Cache[fieldID]; ok {
			out = append(out, e.ReadCell(tr)...)
		}
	}
	return dedupNewestWins(out)
}

// DeleteRange removes cells from the active mut/delta_mut generations for
// fieldID within tr. Sealed generations are never mutated (see the
// package doc): data already frozen into immut/delta_immut is left for the
// engine's tombstone filter to exclude from reads until it is flushed and
// a per-file tombstone takes over.
func (c *Cache) DeleteRange(fieldID common.FieldId, tr common.TimeRange) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.mut[fieldID]; ok {
		e.DeleteRange(tr)
	}
	if e, ok := c.deltaMut[fieldID]; ok {
		e.DeleteRange(tr)
	}
}

// Sealed returns the sealed generation (from either immut or delta_immut)
// carrying flushID, used by the flush worker to locate the data it must
// drain to a TSM file.
func (c *Cache) Sealed(flushID uint64) (*SealedCache, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.immut {
		if s.FlushID == flushID {
			return s, true
		}
	}
	for _, s := range c.deltaImmut {
		if s.FlushID == flushID {
			return s, true
		}
	}
	return nil, false
}

// dedupNewestWins keeps the first cell seen per timestamp — callers feed
// cells most-recent-source-first — and returns the result sorted ascending
// by Ts.
func dedupNewestWins(cells []Cell) []Cell {
	if len(cells) == 0 {
		return nil
	}
	byTs := make(map[int64]Cell, len(cells))
	for _, c := range cells {
		if _, ok := byTs[c.Ts]; !ok {
			byTs[c.Ts] = c
		}
	}
	out := make([]Cell, 0, len(byTs))
	for _, c := range byTs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out
}
