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

package version

import (
	"sync"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/memcache"
)

// Set is the read-write-lock-guarded root of every ts-family's current
// Version. Readers take the read lock only long enough to bump a
// reference count on the pinned Version; writers (edit application) take
// the write lock to swap the pointer.
type Set struct {
	mu       sync.RWMutex
	versions map[common.TseriesFamilyId]*Version
	caches   map[common.TseriesFamilyId]*memcache.Cache
}

// NewSet builds an empty VersionSet.
func NewSet() *Set {
	return &Set{
		versions: make(map[common.TseriesFamilyId]*Version),
		caches:   make(map[common.TseriesFamilyId]*memcache.Cache),
	}
}

// RegisterTsFamily installs the Cache for a ts-family, creating an empty
// Version on first write per the lifecycle rules. If Bootstrap already
// installed a Version recovered from the summary log, that Version is
// kept: only the cache (which the summary log never persists; it is
// always rebuilt from WAL replay) is installed here.
func (s *Set) RegisterTsFamily(tsFamilyID common.TseriesFamilyId, numLevels int, cache *memcache.Cache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[tsFamilyID]; !ok {
		s.versions[tsFamilyID] = NewEmptyVersion(tsFamilyID, numLevels)
	}
	s.caches[tsFamilyID] = cache
}

// Bootstrap installs Versions recovered from the summary log before any
// ts-family's cache is registered. Called once, from engine.Open, after
// Recover and before the first RegisterTsFamily.
func (s *Set) Bootstrap(recovered map[common.TseriesFamilyId]*Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range recovered {
		s.versions[id] = v
	}
}

// Current returns the current Version for tsFamilyID with its reference
// count bumped; the caller must call Release when done. ok is false if the
// ts-family is unknown.
func (s *Set) Current(tsFamilyID common.TseriesFamilyId) (*Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[tsFamilyID]
	if !ok {
		return nil, false
	}
	v.Acquire()
	return v, true
}

// Cache returns the live memcache.Cache for tsFamilyID.
func (s *Set) Cache(tsFamilyID common.TseriesFamilyId) (*memcache.Cache, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caches[tsFamilyID]
	return c, ok
}

// Apply builds the next Version from edit and swaps it in, releasing the
// old Version's initial reference so it is reclaimed once every existing
// reader has released theirs.
func (s *Set) Apply(edit VersionEdit) *Version {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.versions[edit.TsFamilyID]
	var base *Version
	if old != nil {
		base = old
	} else {
		base = NewEmptyVersion(edit.TsFamilyID, 1)
	}
	next := Apply(base, edit)
	next.refs = newRefCount(nil)
	s.versions[edit.TsFamilyID] = next
	if old != nil {
		old.Release()
	}
	return next
}

// MinSeqNo returns the lowest persisted sequence watermark across every
// registered ts-family. WAL records at or below it are covered by TSM
// files for every family sharing the log; ok is false when no ts-family
// is registered yet.
func (s *Set) MinSeqNo() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return 0, false
	}
	first := true
	var min uint64
	for _, v := range s.versions {
		if first || v.SeqNo < min {
			min = v.SeqNo
			first = false
		}
	}
	return min, true
}

// Pin takes a SuperVersion snapshot: the current Version (ref bumped) plus
// the live cache pointer. A read pins exactly one SuperVersion for its
// duration.
func (s *Set) Pin(tsFamilyID common.TseriesFamilyId) (*SuperVersion, bool) {
	v, ok := s.Current(tsFamilyID)
	if !ok {
		return nil, false
	}
	cache, _ := s.Cache(tsFamilyID)
	return &SuperVersion{TsFamilyID: tsFamilyID, Cache: cache, Version: v}, true
}
