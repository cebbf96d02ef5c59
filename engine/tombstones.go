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
	"os"
	"sync"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/goccy/go-json"
)

// pendingTombstone is a deletion range that has been accepted but may still
// be covered by data sitting in a sealed cache generation rather than a TSM
// file: Cache.DeleteRange only ever touches the active mut/delta_mut
// generations (sealed generations are never mutated), so this store is the
// filter that covers the gap until the data is flushed and a real
// tsm.TombstoneFile takes over.
type pendingTombstone struct {
	FieldID common.FieldId   `json:"field_id"`
	Range   common.TimeRange `json:"range"`
}

// tombstoneStore is the engine-wide, per-ts-family set of pending
// tombstones, persisted as JSON so a crash between DeleteSeries and the next
// flush doesn't resurrect deleted data.
type tombstoneStore struct {
	mu   sync.RWMutex
	path string
	byTF map[common.TseriesFamilyId][]pendingTombstone
}

func newTombstoneStore(path string) *tombstoneStore {
	return &tombstoneStore{path: path, byTF: make(map[common.TseriesFamilyId][]pendingTombstone)}
}

func (s *tombstoneStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return tskverr.Wrap(tskverr.KindIoError, "engine.tombstoneStore.load", err)
	}
	if len(data) == 0 {
		return nil
	}
	var byTF map[common.TseriesFamilyId][]pendingTombstone
	if err := json.Unmarshal(data, &byTF); err != nil {
		return tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "engine.tombstoneStore.load", err)
	}
	s.byTF = byTF
	return nil
}

// Add records a deletion range for fieldID, persisting immediately: the
// range must survive a crash before DeleteSeries returns.
func (s *tombstoneStore) Add(tsFamilyID common.TseriesFamilyId, fieldID common.FieldId, tr common.TimeRange) error {
	s.mu.Lock()
	s.byTF[tsFamilyID] = append(s.byTF[tsFamilyID], pendingTombstone{FieldID: fieldID, Range: tr})
	buf, err := json.Marshal(s.byTF)
	s.mu.Unlock()
	if err != nil {
		return tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "engine.tombstoneStore.Add", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "engine.tombstoneStore.Add", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "engine.tombstoneStore.Add", err)
	}
	return nil
}

// Overlapping returns every pending range for fieldID that overlaps tr.
func (s *tombstoneStore) Overlapping(tsFamilyID common.TseriesFamilyId, fieldID common.FieldId, tr common.TimeRange) []common.TimeRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.TimeRange
	for _, p := range s.byTF[tsFamilyID] {
		if p.FieldID != fieldID {
			continue
		}
		if p.Range.Overlaps(tr) {
			out = append(out, p.Range)
		}
	}
	return out
}
