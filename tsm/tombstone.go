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

package tsm

import (
	"os"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/goccy/go-json"
)

// Tombstone records a deleted [MinTs, MaxTs] range for one field. Reads
// apply tombstones lazily: the file's data blocks are unmodified, every
// read filters through ApplyTombstones.
type Tombstone struct {
	FieldID common.FieldId `json:"field_id"`
	MinTs   int64          `json:"min_ts"`
	MaxTs   int64          `json:"max_ts"`
}

// TombstoneFile is the companion <file-id>.tombstone file for one TSM
// file, appended to and flushed independently of the data file itself.
type TombstoneFile struct {
	path    string
	entries []Tombstone
}

// OpenTombstoneFile loads path if present, else starts empty.
func OpenTombstoneFile(path string) (*TombstoneFile, error) {
	tf := &TombstoneFile{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tf, nil
		}
		return nil, tskverr.Wrap(tskverr.KindIoError, "tsm.OpenTombstoneFile", err)
	}
	if len(data) == 0 {
		return tf, nil
	}
	if err := json.Unmarshal(data, &tf.entries); err != nil {
		return nil, tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "tsm.OpenTombstoneFile", err)
	}
	return tf, nil
}

// Add appends a deletion range. It takes effect only once Flush persists it.
func (tf *TombstoneFile) Add(fieldID common.FieldId, minTs, maxTs int64) {
	tf.entries = append(tf.entries, Tombstone{FieldID: fieldID, MinTs: minTs, MaxTs: maxTs})
}

// Overlapping returns every recorded deletion range for fieldID that
// overlaps tr.
func (tf *TombstoneFile) Overlapping(fieldID common.FieldId, tr common.TimeRange) []Tombstone {
	var out []Tombstone
	for _, e := range tf.entries {
		if e.FieldID != fieldID {
			continue
		}
		if e.MinTs <= tr.Max && tr.Min <= e.MaxTs {
			out = append(out, e)
		}
	}
	return out
}

// All returns every recorded deletion range regardless of field, for
// callers (compaction) that need to apply every tombstone at once rather
// than filter by a single field and time range.
func (tf *TombstoneFile) All() []Tombstone {
	out := make([]Tombstone, len(tf.entries))
	copy(out, tf.entries)
	return out
}

// Flush persists all recorded entries to disk.
func (tf *TombstoneFile) Flush() error {
	buf, err := json.Marshal(tf.entries)
	if err != nil {
		return tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "tsm.Flush", err)
	}
	if err := os.WriteFile(tf.path, buf, 0o644); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "tsm.Flush", err)
	}
	return nil
}
