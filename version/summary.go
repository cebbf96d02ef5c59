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
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/goccy/go-json"
)

const summaryFileName = "summary.log"

// Summary is the durable log of VersionEdits: every edit ever applied to
// any ts-family, in the order it was applied. Reopening a database
// replays the whole log to rebuild every ts-family's current Version.
type Summary struct {
	mu sync.Mutex
	f  *os.File
}

// OpenSummary opens (creating if absent) the summary log under dir.
func OpenSummary(dir string) (*Summary, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "version.OpenSummary", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, summaryFileName), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "version.OpenSummary", err)
	}
	return &Summary{f: f}, nil
}

// Append appends edit to the log and fsyncs before returning, so a crash
// after Append returns can never lose the edit.
func (s *Summary) Append(edit VersionEdit) error {
	payload, err := json.Marshal(edit)
	if err != nil {
		return tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "version.Summary.Append", err)
	}
	rec := make([]byte, 4+len(payload)+4)
	binary.BigEndian.PutUint32(rec[0:4], uint32(len(payload)))
	copy(rec[4:], payload)
	sum := crc32.ChecksumIEEE(rec[:4+len(payload)])
	binary.BigEndian.PutUint32(rec[4+len(payload):], sum)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(rec); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "version.Summary.Append", err)
	}
	return s.f.Sync()
}

// Close closes the underlying file.
func (s *Summary) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Recover replays every well-formed edit in dir's summary log, in order,
// folding each into a fresh Version per ts-family. A truncated or
// CRC-mismatched trailing record stops replay without failing the call,
// the same tolerance the write-ahead log gives a torn last write.
func Recover(dir string, numLevels int) (map[common.TseriesFamilyId]*Version, error) {
	versions := make(map[common.TseriesFamilyId]*Version)

	f, err := os.Open(filepath.Join(dir, summaryFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return versions, nil
		}
		return nil, tskverr.Wrap(tskverr.KindIoError, "version.Recover", err)
	}
	defer f.Close()

	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(f, lenBuf); err != nil {
			break
		}
		n := binary.BigEndian.Uint32(lenBuf)
		body := make([]byte, int(n)+4)
		if _, err := io.ReadFull(f, body); err != nil {
			break
		}
		wantCRC := binary.BigEndian.Uint32(body[n:])
		gotCRC := crc32.ChecksumIEEE(append(append([]byte{}, lenBuf...), body[:n]...))
		if gotCRC != wantCRC {
			break
		}

		var edit VersionEdit
		if err := json.Unmarshal(body[:n], &edit); err != nil {
			break
		}

		base, ok := versions[edit.TsFamilyID]
		if !ok {
			base = NewEmptyVersion(edit.TsFamilyID, numLevels)
		}
		next := Apply(base, edit)
		next.refs = newRefCount(nil)
		versions[edit.TsFamilyID] = next
	}
	return versions, nil
}
