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

package compaction

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/memcache"
	"github.com/cnosdb/tskv/version"
	"github.com/stretchr/testify/require"
)

type fakeVersionSource struct {
	v *version.Version
}

func (f fakeVersionSource) Current(tsFamilyID common.TseriesFamilyId) (*version.Version, bool) {
	if f.v == nil || f.v.TsFamilyID != tsFamilyID {
		return nil, false
	}
	f.v.Acquire()
	return f.v, true
}

type fakeLayoutSource struct {
	dir string
}

func (f fakeLayoutSource) Layout(common.TseriesFamilyId) Layout {
	return Layout{BaseDir: f.dir}
}

func TestWorkerEvaluatesAndPublishesEditOnTrigger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "1")
	layout := Layout{BaseDir: dir}
	writeLevel0File(t, layout, 1, 7, []memcache.Cell{{Ts: 1, Value: 1.0}})
	writeLevel0File(t, layout, 2, 7, []memcache.Cell{{Ts: 2, Value: 2.0}})

	v := version.NewEmptyVersion(1, 2)
	v.SeqNo = 77
	v.Levels[0].Files = []version.FileMeta{
		{FileID: 1, MinTs: 1, MaxTs: 1},
		{FileID: 2, MinTs: 2, MaxTs: 2},
	}
	v.Acquire() // test-held reference, mirroring VersionSet's own refcount

	var nextID uint64 = 900
	edits := make(chan version.VersionEdit, 1)
	w := NewWorker(
		Options{Level0FileCountTrigger: 2},
		fakeVersionSource{v: v},
		fakeLayoutSource{dir: dir},
		func() uint64 { return atomic.AddUint64(&nextID, 1) },
		edits,
		nil,
	)
	w.Start()
	defer w.Stop()

	w.Trigger(1)

	select {
	case edit := <-edits:
		require.ElementsMatch(t, []uint64{1, 2}, edit.RemovedFileIDs)
		require.Len(t, edit.AddedFiles, 1)
		require.Equal(t, 1, edit.AddedFiles[0].Level)
		require.Equal(t, uint64(77), edit.SeqNo, "compaction must carry the watermark forward, not reset it")
	case <-time.After(2 * time.Second):
		t.Fatal("compaction worker never published an edit")
	}
}

func TestWorkerSkipsUnknownTsFamily(t *testing.T) {
	edits := make(chan version.VersionEdit, 1)
	w := NewWorker(Options{}, fakeVersionSource{}, fakeLayoutSource{dir: t.TempDir()}, func() uint64 { return 1 }, edits, nil)
	w.Start()
	defer w.Stop()

	w.Trigger(42)

	select {
	case <-edits:
		t.Fatal("expected no edit for an unregistered ts-family")
	case <-time.After(200 * time.Millisecond):
	}
}
