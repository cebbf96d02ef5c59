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

package wal

import (
	"context"
	"os"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAppendAssignsIncreasingSequences(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	seq0, off0, err := m.Append(ctx, []byte("hello"))
	require.NoError(t, err)
	seq1, off1, err := m.Append(ctx, []byte("world"))
	require.NoError(t, err)

	require.Equal(t, uint64(0), seq0)
	require.Equal(t, uint64(1), seq1)
	require.Greater(t, off1, off0)
}

func TestReplayRecoversAppendedRecords(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	payloads := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, p := range payloads {
		_, _, err := m.Append(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	var got [][]byte
	nextSeq, err := Replay(dir, func(seq uint64, payload []byte) error {
		require.Equal(t, uint64(len(got)), seq)
		got = append(got, append([]byte{}, payload...))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, payloads, got)
	require.Equal(t, uint64(len(payloads)), nextSeq)
}

func TestReopenContinuesSequencesAboveReplayed(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := m.Append(ctx, []byte("record"))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	nextSeq, err := Replay(dir, func(uint64, []byte) error { return nil })
	require.NoError(t, err)

	m2, err := Open(Options{Dir: dir, NextSeq: nextSeq}, zap.NewNop())
	require.NoError(t, err)
	defer m2.Close()

	seq, _, err := m2.Append(ctx, []byte("after restart"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), seq)
}

func TestRotationCreatesNewSegment(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir, SegmentSize: 16 * datasize.B}, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := m.Append(ctx, []byte("0123456789"))
		require.NoError(t, err)
	}
	require.Greater(t, m.activeID, uint64(0))
}

func TestReclaimSegmentsDropsCoveredSegments(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir, SegmentSize: 16 * datasize.B}, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	var lastSeq uint64
	for i := 0; i < 5; i++ {
		lastSeq, _, err = m.Append(ctx, []byte("0123456789"))
		require.NoError(t, err)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	before := len(entries)
	require.Greater(t, before, 1)

	m.SetMinRetainedSeq(lastSeq)
	require.NoError(t, m.ReclaimSegments())

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	require.Less(t, len(entries), before)

	// The active segment is never reclaimed even when fully covered.
	m.SetMinRetainedSeq(lastSeq + 100)
	require.NoError(t, m.ReclaimSegments())
	_, err = os.Stat(segmentPath(dir, m.activeID))
	require.NoError(t, err)
}

func TestReplayStopsAtTruncatedTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	_, _, err = m.Append(ctx, []byte("full record"))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	path := segmentPath(dir, 0)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 0, 0, 0, 50, 'x'}) // bogus header claiming 50 bytes, only 1 byte follows
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got int
	nextSeq, err := Replay(dir, func(seq uint64, payload []byte) error {
		got++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, got)
	require.Equal(t, uint64(1), nextSeq)
}
