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

// Package wal is the append-only segmented write-ahead log: a single writer
// goroutine owns the active segment, producers submit tasks over a bounded
// channel and read their assigned (sequence, offset) back over a one-shot
// reply channel.
package wal

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/cenkalti/backoff/v4"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordType tags a WAL entry. Write is the only payload this module
// covers; the tag still travels on the wire so a future entry kind doesn't
// require a format change.
type RecordType uint8

const WriteRecord RecordType = 1

const (
	headerLen = 1 + 4 // type + len
	crcLen    = 4
)

// Options configures a Manager.
type Options struct {
	Dir          string
	SegmentSize  datasize.ByteSize
	TaskQueueLen int

	// NextSeq is the first sequence the manager assigns. Recovery passes
	// the value Replay returned so sequences keep strictly increasing
	// across restarts; a fresh directory starts at zero.
	NextSeq uint64
}

func (o Options) withDefaults() Options {
	if o.SegmentSize == 0 {
		o.SegmentSize = 128 * datasize.MB
	}
	if o.TaskQueueLen == 0 {
		o.TaskQueueLen = 1024
	}
	return o
}

// Task is one append request submitted to the writer goroutine.
type Task struct {
	Payload []byte
	Reply   chan Reply
}

// Reply is the writer goroutine's answer to one Task.
type Reply struct {
	Seq    uint64
	Offset int64
	Err    error
}

// Manager owns the active WAL segment and the single goroutine that
// appends to it. All other goroutines communicate through Append, never by
// touching the file directly.
type Manager struct {
	opts Options
	log  *zap.Logger

	tasks chan Task
	done  chan struct{}
	wg    sync.WaitGroup

	mu          sync.Mutex
	activeID    uint64
	activeFile  *os.File
	activeSize  int64
	nextSeq     uint64
	minRetained uint64
	segMaxSeq   map[uint64]uint64
}

// Open creates the WAL directory if absent and starts a fresh active
// segment; it does not replay existing segments (call Replay separately
// before Open if recovery is needed, mirroring the engine's fixed open()
// ordering: replay first, then accept new writes).
func Open(opts Options, log *zap.Logger) (*Manager, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "wal.Open", err)
	}
	m := &Manager{
		opts:      opts,
		log:       log,
		tasks:     make(chan Task, opts.TaskQueueLen),
		done:      make(chan struct{}),
		nextSeq:   opts.NextSeq,
		segMaxSeq: make(map[uint64]uint64),
	}
	nextID, err := nextSegmentID(opts.Dir)
	if err != nil {
		return nil, err
	}
	if err := m.openSegment(nextID); err != nil {
		return nil, err
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.wal", id))
}

func nextSegmentID(dir string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, tskverr.Wrap(tskverr.KindIoError, "wal.nextSegmentID", err)
	}
	var max uint64
	found := false
	for _, e := range entries {
		id, ok := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		if !found || id > max {
			max = id
			found = true
		}
	}
	if !found {
		return 0, nil
	}
	return max + 1, nil
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, ".wal") {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, ".wal"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// openSegment creates segment id, retrying bounded transient I/O errors
// (e.g. a momentarily full directory cache). This is the only retry point
// in the module: flush and compaction never auto-retry.
//
// The segment is first created under a uuid-suffixed temp name and only
// renamed into its final id.wal path once fully created, so a crash
// between the create and the rename can never leave a zero-length file
// sitting under a name Replay treats as a real segment.
func (m *Manager) openSegment(id uint64) error {
	finalPath := segmentPath(m.opts.Dir, id)
	tmpPath := filepath.Join(m.opts.Dir, fmt.Sprintf(".%s.wal.tmp", uuid.NewString()))

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	err := backoff.Retry(func() error {
		f, openErr := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if openErr != nil {
			return openErr
		}
		return f.Close()
	}, b)
	if err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "wal.openSegment", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return tskverr.Wrap(tskverr.KindIoError, "wal.openSegment", err)
	}

	f, err := os.OpenFile(finalPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "wal.openSegment", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return tskverr.Wrap(tskverr.KindIoError, "wal.openSegment", err)
	}
	m.activeID = id
	m.activeFile = f
	m.activeSize = info.Size()
	return nil
}

// Append submits payload for durable append and blocks until the writer
// goroutine assigns it a sequence and offset, or ctx is cancelled.
func (m *Manager) Append(ctx context.Context, payload []byte) (uint64, int64, error) {
	reply := make(chan Reply, 1)
	task := Task{Payload: payload, Reply: reply}
	select {
	case m.tasks <- task:
	case <-ctx.Done():
		return 0, 0, tskverr.Wrap(tskverr.KindSend, "wal.Append", ctx.Err())
	case <-m.done:
		return 0, 0, tskverr.New(tskverr.KindSend, "wal.Append")
	}
	select {
	case r := <-reply:
		if r.Err != nil {
			return 0, 0, r.Err
		}
		return r.Seq, r.Offset, nil
	case <-ctx.Done():
		return 0, 0, tskverr.Wrap(tskverr.KindReceive, "wal.Append", ctx.Err())
	}
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case task := <-m.tasks:
			seq, off, err := m.appendLocked(task.Payload)
			task.Reply <- Reply{Seq: seq, Offset: off, Err: err}
		case <-m.done:
			// Drain whatever is left so no producer blocks forever.
			for {
				select {
				case task := <-m.tasks:
					task.Reply <- Reply{Err: tskverr.New(tskverr.KindSend, "wal.writeLoop")}
				default:
					return
				}
			}
		}
	}
}

func encode(typ RecordType, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload)+crcLen)
	buf[0] = byte(typ)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	sum := crc32.ChecksumIEEE(buf[:headerLen+len(payload)])
	binary.BigEndian.PutUint32(buf[headerLen+len(payload):], sum)
	return buf
}

func (m *Manager) appendLocked(payload []byte) (uint64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(m.activeSize) >= m.opts.SegmentSize.Bytes() {
		if err := m.rotateLocked(); err != nil {
			return 0, 0, err
		}
	}

	rec := encode(WriteRecord, payload)
	off := m.activeSize
	n, err := m.activeFile.Write(rec)
	if err != nil {
		return 0, 0, tskverr.Wrap(tskverr.KindIoError, "wal.appendLocked", err)
	}
	if err := m.activeFile.Sync(); err != nil {
		return 0, 0, tskverr.Wrap(tskverr.KindIoError, "wal.appendLocked", err)
	}
	m.activeSize += int64(n)
	seq := m.nextSeq
	m.nextSeq++
	m.segMaxSeq[m.activeID] = seq
	return seq, off, nil
}

func (m *Manager) rotateLocked() error {
	old := m.activeFile
	oldID := m.activeID
	if err := m.openSegment(m.activeID + 1); err != nil {
		return err
	}
	if m.log != nil {
		m.log.Info("wal segment rotated", zap.Uint64("old_segment", oldID), zap.Uint64("new_segment", m.activeID))
	}
	return old.Close()
}

// SetMinRetainedSeq records the lowest sequence the engine still needs
// replayed on crash (the superversion frontier advanced by a durable
// version edit). Only monotonic advances are kept.
func (m *Manager) SetMinRetainedSeq(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.minRetained {
		m.minRetained = seq
	}
}

// ReclaimSegments removes every closed segment whose highest assigned
// sequence is below the retained minimum: all of its records are covered
// by persisted TSM files and will never be replayed. The active segment is
// never removed.
func (m *Manager) ReclaimSegments() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, maxSeq := range m.segMaxSeq {
		if id == m.activeID {
			continue
		}
		if maxSeq >= m.minRetained {
			continue
		}
		if err := os.Remove(segmentPath(m.opts.Dir, id)); err != nil && !os.IsNotExist(err) {
			return tskverr.Wrap(tskverr.KindIoError, "wal.ReclaimSegments", err)
		}
		delete(m.segMaxSeq, id)
		if m.log != nil {
			m.log.Info("wal segment reclaimed", zap.Uint64("segment", id), zap.Uint64("max_seq", maxSeq))
		}
	}
	return nil
}

// Close stops the writer goroutine and closes the active segment.
func (m *Manager) Close() error {
	close(m.done)
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeFile == nil {
		return nil
	}
	return m.activeFile.Close()
}

// EntryFunc is invoked by Replay for every surviving record, in ascending
// segment order then file order within a segment.
type EntryFunc func(seq uint64, payload []byte) error

// Replay walks every segment in dir in ascending id order and invokes fn
// for each well-formed record, assigning sequence numbers starting at 0.
// It returns the next unassigned sequence, which the caller hands to
// Open's NextSeq so post-recovery appends continue strictly above every
// replayed record. A truncated or CRC-mismatched trailing record stops
// replay of that segment without failing the call: a partially-written
// last record is expected after a crash mid-append.
func Replay(dir string, fn EntryFunc) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, tskverr.Wrap(tskverr.KindIoError, "wal.Replay", err)
	}
	type segment struct {
		id   uint64
		name string
	}
	var segs []segment
	for _, e := range entries {
		id, ok := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		segs = append(segs, segment{id: id, name: e.Name()})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })

	var seq uint64
	for _, seg := range segs {
		if err := replaySegment(filepath.Join(dir, seg.name), &seq, fn); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

func replaySegment(path string, seq *uint64, fn EntryFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "wal.replaySegment", err)
	}
	defer f.Close()

	header := make([]byte, headerLen)
	for {
		if _, err := readFull(f, header); err != nil {
			return nil
		}
		n := binary.BigEndian.Uint32(header[1:5])
		body := make([]byte, int(n)+crcLen)
		if _, err := readFull(f, body); err != nil {
			return nil
		}
		wantCRC := binary.BigEndian.Uint32(body[n:])
		gotCRC := crc32.ChecksumIEEE(append(append([]byte{}, header...), body[:n]...))
		if gotCRC != wantCRC {
			return nil
		}
		if err := fn(*seq, body[:n]); err != nil {
			return err
		}
		*seq++
	}
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
