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
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/memcache"
	"github.com/cnosdb/tskv/models"
	"github.com/cnosdb/tskv/tskverr"
	"github.com/edsrzf/mmap-go"
	"github.com/goccy/go-json"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
)

var fileMagic = [4]byte{'T', 'S', 'M', '1'}

const footerLen = 8 + 4 + 4 // indexOffset + indexLen + magic

type blockHeader struct {
	FieldID  common.FieldId
	Count    uint32
	MinTs    int64
	MaxTs    int64
	Encoding models.Encoding
}

// indexEntry locates one block within the file for one field.
type indexEntry struct {
	Offset int64 `json:"o"`
}

type fileIndex map[common.FieldId][]indexEntry

// Writer builds one TSM file. Blocks must be added in FieldId then
// timestamp order, matching the layout invariant readers rely on.
//
// The file is built under a uuid-suffixed temp name next to the final
// path and only renamed into place on Flush, so readers scanning the
// data directory never observe a partially-written TSM file under its
// real name.
type Writer struct {
	f         *os.File
	tmpPath   string
	finalPath string
	offset    int64
	index     fileIndex
}

// OpenForWrite creates a temp file beside path and writes the magic
// header, ready for AddRange calls. The file is renamed to path on
// Flush.
func OpenForWrite(path string) (*Writer, error) {
	tmpPath := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.tsm.tmp", uuid.NewString()))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "tsm.OpenForWrite", err)
	}
	w := &Writer{f: f, tmpPath: tmpPath, finalPath: path, index: make(fileIndex)}
	if _, err := f.Write(fileMagic[:]); err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "tsm.OpenForWrite", err)
	}
	w.offset = int64(len(fileMagic))
	return w, nil
}

func compressPayload(enc models.Encoding, raw []byte) []byte {
	switch enc {
	case models.EncodingSnappy:
		return snappy.Encode(nil, raw)
	case models.EncodingZstd:
		zw, err := zstd.NewWriter(nil)
		if err != nil {
			return raw
		}
		defer zw.Close()
		return zw.EncodeAll(raw, nil)
	default:
		return raw
	}
}

func decompressPayload(enc models.Encoding, payload []byte) ([]byte, error) {
	switch {
	case enc == models.EncodingSnappy:
		return snappy.Decode(nil, payload)
	case enc == models.EncodingZstd:
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return zr.DecodeAll(payload, nil)
	default:
		return payload, nil
	}
}

// AddRange writes one block, recording its offset in the in-memory index.
func (w *Writer) AddRange(block DataBlock) error {
	raw, err := json.Marshal(block.Cells)
	if err != nil {
		return tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "tsm.AddRange", err)
	}
	payload := compressPayload(block.Encoding, raw)

	var buf bytes.Buffer
	hdr := make([]byte, 8+4+8+8+1+4)
	binary.BigEndian.PutUint64(hdr[0:8], uint64(block.FieldID))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(block.Cells)))
	binary.BigEndian.PutUint64(hdr[12:20], uint64(block.MinTs))
	binary.BigEndian.PutUint64(hdr[20:28], uint64(block.MaxTs))
	hdr[28] = byte(block.Encoding)
	binary.BigEndian.PutUint32(hdr[29:33], uint32(len(payload)))
	buf.Write(hdr)
	buf.Write(payload)

	n, err := w.f.Write(buf.Bytes())
	if err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "tsm.AddRange", err)
	}
	w.index[block.FieldID] = append(w.index[block.FieldID], indexEntry{Offset: w.offset})
	w.offset += int64(n)
	return nil
}

// Flush writes the footer index, closes the temp file and atomically
// renames it into its final path.
func (w *Writer) Flush() error {
	indexBytes, err := json.Marshal(w.index)
	if err != nil {
		return tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "tsm.Flush", err)
	}
	indexOffset := w.offset
	if _, err := w.f.Write(indexBytes); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "tsm.Flush", err)
	}
	footer := make([]byte, footerLen)
	binary.BigEndian.PutUint64(footer[0:8], uint64(indexOffset))
	binary.BigEndian.PutUint32(footer[8:12], uint32(len(indexBytes)))
	copy(footer[12:16], fileMagic[:])
	if _, err := w.f.Write(footer); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "tsm.Flush", err)
	}
	if err := w.f.Close(); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "tsm.Flush", err)
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "tsm.Flush", err)
	}
	return nil
}

// Reader serves reads from a closed, finalized TSM file via an mmap'd
// view of its bytes, fronted by an LRU cache of decoded blocks.
type Reader struct {
	FileID uint64

	f     *os.File
	data  mmap.MMap
	index fileIndex
	cache *lru.Cache[int64, DataBlock]
}

// OpenReader mmaps path and loads its footer index.
func OpenReader(path string, fileID uint64, blockCacheSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, tskverr.Wrap(tskverr.KindIoError, "tsm.OpenReader", err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, tskverr.Wrap(tskverr.KindIoError, "tsm.OpenReader", err)
	}
	if len(data) < len(fileMagic)+footerLen {
		data.Unmap()
		f.Close()
		return nil, tskverr.New(tskverr.KindIoError, "tsm.OpenReader")
	}
	footer := data[len(data)-footerLen:]
	indexOffset := int64(binary.BigEndian.Uint64(footer[0:8]))
	indexLen := binary.BigEndian.Uint32(footer[8:12])
	if !bytes.Equal(footer[12:16], fileMagic[:]) {
		data.Unmap()
		f.Close()
		return nil, tskverr.New(tskverr.KindIoError, "tsm.OpenReader")
	}
	var idx fileIndex
	if err := json.Unmarshal(data[indexOffset:int64(indexOffset)+int64(indexLen)], &idx); err != nil {
		data.Unmap()
		f.Close()
		return nil, tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "tsm.OpenReader", err)
	}
	if blockCacheSize <= 0 {
		blockCacheSize = 256
	}
	cache, _ := lru.New[int64, DataBlock](blockCacheSize)
	return &Reader{FileID: fileID, f: f, data: data, index: idx, cache: cache}, nil
}

func (r *Reader) readBlockAt(offset int64) (DataBlock, error) {
	if b, ok := r.cache.Get(offset); ok {
		return b, nil
	}
	hdr := r.data[offset : offset+8+4+8+8+1+4]
	fieldID := common.FieldId(binary.BigEndian.Uint64(hdr[0:8]))
	minTs := int64(binary.BigEndian.Uint64(hdr[12:20]))
	maxTs := int64(binary.BigEndian.Uint64(hdr[20:28]))
	enc := models.Encoding(hdr[28])
	payloadLen := binary.BigEndian.Uint32(hdr[29:33])
	payloadStart := offset + int64(len(hdr))
	payload := r.data[payloadStart : payloadStart+int64(payloadLen)]

	raw, err := decompressPayload(enc, payload)
	if err != nil {
		return DataBlock{}, tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "tsm.readBlockAt", err)
	}
	var cells []memcache.Cell
	if err := json.Unmarshal(raw, &cells); err != nil {
		return DataBlock{}, tskverr.Wrap(tskverr.KindInvalidSerdeMessage, "tsm.readBlockAt", err)
	}
	block := DataBlock{FieldID: fieldID, MinTs: minTs, MaxTs: maxTs, Encoding: enc, Cells: cells}
	r.cache.Add(offset, block)
	return block, nil
}

// ReadColumnFile returns every block overlapping tr for fieldID, in
// ascending timestamp order.
func (r *Reader) ReadColumnFile(fieldID common.FieldId, tr common.TimeRange) ([]DataBlock, error) {
	entries, ok := r.index[fieldID]
	if !ok {
		return nil, nil
	}
	var out []DataBlock
	for _, e := range entries {
		b, err := r.readBlockAt(e.Offset)
		if err != nil {
			return nil, err
		}
		if b.MaxTs < tr.Min || b.MinTs > tr.Max {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinTs < out[j].MinTs })
	return out, nil
}

// FieldIDs lists every field this file carries data for.
func (r *Reader) FieldIDs() []common.FieldId {
	ids := make([]common.FieldId, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close unmaps the file and releases its descriptor.
func (r *Reader) Close() error {
	if err := r.data.Unmap(); err != nil {
		return tskverr.Wrap(tskverr.KindIoError, "tsm.Close", err)
	}
	return r.f.Close()
}
