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

package models

import (
	"errors"
	"strings"

	"github.com/cnosdb/tskv/tskverr"
	"github.com/goccy/go-json"
)

// FileType is the on-disk format of an external table's files.
type FileType uint8

const (
	FileTypeCSV FileType = iota
	FileTypeParquet
	FileTypeAvro
	FileTypeJSON
	FileTypeArrow
)

func (t FileType) String() string {
	switch t {
	case FileTypeCSV:
		return "CSV"
	case FileTypeParquet:
		return "PARQUET"
	case FileTypeAvro:
		return "AVRO"
	case FileTypeJSON:
		return "JSON"
	default:
		return "ARROW"
	}
}

// ParseFileType parses the case-insensitive textual form.
func ParseFileType(text string) (FileType, bool) {
	switch strings.ToUpper(text) {
	case "CSV":
		return FileTypeCSV, true
	case "PARQUET":
		return FileTypeParquet, true
	case "AVRO":
		return FileTypeAvro, true
	case "JSON":
		return FileTypeJSON, true
	case "ARROW":
		return FileTypeArrow, true
	default:
		return 0, false
	}
}

// PartitionColumn names one partitioning column of an external table and
// its SQL type string.
type PartitionColumn struct {
	Name    string `json:"name"`
	SQLType string `json:"sql_type"`
}

// ExternalTableSchema declares a table whose data lives outside the tskv
// engine, in files scanned by the query layer. The engine only stores and
// serves the declaration; the scan itself is an external collaborator.
type ExternalTableSchema struct {
	Tenant              string            `json:"tenant"`
	Db                  string            `json:"db"`
	Name                string            `json:"name"`
	FileCompressionType string            `json:"file_compression_type"`
	FileType            string            `json:"file_type"`
	Location            string            `json:"location"`
	TargetPartitions    int               `json:"target_partitions"`
	TablePartitionCols  []PartitionColumn `json:"table_partition_cols"`
	HasHeader           bool              `json:"has_header"`
	Delimiter           byte              `json:"delimiter"`
	Schema              ArrowSchema       `json:"schema"`
}

var errArrowExternalTable = errors.New("arrow external table not implemented")

// ListingOptions is what TableOptions returns once it has resolved and
// validated the schema's file type. The Arrow file type is declared on the
// wire but has no scan implementation and is rejected by TableOptions
// rather than at scan time.
type ListingOptions struct {
	FileType         FileType
	FileExtension    string
	TargetPartitions int
	HasHeader        bool
	Delimiter        byte
}

// TableOptions validates the declaration and returns the listing options a
// scanner needs.
func (s ExternalTableSchema) TableOptions() (ListingOptions, error) {
	ft, ok := ParseFileType(s.FileType)
	if !ok {
		return ListingOptions{}, tskverr.New(tskverr.KindInvalidModel, "models.ExternalTableSchema.TableOptions")
	}
	if ft == FileTypeArrow {
		return ListingOptions{}, tskverr.Wrap(tskverr.KindInvalidModel, "models.ExternalTableSchema.TableOptions", errArrowExternalTable)
	}
	opts := ListingOptions{
		FileType:         ft,
		FileExtension:    "." + strings.ToLower(ft.String()),
		TargetPartitions: s.TargetPartitions,
		HasHeader:        s.HasHeader,
		Delimiter:        s.Delimiter,
	}
	if opts.TargetPartitions <= 0 {
		opts.TargetPartitions = 1
	}
	return opts, nil
}

// Encode serializes the declaration for catalog persistence.
func (s ExternalTableSchema) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeExternalTableSchema is the inverse of Encode.
func DecodeExternalTableSchema(buf []byte) (ExternalTableSchema, error) {
	var s ExternalTableSchema
	err := json.Unmarshal(buf, &s)
	return s, err
}
