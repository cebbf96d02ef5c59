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
	"testing"

	"github.com/cnosdb/tskv/tskverr"
	"github.com/stretchr/testify/require"
)

func TestExternalTableOptionsPerFileType(t *testing.T) {
	for _, ft := range []string{"csv", "Parquet", "AVRO", "json"} {
		s := ExternalTableSchema{FileType: ft, TargetPartitions: 4, HasHeader: true, Delimiter: ','}
		opts, err := s.TableOptions()
		require.NoError(t, err, ft)
		require.Equal(t, 4, opts.TargetPartitions)
	}
}

func TestExternalTableRejectsArrow(t *testing.T) {
	s := ExternalTableSchema{FileType: "ARROW"}
	_, err := s.TableOptions()
	require.Error(t, err)
	require.ErrorIs(t, err, tskverr.ErrInvalidModel)
	require.Contains(t, err.Error(), "not implemented")
}

func TestExternalTableRejectsUnknownFileType(t *testing.T) {
	s := ExternalTableSchema{FileType: "ORC"}
	_, err := s.TableOptions()
	require.ErrorIs(t, err, tskverr.ErrInvalidModel)
}

func TestExternalTableEncodeDecode(t *testing.T) {
	s := ExternalTableSchema{
		Tenant:             "acme",
		Db:                 "db0",
		Name:               "events",
		FileType:           "CSV",
		Location:           "/data/events",
		TargetPartitions:   2,
		TablePartitionCols: []PartitionColumn{{Name: "day", SQLType: "STRING"}},
		HasHeader:          true,
		Delimiter:          ';',
	}
	buf, err := s.Encode()
	require.NoError(t, err)
	got, err := DecodeExternalTableSchema(buf)
	require.NoError(t, err)
	require.Equal(t, s, got)
}
