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
	"github.com/cnosdb/tskv/common"
	"github.com/goccy/go-json"
)

// ResourceOperatorTag dispatches a ResourceOperator the same way
// ColumnType dispatches on Kind: a closed tag, not a class hierarchy.
type ResourceOperatorTag uint8

const (
	OpDropTenant ResourceOperatorTag = iota
	OpDropDatabase
	OpDropTable
	OpAddColumn
	OpDropColumn
	OpAlterColumn
	OpUpdateTagValue
)

func (t ResourceOperatorTag) String() string {
	switch t {
	case OpDropTenant:
		return "DropTenant"
	case OpDropDatabase:
		return "DropDatabase"
	case OpDropTable:
		return "DropTable"
	case OpAddColumn:
		return "AddColumn"
	case OpDropColumn:
		return "DropColumn"
	case OpAlterColumn:
		return "AlterColumn"
	default:
		return "UpdateTagValue"
	}
}

// ResourceOperator is a tagged record describing one structural change,
// carrying enough context for the meta service to replay it. Only the
// fields relevant to the named tag are populated.
type ResourceOperator struct {
	Tag ResourceOperatorTag

	Tenant string
	Db     string
	Table  string

	Column    TableColumn // AddColumn / AlterColumn's new column
	OldName   string      // DropColumn / AlterColumn's column name
	TagKeys   [][]byte    // UpdateTagValue
	TagValues [][]byte    // UpdateTagValue, parallel to TagKeys; nil entry = delete
	SeriesKeys [][]byte   // UpdateTagValue
}

// ResourceStatus is the lifecycle state of a ResourceInfo.
type ResourceStatus uint8

const (
	ResourceSchedule ResourceStatus = iota
	ResourceExecuting
	ResourceSuccessed
	ResourceFailed
	ResourceCancel
	ResourceFatal
)

func (s ResourceStatus) String() string {
	switch s {
	case ResourceSchedule:
		return "Schedule"
	case ResourceExecuting:
		return "Executing"
	case ResourceSuccessed:
		return "Successed"
	case ResourceFailed:
		return "Failed"
	case ResourceCancel:
		return "Cancel"
	default:
		return "Fatal"
	}
}

// ResourceInfo wraps one ResourceOperator with scheduling metadata.
type ResourceInfo struct {
	TimeUnixNanos  int64
	TenantID       common.Oid
	Db             string
	Name           string
	Operator       ResourceOperator
	TryCount       uint64
	After          *common.Duration
	Status         ResourceStatus
	Comment        string
	ExecuteNodeID  common.NodeId
	IsNewAdd       bool
}

// NewResourceInfo builds a ResourceInfo; a non-nil after delay shifts Status
// to Schedule and TimeUnixNanos forward by after's nanosecond count.
func NewResourceInfo(tenantID common.Oid, db, name string, op ResourceOperator, after *common.Duration, node common.NodeId, nowUnixNanos int64) ResourceInfo {
	info := ResourceInfo{
		TimeUnixNanos: nowUnixNanos,
		TenantID:      tenantID,
		Db:            db,
		Name:          name,
		Operator:      op,
		After:         after,
		Status:        ResourceExecuting,
		ExecuteNodeID: node,
		IsNewAdd:      true,
	}
	if after != nil {
		info.Status = ResourceSchedule
		info.TimeUnixNanos += after.ToNanos()
	}
	return info
}

// Encode serializes info for the meta-service replay log.
func (info ResourceInfo) Encode() ([]byte, error) {
	return json.Marshal(info)
}

// DecodeResourceInfo is the inverse of Encode.
func DecodeResourceInfo(buf []byte) (ResourceInfo, error) {
	var info ResourceInfo
	err := json.Unmarshal(buf, &info)
	return info, err
}
