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

import "github.com/cnosdb/tskv/common"

const (
	DefaultDatabase = "public"
	DefaultCatalog  = "cnosdb"
	UsageSchema     = "usage_schema"
)

// TenantLimiterConfig bounds a tenant's write/query rate and object counts.
// Enforcement is an external collaborator; this is just the config shape
// the catalog persists.
type TenantLimiterConfig struct {
	MaxConnections  int
	MaxWriteRate    int
	MaxQueryRate    int
	MaxDatabases    int
	MaxShardGroups  int
}

// Tenant owns a limiter config and a hidden (soft-delete) flag.
type Tenant struct {
	ID      common.Oid
	Name    string
	Limiter TenantLimiterConfig
	Hidden  bool
}

// DatabaseOptions are per-database knobs. Defaults:
// Ttl=Inf, ShardNum=1, VnodeDuration=365d, Replica=1, Precision=NS.
type DatabaseOptions struct {
	Ttl           common.Duration
	ShardNum      uint64
	VnodeDuration common.Duration
	Replica       uint64
	Precision     common.Precision
	Hidden        bool
}

// DefaultDatabaseOptions returns the default option set for a new database.
func DefaultDatabaseOptions() DatabaseOptions {
	return DatabaseOptions{
		Ttl:           common.InfDuration(),
		ShardNum:      1,
		VnodeDuration: common.NewDayDuration(365),
		Replica:       1,
		Precision:     common.DefaultPrecision,
	}
}

// Database is a tenant's named database and its options.
type Database struct {
	Tenant  string
	Name    string
	Options DatabaseOptions
}

// TenantOwner renders the wire form "{tenant}.{database}".
func TenantOwner(tenant, database string) string {
	return tenant + "." + database
}

// SplitTenantOwner is the inverse of TenantOwner: splits on the first dot.
func SplitTenantOwner(owner string) (tenant, database string) {
	for i := 0; i < len(owner); i++ {
		if owner[i] == '.' {
			return owner[:i], owner[i+1:]
		}
	}
	return owner, ""
}
